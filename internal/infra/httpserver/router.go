package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	appanalysis "github.com/bryanwahyu/realcheck/internal/application/analysis"
	domai "github.com/bryanwahyu/realcheck/internal/domain/ai"
	domain "github.com/bryanwahyu/realcheck/internal/domain/analysis"
	"github.com/bryanwahyu/realcheck/internal/middleware"
)

// Options carries the HTTP-facing knobs from config.
type Options struct {
	APIKeys         map[string]string
	CORSOrigins     []string
	RateCapacity    int
	RateRefill      int
	MaxUploadBytes  int64
	DefaultPriority int
	Checkers        map[string]middleware.HealthChecker
	Metrics         *middleware.Metrics
	// Limiter overrides RateCapacity/RateRefill when the caller owns its cleanup loop.
	Limiter *middleware.RateLimiter
}

type Router struct {
	svc  *appanalysis.Service
	opts Options
}

func NewRouter(svc *appanalysis.Service, opts Options) http.Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.Metrics == nil {
		opts.Metrics = middleware.NewMetrics()
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	r := &Router{svc: svc, opts: opts}
	mux := chi.NewRouter()

	mux.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	}))
	mux.Use(opts.Metrics.Middleware)
	mux.Use(middleware.APIKeyAuth(opts.APIKeys))
	mux.Use(middleware.LoggingMiddleware)
	if opts.Limiter == nil && opts.RateCapacity > 0 {
		opts.Limiter = middleware.NewRateLimiter(opts.RateCapacity, opts.RateRefill)
	}
	if opts.Limiter != nil {
		mux.Use(opts.Limiter.Middleware)
	}

	mux.Get("/health", middleware.HealthHandler(opts.Checkers))
	mux.Get("/ready", middleware.ReadinessHandler(opts.Checkers))
	mux.Get("/live", middleware.LivenessHandler)
	mux.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())

	mux.Route("/v1", func(rt chi.Router) {
		rt.Post("/analyses", r.wrap(r.handleSubmit))
		rt.Get("/analyses", r.wrap(r.handleListResults))
		rt.Get("/analyses/{fingerprint}", r.wrap(r.handleGetResult))
		rt.Get("/jobs", r.wrap(r.handleListJobs))
		rt.Get("/jobs/{id}", r.wrap(r.handleGetJob))
		rt.Post("/jobs/{id}/requeue", r.wrap(r.handleRequeue))
		rt.Get("/queue/pending", r.wrap(r.handlePending))
		rt.Get("/stats", r.wrap(r.handleStats))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		var tooBig *http.MaxBytesError
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "not found")
		case errors.Is(err, domain.ErrDuplicateInFlight):
			writeError(w, http.StatusConflict, domain.ErrDuplicateInFlight.Error())
		case errors.Is(err, domain.ErrInvalidTransition):
			writeError(w, http.StatusConflict, err.Error())
		case errors.As(err, &tooBig):
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file too large (max %d bytes)", r.opts.MaxUploadBytes))
		case errors.Is(err, middleware.ErrInvalidInput), errors.Is(err, domain.ErrEmptyContent):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domai.ErrQuotaExceeded):
			writeError(w, http.StatusTooManyRequests, "ai quota exceeded")
		default:
			log.Printf("request error method=%s path=%s request_id=%s err=%v", req.Method, req.URL.Path, chimw.GetReqID(req.Context()), err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	_ = writeJSON(w, code, map[string]string{"error": msg})
}

func pageFrom(req *http.Request) domain.PageRequest {
	page, _ := strconv.Atoi(req.URL.Query().Get("page"))
	size, _ := strconv.Atoi(req.URL.Query().Get("page_size"))
	return domain.PageRequest{Page: page, PageSize: size}
}

// POST /v1/analyses (multipart: file, priority)
func (r *Router) handleSubmit(w http.ResponseWriter, req *http.Request) error {
	maxBytes := r.opts.MaxUploadBytes
	req.Body = http.MaxBytesReader(w, req.Body, maxBytes+1<<20)
	if err := req.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return err
		}
		return fmt.Errorf("%w: multipart form: %v", middleware.ErrInvalidInput, err)
	}
	defer req.MultipartForm.RemoveAll()

	file, hdr, err := req.FormFile("file")
	if err != nil {
		return fmt.Errorf("%w: field \"file\" is required", middleware.ErrInvalidInput)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return err
	}

	mimeType := hdr.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	info, err := middleware.ValidateUpload(data, mimeType, maxBytes)
	if err != nil {
		return err
	}

	priority := r.opts.DefaultPriority
	if v := req.FormValue("priority"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: priority must be an integer", middleware.ErrInvalidInput)
		}
		priority = p
	}

	sub, err := r.svc.Submit(req.Context(), appanalysis.SubmitCommand{
		Content:     data,
		RequestorID: middleware.GetRequestorFromContext(req.Context()),
		FileName:    middleware.SanitizeString(filepath.Base(hdr.Filename)),
		MimeType:    mimeType,
		Width:       info.Width,
		Height:      info.Height,
		Priority:    middleware.ValidatePriority(priority),
	})
	if err != nil {
		return err
	}

	switch sub.Outcome {
	case appanalysis.OutcomeCached:
		return writeJSON(w, http.StatusOK, map[string]any{"fingerprint": sub.Fingerprint, "cached": sub.Cached})
	case appanalysis.OutcomeRejected:
		return writeJSON(w, http.StatusConflict, map[string]any{"fingerprint": sub.Fingerprint, "rejected": sub.Rejected})
	default:
		return writeJSON(w, http.StatusAccepted, map[string]any{
			"jobId":       sub.JobID,
			"fingerprint": sub.Fingerprint,
			"status":      domain.StatusPending,
		})
	}
}

// GET /v1/analyses/{fingerprint}
func (r *Router) handleGetResult(w http.ResponseWriter, req *http.Request) error {
	fp, err := middleware.ValidateFingerprint(chi.URLParam(req, "fingerprint"))
	if err != nil {
		return err
	}
	res, err := r.svc.GetResult(req.Context(), fp)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

// GET /v1/analyses?page=&page_size=
func (r *Router) handleListResults(w http.ResponseWriter, req *http.Request) error {
	page := pageFrom(req)
	list, err := r.svc.ListResults(req.Context(), middleware.GetRequestorFromContext(req.Context()), page)
	if err != nil {
		return err
	}
	page, _ = page.Normalize()
	return writeJSON(w, http.StatusOK, map[string]any{"page": page.Page, "page_size": page.PageSize, "data": nonNil(list)})
}

// GET /v1/jobs/{id}; jobs of other requestors look like 404.
func (r *Router) handleGetJob(w http.ResponseWriter, req *http.Request) error {
	job, err := r.ownedJob(req)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, job)
}

// GET /v1/jobs?page=&page_size=
func (r *Router) handleListJobs(w http.ResponseWriter, req *http.Request) error {
	page := pageFrom(req)
	list, err := r.svc.ListJobs(req.Context(), middleware.GetRequestorFromContext(req.Context()), page)
	if err != nil {
		return err
	}
	page, _ = page.Normalize()
	return writeJSON(w, http.StatusOK, map[string]any{"page": page.Page, "page_size": page.PageSize, "data": nonNil(list)})
}

// POST /v1/jobs/{id}/requeue
func (r *Router) handleRequeue(w http.ResponseWriter, req *http.Request) error {
	job, err := r.ownedJob(req)
	if err != nil {
		return err
	}
	if err := r.svc.Requeue(req.Context(), job.ID); err != nil {
		return err
	}
	job, err = r.svc.GetJob(req.Context(), job.ID)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, job)
}

// GET /v1/queue/pending?limit=
func (r *Router) handlePending(w http.ResponseWriter, req *http.Request) error {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	list, err := r.svc.ListPending(req.Context(), middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"data": nonNil(list)})
}

// GET /v1/stats
func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) error {
	st, err := r.svc.Stats(req.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, st)
}

func (r *Router) ownedJob(req *http.Request) (*domain.Job, error) {
	id, err := middleware.ValidateJobID(chi.URLParam(req, "id"))
	if err != nil {
		return nil, err
	}
	job, err := r.svc.GetJob(req.Context(), id)
	if err != nil {
		return nil, err
	}
	if job.RequestorID != middleware.GetRequestorFromContext(req.Context()) {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
