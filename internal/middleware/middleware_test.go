package middleware

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bryanwahyu/realcheck/internal/application/analysis"
	domain "github.com/bryanwahyu/realcheck/internal/domain/analysis"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestValidateUpload(t *testing.T) {
	img := pngBytes(t, 16, 9)
	tests := []struct {
		name    string
		data    []byte
		mime    string
		max     int64
		wantErr bool
	}{
		{"valid png", img, "image/png", 1 << 20, false},
		{"mime with params", img, "image/png; charset=binary", 1 << 20, false},
		{"empty", nil, "image/png", 1 << 20, true},
		{"too large", img, "image/png", 10, true},
		{"wrong mime", img, "application/pdf", 1 << 20, true},
		{"not an image", []byte("hello"), "image/jpeg", 1 << 20, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := ValidateUpload(tt.data, tt.mime, tt.max)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("err = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("err = %v", err)
			}
			if info.Width != 16 || info.Height != 9 {
				t.Fatalf("info = %+v", info)
			}
		})
	}
}

func TestValidateIDs(t *testing.T) {
	fp := domain.Hash([]byte("x"))
	if got, err := ValidateFingerprint(strings.ToUpper(fp.String())); err != nil || got != fp {
		t.Fatalf("ValidateFingerprint = %q, %v", got, err)
	}
	if _, err := ValidateFingerprint("abc"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("short fingerprint err = %v", err)
	}
	if _, err := ValidateJobID("not-a-uuid"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("job id err = %v", err)
	}
	if id, err := ValidateJobID("3F2504E0-4F89-11D3-9A0C-0305E82C3301"); err != nil || id != "3f2504e0-4f89-11d3-9a0c-0305e82c3301" {
		t.Fatalf("ValidateJobID = %q, %v", id, err)
	}
	if err := ValidateRequestorID("user_1"); err != nil {
		t.Fatal(err)
	}
	if err := ValidateRequestorID("bad id!"); err == nil {
		t.Fatal("expected error")
	}
	if ValidateLimit(0) != 20 || ValidateLimit(500) != 100 || ValidateLimit(7) != 7 {
		t.Fatal("ValidateLimit")
	}
	if ValidatePriority(-1) != 0 || ValidatePriority(99) != 10 || ValidatePriority(5) != 5 {
		t.Fatal("ValidatePriority")
	}
}

func TestAPIKeyAuth(t *testing.T) {
	var seen string
	h := APIKeyAuth(map[string]string{"alice": "key-a", "bob": "key-b"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestorFromContext(r.Context())
	}))

	tests := []struct {
		name   string
		path   string
		header string
		code   int
		want   string
	}{
		{"bearer", "/v1/stats", "Bearer key-b", 200, "bob"},
		{"raw key", "/v1/stats", "key-a", 200, "alice"},
		{"missing", "/v1/stats", "", 401, ""},
		{"wrong", "/v1/stats", "Bearer nope", 401, ""},
		{"public path", "/health", "", 200, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.code || seen != tt.want {
				t.Fatalf("code=%d requestor=%q", rec.Code, seen)
			}
		})
	}
}

func TestAPIKeyAuth_Anonymous(t *testing.T) {
	var seen string
	h := APIKeyAuth(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestorFromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	if seen != AnonymousRequestor {
		t.Fatalf("requestor = %q", seen)
	}
}

func TestTokenBucket(t *testing.T) {
	now := time.Unix(0, 0)
	tb := NewTokenBucket(2, 1, now)
	if !tb.Allow(now) || !tb.Allow(now) {
		t.Fatal("capacity not honored")
	}
	if tb.Allow(now) {
		t.Fatal("bucket should be empty")
	}
	if !tb.Allow(now.Add(1100 * time.Millisecond)) {
		t.Fatal("bucket did not refill")
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Unix(100, 0)
	rl.now = func() time.Time { return now }
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	do := func(requestor string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
		req = req.WithContext(WithRequestor(req.Context(), requestor))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	if do("alice") != 200 || do("alice") != http.StatusTooManyRequests {
		t.Fatal("alice should be limited on second call")
	}
	if do("bob") != 200 {
		t.Fatal("buckets must be per requestor")
	}

	now = now.Add(time.Hour)
	rl.prune(time.Minute)
	rl.mu.Lock()
	n := len(rl.buckets)
	rl.mu.Unlock()
	if n != 0 {
		t.Fatalf("prune left %d buckets", n)
	}
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.Submitted(analysis.OutcomeCached)
	m.Submitted(analysis.OutcomeCached)
	m.JobFinished("completed", 2*time.Second)
	m.Reclaimed(3)

	if got := testutil.ToFloat64(m.submissions.WithLabelValues("cached")); got != 2 {
		t.Fatalf("cached submissions = %v", got)
	}
	if got := testutil.ToFloat64(m.reclaimed); got != 3 {
		t.Fatalf("reclaimed = %v", got)
	}

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/v1/jobs/{id}", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) })
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/jobs/abc", nil))
	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "/v1/jobs/{id}", "404")); got != 1 {
		t.Fatalf("route counter = %v", got)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "realcheck_jobs_finished_total") {
		t.Fatal("metrics endpoint missing job counter")
	}
}

func TestHealthHandler(t *testing.T) {
	ok := PingFunc(func(ctx context.Context) error { return nil })
	bad := PingFunc(func(ctx context.Context) error { return errors.New("down") })

	rec := httptest.NewRecorder()
	HealthHandler(map[string]HealthChecker{"db": ok})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthy code = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	HealthHandler(map[string]HealthChecker{"db": ok, "staging": bad})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "down") {
		t.Fatalf("unhealthy code = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	ReadinessHandler(map[string]HealthChecker{"db": bad})(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readiness code = %d", rec.Code)
	}
}
