package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	appanalysis "github.com/bryanwahyu/realcheck/internal/application/analysis"
	domain "github.com/bryanwahyu/realcheck/internal/domain/analysis"
	"github.com/bryanwahyu/realcheck/internal/infra/db/memory"
	"github.com/bryanwahyu/realcheck/internal/infra/storage"
	"github.com/bryanwahyu/realcheck/internal/middleware"
)

type stubScorer struct{}

func (stubScorer) Score(ctx context.Context, content []byte, meta domain.ContentMeta) (domain.Score, error) {
	return domain.Score{Label: "ai", Confidence: 0.92, Scores: map[string]float64{"artifact": 0.92}, ModelVersion: "v1"}, nil
}

type fixture struct {
	handler http.Handler
	exec    *appanalysis.Executor
}

func newFixture(t *testing.T, keys map[string]string) *fixture {
	t.Helper()
	store := memory.NewStore()
	staging, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	svc := &appanalysis.Service{Jobs: store.Jobs(), Results: store.Results(), Staging: staging, MaxRetries: 3}
	exec := &appanalysis.Executor{Jobs: store.Jobs(), Results: store.Results(), Staging: staging, Scorer: stubScorer{}}
	h := NewRouter(svc, Options{
		APIKeys:        keys,
		MaxUploadBytes: 1 << 20,
		Checkers:       map[string]middleware.HealthChecker{"db": middleware.PingFunc(store.Ping)},
	})
	return &fixture{handler: h, exec: exec}
}

func pngImage(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 12, 8))
	img.Set(0, 0, color.NRGBA{R: shade, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func upload(t *testing.T, h http.Handler, data []byte, mime, key string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="face.png"`)
	hdr.Set("Content-Type", mime)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(data)
	_ = mw.WriteField("priority", "5")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/analyses", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(h http.Handler, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestSubmitFlow(t *testing.T) {
	f := newFixture(t, map[string]string{"alice": "key-a", "bob": "key-b"})
	img := pngImage(t, 10)

	rec := upload(t, f.handler, img, "image/png", "key-a")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first upload = %d %s", rec.Code, rec.Body.String())
	}
	var accepted struct {
		JobID       string `json:"jobId"`
		Fingerprint string `json:"fingerprint"`
	}
	decode(t, rec, &accepted)
	if accepted.JobID == "" || accepted.Fingerprint != domain.Hash(img).String() {
		t.Fatalf("accepted = %+v", accepted)
	}

	rec = upload(t, f.handler, img, "image/png", "key-b")
	if rec.Code != http.StatusConflict {
		t.Fatalf("second upload = %d %s", rec.Code, rec.Body.String())
	}
	var rejected map[string]string
	decode(t, rec, &rejected)
	if rejected["rejected"] != "already in progress" {
		t.Fatalf("rejected = %v", rejected)
	}

	if rec := get(f.handler, "/v1/analyses/"+accepted.Fingerprint, "key-a"); rec.Code != http.StatusNotFound {
		t.Fatalf("result before processing = %d", rec.Code)
	}

	job := get(f.handler, "/v1/jobs/"+accepted.JobID, "key-a")
	if job.Code != http.StatusOK {
		t.Fatalf("job = %d", job.Code)
	}
	var j domain.Job
	decode(t, job, &j)
	if j.Priority != 5 || j.Meta.Width != 12 || j.Meta.Height != 8 || j.Meta.FileName != "face.png" {
		t.Fatalf("job = %+v", j)
	}
	if rec := get(f.handler, "/v1/jobs/"+accepted.JobID, "key-b"); rec.Code != http.StatusNotFound {
		t.Fatalf("other requestor saw job: %d", rec.Code)
	}

	if _, err := f.exec.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	rec = upload(t, f.handler, img, "image/png", "key-b")
	if rec.Code != http.StatusOK {
		t.Fatalf("cached upload = %d %s", rec.Code, rec.Body.String())
	}
	var cached struct {
		Cached domain.Result `json:"cached"`
	}
	decode(t, rec, &cached)
	if cached.Cached.Label != domain.LabelAIGenerated || cached.Cached.Confidence != 0.92 {
		t.Fatalf("cached = %+v", cached.Cached)
	}

	rec = get(f.handler, "/v1/analyses/"+accepted.Fingerprint, "key-b")
	if rec.Code != http.StatusOK {
		t.Fatalf("get result = %d", rec.Code)
	}

	rec = get(f.handler, "/v1/stats", "key-a")
	var st domain.Stats
	decode(t, rec, &st)
	if st.TotalAnalyses != 1 || st.CompletedJobs != 1 || st.PerLabel[domain.LabelAIGenerated] != 1 {
		t.Fatalf("stats = %+v", st)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/"+accepted.JobID+"/requeue", nil)
	req.Header.Set("Authorization", "Bearer key-a")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("requeue completed job = %d", rec.Code)
	}
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, nil)
	tests := []struct {
		name string
		data []byte
		mime string
		code int
	}{
		{"not an image", []byte("hello world"), "image/png", http.StatusBadRequest},
		{"wrong type", pngImage(t, 1), "application/pdf", http.StatusBadRequest},
		{"too large", bytes.Repeat([]byte{0x89}, 1<<20+10), "image/png", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := upload(t, f.handler, tt.data, tt.mime, "")
			if rec.Code != tt.code {
				t.Fatalf("code = %d body = %s", rec.Code, rec.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/analyses", bytes.NewReader([]byte("x")))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("non-multipart = %d", rec.Code)
	}
}

func TestRoutes(t *testing.T) {
	f := newFixture(t, map[string]string{"alice": "key-a"})
	tests := []struct {
		name string
		path string
		key  string
		code int
	}{
		{"unauthenticated", "/v1/stats", "", http.StatusUnauthorized},
		{"bad fingerprint", "/v1/analyses/xyz", "key-a", http.StatusBadRequest},
		{"bad job id", "/v1/jobs/nope", "key-a", http.StatusBadRequest},
		{"unknown job", "/v1/jobs/3f2504e0-4f89-11d3-9a0c-0305e82c3301", "key-a", http.StatusNotFound},
		{"empty job list", "/v1/jobs", "key-a", http.StatusOK},
		{"empty result list", "/v1/analyses?page=2", "key-a", http.StatusOK},
		{"pending", "/v1/queue/pending?limit=5", "key-a", http.StatusOK},
		{"health", "/health", "", http.StatusOK},
		{"ready", "/ready", "", http.StatusOK},
		{"live", "/live", "", http.StatusOK},
		{"metrics", "/metrics", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := get(f.handler, tt.path, tt.key); rec.Code != tt.code {
				t.Fatalf("code = %d body = %s", rec.Code, rec.Body.String())
			}
		})
	}

	rec := get(f.handler, "/v1/jobs", "key-a")
	var list struct {
		Data []domain.Job `json:"data"`
	}
	decode(t, rec, &list)
	if list.Data == nil {
		t.Fatal("empty list should encode as []")
	}
}
