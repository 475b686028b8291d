package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryanwahyu/realcheck/internal/application"
	domain "github.com/bryanwahyu/realcheck/internal/domain/analysis"
	"github.com/bryanwahyu/realcheck/internal/infra/db/memory"
)

type memStaging struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemStaging() *memStaging { return &memStaging{blobs: map[string][]byte{}} }

func (m *memStaging) Put(ctx context.Context, fp domain.Fingerprint, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := "mem://" + fp.String()
	m.blobs[h] = append([]byte(nil), data...)
	return h, nil
}

func (m *memStaging) Get(ctx context.Context, handle string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[handle]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

type fakeScorer struct {
	calls atomic.Int32
	fn    func(content []byte) (domain.Score, error)
}

func (f *fakeScorer) Score(ctx context.Context, content []byte, meta domain.ContentMeta) (domain.Score, error) {
	f.calls.Add(1)
	return f.fn(content)
}

type fixedNarrator string

func (n fixedNarrator) Narrate(ctx context.Context, r *domain.Result) string { return string(n) }

type harness struct {
	store   *memory.Store
	staging *memStaging
	clock   *application.ManualClock
	scorer  *fakeScorer
	svc     *Service
	exec    *Executor
}

func newHarness(score func([]byte) (domain.Score, error)) *harness {
	h := &harness{
		store:   memory.NewStore(),
		staging: newMemStaging(),
		clock:   application.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		scorer:  &fakeScorer{fn: score},
	}
	h.svc = &Service{
		Jobs:       h.store.Jobs(),
		Results:    h.store.Results(),
		Staging:    h.staging,
		Clock:      h.clock,
		MaxRetries: 3,
	}
	h.exec = &Executor{
		Jobs:     h.store.Jobs(),
		Results:  h.store.Results(),
		Staging:  h.staging,
		Scorer:   h.scorer,
		Narrator: fixedNarrator("looks synthetic"),
		Clock:    h.clock,
	}
	return h
}

func aiScore([]byte) (domain.Score, error) {
	return domain.Score{Label: "ai", Confidence: 0.92, Scores: map[string]float64{"artifact": 0.92}, ModelVersion: "v1"}, nil
}

func submit(t *testing.T, h *harness, content string) Submission {
	t.Helper()
	sub, err := h.svc.Submit(context.Background(), SubmitCommand{Content: []byte(content), RequestorID: "user-1", MimeType: "image/png"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return sub
}

func TestSubmit_EmptyContent(t *testing.T) {
	h := newHarness(aiScore)
	_, err := h.svc.Submit(context.Background(), SubmitCommand{})
	if !errors.Is(err, domain.ErrEmptyContent) {
		t.Fatalf("err = %v, want ErrEmptyContent", err)
	}
}

func TestSubmit_DedupLifecycle(t *testing.T) {
	h := newHarness(aiScore)
	ctx := context.Background()

	first := submit(t, h, "image-bytes")
	if first.Outcome != OutcomeAccepted || first.JobID == "" {
		t.Fatalf("first submit = %+v", first)
	}
	if first.Fingerprint != domain.Hash([]byte("image-bytes")) {
		t.Fatalf("fingerprint = %s", first.Fingerprint)
	}

	second := submit(t, h, "image-bytes")
	if second.Outcome != OutcomeRejected || second.Rejected != "already in progress" {
		t.Fatalf("second submit = %+v", second)
	}

	if did, err := h.exec.RunOnce(ctx); !did || err != nil {
		t.Fatalf("RunOnce = %v, %v", did, err)
	}

	third := submit(t, h, "image-bytes")
	if third.Outcome != OutcomeCached || third.Cached == nil {
		t.Fatalf("third submit = %+v", third)
	}
	if third.Cached.Label != domain.LabelAIGenerated || third.Cached.Confidence != 0.92 {
		t.Fatalf("cached = %+v", third.Cached)
	}
	if third.Cached.Narrative != "looks synthetic" {
		t.Fatalf("narrative = %q", third.Cached.Narrative)
	}

	job, err := h.svc.GetJob(ctx, first.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != domain.StatusCompleted || job.StartedAt == nil || job.CompletedAt == nil {
		t.Fatalf("job = %+v", job)
	}
	if got := h.scorer.calls.Load(); got != 1 {
		t.Fatalf("scorer calls = %d, want 1", got)
	}
}

func TestSubmit_ConcurrentSingleFlight(t *testing.T) {
	h := newHarness(aiScore)
	const n = 32

	var accepted, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := h.svc.Submit(context.Background(), SubmitCommand{Content: []byte("same"), RequestorID: "u"})
			if err != nil {
				t.Errorf("Submit: %v", err)
				return
			}
			switch sub.Outcome {
			case OutcomeAccepted:
				accepted.Add(1)
			case OutcomeRejected:
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	if accepted.Load() != 1 || rejected.Load() != n-1 {
		t.Fatalf("accepted=%d rejected=%d", accepted.Load(), rejected.Load())
	}
	pending, _ := h.svc.ListPending(context.Background(), 50)
	if len(pending) != 1 {
		t.Fatalf("pending jobs = %d, want 1", len(pending))
	}
}

func TestSubmit_ConcurrentCacheHits(t *testing.T) {
	h := newHarness(aiScore)
	ctx := context.Background()
	submit(t, h, "popular")
	if _, err := h.exec.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	const n = 50
	var hits atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := h.svc.Submit(ctx, SubmitCommand{Content: []byte("popular"), RequestorID: "u"})
			if err != nil {
				t.Errorf("Submit: %v", err)
				return
			}
			if sub.Outcome == OutcomeCached && sub.Cached != nil {
				hits.Add(1)
			}
		}()
	}
	wg.Wait()

	if hits.Load() != n {
		t.Fatalf("cache hits = %d, want %d", hits.Load(), n)
	}
	counts, _ := h.store.Jobs().CountByStatus(ctx)
	if counts[domain.StatusCompleted] != 1 || counts[domain.StatusPending] != 0 || counts[domain.StatusProcessing] != 0 {
		t.Fatalf("job counts = %v", counts)
	}
	if h.scorer.calls.Load() != 1 {
		t.Fatalf("scorer calls = %d", h.scorer.calls.Load())
	}
}

func TestStats(t *testing.T) {
	h := newHarness(func(c []byte) (domain.Score, error) {
		if string(c) == "real" {
			return domain.Score{Label: "real", Confidence: 0.8}, nil
		}
		return domain.Score{Label: "ai", Confidence: 0.6}, nil
	})
	ctx := context.Background()

	empty, err := h.svc.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty.PerLabel) != len(domain.Labels) || len(empty.PerStatus) != len(domain.Statuses) {
		t.Fatalf("maps not zero-filled: %+v", empty)
	}

	for _, c := range []string{"real", "fake", "queued"} {
		h.clock.Advance(time.Millisecond)
		submit(t, h, c)
	}
	for i := 0; i < 2; i++ {
		h.clock.Advance(100 * time.Millisecond)
		if _, err := h.exec.RunOnce(ctx); err != nil {
			t.Fatal(err)
		}
	}

	st, err := h.svc.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalAnalyses != 2 || st.CompletedJobs != 2 || st.PendingJobs != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if st.PerLabel[domain.LabelReal] != 1 || st.PerLabel[domain.LabelAIGenerated] != 1 || st.PerLabel[domain.LabelUncertain] != 0 {
		t.Fatalf("per label = %v", st.PerLabel)
	}
	if st.AverageConfidence < 0.699 || st.AverageConfidence > 0.701 {
		t.Fatalf("avg confidence = %v", st.AverageConfidence)
	}
	if st.AverageLatencyMS <= 0 {
		t.Fatalf("avg latency = %v", st.AverageLatencyMS)
	}
}

func TestListJobsAndResults(t *testing.T) {
	h := newHarness(aiScore)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		h.clock.Advance(time.Second)
		submit(t, h, fmt.Sprintf("img-%d", i))
	}
	jobs, err := h.svc.ListJobs(ctx, "user-1", domain.PageRequest{Page: 1, PageSize: 2})
	if err != nil || len(jobs) != 2 {
		t.Fatalf("ListJobs = %d, %v", len(jobs), err)
	}
	other, _ := h.svc.ListJobs(ctx, "someone-else", domain.PageRequest{})
	if len(other) != 0 {
		t.Fatalf("jobs leaked across requestors: %d", len(other))
	}

	if _, err := h.exec.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	results, err := h.svc.ListResults(ctx, "user-1", domain.PageRequest{})
	if err != nil || len(results) != 1 {
		t.Fatalf("ListResults = %d, %v", len(results), err)
	}
}

func TestGetResult_NotFound(t *testing.T) {
	h := newHarness(aiScore)
	_, err := h.svc.GetResult(context.Background(), domain.Hash([]byte("never")))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}
