package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domai "github.com/bryanwahyu/realcheck/internal/domain/ai"
	"github.com/bryanwahyu/realcheck/internal/domain/analysis"
)

type fakeClient struct {
	text   string
	err    error
	block  bool
	prompt string
}

func (f *fakeClient) Generate(ctx context.Context, prompt string) (string, error) {
	f.prompt = prompt
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.text, f.err
}

func sampleResult() *analysis.Result {
	return &analysis.Result{
		Fingerprint:      analysis.Hash([]byte("img")),
		Label:            analysis.LabelAIGenerated,
		Confidence:       0.92,
		ProcessingTimeMS: 140,
		Scores:           map[string]float64{"texture": 0.5, "artifact": 0.875},
	}
}

func TestNarrate(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeClient
		want   string
	}{
		{"success", &fakeClient{text: "  looks synthetic \n"}, "looks synthetic"},
		{"remote error", &fakeClient{err: &analysis.RemoteError{Service: "openai", Err: errors.New("500")}}, PlaceholderUnavailable},
		{"quota", &fakeClient{err: domai.ErrQuotaExceeded}, PlaceholderUnavailable},
		{"not configured", &fakeClient{err: domai.ErrNotConfigured}, PlaceholderNotConfigured},
		{"empty", &fakeClient{text: "   "}, PlaceholderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.client, time.Second)
			if got := svc.Narrate(context.Background(), sampleResult()); got != tt.want {
				t.Fatalf("Narrate = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNarrate_TimeoutFallsBack(t *testing.T) {
	svc := NewService(&fakeClient{block: true}, 20*time.Millisecond)
	start := time.Now()
	got := svc.Narrate(context.Background(), sampleResult())
	if got != PlaceholderUnavailable {
		t.Fatalf("Narrate = %q", got)
	}
	if time.Since(start) > time.Second {
		t.Fatal("narrative call was not bounded by its timeout")
	}
}

func TestNarrate_NilClient(t *testing.T) {
	svc := NewService(nil, 0)
	if got := svc.Narrate(context.Background(), sampleResult()); got != PlaceholderNotConfigured {
		t.Fatalf("Narrate = %q", got)
	}
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(sampleResult())
	for _, want := range []string{
		"Detection Label: AI_GENERATED\n",
		"Confidence Score: 92.00%\n",
		"Processing Time: 140ms\n",
		"- artifact: 87.50%\n- texture: 50.00%\n",
		"4. Any limitations or considerations\n",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
	if p != BuildPrompt(sampleResult()) {
		t.Error("prompt is not deterministic")
	}

	noScores := sampleResult()
	noScores.Scores = nil
	if strings.Contains(BuildPrompt(noScores), "Detailed Scores") {
		t.Error("empty scores should omit the section")
	}
}
