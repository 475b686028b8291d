package ai

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/bryanwahyu/realcheck/internal/domain/ai"
	"github.com/bryanwahyu/realcheck/internal/domain/analysis"
)

const (
	// PlaceholderNotConfigured is stored when no narrative client is configured.
	PlaceholderNotConfigured = "Narrative analysis not available - API key not configured"
	// PlaceholderUnavailable is stored when the narrative call fails.
	PlaceholderUnavailable = "Narrative analysis unavailable"

	defaultTimeout = 10 * time.Second
)

// Service wraps the narrative client. Narrative is best-effort: Narrate never
// returns an error and never blocks longer than its timeout.
type Service struct {
	client  ai.Client
	timeout time.Duration
}

func NewService(client ai.Client, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Service{client: client, timeout: timeout}
}

// Narrate builds the prompt for r and returns generated text or a placeholder.
func (s *Service) Narrate(ctx context.Context, r *analysis.Result) string {
	if s == nil || s.client == nil {
		return PlaceholderNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := s.client.Generate(ctx, BuildPrompt(r))
	if err != nil {
		if errors.Is(err, ai.ErrNotConfigured) {
			return PlaceholderNotConfigured
		}
		log.Printf("narrative fallback fingerprint=%s err=%v", r.Fingerprint.Short(), err)
		return PlaceholderUnavailable
	}
	text = strings.TrimSpace(text)
	if text == "" {
		log.Printf("narrative fallback fingerprint=%s err=empty response", r.Fingerprint.Short())
		return PlaceholderUnavailable
	}
	return text
}
