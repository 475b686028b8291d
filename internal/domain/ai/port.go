package ai

import "context"

// Client generates free-text narrative for a prompt.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
