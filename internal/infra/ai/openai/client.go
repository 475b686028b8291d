package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	domai "github.com/bryanwahyu/realcheck/internal/domain/ai"
	"github.com/bryanwahyu/realcheck/internal/domain/analysis"
	"github.com/bryanwahyu/realcheck/internal/infra/ai/prompt"
)

const (
	maxTokens    = 500
	defaultModel = "gpt-4o-mini"
)

type Client struct {
	*openai.Client
	Model      string
	configured bool
}

// NewClient builds a narrative client. An empty apiKey yields a client whose
// Generate always returns ErrNotConfigured. baseURL is optional.
func NewClient(apiKey, model, baseURL string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &Client{Client: openai.NewClientWithConfig(cfg), Model: model, configured: apiKey != ""}
}

func (c *Client) Generate(ctx context.Context, userPrompt string) (string, error) {
	if !c.configured {
		return "", domai.ErrNotConfigured
	}
	model := c.Model
	if model == "" {
		model = defaultModel
	}
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.SystemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0.7,
	}
	// reasoning models (o1/o3/o4/gpt-5*) pakai MaxCompletionTokens
	if strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") || strings.HasPrefix(model, "gpt-5") {
		req.MaxCompletionTokens = maxTokens
		req.Temperature = 0
	} else {
		req.MaxTokens = maxTokens
	}

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", &analysis.RemoteError{Service: "openai", Err: errors.New("empty choices")}
	}
	return resp.Choices[0].Message.Content, nil
}

func classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", domai.ErrQuotaExceeded, err)
	}
	return &analysis.RemoteError{Service: "openai", StatusCode: status, Err: err}
}
