// Package scoring talks to the external detector service over HTTP.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	domain "github.com/bryanwahyu/realcheck/internal/domain/analysis"
)

const service = "scoring"

// HTTPScorer posts the image as multipart form field "file" to {baseURL}/analyze.
type HTTPScorer struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPScorer(baseURL string) *HTTPScorer {
	return &HTTPScorer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

func (s *HTTPScorer) Score(ctx context.Context, content []byte, meta domain.ContentMeta) (domain.Score, error) {
	body, contentType, err := encodeForm(content, meta)
	if err != nil {
		return domain.Score{}, fmt.Errorf("encode form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/analyze", body)
	if err != nil {
		return domain.Score{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return domain.Score{}, &domain.RemoteError{Service: service, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.Score{}, &domain.RemoteError{
			Service:    service,
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(msg))),
		}
	}

	var out domain.Score
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Score{}, &domain.RemoteError{Service: service, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return domain.Score{}, &domain.RemoteError{Service: service, StatusCode: resp.StatusCode, Err: fmt.Errorf("confidence %v out of range", out.Confidence)}
	}
	return out, nil
}

// Ping hits {baseURL}/health.
func (s *HTTPScorer) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scoring health returned %d", resp.StatusCode)
	}
	return nil
}

func encodeForm(content []byte, meta domain.ContentMeta) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	name := meta.FileName
	if name == "" {
		name = "upload"
	}
	mimeType := meta.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, strings.ReplaceAll(name, `"`, "")))
	h.Set("Content-Type", mimeType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(content); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
