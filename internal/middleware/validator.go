package middleware

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	domain "github.com/bryanwahyu/realcheck/internal/domain/analysis"
	"github.com/bryanwahyu/realcheck/internal/infra/imageinfo"
)

// Input validation and sanitization utilities

// ErrInvalidInput marks validation failures; handlers map it to 400.
var ErrInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

var allowedMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/gif":  true,
}

// ValidateUpload checks size and declared type, then decodes the bytes to
// make sure they really are an image.
func ValidateUpload(data []byte, mimeType string, maxBytes int64) (imageinfo.Info, error) {
	if len(data) == 0 {
		return imageinfo.Info{}, invalid("file is empty")
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return imageinfo.Info{}, invalid("file too large: %d bytes (max %d)", len(data), maxBytes)
	}
	mimeType = strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	if !allowedMimeTypes[mimeType] {
		return imageinfo.Info{}, invalid("unsupported file type %q (allowed: jpeg, png, gif)", mimeType)
	}
	info, err := imageinfo.Inspect(data)
	if err != nil {
		return imageinfo.Info{}, invalid("%v", err)
	}
	return info, nil
}

// ValidateFingerprint parses a fingerprint from a URL param.
func ValidateFingerprint(s string) (domain.Fingerprint, error) {
	fp, err := domain.ParseFingerprint(s)
	if err != nil {
		return "", invalid("%v", err)
	}
	return fp, nil
}

// ValidateJobID checks the job ID is a UUID.
func ValidateJobID(s string) (domain.JobID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", invalid("invalid job ID format")
	}
	return domain.JobID(id.String()), nil
}

// ValidateRequestorID validates requestor ID format
func ValidateRequestorID(requestor string) error {
	if requestor == "" {
		return invalid("requestor ID cannot be empty")
	}

	// Allow alphanumeric, dash, underscore (max 64 chars)
	matched, _ := regexp.MatchString(`^[a-zA-Z0-9_-]{1,64}$`, requestor)
	if !matched {
		return invalid("invalid requestor ID format (alphanumeric, dash, underscore only, max 64 chars)")
	}
	return nil
}

// ValidatePriority clamps priority to [0, 10].
func ValidatePriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > 10 {
		return 10
	}
	return p
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove control characters
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}
