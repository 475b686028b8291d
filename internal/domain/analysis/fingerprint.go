package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Fingerprint is the lowercase hex SHA-256 of the raw content bytes.
type Fingerprint string

// Hash computes the fingerprint of content. Empty content is rejected before
// it gets here, so Hash itself never fails.
func Hash(content []byte) Fingerprint {
	sum := sha256.Sum256(content)
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// ParseFingerprint validates a fingerprint coming from outside (URL params).
func ParseFingerprint(s string) (Fingerprint, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != sha256.Size*2 {
		return "", fmt.Errorf("invalid fingerprint length %d", len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("invalid fingerprint: %w", err)
	}
	return Fingerprint(s), nil
}

func (f Fingerprint) String() string { return string(f) }

// Short is used in logs and object keys.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}
