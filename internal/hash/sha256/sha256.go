// Package sha256 adapts SHA-256 to crawler.Hasher.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher returns hex SHA-256 digests, optionally truncated.
type Hasher struct {
	length int
}

// New returns a Hasher producing the full 64-character digest.
func New() *Hasher {
	return &Hasher{}
}

// NewTruncated returns a Hasher keeping the first n hex characters. Values
// outside (0, 64) keep the full digest.
func NewTruncated(n int) *Hasher {
	return &Hasher{length: n}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	out := hex.EncodeToString(sum[:])
	if h.length > 0 && h.length < len(out) {
		out = out[:h.length]
	}
	return out, nil
}
