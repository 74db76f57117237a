// Package sha256 content-addresses archived page snapshots.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements scrape.Hasher using SHA-256. Digests are truncated to
// Length hex characters when Length is positive.
type Hasher struct {
	Length int
}

// New returns a hasher producing full-length digests.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h.Length > 0 && h.Length < len(digest) {
		digest = digest[:h.Length]
	}
	return digest, nil
}
