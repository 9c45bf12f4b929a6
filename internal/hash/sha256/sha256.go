// Package sha256 derives stable hex digests used to name downloaded images.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/moditems-crawler/internal/crawler"
)

// ShortLen is the number of hex characters kept for image file names.
const ShortLen = 16

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

var _ crawler.Hasher = (*Hasher)(nil)

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Short returns the first ShortLen hex characters of the digest of s.
func (h *Hasher) Short(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:ShortLen/2])
}
