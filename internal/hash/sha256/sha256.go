// Package sha256 names archived page bodies by their SHA-256 digest.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
)

// Hasher implements crawler.Hasher.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data. Identical bodies map to one archive
// object, so a portal outage that repeats one error page is stored once.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

var _ crawler.Hasher = (*Hasher)(nil)
