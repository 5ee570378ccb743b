// Package sha256 computes the content digests that key the raw archive.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
)

var _ ingest.Hasher = (*Hasher)(nil)

// Hasher returns lowercase hex SHA-256 digests. Stored content_hash values
// depend on this encoding.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash digests data. It never fails; the error satisfies ingest.Hasher.
func (*Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
