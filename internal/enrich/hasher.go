// Package enrich provides pure helpers applied to chunk text before it
// reaches the store: content hashing for dedup and metadata derivation.
package enrich

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash returns the SHA-256 hex digest of the exact bytes of text.
// The hash is stable across the process lifetime: no normalization is
// applied beyond what the caller already did.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
