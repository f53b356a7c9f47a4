package domain

import "time"

// SearchResult is the canonical in-memory representation of a retrieved
// chunk. It is produced at the store boundary and used unchanged by the
// ranking, transport, and CLI layers.
type SearchResult struct {
	ID         string
	Source     string
	Chunk      string
	Score      float64
	Similarity float64
	Archived   bool
	UpdatedAt  time.Time
	Metadata   *ChunkMetadata
}
