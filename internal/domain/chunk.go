package domain

import "time"

// ChunkMetadata carries descriptive attributes for a knowledge chunk.
// Language and Tags are normalized at enrichment time; Quality is a
// relevance weight in [0,1] used by search scoring.
type ChunkMetadata struct {
	Language  string                 `json:"language,omitempty"`
	Tags      []string               `json:"tags,omitempty"`
	Quality   float64                `json:"quality"`
	CharCount int                    `json:"char_count"`
	WordCount int                    `json:"word_count"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// Chunk represents a unit of retrievable knowledge scoped to a tenant
// and a logical source. ContentHash is the dedup key: identity is
// (TenantID, Source, ContentHash) and updates happen by hash
// replacement, never by mutating the hash in place.
type Chunk struct {
	ID          string
	TenantID    string
	Source      string
	ContentHash string
	Text        string
	Metadata    ChunkMetadata
	Embedding   []float32
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ArchivedAt  *time.Time
}

// Archived reports whether the chunk is excluded from default search.
func (c *Chunk) Archived() bool {
	return c.ArchivedAt != nil
}

// UpsertStats accounts for every chunk passed to an upsert call:
// Created + Updated + Skipped always equals the input size.
// Processed counts the chunks that were actually written.
type UpsertStats struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Processed int `json:"processed"`
}

// Total returns the number of input chunks the stats account for.
func (s UpsertStats) Total() int {
	return s.Created + s.Updated + s.Skipped
}

// Add merges another stats value into this one.
func (s *UpsertStats) Add(other UpsertStats) {
	s.Created += other.Created
	s.Updated += other.Updated
	s.Skipped += other.Skipped
	s.Processed += other.Processed
}
