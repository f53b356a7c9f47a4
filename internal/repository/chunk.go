package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/aidesk-labs/kbengine/internal/domain"
	"github.com/aidesk-labs/kbengine/internal/pagination"
	"github.com/aidesk-labs/kbengine/internal/service"
	"github.com/aidesk-labs/kbengine/internal/vector"
)

// dbtx is the common surface of pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// ChunkRepository persists knowledge chunks in Postgres. The vector
// backend decides whether embeddings live in a native pgvector column
// or a byte-encoded BYTEA column; it is resolved once at startup and
// never changes at runtime.
type ChunkRepository struct {
	db      dbtx
	backend vector.Backend
}

func NewChunkRepository(pool *pgxpool.Pool, backend vector.Backend) *ChunkRepository {
	return &ChunkRepository{db: pool, backend: backend}
}

func NewChunkRepositoryWithTx(tx dbtx, backend vector.Backend) *ChunkRepository {
	return &ChunkRepository{db: tx, backend: backend}
}

// metadataRecord is the stored shape of chunk metadata. Quality is a
// pointer so rows written before quality existed decode to the default
// instead of zero.
type metadataRecord struct {
	Language  string                 `json:"language,omitempty"`
	Tags      []string               `json:"tags,omitempty"`
	Quality   *float64               `json:"quality,omitempty"`
	CharCount int                    `json:"char_count"`
	WordCount int                    `json:"word_count"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

func encodeMetadata(m domain.ChunkMetadata) ([]byte, error) {
	quality := m.Quality
	return json.Marshal(metadataRecord{
		Language:  m.Language,
		Tags:      m.Tags,
		Quality:   &quality,
		CharCount: m.CharCount,
		WordCount: m.WordCount,
		Extra:     m.Extra,
	})
}

func decodeMetadata(data []byte) (domain.ChunkMetadata, error) {
	var rec metadataRecord
	if len(data) > 0 {
		if err := json.Unmarshal(data, &rec); err != nil {
			return domain.ChunkMetadata{}, fmt.Errorf("failed to decode chunk metadata: %w", err)
		}
	}
	quality := 1.0
	if rec.Quality != nil {
		quality = *rec.Quality
	}
	return domain.ChunkMetadata{
		Language:  rec.Language,
		Tags:      rec.Tags,
		Quality:   quality,
		CharCount: rec.CharCount,
		WordCount: rec.WordCount,
		Extra:     rec.Extra,
	}, nil
}

// Upsert writes a batch of chunks keyed by (tenant_id, source,
// content_hash). A conflicting row is updated only when its metadata
// actually differs; an unchanged conflict produces no row from
// RETURNING and is counted as skipped.
func (r *ChunkRepository) Upsert(ctx context.Context, tenantID, source string, items []service.UpsertItem) (domain.UpsertStats, error) {
	var stats domain.UpsertStats

	embeddingColumn := "embedding_data"
	if r.backend.Native() {
		embeddingColumn = "embedding"
	}

	query := fmt.Sprintf(
		`INSERT INTO kb_chunks (id, tenant_id, source, content_hash, chunk, metadata_json, %s, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		 ON CONFLICT (tenant_id, source, content_hash) DO UPDATE
		 SET chunk = EXCLUDED.chunk,
		     metadata_json = EXCLUDED.metadata_json,
		     %s = EXCLUDED.%s,
		     updated_at = EXCLUDED.updated_at,
		     archived_at = NULL
		 WHERE kb_chunks.metadata_json IS DISTINCT FROM EXCLUDED.metadata_json
		 RETURNING (xmax = 0) AS inserted`,
		embeddingColumn, embeddingColumn, embeddingColumn,
	)

	now := time.Now().UTC()
	for _, item := range items {
		metadata, err := encodeMetadata(item.Metadata)
		if err != nil {
			return stats, err
		}

		var embeddingArg interface{}
		if r.backend.Native() {
			embeddingArg = pgvector.NewVector(item.Embedding)
		} else {
			embeddingArg = vector.Encode(item.Embedding)
		}

		var inserted bool
		err = r.db.QueryRow(ctx, query,
			uuid.NewString(), tenantID, source, item.ContentHash,
			item.Text, metadata, embeddingArg, now,
		).Scan(&inserted)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			// Conflict with identical metadata: nothing written.
			stats.Skipped++
		case err != nil:
			return stats, err
		case inserted:
			stats.Created++
			stats.Processed++
		default:
			stats.Updated++
			stats.Processed++
		}
	}

	return stats, nil
}

// GetByHash fetches a single chunk by its dedup identity.
func (r *ChunkRepository) GetByHash(ctx context.Context, tenantID, source, contentHash string) (*domain.Chunk, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, tenant_id, source, content_hash, chunk, metadata_json, created_at, updated_at, archived_at
		 FROM kb_chunks
		 WHERE tenant_id = $1 AND source = $2 AND content_hash = $3`,
		tenantID, source, contentHash,
	)

	chunk, err := scanChunk(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrChunkNotFound
		}
		return nil, err
	}
	return chunk, nil
}

// ListByTenant pages the tenant's chunks newest-first with a keyset
// cursor over (updated_at, id).
func (r *ChunkRepository) ListByTenant(ctx context.Context, tenantID string, cursor *pagination.Cursor, limit int) ([]*domain.Chunk, error) {
	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT id, tenant_id, source, content_hash, chunk, metadata_json, created_at, updated_at, archived_at
			 FROM kb_chunks
			 WHERE tenant_id = $1 AND (updated_at, id) < ($2, $3)
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $4`,
			tenantID, cursor.Timestamp, cursor.LastID, limit,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT id, tenant_id, source, content_hash, chunk, metadata_json, created_at, updated_at, archived_at
			 FROM kb_chunks
			 WHERE tenant_id = $1
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $2`,
			tenantID, limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, chunk)
	}
	return results, rows.Err()
}

// SearchByEmbedding orders candidates by cosine distance server-side.
// Only valid on the native backend.
func (r *ChunkRepository) SearchByEmbedding(ctx context.Context, tenantID string, embedding []float32, filters service.SearchFilters, limit int) ([]*service.ChunkCandidate, error) {
	if !r.backend.Native() {
		return nil, errors.New("vector search requires the native pgvector backend")
	}

	query := `SELECT id, source, chunk, metadata_json, archived_at, updated_at,
	                 1 - (embedding <=> $1) / 2 AS similarity
	          FROM kb_chunks
	          WHERE tenant_id = $2 AND embedding IS NOT NULL`
	args := []interface{}{pgvector.NewVector(embedding), tenantID}
	query, args = appendFilterClauses(query, args, filters)
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]*service.ChunkCandidate, 0, limit)
	for rows.Next() {
		var c service.ChunkCandidate
		var metadata []byte
		var archivedAt *time.Time
		if err := rows.Scan(&c.ID, &c.Source, &c.Text, &metadata, &archivedAt, &c.UpdatedAt, &c.Similarity); err != nil {
			return nil, err
		}
		if c.Metadata, err = decodeMetadata(metadata); err != nil {
			return nil, err
		}
		c.Archived = archivedAt != nil
		results = append(results, &c)
	}
	return results, rows.Err()
}

// ListCandidates loads a filtered candidate set, optionally with
// embeddings for in-process similarity.
func (r *ChunkRepository) ListCandidates(ctx context.Context, q service.CandidateQuery) ([]*service.ChunkCandidate, error) {
	columns := "id, source, chunk, metadata_json, archived_at, updated_at"
	if q.WithEmbeddings {
		if r.backend.Native() {
			columns += ", embedding"
		} else {
			columns += ", embedding_data"
		}
	}

	query := fmt.Sprintf(`SELECT %s FROM kb_chunks WHERE tenant_id = $1`, columns)
	args := []interface{}{q.TenantID}
	query, args = appendFilterClauses(query, args, q.Filters)
	args = append(args, q.Limit)
	query += fmt.Sprintf(" ORDER BY updated_at DESC LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]*service.ChunkCandidate, 0, q.Limit)
	for rows.Next() {
		var c service.ChunkCandidate
		var metadata []byte
		var archivedAt *time.Time

		dest := []interface{}{&c.ID, &c.Source, &c.Text, &metadata, &archivedAt, &c.UpdatedAt}
		var nativeVec pgvector.Vector
		var encoded []byte
		if q.WithEmbeddings {
			if r.backend.Native() {
				dest = append(dest, &nativeVec)
			} else {
				dest = append(dest, &encoded)
			}
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if c.Metadata, err = decodeMetadata(metadata); err != nil {
			return nil, err
		}
		if q.WithEmbeddings {
			if r.backend.Native() {
				c.Embedding = nativeVec.Slice()
			} else if len(encoded) > 0 {
				if c.Embedding, err = vector.Decode(encoded); err != nil {
					return nil, err
				}
			}
		}
		c.Archived = archivedAt != nil
		results = append(results, &c)
	}
	return results, rows.Err()
}

// SetArchived flips the archival state of chunks matching the filter
// and reports how many rows changed. Rows already in the requested
// state are left untouched.
func (r *ChunkRepository) SetArchived(ctx context.Context, tenantID string, filter service.ArchiveFilter, archived bool) (int, error) {
	if len(filter.IDs) == 0 && filter.Source == "" && filter.UpdatedBefore == nil {
		return 0, domain.ErrFilterRequired
	}

	var query string
	var args []interface{}
	if archived {
		query = `UPDATE kb_chunks SET archived_at = $1 WHERE tenant_id = $2 AND archived_at IS NULL`
		args = []interface{}{time.Now().UTC(), tenantID}
	} else {
		query = `UPDATE kb_chunks SET archived_at = NULL WHERE tenant_id = $1 AND archived_at IS NOT NULL`
		args = []interface{}{tenantID}
	}

	if len(filter.IDs) > 0 {
		args = append(args, filter.IDs)
		query += fmt.Sprintf(" AND id = ANY($%d)", len(args))
	}
	if filter.Source != "" {
		args = append(args, filter.Source)
		query += fmt.Sprintf(" AND source = $%d", len(args))
	}
	if filter.UpdatedBefore != nil {
		args = append(args, *filter.UpdatedBefore)
		query += fmt.Sprintf(" AND updated_at < $%d", len(args))
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Delete permanently removes chunks matching the filter and reports how
// many rows were deleted.
func (r *ChunkRepository) Delete(ctx context.Context, tenantID string, filter service.DeleteFilter) (int, error) {
	if len(filter.IDs) == 0 && filter.Source == "" {
		return 0, domain.ErrFilterRequired
	}

	query := `DELETE FROM kb_chunks WHERE tenant_id = $1`
	args := []interface{}{tenantID}

	if len(filter.IDs) > 0 {
		args = append(args, filter.IDs)
		query += fmt.Sprintf(" AND id = ANY($%d)", len(args))
	}
	if filter.Source != "" {
		args = append(args, filter.Source)
		query += fmt.Sprintf(" AND source = $%d", len(args))
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ListForReindex pages chunk texts by id so a reindex run advances
// deterministically while embeddings are rewritten underneath it.
func (r *ChunkRepository) ListForReindex(ctx context.Context, tenantID string, filter service.ReindexFilter, afterID string, limit int) ([]service.ReindexChunk, error) {
	query := `SELECT id, chunk FROM kb_chunks WHERE tenant_id = $1`
	args := []interface{}{tenantID}

	if filter.Source != "" {
		args = append(args, filter.Source)
		query += fmt.Sprintf(" AND source = $%d", len(args))
	}
	if !filter.IncludeArchived {
		query += " AND archived_at IS NULL"
	}
	if afterID != "" {
		args = append(args, afterID)
		query += fmt.Sprintf(" AND id > $%d", len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY id LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []service.ReindexChunk
	for rows.Next() {
		var c service.ReindexChunk
		if err := rows.Scan(&c.ID, &c.Text); err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// UpdateEmbedding rewrites one chunk's embedding in place. The
// timestamp is untouched so reindexing does not inflate recency.
func (r *ChunkRepository) UpdateEmbedding(ctx context.Context, tenantID, chunkID string, embedding []float32) error {
	var tag pgconn.CommandTag
	var err error
	if r.backend.Native() {
		tag, err = r.db.Exec(ctx,
			`UPDATE kb_chunks SET embedding = $1 WHERE tenant_id = $2 AND id = $3`,
			pgvector.NewVector(embedding), tenantID, chunkID,
		)
	} else {
		tag, err = r.db.Exec(ctx,
			`UPDATE kb_chunks SET embedding_data = $1 WHERE tenant_id = $2 AND id = $3`,
			vector.Encode(embedding), tenantID, chunkID,
		)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrChunkNotFound
	}
	return nil
}

// appendFilterClauses adds the shared search filter conditions to a
// query under construction.
func appendFilterClauses(query string, args []interface{}, filters service.SearchFilters) (string, []interface{}) {
	if filters.Source != "" {
		args = append(args, filters.Source)
		query += fmt.Sprintf(" AND source = $%d", len(args))
	}
	if filters.Language != "" {
		args = append(args, filters.Language)
		query += fmt.Sprintf(" AND metadata_json->>'language' = $%d", len(args))
	}
	if len(filters.Tags) > 0 {
		tagsJSON, _ := json.Marshal(filters.Tags)
		args = append(args, tagsJSON)
		query += fmt.Sprintf(" AND metadata_json->'tags' @> $%d::jsonb", len(args))
	}
	if !filters.IncludeArchived {
		query += " AND archived_at IS NULL"
	}
	return query, args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChunk(row rowScanner) (*domain.Chunk, error) {
	var c domain.Chunk
	var metadata []byte
	if err := row.Scan(&c.ID, &c.TenantID, &c.Source, &c.ContentHash, &c.Text, &metadata, &c.CreatedAt, &c.UpdatedAt, &c.ArchivedAt); err != nil {
		return nil, err
	}
	var err error
	if c.Metadata, err = decodeMetadata(metadata); err != nil {
		return nil, err
	}
	return &c, nil
}
