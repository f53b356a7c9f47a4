package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/aidesk-labs/kbengine/internal/domain"
	"github.com/aidesk-labs/kbengine/internal/enrich"
	"github.com/aidesk-labs/kbengine/internal/pagination"
	"github.com/aidesk-labs/kbengine/internal/telemetry"
)

// EmbeddingProvider defines the interface for generating embeddings.
type EmbeddingProvider interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// UpsertItem is one chunk ready for persistence: text already enriched
// and embedded.
type UpsertItem struct {
	Text        string
	ContentHash string
	Metadata    domain.ChunkMetadata
	Embedding   []float32
}

// IngestChunkRepository defines the store operations the ingest path needs.
type IngestChunkRepository interface {
	Upsert(ctx context.Context, tenantID, source string, items []UpsertItem) (domain.UpsertStats, error)
	ListByTenant(ctx context.Context, tenantID string, cursor *pagination.Cursor, limit int) ([]*domain.Chunk, error)
}

// ChunkInput is a single chunk as supplied by the external chunker.
type ChunkInput struct {
	Content  string
	Language string
	Tags     []string
	Quality  *float64
	Extra    map[string]interface{}
}

// UpsertInput carries a batch of chunks for one tenant and source.
// DefaultLanguage and DefaultTags apply to chunks that carry none of
// their own.
type UpsertInput struct {
	TenantID        string
	Source          string
	Chunks          []ChunkInput
	DefaultLanguage string
	DefaultTags     []string
}

// ListInput requests a page of chunks for a tenant.
type ListInput struct {
	TenantID string
	Cursor   string
	Limit    int
}

const defaultListLimit = 100

// IngestService implements deduplicated, idempotent chunk ingestion.
type IngestService struct {
	repo     IngestChunkRepository
	embedder EmbeddingProvider
	logger   *zap.Logger
}

// NewIngestService creates a new IngestService instance.
func NewIngestService(repo IngestChunkRepository, embedder EmbeddingProvider, logger *zap.Logger) *IngestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestService{repo: repo, embedder: embedder, logger: logger}
}

// Upsert hashes, enriches, embeds, and persists a batch of chunks.
// Empty or whitespace-only chunks are counted as skipped and never
// persisted. An embedding failure is fatal to the whole batch so the
// caller can retry it.
func (s *IngestService) Upsert(ctx context.Context, input UpsertInput) (domain.UpsertStats, error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestService.Upsert", telemetry.SpanAttributes{
		TenantID:  input.TenantID,
		Source:    input.Source,
		Operation: "upsert",
	})
	defer span.End()

	var stats domain.UpsertStats

	if strings.TrimSpace(input.TenantID) == "" {
		return stats, domain.ErrTenantRequired
	}
	if strings.TrimSpace(input.Source) == "" {
		return stats, domain.ErrSourceRequired
	}

	defaults := enrich.Defaults{
		Language: input.DefaultLanguage,
		Tags:     input.DefaultTags,
	}

	items := make([]UpsertItem, 0, len(input.Chunks))
	texts := make([]string, 0, len(input.Chunks))
	for _, chunk := range input.Chunks {
		if strings.TrimSpace(chunk.Content) == "" {
			stats.Skipped++
			continue
		}

		items = append(items, UpsertItem{
			Text:        chunk.Content,
			ContentHash: enrich.ContentHash(chunk.Content),
			Metadata: enrich.Metadata(chunk.Content, enrich.Input{
				Language: chunk.Language,
				Tags:     chunk.Tags,
				Quality:  chunk.Quality,
				Extra:    chunk.Extra,
			}, defaults),
		})
		texts = append(texts, chunk.Content)
	}

	if len(items) == 0 {
		return stats, nil
	}

	embeddings, err := s.embedder.EmbedMany(ctx, texts)
	if err != nil {
		span.SetError(err)
		return domain.UpsertStats{}, err
	}
	for i := range items {
		items[i].Embedding = embeddings[i]
	}

	storeStats, err := s.repo.Upsert(ctx, input.TenantID, input.Source, items)
	if err != nil {
		span.SetError(err)
		return domain.UpsertStats{}, err
	}

	stats.Add(storeStats)
	s.logger.Info("upserted knowledge chunks",
		zap.String("tenant_id", input.TenantID),
		zap.String("source", input.Source),
		zap.Int("created", stats.Created),
		zap.Int("updated", stats.Updated),
		zap.Int("skipped", stats.Skipped))

	return stats, nil
}

// List returns a cursor-paginated page of the tenant's chunks, newest
// first.
func (s *IngestService) List(ctx context.Context, input ListInput) (*pagination.Page[*domain.Chunk], error) {
	if strings.TrimSpace(input.TenantID) == "" {
		return nil, domain.ErrTenantRequired
	}

	limit := input.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	cursor, err := pagination.DecodeCursor(input.Cursor)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid pagination cursor", err)
	}

	chunks, err := s.repo.ListByTenant(ctx, input.TenantID, cursor, limit+1)
	if err != nil {
		return nil, err
	}

	hasMore := len(chunks) > limit
	if hasMore {
		chunks = chunks[:limit]
	}

	var nextCursor string
	if hasMore && len(chunks) > 0 {
		last := chunks[len(chunks)-1]
		nextCursor = pagination.EncodeCursor(last.ID, last.UpdatedAt)
	}

	return &pagination.Page[*domain.Chunk]{
		Items:   chunks,
		Cursor:  nextCursor,
		HasMore: hasMore,
	}, nil
}
