package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aidesk-labs/kbengine/internal/domain"
	"github.com/aidesk-labs/kbengine/internal/telemetry"
)

// ArchiveFilter selects chunks for archival or restore. At least one
// of IDs, Source, or UpdatedBefore must be set.
type ArchiveFilter struct {
	IDs           []string
	Source        string
	UpdatedBefore *time.Time
}

func (f ArchiveFilter) empty() bool {
	return len(f.IDs) == 0 && strings.TrimSpace(f.Source) == "" && f.UpdatedBefore == nil
}

// DeleteFilter selects chunks for permanent removal. At least one of
// IDs or Source must be set.
type DeleteFilter struct {
	IDs    []string
	Source string
}

func (f DeleteFilter) empty() bool {
	return len(f.IDs) == 0 && strings.TrimSpace(f.Source) == ""
}

// ReindexFilter scopes a reindex run. An empty filter reindexes the
// tenant's entire active corpus.
type ReindexFilter struct {
	Source          string
	IncludeArchived bool
}

// ReindexChunk is the minimal projection needed to recompute an
// embedding.
type ReindexChunk struct {
	ID   string
	Text string
}

// LifecycleChunkRepository defines the store operations the lifecycle
// path needs. ListForReindex pages by id so a run makes progress even
// while embeddings are rewritten underneath it.
type LifecycleChunkRepository interface {
	SetArchived(ctx context.Context, tenantID string, filter ArchiveFilter, archived bool) (int, error)
	Delete(ctx context.Context, tenantID string, filter DeleteFilter) (int, error)
	ListForReindex(ctx context.Context, tenantID string, filter ReindexFilter, afterID string, limit int) ([]ReindexChunk, error)
	UpdateEmbedding(ctx context.Context, tenantID, chunkID string, embedding []float32) error
}

const defaultReindexBatchSize = 10

// LifecycleService manages archival, deletion, and re-embedding of
// stored chunks.
type LifecycleService struct {
	repo     LifecycleChunkRepository
	embedder EmbeddingProvider
	logger   *zap.Logger
}

// NewLifecycleService creates a new LifecycleService instance.
func NewLifecycleService(repo LifecycleChunkRepository, embedder EmbeddingProvider, logger *zap.Logger) *LifecycleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleService{repo: repo, embedder: embedder, logger: logger}
}

// Archive soft-deletes the chunks matching filter, or restores them
// when archived is false, and returns how many rows changed. An empty
// filter is rejected rather than archiving the whole tenant.
func (s *LifecycleService) Archive(ctx context.Context, tenantID string, filter ArchiveFilter, archived bool) (int, error) {
	operation := "archive"
	if !archived {
		operation = "restore"
	}
	ctx, span := telemetry.StartSpan(ctx, "LifecycleService.Archive", telemetry.SpanAttributes{
		TenantID:  tenantID,
		Source:    filter.Source,
		Operation: operation,
	})
	defer span.End()

	if strings.TrimSpace(tenantID) == "" {
		return 0, domain.ErrTenantRequired
	}
	if filter.empty() {
		return 0, domain.ErrFilterRequired
	}

	count, err := s.repo.SetArchived(ctx, tenantID, filter, archived)
	if err != nil {
		span.SetError(err)
		return 0, err
	}

	s.logger.Info("changed archival state of knowledge chunks",
		zap.String("tenant_id", tenantID),
		zap.String("source", filter.Source),
		zap.Bool("archived", archived),
		zap.Int("count", count))
	return count, nil
}

// Delete permanently removes the chunks matching filter and returns how
// many were deleted. An empty filter is rejected rather than wiping the
// whole tenant.
func (s *LifecycleService) Delete(ctx context.Context, tenantID string, filter DeleteFilter) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "LifecycleService.Delete", telemetry.SpanAttributes{
		TenantID:  tenantID,
		Source:    filter.Source,
		Operation: "delete",
	})
	defer span.End()

	if strings.TrimSpace(tenantID) == "" {
		return 0, domain.ErrTenantRequired
	}
	if filter.empty() {
		return 0, domain.ErrFilterRequired
	}

	count, err := s.repo.Delete(ctx, tenantID, filter)
	if err != nil {
		span.SetError(err)
		return 0, err
	}

	s.logger.Info("deleted knowledge chunks",
		zap.String("tenant_id", tenantID),
		zap.String("source", filter.Source),
		zap.Int("count", count))
	return count, nil
}

// Reindex recomputes embeddings for the chunks matching filter in
// batches, and returns how many chunks were re-embedded. A failed
// embedding batch aborts the run; the count of already-reindexed chunks
// is still returned so a caller can resume.
func (s *LifecycleService) Reindex(ctx context.Context, tenantID string, filter ReindexFilter, batchSize int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "LifecycleService.Reindex", telemetry.SpanAttributes{
		TenantID:  tenantID,
		Source:    filter.Source,
		Operation: "reindex",
	})
	defer span.End()

	if strings.TrimSpace(tenantID) == "" {
		return 0, domain.ErrTenantRequired
	}
	if batchSize <= 0 {
		batchSize = defaultReindexBatchSize
	}

	processed := 0
	afterID := ""
	for {
		chunks, err := s.repo.ListForReindex(ctx, tenantID, filter, afterID, batchSize)
		if err != nil {
			span.SetError(err)
			return processed, err
		}
		if len(chunks) == 0 {
			break
		}

		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}

		embeddings, err := s.embedder.EmbedMany(ctx, texts)
		if err != nil {
			aborted := domain.NewDomainErrorWithCause(domain.ErrCodeEmbeddingUnavailable,
				"reindex aborted: embedding batch failed", err)
			span.SetError(aborted)
			return processed, aborted
		}

		for i, c := range chunks {
			if err := s.repo.UpdateEmbedding(ctx, tenantID, c.ID, embeddings[i]); err != nil {
				span.SetError(err)
				return processed, err
			}
			processed++
		}

		afterID = chunks[len(chunks)-1].ID
	}

	s.logger.Info("reindexed knowledge chunks",
		zap.String("tenant_id", tenantID),
		zap.String("source", filter.Source),
		zap.Int("processed", processed))
	return processed, nil
}
