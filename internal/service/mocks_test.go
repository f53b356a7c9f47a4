package service

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/aidesk-labs/kbengine/internal/domain"
	"github.com/aidesk-labs/kbengine/internal/pagination"
)

// MockEmbeddingProvider is a mock implementation of EmbeddingProvider
type MockEmbeddingProvider struct {
	mock.Mock
}

func (m *MockEmbeddingProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func (m *MockEmbeddingProvider) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockEmbeddingProvider) Dimensions() int {
	args := m.Called()
	return args.Int(0)
}

// MockIngestRepository is a mock implementation of IngestChunkRepository
type MockIngestRepository struct {
	mock.Mock
}

func (m *MockIngestRepository) Upsert(ctx context.Context, tenantID, source string, items []UpsertItem) (domain.UpsertStats, error) {
	args := m.Called(ctx, tenantID, source, items)
	return args.Get(0).(domain.UpsertStats), args.Error(1)
}

func (m *MockIngestRepository) ListByTenant(ctx context.Context, tenantID string, cursor *pagination.Cursor, limit int) ([]*domain.Chunk, error) {
	args := m.Called(ctx, tenantID, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Chunk), args.Error(1)
}

// MockSearchRepository is a mock implementation of SearchChunkRepository
type MockSearchRepository struct {
	mock.Mock
}

func (m *MockSearchRepository) SearchByEmbedding(ctx context.Context, tenantID string, embedding []float32, filters SearchFilters, limit int) ([]*ChunkCandidate, error) {
	args := m.Called(ctx, tenantID, embedding, filters, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ChunkCandidate), args.Error(1)
}

func (m *MockSearchRepository) ListCandidates(ctx context.Context, q CandidateQuery) ([]*ChunkCandidate, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ChunkCandidate), args.Error(1)
}

// MockLifecycleRepository is a mock implementation of LifecycleChunkRepository
type MockLifecycleRepository struct {
	mock.Mock
}

func (m *MockLifecycleRepository) SetArchived(ctx context.Context, tenantID string, filter ArchiveFilter, archived bool) (int, error) {
	args := m.Called(ctx, tenantID, filter, archived)
	return args.Int(0), args.Error(1)
}

func (m *MockLifecycleRepository) Delete(ctx context.Context, tenantID string, filter DeleteFilter) (int, error) {
	args := m.Called(ctx, tenantID, filter)
	return args.Int(0), args.Error(1)
}

func (m *MockLifecycleRepository) ListForReindex(ctx context.Context, tenantID string, filter ReindexFilter, afterID string, limit int) ([]ReindexChunk, error) {
	args := m.Called(ctx, tenantID, filter, afterID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ReindexChunk), args.Error(1)
}

func (m *MockLifecycleRepository) UpdateEmbedding(ctx context.Context, tenantID, chunkID string, embedding []float32) error {
	args := m.Called(ctx, tenantID, chunkID, embedding)
	return args.Error(0)
}
