package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aidesk-labs/kbengine/internal/domain"
	"github.com/aidesk-labs/kbengine/internal/enrich"
	"github.com/aidesk-labs/kbengine/internal/pagination"
)

func TestIngestService_Upsert(t *testing.T) {
	ctx := context.Background()

	t.Run("hashes, embeds, and persists chunks", func(t *testing.T) {
		mockRepo := new(MockIngestRepository)
		mockEmbedder := new(MockEmbeddingProvider)

		svc := NewIngestService(mockRepo, mockEmbedder, nil)

		mockEmbedder.On("EmbedMany", mock.Anything, []string{"alpha text", "beta text"}).
			Return([][]float32{{0.1, 0.2}, {0.3, 0.4}}, nil)

		mockRepo.On("Upsert", mock.Anything, "tenant-1", "docs", mock.MatchedBy(func(items []UpsertItem) bool {
			return len(items) == 2 &&
				items[0].ContentHash == enrich.ContentHash("alpha text") &&
				items[0].Embedding != nil &&
				items[1].ContentHash == enrich.ContentHash("beta text")
		})).Return(domain.UpsertStats{Created: 2, Processed: 2}, nil)

		stats, err := svc.Upsert(ctx, UpsertInput{
			TenantID: "tenant-1",
			Source:   "docs",
			Chunks: []ChunkInput{
				{Content: "alpha text"},
				{Content: "beta text"},
			},
		})

		require.NoError(t, err)
		assert.Equal(t, 2, stats.Created)
		assert.Equal(t, 0, stats.Updated)
		assert.Equal(t, 0, stats.Skipped)
		assert.Equal(t, 2, stats.Processed)
		assert.Equal(t, 2, stats.Total())

		mockRepo.AssertExpectations(t)
		mockEmbedder.AssertExpectations(t)
	})

	t.Run("counts blank chunks as skipped without embedding them", func(t *testing.T) {
		mockRepo := new(MockIngestRepository)
		mockEmbedder := new(MockEmbeddingProvider)

		svc := NewIngestService(mockRepo, mockEmbedder, nil)

		mockEmbedder.On("EmbedMany", mock.Anything, []string{"real content"}).
			Return([][]float32{{0.5}}, nil)
		mockRepo.On("Upsert", mock.Anything, "tenant-1", "docs", mock.MatchedBy(func(items []UpsertItem) bool {
			return len(items) == 1 && items[0].Text == "real content"
		})).Return(domain.UpsertStats{Created: 1, Processed: 1}, nil)

		stats, err := svc.Upsert(ctx, UpsertInput{
			TenantID: "tenant-1",
			Source:   "docs",
			Chunks: []ChunkInput{
				{Content: ""},
				{Content: "   \n\t"},
				{Content: "real content"},
			},
		})

		require.NoError(t, err)
		assert.Equal(t, 1, stats.Created)
		assert.Equal(t, 2, stats.Skipped)
		assert.Equal(t, 3, stats.Total())
	})

	t.Run("returns stats without store call when every chunk is blank", func(t *testing.T) {
		mockRepo := new(MockIngestRepository)
		mockEmbedder := new(MockEmbeddingProvider)

		svc := NewIngestService(mockRepo, mockEmbedder, nil)

		stats, err := svc.Upsert(ctx, UpsertInput{
			TenantID: "tenant-1",
			Source:   "docs",
			Chunks:   []ChunkInput{{Content: ""}, {Content: " "}},
		})

		require.NoError(t, err)
		assert.Equal(t, 2, stats.Skipped)
		assert.Equal(t, 0, stats.Processed)
		mockRepo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		mockEmbedder.AssertNotCalled(t, "EmbedMany", mock.Anything, mock.Anything)
	})

	t.Run("requires tenant id", func(t *testing.T) {
		svc := NewIngestService(new(MockIngestRepository), new(MockEmbeddingProvider), nil)

		_, err := svc.Upsert(ctx, UpsertInput{Source: "docs", Chunks: []ChunkInput{{Content: "x"}}})

		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrTenantRequired)
	})

	t.Run("requires source", func(t *testing.T) {
		svc := NewIngestService(new(MockIngestRepository), new(MockEmbeddingProvider), nil)

		_, err := svc.Upsert(ctx, UpsertInput{TenantID: "tenant-1", Chunks: []ChunkInput{{Content: "x"}}})

		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrSourceRequired)
	})

	t.Run("embedding failure is fatal to the batch", func(t *testing.T) {
		mockRepo := new(MockIngestRepository)
		mockEmbedder := new(MockEmbeddingProvider)

		svc := NewIngestService(mockRepo, mockEmbedder, nil)

		mockEmbedder.On("EmbedMany", mock.Anything, mock.Anything).
			Return(nil, domain.ErrEmbeddingUnavailable)

		stats, err := svc.Upsert(ctx, UpsertInput{
			TenantID: "tenant-1",
			Source:   "docs",
			Chunks:   []ChunkInput{{Content: "alpha"}, {Content: "beta"}},
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
		assert.Equal(t, domain.UpsertStats{}, stats)
		mockRepo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("propagates store failure", func(t *testing.T) {
		mockRepo := new(MockIngestRepository)
		mockEmbedder := new(MockEmbeddingProvider)

		svc := NewIngestService(mockRepo, mockEmbedder, nil)

		storeErr := errors.New("connection refused")
		mockEmbedder.On("EmbedMany", mock.Anything, mock.Anything).
			Return([][]float32{{0.1}}, nil)
		mockRepo.On("Upsert", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(domain.UpsertStats{}, storeErr)

		_, err := svc.Upsert(ctx, UpsertInput{
			TenantID: "tenant-1",
			Source:   "docs",
			Chunks:   []ChunkInput{{Content: "alpha"}},
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, storeErr)
	})

	t.Run("applies chunk metadata and batch defaults", func(t *testing.T) {
		mockRepo := new(MockIngestRepository)
		mockEmbedder := new(MockEmbeddingProvider)

		svc := NewIngestService(mockRepo, mockEmbedder, nil)

		quality := 0.7
		mockEmbedder.On("EmbedMany", mock.Anything, mock.Anything).
			Return([][]float32{{0.1}, {0.2}}, nil)
		mockRepo.On("Upsert", mock.Anything, "tenant-1", "docs", mock.MatchedBy(func(items []UpsertItem) bool {
			withOwn := items[0].Metadata
			withDefaults := items[1].Metadata
			return withOwn.Language == "de" &&
				withOwn.Quality == 0.7 &&
				assert.ObjectsAreEqual([]string{"api", "guide"}, withOwn.Tags) &&
				withDefaults.Language == "en" &&
				withDefaults.Quality == enrich.DefaultQuality &&
				assert.ObjectsAreEqual([]string{"default"}, withDefaults.Tags)
		})).Return(domain.UpsertStats{Created: 2, Processed: 2}, nil)

		_, err := svc.Upsert(ctx, UpsertInput{
			TenantID:        "tenant-1",
			Source:          "docs",
			DefaultLanguage: "en",
			DefaultTags:     []string{"default"},
			Chunks: []ChunkInput{
				{Content: "eigene sprache", Language: "de", Tags: []string{"Guide", "api"}, Quality: &quality},
				{Content: "inherits the defaults"},
			},
		})

		require.NoError(t, err)
		mockRepo.AssertExpectations(t)
	})
}

func TestIngestService_List(t *testing.T) {
	ctx := context.Background()

	t.Run("returns page with next cursor when more rows exist", func(t *testing.T) {
		mockRepo := new(MockIngestRepository)
		svc := NewIngestService(mockRepo, new(MockEmbeddingProvider), nil)

		now := time.Now().UTC()
		chunks := []*domain.Chunk{
			{ID: "id-1", UpdatedAt: now},
			{ID: "id-2", UpdatedAt: now.Add(-time.Minute)},
			{ID: "id-3", UpdatedAt: now.Add(-2 * time.Minute)},
		}

		mockRepo.On("ListByTenant", mock.Anything, "tenant-1", (*pagination.Cursor)(nil), 3).
			Return(chunks, nil)

		page, err := svc.List(ctx, ListInput{TenantID: "tenant-1", Limit: 2})

		require.NoError(t, err)
		assert.Len(t, page.Items, 2)
		assert.True(t, page.HasMore)
		assert.NotEmpty(t, page.Cursor)

		cursor, err := pagination.DecodeCursor(page.Cursor)
		require.NoError(t, err)
		assert.Equal(t, "id-2", cursor.LastID)
	})

	t.Run("returns empty cursor on final page", func(t *testing.T) {
		mockRepo := new(MockIngestRepository)
		svc := NewIngestService(mockRepo, new(MockEmbeddingProvider), nil)

		mockRepo.On("ListByTenant", mock.Anything, "tenant-1", (*pagination.Cursor)(nil), 3).
			Return([]*domain.Chunk{{ID: "id-1"}}, nil)

		page, err := svc.List(ctx, ListInput{TenantID: "tenant-1", Limit: 2})

		require.NoError(t, err)
		assert.Len(t, page.Items, 1)
		assert.False(t, page.HasMore)
		assert.Empty(t, page.Cursor)
	})

	t.Run("rejects malformed cursor", func(t *testing.T) {
		svc := NewIngestService(new(MockIngestRepository), new(MockEmbeddingProvider), nil)

		_, err := svc.List(ctx, ListInput{TenantID: "tenant-1", Cursor: "not-base64!!"})

		require.Error(t, err)
		assert.Equal(t, domain.ErrCodeValidation, domain.CodeOf(err))
	})

	t.Run("requires tenant id", func(t *testing.T) {
		svc := NewIngestService(new(MockIngestRepository), new(MockEmbeddingProvider), nil)

		_, err := svc.List(ctx, ListInput{})

		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrTenantRequired)
	})
}
