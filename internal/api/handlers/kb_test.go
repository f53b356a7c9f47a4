package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aidesk-labs/kbengine/internal/api"
	"github.com/aidesk-labs/kbengine/internal/api/middleware"
	"github.com/aidesk-labs/kbengine/internal/domain"
	"github.com/aidesk-labs/kbengine/internal/pagination"
	"github.com/aidesk-labs/kbengine/internal/service"
)

type MockIngestService struct {
	mock.Mock
}

func (m *MockIngestService) Upsert(ctx context.Context, input service.UpsertInput) (domain.UpsertStats, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(domain.UpsertStats), args.Error(1)
}

func (m *MockIngestService) List(ctx context.Context, input service.ListInput) (*pagination.Page[*domain.Chunk], error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pagination.Page[*domain.Chunk]), args.Error(1)
}

type MockSearchService struct {
	mock.Mock
}

func (m *MockSearchService) Search(ctx context.Context, input service.SearchInput) ([]*domain.SearchResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.SearchResult), args.Error(1)
}

type MockLifecycleService struct {
	mock.Mock
}

func (m *MockLifecycleService) Archive(ctx context.Context, tenantID string, filter service.ArchiveFilter, archived bool) (int, error) {
	args := m.Called(ctx, tenantID, filter, archived)
	return args.Int(0), args.Error(1)
}

func (m *MockLifecycleService) Delete(ctx context.Context, tenantID string, filter service.DeleteFilter) (int, error) {
	args := m.Called(ctx, tenantID, filter)
	return args.Int(0), args.Error(1)
}

func (m *MockLifecycleService) Reindex(ctx context.Context, tenantID string, filter service.ReindexFilter, batchSize int) (int, error) {
	args := m.Called(ctx, tenantID, filter, batchSize)
	return args.Int(0), args.Error(1)
}

func newTestHandler() (*KBHandler, *MockIngestService, *MockSearchService, *MockLifecycleService) {
	ingest := new(MockIngestService)
	search := new(MockSearchService)
	lifecycle := new(MockLifecycleService)
	return NewKBHandler(ingest, search, lifecycle), ingest, search, lifecycle
}

func withTenant(req *http.Request, tenantID string) *http.Request {
	ctx := context.WithValue(req.Context(), middleware.TenantIDKey, tenantID)
	return req.WithContext(ctx)
}

func TestKBHandler_Upsert(t *testing.T) {
	t.Run("returns stats on success", func(t *testing.T) {
		h, ingest, _, _ := newTestHandler()

		ingest.On("Upsert", mock.Anything, mock.MatchedBy(func(in service.UpsertInput) bool {
			return in.TenantID == "tenant-1" &&
				in.Source == "docs" &&
				len(in.Chunks) == 2 &&
				in.DefaultLanguage == "en"
		})).Return(domain.UpsertStats{Created: 1, Skipped: 1, Processed: 1}, nil)

		body, _ := json.Marshal(UpsertRequest{
			Source:          "docs",
			DefaultLanguage: "en",
			Chunks: []UpsertChunkRequest{
				{Content: "alpha"},
				{Content: ""},
			},
		})

		req := withTenant(httptest.NewRequest(http.MethodPost, "/kb/chunks", bytes.NewReader(body)), "tenant-1")
		rec := httptest.NewRecorder()

		h.Upsert(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Data domain.UpsertStats `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Data.Created)
		assert.Equal(t, 1, resp.Data.Skipped)
		ingest.AssertExpectations(t)
	})

	t.Run("rejects invalid json", func(t *testing.T) {
		h, _, _, _ := newTestHandler()

		req := withTenant(httptest.NewRequest(http.MethodPost, "/kb/chunks", bytes.NewReader([]byte("{"))), "tenant-1")
		rec := httptest.NewRecorder()

		h.Upsert(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects missing source", func(t *testing.T) {
		h, _, _, _ := newTestHandler()

		body, _ := json.Marshal(UpsertRequest{Chunks: []UpsertChunkRequest{{Content: "x"}}})
		req := withTenant(httptest.NewRequest(http.MethodPost, "/kb/chunks", bytes.NewReader(body)), "tenant-1")
		rec := httptest.NewRecorder()

		h.Upsert(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects empty chunk list", func(t *testing.T) {
		h, _, _, _ := newTestHandler()

		body, _ := json.Marshal(UpsertRequest{Source: "docs"})
		req := withTenant(httptest.NewRequest(http.MethodPost, "/kb/chunks", bytes.NewReader(body)), "tenant-1")
		rec := httptest.NewRecorder()

		h.Upsert(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects out-of-range quality", func(t *testing.T) {
		h, _, _, _ := newTestHandler()

		quality := 1.2
		body, _ := json.Marshal(UpsertRequest{
			Source: "docs",
			Chunks: []UpsertChunkRequest{{Content: "x", Quality: &quality}},
		})
		req := withTenant(httptest.NewRequest(http.MethodPost, "/kb/chunks", bytes.NewReader(body)), "tenant-1")
		rec := httptest.NewRecorder()

		h.Upsert(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("maps embedding outage to 503", func(t *testing.T) {
		h, ingest, _, _ := newTestHandler()

		ingest.On("Upsert", mock.Anything, mock.Anything).
			Return(domain.UpsertStats{}, domain.ErrEmbeddingUnavailable)

		body, _ := json.Marshal(UpsertRequest{Source: "docs", Chunks: []UpsertChunkRequest{{Content: "x"}}})
		req := withTenant(httptest.NewRequest(http.MethodPost, "/kb/chunks", bytes.NewReader(body)), "tenant-1")
		rec := httptest.NewRecorder()

		h.Upsert(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var resp api.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, domain.ErrCodeEmbeddingUnavailable, resp.Code)
	})
}

func TestKBHandler_List(t *testing.T) {
	t.Run("returns a page of chunks", func(t *testing.T) {
		h, ingest, _, _ := newTestHandler()

		now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		archived := now.Add(-time.Hour)
		ingest.On("List", mock.Anything, service.ListInput{TenantID: "tenant-1", Cursor: "abc", Limit: 10}).
			Return(&pagination.Page[*domain.Chunk]{
				Items: []*domain.Chunk{
					{ID: "id-1", Source: "docs", Text: "text", CreatedAt: now, UpdatedAt: now},
					{ID: "id-2", Source: "docs", Text: "text", CreatedAt: now, UpdatedAt: now, ArchivedAt: &archived},
				},
				Cursor:  "next",
				HasMore: true,
			}, nil)

		req := withTenant(httptest.NewRequest(http.MethodGet, "/kb/chunks?cursor=abc&limit=10", nil), "tenant-1")
		rec := httptest.NewRecorder()

		h.List(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Data ListChunksResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Data.Items, 2)
		assert.Equal(t, "id-1", resp.Data.Items[0].ID)
		assert.Empty(t, resp.Data.Items[0].ArchivedAt)
		assert.NotEmpty(t, resp.Data.Items[1].ArchivedAt)
		assert.Equal(t, "next", resp.Data.Cursor)
		assert.True(t, resp.Data.HasMore)
	})

	t.Run("rejects non-numeric limit", func(t *testing.T) {
		h, _, _, _ := newTestHandler()

		req := withTenant(httptest.NewRequest(http.MethodGet, "/kb/chunks?limit=abc", nil), "tenant-1")
		rec := httptest.NewRecorder()

		h.List(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestKBHandler_Search(t *testing.T) {
	t.Run("returns ranked results", func(t *testing.T) {
		h, _, search, _ := newTestHandler()

		now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		search.On("Search", mock.Anything, mock.MatchedBy(func(in service.SearchInput) bool {
			return in.TenantID == "tenant-1" &&
				in.Query == "how to deploy" &&
				in.Limit == 3 &&
				in.Filters.Source == "docs" &&
				in.IncludeMetadata
		})).Return([]*domain.SearchResult{
			{ID: "r-1", Source: "docs", Chunk: "deploy with make deploy", Score: 0.91, Similarity: 0.95, UpdatedAt: now,
				Metadata: &domain.ChunkMetadata{Language: "en", Quality: 1}},
		}, nil)

		body, _ := json.Marshal(SearchRequest{
			Query:           "how to deploy",
			Limit:           3,
			Source:          "docs",
			IncludeMetadata: true,
		})

		req := withTenant(httptest.NewRequest(http.MethodPost, "/kb/search", bytes.NewReader(body)), "tenant-1")
		rec := httptest.NewRecorder()

		h.Search(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Data []*SearchResultResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Data, 1)
		assert.Equal(t, "r-1", resp.Data[0].ID)
		assert.Equal(t, 0.91, resp.Data[0].Score)
		require.NotNil(t, resp.Data[0].Metadata)
		assert.Equal(t, "en", resp.Data[0].Metadata.Language)
	})

	t.Run("empty result serializes as an array", func(t *testing.T) {
		h, _, search, _ := newTestHandler()

		search.On("Search", mock.Anything, mock.Anything).
			Return([]*domain.SearchResult{}, nil)

		body, _ := json.Marshal(SearchRequest{Query: "nothing matches"})
		req := withTenant(httptest.NewRequest(http.MethodPost, "/kb/search", bytes.NewReader(body)), "tenant-1")
		rec := httptest.NewRecorder()

		h.Search(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"data":[]`)
	})
}

func TestKBHandler_Archive(t *testing.T) {
	t.Run("returns archived count", func(t *testing.T) {
		h, _, _, lifecycle := newTestHandler()

		cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		lifecycle.On("Archive", mock.Anything, "tenant-1", mock.MatchedBy(func(f service.ArchiveFilter) bool {
			return f.Source == "docs" && f.UpdatedBefore != nil && f.UpdatedBefore.Equal(cutoff)
		}), true).Return(7, nil)

		body, _ := json.Marshal(ArchiveRequest{Source: "docs", UpdatedBefore: &cutoff})
		req := withTenant(httptest.NewRequest(http.MethodPost, "/kb/archive", bytes.NewReader(body)), "tenant-1")
		rec := httptest.NewRecorder()

		h.Archive(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"count":7`)
	})

	t.Run("restore flag flips the direction", func(t *testing.T) {
		h, _, _, lifecycle := newTestHandler()

		lifecycle.On("Archive", mock.Anything, "tenant-1", service.ArchiveFilter{Source: "docs"}, false).
			Return(3, nil)

		body, _ := json.Marshal(ArchiveRequest{Source: "docs", Restore: true})
		req := withTenant(httptest.NewRequest(http.MethodPost, "/kb/archive", bytes.NewReader(body)), "tenant-1")
		rec := httptest.NewRecorder()

		h.Archive(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"count":3`)
		lifecycle.AssertExpectations(t)
	})

	t.Run("maps empty filter to 400", func(t *testing.T) {
		h, _, _, lifecycle := newTestHandler()

		lifecycle.On("Archive", mock.Anything, "tenant-1", service.ArchiveFilter{}, true).
			Return(0, domain.ErrFilterRequired)

		req := withTenant(httptest.NewRequest(http.MethodPost, "/kb/archive", bytes.NewReader([]byte("{}"))), "tenant-1")
		rec := httptest.NewRecorder()

		h.Archive(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestKBHandler_Delete(t *testing.T) {
	h, _, _, lifecycle := newTestHandler()

	lifecycle.On("Delete", mock.Anything, "tenant-1", service.DeleteFilter{IDs: []string{"id-1"}}).
		Return(1, nil)

	body, _ := json.Marshal(DeleteRequest{IDs: []string{"id-1"}})
	req := withTenant(httptest.NewRequest(http.MethodPost, "/kb/delete", bytes.NewReader(body)), "tenant-1")
	rec := httptest.NewRecorder()

	h.Delete(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)
}

func TestKBHandler_DeleteSource(t *testing.T) {
	h, _, _, lifecycle := newTestHandler()

	lifecycle.On("Delete", mock.Anything, "tenant-1", service.DeleteFilter{Source: "old-docs"}).
		Return(9, nil)

	req := withTenant(httptest.NewRequest(http.MethodDelete, "/kb/sources/old-docs", nil), "tenant-1")
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("source", "old-docs")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()

	h.DeleteSource(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":9`)
	lifecycle.AssertExpectations(t)
}

func TestKBHandler_Reindex(t *testing.T) {
	t.Run("returns processed count", func(t *testing.T) {
		h, _, _, lifecycle := newTestHandler()

		lifecycle.On("Reindex", mock.Anything, "tenant-1", service.ReindexFilter{Source: "docs"}, 25).
			Return(42, nil)

		body, _ := json.Marshal(ReindexRequest{Source: "docs", BatchSize: 25})
		req := withTenant(httptest.NewRequest(http.MethodPost, "/kb/reindex", bytes.NewReader(body)), "tenant-1")
		rec := httptest.NewRecorder()

		h.Reindex(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"processed":42`)
	})

	t.Run("maps aborted run to 503", func(t *testing.T) {
		h, _, _, lifecycle := newTestHandler()

		lifecycle.On("Reindex", mock.Anything, "tenant-1", service.ReindexFilter{}, 0).
			Return(3, domain.ErrReindexAborted)

		req := withTenant(httptest.NewRequest(http.MethodPost, "/kb/reindex", bytes.NewReader([]byte("{}"))), "tenant-1")
		rec := httptest.NewRecorder()

		h.Reindex(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
