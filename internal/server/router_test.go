package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aidesk-labs/kbengine/internal/api/handlers"
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

func newTestRouter(ingest *MockIngestService, search *MockSearchService, lifecycle *MockLifecycleService) http.Handler {
	return NewRouter(RouterConfig{
		KBHandler: handlers.NewKBHandler(ingest, search, lifecycle),
	})
}

func TestRouter_Health(t *testing.T) {
	router := newTestRouter(new(MockIngestService), new(MockSearchService), new(MockLifecycleService))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestRouter_RequiresTenantHeader(t *testing.T) {
	router := newTestRouter(new(MockIngestService), new(MockSearchService), new(MockLifecycleService))

	req := httptest.NewRequest(http.MethodPost, "/kb/search", bytes.NewReader([]byte(`{"query":"q"}`)))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "X-Tenant-ID")
}

func TestRouter_TenantFlowsToService(t *testing.T) {
	ingest := new(MockIngestService)
	router := newTestRouter(ingest, new(MockSearchService), new(MockLifecycleService))

	ingest.On("List", mock.Anything, mock.MatchedBy(func(in service.ListInput) bool {
		return in.TenantID == "tenant-9"
	})).Return(&pagination.Page[*domain.Chunk]{Items: []*domain.Chunk{}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/kb/chunks", nil)
	req.Header.Set("X-Tenant-ID", "tenant-9")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	ingest.AssertExpectations(t)
}

func TestRouter_SetsRequestID(t *testing.T) {
	router := newTestRouter(new(MockIngestService), new(MockSearchService), new(MockLifecycleService))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRouter_RejectsOversizedBody(t *testing.T) {
	router := newTestRouter(new(MockIngestService), new(MockSearchService), new(MockLifecycleService))

	big := bytes.Repeat([]byte("a"), 6*1024*1024)
	req := httptest.NewRequest(http.MethodPost, "/kb/search", bytes.NewReader(big))
	req.Header.Set("X-Tenant-ID", "tenant-1")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRouter_SearchRoundTrip(t *testing.T) {
	search := new(MockSearchService)
	router := newTestRouter(new(MockIngestService), search, new(MockLifecycleService))

	search.On("Search", mock.Anything, mock.MatchedBy(func(in service.SearchInput) bool {
		return in.TenantID == "tenant-1" && in.Query == "deploy"
	})).Return([]*domain.SearchResult{{ID: "r-1", Score: 0.9}}, nil)

	body, _ := json.Marshal(map[string]interface{}{"query": "deploy"})
	req := httptest.NewRequest(http.MethodPost, "/kb/search", bytes.NewReader(body))
	req.Header.Set("X-Tenant-ID", "tenant-1")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"r-1"`)
}
