package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aidesk-labs/kbengine/internal/api"
	"github.com/aidesk-labs/kbengine/internal/api/middleware"
	"github.com/aidesk-labs/kbengine/internal/domain"
	"github.com/aidesk-labs/kbengine/internal/pagination"
	"github.com/aidesk-labs/kbengine/internal/service"
)

type IngestService interface {
	Upsert(ctx context.Context, input service.UpsertInput) (domain.UpsertStats, error)
	List(ctx context.Context, input service.ListInput) (*pagination.Page[*domain.Chunk], error)
}

type SearchService interface {
	Search(ctx context.Context, input service.SearchInput) ([]*domain.SearchResult, error)
}

type LifecycleService interface {
	Archive(ctx context.Context, tenantID string, filter service.ArchiveFilter, archived bool) (int, error)
	Delete(ctx context.Context, tenantID string, filter service.DeleteFilter) (int, error)
	Reindex(ctx context.Context, tenantID string, filter service.ReindexFilter, batchSize int) (int, error)
}

type KBHandler struct {
	ingest    IngestService
	search    SearchService
	lifecycle LifecycleService
}

func NewKBHandler(ingest IngestService, search SearchService, lifecycle LifecycleService) *KBHandler {
	return &KBHandler{ingest: ingest, search: search, lifecycle: lifecycle}
}

type UpsertChunkRequest struct {
	Content  string                 `json:"content"`
	Language string                 `json:"language"`
	Tags     []string               `json:"tags"`
	Quality  *float64               `json:"quality"`
	Extra    map[string]interface{} `json:"extra"`
}

type UpsertRequest struct {
	Source          string               `json:"source"`
	Chunks          []UpsertChunkRequest `json:"chunks"`
	DefaultLanguage string               `json:"default_language"`
	DefaultTags     []string             `json:"default_tags"`
}

type ChunkResponse struct {
	ID          string               `json:"id"`
	Source      string               `json:"source"`
	ContentHash string               `json:"content_hash"`
	Chunk       string               `json:"chunk"`
	Metadata    domain.ChunkMetadata `json:"metadata"`
	CreatedAt   string               `json:"created_at"`
	UpdatedAt   string               `json:"updated_at"`
	ArchivedAt  string               `json:"archived_at,omitempty"`
}

type ListChunksResponse struct {
	Items   []*ChunkResponse `json:"items"`
	Cursor  string           `json:"cursor,omitempty"`
	HasMore bool             `json:"has_more"`
}

type SearchRequest struct {
	Query           string   `json:"query"`
	Limit           int      `json:"limit"`
	Source          string   `json:"source"`
	Language        string   `json:"language"`
	Tags            []string `json:"tags"`
	IncludeArchived bool     `json:"include_archived"`
	IncludeMetadata bool     `json:"include_metadata"`
}

type SearchResultResponse struct {
	ID         string                `json:"id"`
	Source     string                `json:"source"`
	Chunk      string                `json:"chunk"`
	Score      float64               `json:"score"`
	Similarity float64               `json:"similarity"`
	Archived   bool                  `json:"archived"`
	UpdatedAt  string                `json:"updated_at"`
	Metadata   *domain.ChunkMetadata `json:"metadata,omitempty"`
}

type ArchiveRequest struct {
	IDs           []string   `json:"ids"`
	Source        string     `json:"source"`
	UpdatedBefore *time.Time `json:"updated_before"`
	// Restore brings previously archived chunks back into default
	// search instead of archiving.
	Restore bool `json:"restore"`
}

type DeleteRequest struct {
	IDs    []string `json:"ids"`
	Source string   `json:"source"`
}

type ReindexRequest struct {
	Source          string `json:"source"`
	IncludeArchived bool   `json:"include_archived"`
	BatchSize       int    `json:"batch_size"`
}

type CountResponse struct {
	Count int `json:"count"`
}

type ReindexResponse struct {
	Processed int `json:"processed"`
}

func chunkToResponse(c *domain.Chunk) *ChunkResponse {
	resp := &ChunkResponse{
		ID:          c.ID,
		Source:      c.Source,
		ContentHash: c.ContentHash,
		Chunk:       c.Text,
		Metadata:    c.Metadata,
		CreatedAt:   c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   c.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if c.ArchivedAt != nil {
		resp.ArchivedAt = c.ArchivedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *KBHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())

	var req UpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Source == "" {
		api.Error(w, http.StatusBadRequest, "source is required")
		return
	}
	if len(req.Chunks) == 0 {
		api.Error(w, http.StatusBadRequest, "chunks must not be empty")
		return
	}
	for _, c := range req.Chunks {
		if c.Quality != nil && (*c.Quality < 0 || *c.Quality > 1) {
			api.HandleError(w, domain.ErrInvalidQuality)
			return
		}
	}

	chunks := make([]service.ChunkInput, len(req.Chunks))
	for i, c := range req.Chunks {
		chunks[i] = service.ChunkInput{
			Content:  c.Content,
			Language: c.Language,
			Tags:     c.Tags,
			Quality:  c.Quality,
			Extra:    c.Extra,
		}
	}

	stats, err := h.ingest.Upsert(r.Context(), service.UpsertInput{
		TenantID:        tenantID,
		Source:          req.Source,
		Chunks:          chunks,
		DefaultLanguage: req.DefaultLanguage,
		DefaultTags:     req.DefaultTags,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, stats)
}

func (h *KBHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			api.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	page, err := h.ingest.List(r.Context(), service.ListInput{
		TenantID: tenantID,
		Cursor:   r.URL.Query().Get("cursor"),
		Limit:    limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*ChunkResponse, len(page.Items))
	for i, c := range page.Items {
		items[i] = chunkToResponse(c)
	}

	api.Success(w, http.StatusOK, ListChunksResponse{
		Items:   items,
		Cursor:  page.Cursor,
		HasMore: page.HasMore,
	})
}

func (h *KBHandler) Search(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	results, err := h.search.Search(r.Context(), service.SearchInput{
		TenantID: tenantID,
		Query:    req.Query,
		Limit:    req.Limit,
		Filters: service.SearchFilters{
			Source:          req.Source,
			Language:        req.Language,
			Tags:            req.Tags,
			IncludeArchived: req.IncludeArchived,
		},
		IncludeMetadata: req.IncludeMetadata,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := make([]*SearchResultResponse, len(results))
	for i, res := range results {
		resp[i] = &SearchResultResponse{
			ID:         res.ID,
			Source:     res.Source,
			Chunk:      res.Chunk,
			Score:      res.Score,
			Similarity: res.Similarity,
			Archived:   res.Archived,
			UpdatedAt:  res.UpdatedAt.UTC().Format(time.RFC3339),
			Metadata:   res.Metadata,
		}
	}

	api.Success(w, http.StatusOK, resp)
}

func (h *KBHandler) Archive(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())

	var req ArchiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	count, err := h.lifecycle.Archive(r.Context(), tenantID, service.ArchiveFilter{
		IDs:           req.IDs,
		Source:        req.Source,
		UpdatedBefore: req.UpdatedBefore,
	}, !req.Restore)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, CountResponse{Count: count})
}

func (h *KBHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())

	var req DeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	count, err := h.lifecycle.Delete(r.Context(), tenantID, service.DeleteFilter{
		IDs:    req.IDs,
		Source: req.Source,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, CountResponse{Count: count})
}

func (h *KBHandler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())

	source := chi.URLParam(r, "source")
	if source == "" {
		api.Error(w, http.StatusBadRequest, "source is required")
		return
	}

	count, err := h.lifecycle.Delete(r.Context(), tenantID, service.DeleteFilter{Source: source})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, CountResponse{Count: count})
}

func (h *KBHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())

	var req ReindexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	processed, err := h.lifecycle.Reindex(r.Context(), tenantID, service.ReindexFilter{
		Source:          req.Source,
		IncludeArchived: req.IncludeArchived,
	}, req.BatchSize)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, ReindexResponse{Processed: processed})
}
