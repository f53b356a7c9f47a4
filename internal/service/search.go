package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aidesk-labs/kbengine/internal/domain"
	"github.com/aidesk-labs/kbengine/internal/telemetry"
	"github.com/aidesk-labs/kbengine/internal/vector"
)

// SearchFilters narrow the candidate set. Tags use intersection
// semantics: a chunk matches when it carries every requested tag.
type SearchFilters struct {
	Source          string
	Language        string
	Tags            []string
	IncludeArchived bool
}

// SearchInput describes one retrieval request.
type SearchInput struct {
	TenantID        string
	Query           string
	Limit           int
	Filters         SearchFilters
	IncludeMetadata bool
}

// ChunkCandidate is a chunk loaded for ranking. Similarity is populated
// by the native path; Embedding by the in-process fallback path.
type ChunkCandidate struct {
	ID         string
	Source     string
	Text       string
	Metadata   domain.ChunkMetadata
	Embedding  []float32
	Similarity float64
	Archived   bool
	UpdatedAt  time.Time
}

// CandidateQuery loads a filtered candidate set for in-process ranking.
type CandidateQuery struct {
	TenantID       string
	Filters        SearchFilters
	Limit          int
	WithEmbeddings bool
}

// SearchChunkRepository defines the store operations the retrieval
// engine needs.
type SearchChunkRepository interface {
	// SearchByEmbedding orders candidates by vector distance server-side.
	// Only available on the native backend.
	SearchByEmbedding(ctx context.Context, tenantID string, embedding []float32, filters SearchFilters, limit int) ([]*ChunkCandidate, error)
	ListCandidates(ctx context.Context, q CandidateQuery) ([]*ChunkCandidate, error)
}

// SearchService ranks chunks by relevance to a query. It prefers the
// store's native vector ordering, computes cosine similarity in-process
// when that is unavailable, and degrades to keyword overlap when the
// embedding provider is down. Retrieval availability survives every
// dependency outage: the worst case is an empty result with a recorded
// error, never an exception to the caller.
type SearchService struct {
	repo     SearchChunkRepository
	embedder EmbeddingProvider
	backend  vector.Backend
	scoring  ScoringConfig
	logger   *zap.Logger
}

// NewSearchService creates a new SearchService instance.
func NewSearchService(repo SearchChunkRepository, embedder EmbeddingProvider, backend vector.Backend, scoring ScoringConfig, logger *zap.Logger) *SearchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchService{
		repo:     repo,
		embedder: embedder,
		backend:  backend,
		scoring:  scoring.withDefaults(),
		logger:   logger,
	}
}

// Search executes the retrieval pipeline for one query.
func (s *SearchService) Search(ctx context.Context, input SearchInput) ([]*domain.SearchResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "SearchService.Search", telemetry.SpanAttributes{
		TenantID:  input.TenantID,
		Operation: "search",
	})
	defer span.End()

	if strings.TrimSpace(input.TenantID) == "" {
		return nil, domain.ErrTenantRequired
	}

	query := strings.TrimSpace(input.Query)
	if query == "" {
		return []*domain.SearchResult{}, nil
	}

	limit := normalizeLimit(input.Limit)

	queryEmbedding, err := s.embedder.EmbedOne(ctx, query)
	if err != nil {
		s.logger.Warn("query embedding failed, degrading to keyword search",
			zap.String("tenant_id", input.TenantID),
			zap.Error(err))
		return s.keywordSearch(ctx, input, limit)
	}

	candidates, err := s.vectorCandidates(ctx, input, queryEmbedding, candidateLimit(limit))
	if err != nil {
		// Both vector paths failed; the keyword path still reads the
		// same store, but a transient native-query failure does not
		// imply the store is gone.
		s.logger.Warn("vector search failed, degrading to keyword search",
			zap.String("tenant_id", input.TenantID),
			zap.Error(err))
		return s.keywordSearch(ctx, input, limit)
	}

	now := time.Now().UTC()
	results := make([]*domain.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		similarity := clampUnit(c.Similarity)
		if similarity < s.scoring.MinScore {
			continue
		}
		results = append(results, s.toResult(c, similarity, s.scoring.Score(similarity, c.Metadata.Quality, c.UpdatedAt, now), input.IncludeMetadata))
	}

	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// vectorCandidates runs the native path when available and falls back
// to in-process cosine similarity when it is not, or when the native
// query fails at runtime.
func (s *SearchService) vectorCandidates(ctx context.Context, input SearchInput, queryEmbedding []float32, limit int) ([]*ChunkCandidate, error) {
	if s.backend.Native() {
		candidates, err := s.repo.SearchByEmbedding(ctx, input.TenantID, queryEmbedding, input.Filters, limit)
		if err == nil {
			return candidates, nil
		}
		s.logger.Warn("native vector query failed, computing similarity in-process",
			zap.String("tenant_id", input.TenantID),
			zap.Error(err))
		telemetry.CaptureError(ctx, err)
	}

	candidates, err := s.repo.ListCandidates(ctx, CandidateQuery{
		TenantID:       input.TenantID,
		Filters:        input.Filters,
		Limit:          limit,
		WithEmbeddings: true,
	})
	if err != nil {
		return nil, err
	}

	for _, c := range candidates {
		c.Similarity = vector.CosineSimilarity(queryEmbedding, c.Embedding)
	}
	return candidates, nil
}

// keywordSearch ranks candidates by token-set overlap with the query.
// Scores are scaled into [0, MinScore) so a keyword hit never outranks
// an accepted vector hit. A store failure here is the end of the
// degrade chain: it is recorded and an empty result is returned.
func (s *SearchService) keywordSearch(ctx context.Context, input SearchInput, limit int) ([]*domain.SearchResult, error) {
	candidates, err := s.repo.ListCandidates(ctx, CandidateQuery{
		TenantID: input.TenantID,
		Filters:  input.Filters,
		Limit:    candidateLimit(limit),
	})
	if err != nil {
		degraded := domain.NewDomainErrorWithCause(domain.ErrCodeSearchDegraded,
			"vector and keyword search paths both unavailable", err)
		s.logger.Error("search fully degraded, returning empty result",
			zap.String("tenant_id", input.TenantID),
			zap.Error(degraded))
		telemetry.CaptureError(ctx, degraded)
		return []*domain.SearchResult{}, nil
	}

	queryTokens := tokenSet(input.Query)
	if len(queryTokens) == 0 {
		return []*domain.SearchResult{}, nil
	}

	results := make([]*domain.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		overlap := 0
		for token := range tokenSet(c.Text) {
			if _, ok := queryTokens[token]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		ratio := float64(overlap) / float64(len(queryTokens))
		score := clampUnit(ratio) * s.scoring.MinScore * 0.99
		results = append(results, s.toResult(c, 0, score, input.IncludeMetadata))
	}

	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *SearchService) toResult(c *ChunkCandidate, similarity, score float64, includeMetadata bool) *domain.SearchResult {
	result := &domain.SearchResult{
		ID:         c.ID,
		Source:     c.Source,
		Chunk:      c.Text,
		Score:      score,
		Similarity: similarity,
		Archived:   c.Archived,
		UpdatedAt:  c.UpdatedAt,
	}
	if includeMetadata {
		metadata := c.Metadata
		result.Metadata = &metadata
	}
	return result
}

func tokenSet(text string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		token := strings.Trim(f, ".,;:!?\"'()[]{}")
		if token != "" {
			set[token] = struct{}{}
		}
	}
	return set
}
