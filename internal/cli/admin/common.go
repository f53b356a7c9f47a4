package admin

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/aidesk-labs/kbengine/internal/config"
	"github.com/aidesk-labs/kbengine/internal/database"
	"github.com/aidesk-labs/kbengine/internal/domain"
	"github.com/aidesk-labs/kbengine/internal/embedding"
	"github.com/aidesk-labs/kbengine/internal/repository"
	"github.com/aidesk-labs/kbengine/internal/service"
	"github.com/aidesk-labs/kbengine/internal/vector"
)

// deps holds everything a command needs after bootstrap.
type deps struct {
	cfg      *config.Config
	logger   *zap.Logger
	pool     *pgxpool.Pool
	backend  vector.Backend
	repo     *repository.ChunkRepository
	embedder service.EmbeddingProvider
}

func (d *deps) close() {
	if d.pool != nil {
		d.pool.Close()
	}
	if d.logger != nil {
		_ = d.logger.Sync()
	}
}

func loadForMigrations() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Debug || cfg.Environment == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// bootstrap loads config, connects to the store, resolves the vector
// backend, and builds the embedding provider. The provider degrades to
// an always-unavailable stub when unconfigured so search can still
// serve its keyword fallback.
func bootstrap(ctx context.Context) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	nativeAvailable, err := database.HasPGVector(ctx, pool)
	if err != nil {
		pool.Close()
		_ = logger.Sync()
		return nil, err
	}

	backend, err := vector.ResolveBackend(cfg.VectorBackend, nativeAvailable)
	if err != nil {
		pool.Close()
		_ = logger.Sync()
		return nil, err
	}
	logger.Info("vector backend resolved",
		zap.String("mode", cfg.VectorBackend),
		zap.String("backend", backend.String()))

	var embedder service.EmbeddingProvider
	if cfg.HasEmbeddingProvider() {
		provider, err := embedding.NewProvider(embedding.Config{
			BaseURL:        cfg.EmbeddingBaseURL,
			APIKey:         cfg.EmbeddingAPIKey,
			Model:          cfg.EmbeddingModel,
			Dimensions:     cfg.EmbeddingDimensions,
			Timeout:        cfg.EmbeddingTimeout,
			MaxConcurrency: cfg.EmbeddingMaxConcurrency,
			MaxRetries:     cfg.EmbeddingMaxRetries,
		}, logger)
		if err != nil {
			pool.Close()
			_ = logger.Sync()
			return nil, err
		}
		embedder = provider
	} else {
		logger.Warn("no embedding provider configured, ingestion and vector search are unavailable")
		embedder = unavailableProvider{dims: cfg.EmbeddingDimensions}
	}

	return &deps{
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		backend:  backend,
		repo:     repository.NewChunkRepository(pool, backend),
		embedder: embedder,
	}, nil
}

// unavailableProvider fails every embedding call with the domain error
// the degrade paths already understand.
type unavailableProvider struct {
	dims int
}

func (p unavailableProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return nil, domain.ErrEmbeddingUnavailable
}

func (p unavailableProvider) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, domain.ErrEmbeddingUnavailable
}

func (p unavailableProvider) Dimensions() int {
	return p.dims
}

func scoringFromConfig(cfg *config.Config) service.ScoringConfig {
	return service.ScoringConfig{
		SimilarityWeight: cfg.SearchSimilarityWeight,
		RecencyWeight:    cfg.SearchRecencyWeight,
		QualityWeight:    cfg.SearchQualityWeight,
		RecencyHalfLife:  cfg.SearchRecencyHalfLife,
		MinScore:         cfg.SearchMinScore,
	}
}
