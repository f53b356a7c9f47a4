// Package embedding wraps an OpenAI-compatible embedding endpoint with
// retry, bounded batch concurrency, and strict dimension validation.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aidesk-labs/kbengine/internal/domain"
)

const (
	// DefaultModel is the embedding model assumed when none is configured.
	DefaultModel = "nomic-embed-text"
	// DefaultDimensions is the vector size produced by DefaultModel.
	DefaultDimensions = 768

	defaultTimeout        = 30 * time.Second
	defaultMaxConcurrency = 5
	defaultMaxRetries     = 3
	initialRetryInterval  = 500 * time.Millisecond
	maxRetryInterval      = 10 * time.Second
)

// ErrEmptyText is returned when text is empty
var ErrEmptyText = errors.New("text cannot be empty")

// Config is the immutable provider configuration, fixed at startup.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	Dimensions     int
	Timeout        time.Duration
	MaxConcurrency int
	MaxRetries     int
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Dimensions <= 0 {
		c.Dimensions = DefaultDimensions
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = defaultMaxConcurrency
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = defaultMaxRetries
	}
	return c
}

// API defines the provider call the client depends on.
type API interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type openAIAdapter struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

func newOpenAIAdapter(cfg Config) *openAIAdapter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &openAIAdapter{
		client: openai.NewClientWithConfig(clientCfg),
		model:  openai.EmbeddingModel(cfg.Model),
	}
}

// CreateEmbedding calls the embedding endpoint for a single text.
func (a *openAIAdapter) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: a.model,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data returned")
	}

	return resp.Data[0].Embedding, nil
}

// Provider converts chunk text into fixed-dimension vectors. Transient
// failures are retried with exponential backoff; provider-level API
// errors are surfaced immediately; exhausted retries become a typed
// embedding-unavailable error the caller must handle.
type Provider struct {
	api    API
	cfg    Config
	logger *zap.Logger
}

// NewProvider creates a Provider from explicit configuration. A
// provider with neither a base URL nor an API key can never be reached,
// so that misconfiguration fails fast instead of on first use.
func NewProvider(cfg Config, logger *zap.Logger) (*Provider, error) {
	if cfg.BaseURL == "" && cfg.APIKey == "" {
		return nil, domain.NewDomainError(domain.ErrCodeConfiguration,
			"embedding provider is not configured: set EMBEDDING_BASE_URL or EMBEDDING_API_KEY")
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		api:    newOpenAIAdapter(cfg),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// NewProviderWithAPI creates a Provider over a custom API implementation.
func NewProviderWithAPI(api API, cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{api: api, cfg: cfg.withDefaults(), logger: logger}
}

// Dimensions returns the expected embedding dimension.
func (p *Provider) Dimensions() int {
	return p.cfg.Dimensions
}

// EmbedOne generates an embedding for a single text.
func (p *Provider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	var embedding []float32
	operation := func() error {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()

		vec, err := p.api.CreateEmbedding(callCtx, text)
		if err != nil {
			var apiErr *openai.APIError
			if errors.As(err, &apiErr) {
				// The provider answered; retrying won't change its mind.
				return backoff.Permanent(domain.NewDomainErrorWithCause(
					domain.ErrCodeProvider,
					fmt.Sprintf("embedding provider returned status %d", apiErr.HTTPStatusCode),
					err,
				))
			}
			p.logger.Warn("embedding call failed, will retry",
				zap.Int("text_len", len(text)),
				zap.Error(err))
			return err
		}
		embedding = vec
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialRetryInterval
	bo.MaxInterval = maxRetryInterval

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(p.cfg.MaxRetries)), ctx))
	if err != nil {
		var domainErr *domain.DomainError
		if errors.As(err, &domainErr) {
			return nil, err
		}
		return nil, domain.NewDomainErrorWithCause(
			domain.ErrCodeEmbeddingUnavailable,
			"embedding provider unreachable after retries",
			err,
		)
	}

	if len(embedding) != p.cfg.Dimensions {
		return nil, domain.NewDomainErrorWithCause(
			domain.ErrCodeDimensionMismatch,
			fmt.Sprintf("embedding has %d dimensions, expected %d", len(embedding), p.cfg.Dimensions),
			domain.ErrDimensionMismatch,
		)
	}

	return embedding, nil
}

// EmbedMany generates embeddings for texts with bounded concurrency.
// The result preserves input order. Any failure cancels the remaining
// calls and fails the whole batch.
func (p *Provider) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrency)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := p.EmbedOne(gctx, text)
			if err != nil {
				return fmt.Errorf("embedding chunk %d: %w", i, err)
			}
			out[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
