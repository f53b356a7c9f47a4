package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Debug       bool   `envconfig:"DEBUG" default:"false"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	SentryDSN string `envconfig:"SENTRY_DSN"`

	// Embedding provider. The endpoint speaks the OpenAI embeddings API;
	// an Ollama-compatible server works by pointing EMBEDDING_BASE_URL at it.
	EmbeddingBaseURL        string `envconfig:"EMBEDDING_BASE_URL"`
	EmbeddingAPIKey         string `envconfig:"EMBEDDING_API_KEY"`
	EmbeddingModel          string `envconfig:"EMBEDDING_MODEL" default:"nomic-embed-text"`
	EmbeddingDimensions     int    `envconfig:"EMBEDDING_DIMENSIONS" default:"768"`
	EmbeddingTimeout        time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"30s"`
	EmbeddingMaxConcurrency int    `envconfig:"EMBEDDING_MAX_CONCURRENCY" default:"5"`
	EmbeddingMaxRetries     int    `envconfig:"EMBEDDING_MAX_RETRIES" default:"3"`

	// VectorBackend selects the authoritative embedding representation:
	// auto probes for pgvector, native requires it, encoded forces the
	// byte-buffer fallback.
	VectorBackend string `envconfig:"VECTOR_BACKEND" default:"auto"`

	// Hybrid search scoring. Tunable constants, not hard requirements.
	SearchSimilarityWeight float64       `envconfig:"SEARCH_SIMILARITY_WEIGHT" default:"0.85"`
	SearchRecencyWeight    float64       `envconfig:"SEARCH_RECENCY_WEIGHT" default:"0.10"`
	SearchQualityWeight    float64       `envconfig:"SEARCH_QUALITY_WEIGHT" default:"0.05"`
	SearchRecencyHalfLife  time.Duration `envconfig:"SEARCH_RECENCY_HALF_LIFE" default:"48h"`
	SearchMinScore         float64       `envconfig:"SEARCH_MIN_SCORE" default:"0.2"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("KBENGINE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasEmbeddingProvider() bool {
	return c.EmbeddingBaseURL != "" || c.EmbeddingAPIKey != ""
}
