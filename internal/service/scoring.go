package service

import (
	"math"
	"sort"
	"time"

	"github.com/aidesk-labs/kbengine/internal/domain"
)

const (
	defaultSimilarityWeight = 0.85
	defaultRecencyWeight    = 0.10
	defaultQualityWeight    = 0.05
	defaultRecencyHalfLife  = 48 * time.Hour
	defaultMinScore         = 0.2

	defaultCandidateMultiplier = 4
	defaultMinCandidates       = 20
	defaultMaxCandidates       = 200

	defaultSearchLimit = 5
	maxSearchLimit     = 50
)

// ScoringConfig holds the hybrid ranking constants. They are tunable
// configuration, not hard requirements.
type ScoringConfig struct {
	SimilarityWeight float64
	RecencyWeight    float64
	QualityWeight    float64
	RecencyHalfLife  time.Duration
	// MinScore is the minimum similarity a vector hit must reach to be
	// returned. Keyword-fallback scores are scaled to stay below it.
	MinScore float64
}

// DefaultScoringConfig returns the standard weights: 0.85 similarity,
// 0.10 recency, 0.05 quality, two-day recency half-life.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		SimilarityWeight: defaultSimilarityWeight,
		RecencyWeight:    defaultRecencyWeight,
		QualityWeight:    defaultQualityWeight,
		RecencyHalfLife:  defaultRecencyHalfLife,
		MinScore:         defaultMinScore,
	}
}

func (c ScoringConfig) withDefaults() ScoringConfig {
	if c.SimilarityWeight <= 0 && c.RecencyWeight <= 0 && c.QualityWeight <= 0 {
		c.SimilarityWeight = defaultSimilarityWeight
		c.RecencyWeight = defaultRecencyWeight
		c.QualityWeight = defaultQualityWeight
	}
	if c.RecencyHalfLife <= 0 {
		c.RecencyHalfLife = defaultRecencyHalfLife
	}
	if c.MinScore <= 0 {
		c.MinScore = defaultMinScore
	}
	return c
}

// Score blends similarity, recency, and quality into a single ranking
// value. Recency decays exponentially with chunk age.
func (c ScoringConfig) Score(similarity, quality float64, updatedAt, now time.Time) float64 {
	similarity = clampUnit(similarity)

	recency := 0.0
	if !updatedAt.IsZero() {
		age := now.Sub(updatedAt).Seconds()
		if age < 0 {
			age = 0
		}
		recency = math.Exp(-age / c.RecencyHalfLife.Seconds())
	}

	return similarity*c.SimilarityWeight + recency*c.RecencyWeight + quality*c.QualityWeight
}

// sortResults orders results by score, breaking ties by similarity and
// then by most recent update.
func sortResults(results []*domain.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].UpdatedAt.After(results[j].UpdatedAt)
	})
}

func candidateLimit(limit int) int {
	n := limit * defaultCandidateMultiplier
	if n < defaultMinCandidates {
		n = defaultMinCandidates
	}
	if n > defaultMaxCandidates {
		n = defaultMaxCandidates
	}
	return n
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultSearchLimit
	}
	if limit > maxSearchLimit {
		return maxSearchLimit
	}
	return limit
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
