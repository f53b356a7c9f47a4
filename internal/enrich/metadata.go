package enrich

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aidesk-labs/kbengine/internal/domain"
)

// DefaultQuality is assigned when the caller provides no quality score.
const DefaultQuality = 1.0

// Input carries caller-provided metadata for a single chunk.
type Input struct {
	Language string
	Tags     []string
	Quality  *float64
	Extra    map[string]interface{}
}

// Defaults are source-level fallbacks applied when a chunk carries no
// explicit language or tags of its own.
type Defaults struct {
	Language string
	Tags     []string
}

// Metadata merges caller-provided metadata with inferred defaults and
// derived stats. Language resolution order: chunk value, source default,
// script heuristic over the text. Tags are lower-cased, trimmed, and
// deduplicated; the chunk's own tags are merged with the defaults.
func Metadata(text string, in Input, defaults Defaults) domain.ChunkMetadata {
	language := strings.ToLower(strings.TrimSpace(in.Language))
	if language == "" {
		language = strings.ToLower(strings.TrimSpace(defaults.Language))
	}
	if language == "" {
		language = DetectLanguage(text)
	}

	quality := DefaultQuality
	if in.Quality != nil {
		quality = clamp01(*in.Quality)
	}

	return domain.ChunkMetadata{
		Language:  language,
		Tags:      NormalizeTags(append(append([]string{}, defaults.Tags...), in.Tags...)),
		Quality:   quality,
		CharCount: utf8.RuneCountInString(text),
		WordCount: len(strings.Fields(text)),
		Extra:     in.Extra,
	}
}

// NormalizeTags lower-cases, trims, deduplicates, and sorts a tag set.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		normalized := strings.ToLower(strings.TrimSpace(tag))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

// DetectLanguage guesses a language code from the dominant script of the
// text. It is a heuristic, not a classifier: Latin-script text defaults
// to English.
func DetectLanguage(text string) string {
	counts := make(map[string]int)
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Cyrillic, r):
			counts["ru"]++
		case unicode.Is(unicode.Han, r):
			counts["zh"]++
		case unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r):
			counts["ja"]++
		case unicode.Is(unicode.Hangul, r):
			counts["ko"]++
		case unicode.Is(unicode.Arabic, r):
			counts["ar"]++
		case unicode.Is(unicode.Hebrew, r):
			counts["he"]++
		case unicode.Is(unicode.Greek, r):
			counts["el"]++
		case unicode.Is(unicode.Latin, r):
			counts["en"]++
		}
	}

	best := "en"
	bestCount := 0
	for lang, count := range counts {
		if count > bestCount {
			best = lang
			bestCount = count
		}
	}
	// Han characters inside kana text mean Japanese, not Chinese.
	if best == "zh" && counts["ja"] > 0 {
		best = "ja"
	}
	return best
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
