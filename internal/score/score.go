// Package score decides whether an article belongs to the best-scoring
// sense line. Embedding similarity alone is noisy on short summaries, so
// the gate combines it with keyword/entity overlap and region compatibility,
// and a margin check keeps confident-looking ties from being resolved
// arbitrarily.
package score

import (
	"fmt"
	"sort"

	"github.com/hurttlocker/senseline/internal/signal"
)

// Region compatibility constants. Unknown sits strictly between match and
// mismatch: an article without a region is mildly compatible with any line.
const (
	RegionMatch    = 1.0
	RegionUnknown  = 0.5
	RegionMismatch = 0.0
)

// Config holds the assignment thresholds and weights. Passed by value into
// scoring and never mutated by the engine.
type Config struct {
	WeightEmbedding float64 `yaml:"weight_embedding"`
	WeightKeyword   float64 `yaml:"weight_keyword"`
	WeightEntity    float64 `yaml:"weight_entity"`
	WeightRegion    float64 `yaml:"weight_region"`

	// EmbeddingThreshold is the minimum embedding cosine for the best line.
	EmbeddingThreshold float64 `yaml:"embedding_threshold"`
	// ScoreThreshold is the minimum combined score for the best line.
	ScoreThreshold float64 `yaml:"score_threshold"`
	// MarginThreshold is the minimum gap between best and second best.
	MarginThreshold float64 `yaml:"margin_threshold"`

	// EmbeddingBonus and KeywordOverride are the two margin-bypass hatches:
	// embedding cosine >= EmbeddingThreshold+EmbeddingBonus, or keyword
	// jaccard >= KeywordOverride, skip the margin check entirely.
	EmbeddingBonus  float64 `yaml:"embedding_bonus"`
	KeywordOverride float64 `yaml:"keyword_override"`
}

// DefaultConfig returns the tuned production defaults.
func DefaultConfig() Config {
	return Config{
		WeightEmbedding:    0.62,
		WeightKeyword:      0.18,
		WeightEntity:       0.12,
		WeightRegion:       0.08,
		EmbeddingThreshold: 0.60,
		ScoreThreshold:     0.55,
		MarginThreshold:    0.05,
		EmbeddingBonus:     0.08,
		KeywordOverride:    0.50,
	}
}

// Validate rejects caller bugs outright.
func (c Config) Validate() error {
	for name, w := range map[string]float64{
		"weight_embedding": c.WeightEmbedding,
		"weight_keyword":   c.WeightKeyword,
		"weight_entity":    c.WeightEntity,
		"weight_region":    c.WeightRegion,
	} {
		if w < 0 {
			return fmt.Errorf("%s cannot be negative, got %.3f", name, w)
		}
	}
	if c.WeightEmbedding+c.WeightKeyword+c.WeightEntity+c.WeightRegion <= 0 {
		return fmt.Errorf("assignment weights sum to zero")
	}
	for name, v := range map[string]float64{
		"embedding_threshold": c.EmbeddingThreshold,
		"score_threshold":     c.ScoreThreshold,
		"margin_threshold":    c.MarginThreshold,
		"embedding_bonus":     c.EmbeddingBonus,
		"keyword_override":    c.KeywordOverride,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %.3f", name, v)
		}
	}
	return nil
}

// Candidate pairs a line id with its signature.
type Candidate struct {
	LineID string
	Sig    signal.Signature
}

// LineScore is the per-line breakdown for one article.
type LineScore struct {
	LineID    string
	Combined  float64
	Embedding float64
	Keyword   float64
	Entity    float64
	Region    float64
}

// Result is the scorer's decision for one article against all candidates.
type Result struct {
	// Ranked holds every candidate scored, best first. Empty when there
	// are no candidates.
	Ranked []LineScore
	// Margin is best minus second-best combined score (best score itself
	// when there is only one candidate).
	Margin float64
	// Assigned reports whether the gate passed for Ranked[0].
	Assigned bool
	// Rationale explains the decision in one line.
	Rationale string
}

// Best returns the top-ranked line score.
func (r Result) Best() LineScore {
	if len(r.Ranked) == 0 {
		return LineScore{}
	}
	return r.Ranked[0]
}

// regionScore compares two normalized regions.
func regionScore(a, b string) float64 {
	if a == "" || b == "" {
		return RegionUnknown
	}
	if a == b {
		return RegionMatch
	}
	return RegionMismatch
}

// Evaluate scores one article signature against a set of line candidates and
// applies the assignment gate: best embedding similarity, best combined
// score, and margin must all clear their thresholds, unless one of the two
// override hatches fires.
func Evaluate(cfg Config, article signal.Signature, candidates []Candidate) Result {
	if len(candidates) == 0 {
		return Result{Rationale: "no lines to score against"}
	}

	ranked := make([]LineScore, 0, len(candidates))
	for _, c := range candidates {
		ls := LineScore{
			LineID:    c.LineID,
			Embedding: signal.Cosine(article.Embedding, c.Sig.Embedding),
			Keyword:   signal.Jaccard(article.Keywords, c.Sig.Keywords),
			Entity:    signal.Jaccard(article.Entities, c.Sig.Entities),
			Region:    regionScore(article.Region, c.Sig.Region),
		}
		ls.Combined = cfg.WeightEmbedding*ls.Embedding +
			cfg.WeightKeyword*ls.Keyword +
			cfg.WeightEntity*ls.Entity +
			cfg.WeightRegion*ls.Region
		ranked = append(ranked, ls)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Combined != ranked[j].Combined {
			return ranked[i].Combined > ranked[j].Combined
		}
		return ranked[i].LineID < ranked[j].LineID
	})

	best := ranked[0]
	margin := best.Combined
	if len(ranked) > 1 {
		margin = best.Combined - ranked[1].Combined
	}

	res := Result{Ranked: ranked, Margin: margin}

	if best.Embedding < cfg.EmbeddingThreshold {
		res.Rationale = fmt.Sprintf("embedding %.3f below threshold %.3f", best.Embedding, cfg.EmbeddingThreshold)
		return res
	}
	if best.Combined < cfg.ScoreThreshold {
		res.Rationale = fmt.Sprintf("score %.3f below threshold %.3f", best.Combined, cfg.ScoreThreshold)
		return res
	}
	if margin < cfg.MarginThreshold {
		// Both overrides bypass the margin rule entirely, trading tie
		// safety for recall on strongly-matching articles. Review before
		// tightening either constant.
		switch {
		case best.Embedding >= cfg.EmbeddingThreshold+cfg.EmbeddingBonus:
			res.Assigned = true
			res.Rationale = fmt.Sprintf("margin %.3f waived: embedding %.3f clears bonus", margin, best.Embedding)
		case best.Keyword >= cfg.KeywordOverride:
			res.Assigned = true
			res.Rationale = fmt.Sprintf("margin %.3f waived: keyword overlap %.3f", margin, best.Keyword)
		default:
			res.Rationale = fmt.Sprintf("margin %.3f below threshold %.3f", margin, cfg.MarginThreshold)
		}
		return res
	}

	res.Assigned = true
	res.Rationale = fmt.Sprintf("score %.3f margin %.3f", best.Combined, margin)
	return res
}
