package signal

import (
	"strings"

	"github.com/hurttlocker/senseline/internal/feed"
)

// Signature is the derived feature bundle for an article or a line. It is
// ephemeral: rebuilt from source content every scoring round, never persisted.
type Signature struct {
	Embedding   []float32
	Keywords    []string
	Entities    []string
	Region      string
	ExemplarIDs []int64
}

// Extractor bundles the pluggable feature functions. The zero value is not
// usable; construct with NewExtractor.
type Extractor struct {
	Embed       Embedder
	KeywordFn   TermFunc
	EntityFn    TermFunc
	MaxKeywords int
	MaxEntities int
}

// NewExtractor returns an extractor with the deterministic defaults for any
// function left nil.
func NewExtractor(embed Embedder) *Extractor {
	if embed == nil {
		embed = HashingEmbedder(HashDimensions)
	}
	return &Extractor{
		Embed:       embed,
		KeywordFn:   Keywords,
		EntityFn:    Entities,
		MaxKeywords: DefaultMaxKeywords,
		MaxEntities: DefaultMaxEntities,
	}
}

// ArticleSignature builds the feature bundle for one article.
func (e *Extractor) ArticleSignature(a feed.Article) Signature {
	text := strings.TrimSpace(a.Title + ". " + a.Summary)
	return Signature{
		Embedding: e.Embed(text),
		Keywords:  e.KeywordFn(text, e.MaxKeywords),
		Entities:  e.EntityFn(text, e.MaxEntities),
		Region:    NormalizeRegion(a.Region),
	}
}

// LineSignature folds a line's own text plus its exemplar titles into the
// same feature space as articles, so line-vs-article and line-vs-line
// comparisons share one metric.
func (e *Extractor) LineSignature(l feed.SenseLine) Signature {
	parts := make([]string, 0, 3+len(l.ExemplarTitles))
	parts = append(parts, l.ShortTitle, l.Description)
	parts = append(parts, l.ExemplarTitles...)
	text := strings.TrimSpace(strings.Join(parts, ". "))
	return Signature{
		Embedding:   e.Embed(text),
		Keywords:    e.KeywordFn(text, e.MaxKeywords),
		Entities:    e.EntityFn(text, e.MaxEntities),
		Region:      NormalizeRegion(l.RegionNote),
		ExemplarIDs: append([]int64(nil), l.ExemplarIDs...),
	}
}
