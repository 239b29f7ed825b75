// Package batch splits an ordered article sequence into token-bounded
// batches for downstream scoring and collaborator calls.
package batch

import (
	"fmt"

	"github.com/hurttlocker/senseline/internal/feed"
)

// TokenCounter estimates the token cost of a piece of text.
type TokenCounter interface {
	Count(text string) int
}

// HeuristicCounter approximates tokens as len(text)/4, the usual rough cut
// for English prose. Always returns at least 1 for non-empty text.
type HeuristicCounter struct{}

// Count implements TokenCounter.
func (HeuristicCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// Options configures Split.
type Options struct {
	// Budget is the total token budget per batch.
	Budget int
	// Overhead is reserved for prompt scaffolding around the articles;
	// the usable per-batch limit is Budget - Overhead.
	Overhead int
	// Counter estimates token cost; nil falls back to HeuristicCounter.
	Counter TokenCounter
}

// Validate surfaces caller bugs immediately rather than silently defaulting.
func (o Options) Validate() error {
	if o.Budget <= 0 {
		return fmt.Errorf("token budget must be positive, got %d", o.Budget)
	}
	if o.Overhead < 0 {
		return fmt.Errorf("token overhead cannot be negative, got %d", o.Overhead)
	}
	if o.Overhead >= o.Budget {
		return fmt.Errorf("token overhead %d leaves no room in budget %d", o.Overhead, o.Budget)
	}
	return nil
}

// ArticleCost is the estimated serialized token size of one article.
func ArticleCost(c TokenCounter, a feed.Article) int {
	return c.Count(a.Title) + c.Count(a.Summary) + c.Count(a.Region) + c.Count(a.Importance)
}

// Split greedily packs articles into batches whose estimated size stays
// within Budget - Overhead, preserving input order. An article that alone
// exceeds the limit becomes its own singleton batch, never dropped and never
// split mid-article. A batch is flushed when the next article would
// overflow it.
func Split(articles []feed.Article, opts Options) ([][]feed.Article, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	counter := opts.Counter
	if counter == nil {
		counter = HeuristicCounter{}
	}
	limit := opts.Budget - opts.Overhead

	var batches [][]feed.Article
	var current []feed.Article
	used := 0

	flush := func() {
		if len(current) > 0 {
			batches = append(batches, current)
			current = nil
			used = 0
		}
	}

	for _, a := range articles {
		cost := ArticleCost(counter, a)
		if cost > limit {
			// Oversized article: ship whatever is pending, then the
			// article alone.
			flush()
			batches = append(batches, []feed.Article{a})
			continue
		}
		if used+cost > limit {
			flush()
		}
		current = append(current, a)
		used += cost
	}
	flush()

	return batches, nil
}
