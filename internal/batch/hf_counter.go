package batch

import (
	"fmt"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// HFCounter counts tokens with a HuggingFace tokenizer loaded from a
// tokenizer.json file, giving the batcher exact budgets instead of the
// chars/4 heuristic. Encoding failures fall back to the heuristic so a
// malformed input never breaks batching.
type HFCounter struct {
	tk       *tokenizer.Tokenizer
	fallback HeuristicCounter
}

// NewHFCounter loads a tokenizer.json from disk.
func NewHFCounter(path string) (*HFCounter, error) {
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer from %s: %w", path, err)
	}
	return &HFCounter{tk: tk}, nil
}

// Count implements TokenCounter.
func (c *HFCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	en, err := c.tk.EncodeSingle(text)
	if err != nil || en == nil {
		return c.fallback.Count(text)
	}
	return len(en.Ids)
}
