package collab

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hurttlocker/senseline/internal/feed"
	"github.com/hurttlocker/senseline/internal/llm"
	"github.com/hurttlocker/senseline/internal/merge"
)

const tiebreakSystemPrompt = `You decide whether two topic lines describe the same underlying story and should be merged. Answer conservatively: merge only when they clearly cover the same topic.

Return ONLY: {"merge": true} or {"merge": false}`

// MergeTieBreaker implements merge.TieBreaker on top of an llm.Provider.
type MergeTieBreaker struct {
	provider llm.Provider
}

// NewMergeTieBreaker wraps a provider as the merge tie-break collaborator.
func NewMergeTieBreaker(provider llm.Provider) *MergeTieBreaker {
	return &MergeTieBreaker{provider: provider}
}

type tiebreakRequest struct {
	A classifyLine `json:"line_a"`
	B classifyLine `json:"line_b"`
}

type tiebreakResponse struct {
	Merge bool `json:"merge"`
}

// ShouldMerge implements merge.TieBreaker.
func (t *MergeTieBreaker) ShouldMerge(ctx context.Context, a, b feed.SenseLine) (bool, error) {
	req := tiebreakRequest{
		A: classifyLine{ID: a.ID, ShortTitle: a.ShortTitle, Description: a.Description, RegionNote: a.RegionNote},
		B: classifyLine{ID: b.ID, ShortTitle: b.ShortTitle, Description: b.Description, RegionNote: b.RegionNote},
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("marshaling tiebreak request: %w", err)
	}

	raw, err := t.provider.Complete(ctx, string(payload), llm.CompletionOpts{
		Temperature: collabTemperature,
		MaxTokens:   64,
		Format:      "json",
		System:      tiebreakSystemPrompt,
	})
	if err != nil {
		return false, fmt.Errorf("tiebreak call: %w", err)
	}

	var resp tiebreakResponse
	if err := parseJSON(raw, &resp); err != nil {
		return false, err
	}
	return resp.Merge, nil
}

var _ merge.TieBreaker = (*MergeTieBreaker)(nil)
