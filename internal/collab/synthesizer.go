package collab

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hurttlocker/senseline/internal/feed"
	"github.com/hurttlocker/senseline/internal/llm"
	"github.com/hurttlocker/senseline/internal/merge"
)

const synthesizeSystemPrompt = `You write the canonical description for a merged topic line. You receive the member lines being collapsed into one; produce a single line record that covers all of them.

RULES:
- short_title: concise, no more than 8 words.
- description: one or two sentences covering the shared story.
- region_note: the common region, or "requires regional adaptation" when members disagree.
- exemplar_document_ids / exemplar_titles: union of the members', deduplicated, at most 5, aligned by index.
- Return ONLY a JSON object shaped like a line record.`

// LineSynthesizer implements merge.Synthesizer on top of an llm.Provider.
type LineSynthesizer struct {
	provider llm.Provider
}

// NewLineSynthesizer wraps a provider as the canonical-content collaborator.
func NewLineSynthesizer(provider llm.Provider) *LineSynthesizer {
	return &LineSynthesizer{provider: provider}
}

type synthesizeRequest struct {
	CanonicalID string           `json:"canonical_id"`
	Members     []feed.SenseLine `json:"members"`
}

// Synthesize implements merge.Synthesizer. The merge engine validates the
// shape and falls back to deterministic synthesis when the answer is
// unusable, so this only needs to reject outright garbage.
func (s *LineSynthesizer) Synthesize(ctx context.Context, canonicalID string, members []feed.SenseLine) (*feed.SenseLine, error) {
	payload, err := json.Marshal(synthesizeRequest{CanonicalID: canonicalID, Members: members})
	if err != nil {
		return nil, fmt.Errorf("marshaling synthesize request: %w", err)
	}

	raw, err := s.provider.Complete(ctx, string(payload), llm.CompletionOpts{
		Temperature: collabTemperature,
		MaxTokens:   collabMaxTokens,
		Format:      "json",
		System:      synthesizeSystemPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize call: %w", err)
	}

	var line feed.SenseLine
	if err := parseJSON(raw, &line); err != nil {
		return nil, err
	}
	if line.ShortTitle == "" || line.Description == "" {
		return nil, fmt.Errorf("synthesizer returned incomplete line")
	}
	if len(line.ExemplarIDs) != len(line.ExemplarTitles) {
		return nil, fmt.Errorf("synthesizer exemplar ids and titles misaligned")
	}
	line.ID = canonicalID
	return &line, nil
}

var _ merge.Synthesizer = (*LineSynthesizer)(nil)
