package collab

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hurttlocker/senseline/internal/discover"
	"github.com/hurttlocker/senseline/internal/feed"
	"github.com/hurttlocker/senseline/internal/llm"
)

const proposeSystemPrompt = `You are a topic grouping system. You receive articles that belong to no existing topic line. Group articles that cover the same story or theme into proposed new lines.

RULES:
- Only group articles that genuinely share a topic; leave singletons out.
- Give each proposed line a short punchy title and a one-sentence description.
- Stay within the max_new_lines budget.
- Return ONLY a JSON object.

JSON SCHEMA:
{
  "new_lines": [
    {"temp_id": "t1", "short_title": "...", "description": "...", "region_note": "", "exemplar_document_ids": [1, 2]}
  ],
  "document_to_new_line": [
    {"document_id": 1, "temp_id": "t1"}
  ]
}`

// GroupProposer implements discover.Proposer on top of an llm.Provider.
type GroupProposer struct {
	provider llm.Provider
}

// NewGroupProposer wraps a provider as the new-line naming collaborator.
func NewGroupProposer(provider llm.Provider) *GroupProposer {
	return &GroupProposer{provider: provider}
}

type proposeRequest struct {
	Documents   []classifyArticle `json:"unassigned_documents"`
	MaxNewLines int               `json:"max_new_lines"`
}

type proposeResponse struct {
	NewLines []struct {
		TempID      string  `json:"temp_id"`
		ShortTitle  string  `json:"short_title"`
		Description string  `json:"description"`
		RegionNote  string  `json:"region_note"`
		ExemplarIDs []int64 `json:"exemplar_document_ids"`
	} `json:"new_lines"`
	Mapping []struct {
		DocumentID int64  `json:"document_id"`
		TempID     string `json:"temp_id"`
	} `json:"document_to_new_line"`
}

// Propose implements discover.Proposer.
func (p *GroupProposer) Propose(ctx context.Context, unassigned []feed.Article, maxNewLines int) (*discover.Proposal, error) {
	req := proposeRequest{MaxNewLines: maxNewLines}
	for _, a := range unassigned {
		req.Documents = append(req.Documents, classifyArticle{
			ID:      a.ID,
			Title:   a.Title,
			Summary: a.Summary,
			Region:  a.Region,
		})
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling propose request: %w", err)
	}

	raw, err := p.provider.Complete(ctx, string(payload), llm.CompletionOpts{
		Temperature: collabTemperature,
		MaxTokens:   collabMaxTokens,
		Format:      "json",
		System:      proposeSystemPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("proposer call: %w", err)
	}

	var resp proposeResponse
	if err := parseJSON(raw, &resp); err != nil {
		return nil, err
	}

	proposal := &discover.Proposal{}
	for _, nl := range resp.NewLines {
		if nl.TempID == "" {
			continue
		}
		proposal.NewLines = append(proposal.NewLines, discover.ProposedLine{
			TempID:      nl.TempID,
			ShortTitle:  nl.ShortTitle,
			Description: nl.Description,
			RegionNote:  nl.RegionNote,
			ExemplarIDs: nl.ExemplarIDs,
		})
	}
	for _, m := range resp.Mapping {
		if m.TempID == "" {
			continue
		}
		proposal.Mapping = append(proposal.Mapping, discover.DocRoute{
			ArticleID: m.DocumentID,
			TempID:    m.TempID,
		})
	}
	if len(proposal.NewLines) == 0 {
		return nil, fmt.Errorf("proposer returned no usable lines")
	}
	return proposal, nil
}

var _ discover.Proposer = (*GroupProposer)(nil)
