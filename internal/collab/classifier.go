package collab

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hurttlocker/senseline/internal/discover"
	"github.com/hurttlocker/senseline/internal/feed"
	"github.com/hurttlocker/senseline/internal/llm"
)

const classifySystemPrompt = `You are a topic assignment system for a news clustering engine. You receive the current topic lines and a batch of articles that automatic scoring could not place.

RULES:
- Assign an article to a line ONLY if it clearly belongs there. When in doubt, answer "NEW".
- One line per article, at most one assignment each.
- Use confidence 0.0-1.0 for how clearly the article belongs.
- Return ONLY a JSON object, no additional text.

JSON SCHEMA:
{
  "assignments": [
    {"document_id": 12, "line_id": "line-3", "confidence": 0.85, "rationale": "same ceasefire negotiations"},
    {"document_id": 13, "line_id": "NEW", "confidence": 0.9, "rationale": "unrelated topic"}
  ]
}`

// LineClassifier implements discover.Classifier on top of an llm.Provider.
type LineClassifier struct {
	provider llm.Provider
}

// NewLineClassifier wraps a provider as the assignment collaborator.
func NewLineClassifier(provider llm.Provider) *LineClassifier {
	return &LineClassifier{provider: provider}
}

type classifyRequest struct {
	Lines     []classifyLine    `json:"lines"`
	Documents []classifyArticle `json:"documents"`
	Rule      string            `json:"rule"`
}

type classifyLine struct {
	ID          string `json:"id"`
	ShortTitle  string `json:"short_title"`
	Description string `json:"description"`
	RegionNote  string `json:"region_note,omitempty"`
}

type classifyArticle struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Region  string `json:"region,omitempty"`
}

type classifyResponse struct {
	Assignments []struct {
		DocumentID int64   `json:"document_id"`
		LineID     string  `json:"line_id"`
		Confidence float64 `json:"confidence"`
		Rationale  string  `json:"rationale"`
	} `json:"assignments"`
}

// Classify implements discover.Classifier.
func (c *LineClassifier) Classify(ctx context.Context, lines []feed.SenseLine, articles []feed.Article) ([]feed.Assignment, error) {
	req := classifyRequest{
		Rule: "assign only if strong, one line per document",
	}
	for _, l := range lines {
		req.Lines = append(req.Lines, classifyLine{
			ID:          l.ID,
			ShortTitle:  l.ShortTitle,
			Description: l.Description,
			RegionNote:  l.RegionNote,
		})
	}
	for _, a := range articles {
		req.Documents = append(req.Documents, classifyArticle{
			ID:      a.ID,
			Title:   a.Title,
			Summary: a.Summary,
			Region:  a.Region,
		})
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling classify request: %w", err)
	}

	raw, err := c.provider.Complete(ctx, string(payload), llm.CompletionOpts{
		Temperature: collabTemperature,
		MaxTokens:   collabMaxTokens,
		Format:      "json",
		System:      classifySystemPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("classifier call: %w", err)
	}

	var resp classifyResponse
	if err := parseJSON(raw, &resp); err != nil {
		return nil, err
	}

	out := make([]feed.Assignment, 0, len(resp.Assignments))
	for _, a := range resp.Assignments {
		if a.LineID == "" {
			continue
		}
		if a.Confidence < 0 || a.Confidence > 1 {
			continue
		}
		out = append(out, feed.Assignment{
			ArticleID:  a.DocumentID,
			LineID:     a.LineID,
			Confidence: a.Confidence,
			Rationale:  a.Rationale,
		})
	}
	return out, nil
}

var _ discover.Classifier = (*LineClassifier)(nil)
