package collab

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hurttlocker/senseline/internal/feed"
	"github.com/hurttlocker/senseline/internal/llm"
)

// fakeProvider returns a canned completion and records the last prompt.
type fakeProvider struct {
	response   string
	err        error
	lastPrompt string
	lastOpts   llm.CompletionOpts
}

func (f *fakeProvider) Complete(_ context.Context, prompt string, opts llm.CompletionOpts) (string, error) {
	f.lastPrompt = prompt
	f.lastOpts = opts
	return f.response, f.err
}

func (f *fakeProvider) Name() string { return "fake" }

func TestParseJSONStripsMarkdownFences(t *testing.T) {
	raw := "```json\n{\"merge\": true}\n```"
	var out struct {
		Merge bool `json:"merge"`
	}
	if err := parseJSON(raw, &out); err != nil {
		t.Fatalf("parseJSON: %v", err)
	}
	if !out.Merge {
		t.Fatal("fenced JSON not parsed")
	}
}

func TestParseJSONPlain(t *testing.T) {
	var out map[string]int
	if err := parseJSON(`  {"a": 1}  `, &out); err != nil {
		t.Fatalf("parseJSON: %v", err)
	}
	if out["a"] != 1 {
		t.Fatalf("parsed %v", out)
	}
}

func TestParseJSONGarbageErrors(t *testing.T) {
	var out map[string]int
	err := parseJSON("the model apologizes for the inconvenience", &out)
	if err == nil {
		t.Fatal("garbage accepted")
	}
	if !strings.Contains(err.Error(), "invalid JSON") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClassifierParsesAndFilters(t *testing.T) {
	provider := &fakeProvider{response: `{
		"assignments": [
			{"document_id": 1, "line_id": "line-2", "confidence": 0.9, "rationale": "same story"},
			{"document_id": 2, "line_id": "NEW", "confidence": 0.8},
			{"document_id": 3, "line_id": "line-2", "confidence": 1.7},
			{"document_id": 4, "line_id": "", "confidence": 0.5}
		]
	}`}
	c := NewLineClassifier(provider)

	lines := []feed.SenseLine{{ID: "line-2", ShortTitle: "Ceasefire", Description: "Talks"}}
	articles := []feed.Article{{ID: 1, Title: "a"}, {ID: 2, Title: "b"}, {ID: 3, Title: "c"}, {ID: 4, Title: "d"}}

	got, err := c.Classify(context.Background(), lines, articles)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	// Out-of-range confidence and empty line ids are dropped; NEW passes
	// through for the engine to interpret.
	if len(got) != 2 {
		t.Fatalf("got %d assignments, want 2: %+v", len(got), got)
	}
	if got[0].LineID != "line-2" || got[1].LineID != "NEW" {
		t.Fatalf("unexpected assignments: %+v", got)
	}
	if provider.lastOpts.Format != "json" {
		t.Fatalf("classifier should request JSON format, got %q", provider.lastOpts.Format)
	}
	if !strings.Contains(provider.lastPrompt, "line-2") {
		t.Fatal("prompt missing the line registry")
	}
}

func TestClassifierProviderErrorPropagates(t *testing.T) {
	c := NewLineClassifier(&fakeProvider{err: errors.New("rate limited")})
	if _, err := c.Classify(context.Background(), nil, nil); err == nil {
		t.Fatal("provider error swallowed")
	}
}

func TestProposerParsesProposal(t *testing.T) {
	provider := &fakeProvider{response: "```json\n" + `{
		"new_lines": [
			{"temp_id": "t1", "short_title": "Ceasefire process", "description": "Border talks.", "exemplar_document_ids": [1, 2]}
		],
		"document_to_new_line": [
			{"document_id": 1, "temp_id": "t1"},
			{"document_id": 2, "temp_id": "t1"},
			{"document_id": 3, "temp_id": ""}
		]
	}` + "\n```"}
	p := NewGroupProposer(provider)

	got, err := p.Propose(context.Background(), []feed.Article{{ID: 1}, {ID: 2}, {ID: 3}}, 8)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if len(got.NewLines) != 1 || got.NewLines[0].TempID != "t1" {
		t.Fatalf("proposal lines: %+v", got.NewLines)
	}
	if len(got.Mapping) != 2 {
		t.Fatalf("empty temp ids should be dropped from mapping: %+v", got.Mapping)
	}
}

func TestProposerNoUsableLinesErrors(t *testing.T) {
	provider := &fakeProvider{response: `{"new_lines": [], "document_to_new_line": []}`}
	p := NewGroupProposer(provider)
	if _, err := p.Propose(context.Background(), []feed.Article{{ID: 1}}, 8); err == nil {
		t.Fatal("empty proposal accepted")
	}
}

func TestTieBreakerParsesAnswer(t *testing.T) {
	tb := NewMergeTieBreaker(&fakeProvider{response: `{"merge": true}`})
	ok, err := tb.ShouldMerge(context.Background(), feed.SenseLine{ID: "line-1"}, feed.SenseLine{ID: "line-2"})
	if err != nil {
		t.Fatalf("ShouldMerge: %v", err)
	}
	if !ok {
		t.Fatal("merge=true not honored")
	}

	tb = NewMergeTieBreaker(&fakeProvider{response: `{"merge": false}`})
	ok, err = tb.ShouldMerge(context.Background(), feed.SenseLine{ID: "line-1"}, feed.SenseLine{ID: "line-2"})
	if err != nil || ok {
		t.Fatalf("merge=false not honored: ok=%v err=%v", ok, err)
	}
}

func TestSynthesizerValidatesShape(t *testing.T) {
	good := &fakeProvider{response: `{
		"short_title": "Border ceasefire",
		"description": "Combined coverage.",
		"exemplar_document_ids": [1, 2],
		"exemplar_titles": ["a", "b"]
	}`}
	s := NewLineSynthesizer(good)
	got, err := s.Synthesize(context.Background(), "line-1", nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got.ID != "line-1" {
		t.Fatalf("canonical id not applied: %q", got.ID)
	}

	missing := &fakeProvider{response: `{"short_title": "", "description": "x"}`}
	if _, err := NewLineSynthesizer(missing).Synthesize(context.Background(), "line-1", nil); err == nil {
		t.Fatal("incomplete synthesis accepted")
	}

	misaligned := &fakeProvider{response: `{
		"short_title": "t", "description": "d",
		"exemplar_document_ids": [1, 2], "exemplar_titles": ["only one"]
	}`}
	if _, err := NewLineSynthesizer(misaligned).Synthesize(context.Background(), "line-1", nil); err == nil {
		t.Fatal("misaligned exemplars accepted")
	}
}
