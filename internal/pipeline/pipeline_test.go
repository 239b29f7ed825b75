package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/hurttlocker/senseline/internal/feed"
)

func testArticles() []feed.Article {
	return []feed.Article{
		{ID: 1, Title: "Ceasefire talks resume in border region", Summary: "Delegations returned to ceasefire talks in the border region today"},
		{ID: 2, Title: "Ceasefire talks resume in border region", Summary: "Delegations returned to ceasefire talks in the border region again"},
		{ID: 3, Title: "Championship final decided on penalties", Summary: "The championship final was decided on penalties after extra time"},
		{ID: 4, Title: "Championship final decided on penalties", Summary: "The championship final was decided on penalties late last night"},
		{ID: 5, Title: "Rare comet visible this weekend", Summary: "Astronomers expect a rare comet to be visible this weekend"},
	}
}

func newOrchestrator(t *testing.T, cfg Config, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func TestRunEmptyInputRejected(t *testing.T) {
	o := newOrchestrator(t, DefaultConfig())
	if _, err := o.Run(context.Background(), nil); err == nil {
		t.Fatal("empty input accepted")
	}
}

func TestRunDiscoversLinesAndAssigns(t *testing.T) {
	o := newOrchestrator(t, DefaultConfig())
	res, err := o.Run(context.Background(), testArticles())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Lines) != 2 {
		t.Fatalf("got %d lines, want 2: %+v", len(res.Lines), res.Lines)
	}
	if res.Lines[0].ID != "line-1" || res.Lines[1].ID != "line-2" {
		t.Fatalf("line ids = %s, %s; want line-1, line-2", res.Lines[0].ID, res.Lines[1].ID)
	}
	if len(res.Assignments) != 4 {
		t.Fatalf("got %d assignments, want 4", len(res.Assignments))
	}
	if len(res.UnassignedIDs) != 1 || res.UnassignedIDs[0] != 5 {
		t.Fatalf("unassigned = %v, want [5]", res.UnassignedIDs)
	}
	if res.Stats.Documents != 5 || res.Stats.Lines != 2 {
		t.Fatalf("stats wrong: %+v", res.Stats)
	}
	if res.Stats.RunID == "" {
		t.Fatal("run id missing")
	}

	for _, st := range o.BatchStates() {
		if st != StateDone {
			t.Fatalf("batch not DONE: %v", o.BatchStates())
		}
	}
}

func TestRunDeterministic(t *testing.T) {
	strip := func(r *RunResult) string {
		r.Stats.RunID = ""
		return fmt.Sprint(*r)
	}

	first, err := newOrchestrator(t, DefaultConfig()).Run(context.Background(), testArticles())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := strip(first)
	for i := 0; i < 5; i++ {
		again, err := newOrchestrator(t, DefaultConfig()).Run(context.Background(), testArticles())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if got := strip(again); got != want {
			t.Fatalf("run %d differs:\n%s\nvs\n%s", i, got, want)
		}
	}
}

func TestRunSeedRegistryAssignsAndResumesCounter(t *testing.T) {
	seed := []feed.SenseLine{
		{
			ID:          "line-3",
			ShortTitle:  "Ceasefire talks resume in border region",
			Description: "Delegations returned to ceasefire talks in the border region today",
		},
	}
	o := newOrchestrator(t, DefaultConfig(), WithSeedRegistry(seed))

	articles := []feed.Article{
		{ID: 10, Title: "Ceasefire talks resume in border region", Summary: "Delegations returned to ceasefire talks in the border region today"},
		{ID: 11, Title: "Championship final decided on penalties", Summary: "The championship final was decided on penalties after extra time"},
		{ID: 12, Title: "Championship final decided on penalties", Summary: "The championship final was decided on penalties late last night"},
	}
	res, err := o.Run(context.Background(), articles)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var ceasefire feed.Assignment
	for _, a := range res.Assignments {
		if a.ArticleID == 10 {
			ceasefire = a
		}
	}
	if ceasefire.LineID != "line-3" {
		t.Fatalf("seeded line not reused: %+v", res.Assignments)
	}

	// The new championship line must not collide with the seeded suffix.
	if len(res.Lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(res.Lines))
	}
	for _, l := range res.Lines {
		if l.ID != "line-3" && l.ID != "line-4" {
			t.Fatalf("unexpected line id %q", l.ID)
		}
	}
}

func TestRunMultipleBatchesShareRegistry(t *testing.T) {
	cfg := DefaultConfig()
	// Force tiny batches: two articles fit, a third does not.
	cfg.TokenBudget = 70
	cfg.TokenOverhead = 10

	articles := []feed.Article{
		{ID: 1, Title: "Ceasefire talks resume in border region", Summary: "Delegations returned to ceasefire talks in the border region today"},
		{ID: 2, Title: "Ceasefire talks resume in border region", Summary: "Delegations returned to ceasefire talks in the border region again"},
		{ID: 3, Title: "Ceasefire talks resume in border region", Summary: "Delegations returned to ceasefire talks in the border region once more"},
		{ID: 4, Title: "Ceasefire talks resume in border region", Summary: "Delegations returned to ceasefire talks in the border region tonight"},
	}

	o := newOrchestrator(t, cfg)
	res, err := o.Run(context.Background(), articles)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stats.Batches < 2 {
		t.Fatalf("expected multiple batches, got %d", res.Stats.Batches)
	}
	if len(res.Lines) != 1 {
		t.Fatalf("one topic across batches became %d lines: %+v", len(res.Lines), res.Lines)
	}
	if len(res.Assignments) != 4 {
		t.Fatalf("got %d assignments, want 4", len(res.Assignments))
	}
	for _, a := range res.Assignments {
		if a.LineID != res.Lines[0].ID {
			t.Fatalf("assignment points at stale line id: %+v", a)
		}
	}
}

func TestRunReconcileForceAssignCoversEverything(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Reconcile = true
	cfg.ForceAssign = true

	o := newOrchestrator(t, cfg)
	res, err := o.Run(context.Background(), testArticles())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.UnassignedIDs) != 0 {
		t.Fatalf("force-assign left articles uncovered: %v", res.UnassignedIDs)
	}
	if len(res.Assignments) != 5 {
		t.Fatalf("got %d assignments, want 5", len(res.Assignments))
	}

	var forced *feed.Assignment
	for i := range res.Assignments {
		if res.Assignments[i].ArticleID == 5 {
			forced = &res.Assignments[i]
		}
	}
	if forced == nil {
		t.Fatal("the singleton article has no assignment")
	}
	if forced.Rationale != "force-assigned below threshold" {
		t.Fatalf("forced rationale = %q", forced.Rationale)
	}
}

func TestRunAssignmentsSortedAndConsistent(t *testing.T) {
	o := newOrchestrator(t, DefaultConfig())
	res, err := o.Run(context.Background(), testArticles())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	lineIDs := make(map[string]bool)
	for _, l := range res.Lines {
		lineIDs[l.ID] = true
	}
	for i, a := range res.Assignments {
		if !lineIDs[a.LineID] {
			t.Fatalf("assignment references unknown line %q", a.LineID)
		}
		if i > 0 && res.Assignments[i-1].ArticleID >= a.ArticleID {
			t.Fatalf("assignments not sorted by article id: %+v", res.Assignments)
		}
	}
}

func TestConfigValidateCatchesBadBatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TokenBudget = 0
	cfg.TokenOverhead = 0
	cfg.Batch.Budget = -5
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid batch options accepted")
	}
}
