package store

import (
	"context"
	"testing"
	"time"

	"github.com/hurttlocker/senseline/internal/feed"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleState() ([]feed.SenseLine, []feed.Assignment) {
	lines := []feed.SenseLine{
		{
			ID:             "line-2",
			ShortTitle:     "Ceasefire talks",
			Description:    "Border negotiations.",
			RegionNote:     "EU",
			ExemplarIDs:    []int64{1, 2},
			ExemplarTitles: []string{"a", "b"},
		},
		{ID: "line-10", ShortTitle: "Port strike", Description: "Dock walkout."},
	}
	assignments := []feed.Assignment{
		{ArticleID: 1, LineID: "line-2", Confidence: 0.9, Rationale: "scored"},
		{ArticleID: 2, LineID: "line-2", Confidence: 0.8},
		{ArticleID: 7, LineID: "line-10", Confidence: 0.7},
	}
	return lines, assignments
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	lines, assignments := sampleState()

	if err := s.SaveState(ctx, lines, assignments); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	gotLines, err := s.LoadLines(ctx)
	if err != nil {
		t.Fatalf("LoadLines: %v", err)
	}
	if len(gotLines) != 2 {
		t.Fatalf("got %d lines, want 2", len(gotLines))
	}
	// Ordered by numeric suffix, not lexicographically.
	if gotLines[0].ID != "line-2" || gotLines[1].ID != "line-10" {
		t.Fatalf("line order = %s, %s", gotLines[0].ID, gotLines[1].ID)
	}
	if gotLines[0].RegionNote != "EU" || len(gotLines[0].ExemplarIDs) != 2 {
		t.Fatalf("line content lost: %+v", gotLines[0])
	}
	if gotLines[0].ExemplarTitles[1] != "b" {
		t.Fatalf("exemplar titles lost: %+v", gotLines[0].ExemplarTitles)
	}

	gotAssignments, err := s.LoadAssignments(ctx)
	if err != nil {
		t.Fatalf("LoadAssignments: %v", err)
	}
	if len(gotAssignments) != 3 {
		t.Fatalf("got %d assignments, want 3", len(gotAssignments))
	}
	if gotAssignments[0].ArticleID != 1 || gotAssignments[0].Rationale != "scored" {
		t.Fatalf("assignment content lost: %+v", gotAssignments[0])
	}
}

func TestSaveStateReplacesPreviousState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	lines, assignments := sampleState()

	if err := s.SaveState(ctx, lines, assignments); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	// A merge retired line-10; the rebuild must not leave it behind.
	replacement := []feed.SenseLine{lines[0]}
	if err := s.SaveState(ctx, replacement, assignments[:2]); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	gotLines, err := s.LoadLines(ctx)
	if err != nil {
		t.Fatalf("LoadLines: %v", err)
	}
	if len(gotLines) != 1 || gotLines[0].ID != "line-2" {
		t.Fatalf("stale lines survived: %+v", gotLines)
	}
	gotAssignments, err := s.LoadAssignments(ctx)
	if err != nil {
		t.Fatalf("LoadAssignments: %v", err)
	}
	if len(gotAssignments) != 2 {
		t.Fatalf("stale assignments survived: %+v", gotAssignments)
	}
}

func TestCountByLine(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	lines, assignments := sampleState()
	if err := s.SaveState(ctx, lines, assignments); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	counts, err := s.CountByLine(ctx)
	if err != nil {
		t.Fatalf("CountByLine: %v", err)
	}
	if counts["line-2"] != 2 || counts["line-10"] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestRecordAndListRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	runs := []Run{
		{ID: "run-a", StartedAt: now.Add(-time.Hour), FinishedAt: now.Add(-time.Hour + time.Minute), Documents: 5, Lines: 2, Batches: 1, Merged: 0},
		{ID: "run-b", StartedAt: now, FinishedAt: now.Add(time.Minute), Documents: 9, Lines: 3, Batches: 2, Merged: 1, StatsJSON: `{"merged":1}`},
	}
	for _, r := range runs {
		if err := s.RecordRun(ctx, r); err != nil {
			t.Fatalf("RecordRun(%s): %v", r.ID, err)
		}
	}

	got, err := s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d runs, want 2", len(got))
	}
	// Newest first.
	if got[0].ID != "run-b" || got[1].ID != "run-a" {
		t.Fatalf("run order = %s, %s", got[0].ID, got[1].ID)
	}
	if got[0].Documents != 9 || got[0].StatsJSON != `{"merged":1}` {
		t.Fatalf("run content lost: %+v", got[0])
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("empty path accepted")
	}
}
