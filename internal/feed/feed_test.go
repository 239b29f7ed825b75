package feed

import (
	"testing"
)

func TestMintLineID(t *testing.T) {
	if got := MintLineID(7); got != "line-7" {
		t.Fatalf("MintLineID(7) = %q, want line-7", got)
	}
}

func TestLineIDSuffix(t *testing.T) {
	tests := []struct {
		id   string
		want int
		ok   bool
	}{
		{"line-1", 1, true},
		{"line-42", 42, true},
		{"topic-7", 7, true},
		{"line-", 0, false},
		{"line", 0, false},
		{"line-abc", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := LineIDSuffix(tt.id)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("LineIDSuffix(%q) = (%d, %v), want (%d, %v)", tt.id, got, ok, tt.want, tt.ok)
		}
	}
}

func TestLineIDLess(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"line-1", "line-2", true},
		{"line-2", "line-10", true},  // numeric, not lexicographic
		{"line-10", "line-2", false},
		{"line-3", "line-3", false},
		{"line-1", "weird", true},  // suffixed ids sort before suffixless
		{"weird", "line-1", false},
		{"alpha", "beta", true},
	}
	for _, tt := range tests {
		if got := LineIDLess(tt.a, tt.b); got != tt.want {
			t.Fatalf("LineIDLess(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestAddExemplarDedupAndCap(t *testing.T) {
	var l SenseLine
	l.AddExemplar(1, "first")
	l.AddExemplar(1, "duplicate")
	if len(l.ExemplarIDs) != 1 {
		t.Fatalf("duplicate exemplar was added: %v", l.ExemplarIDs)
	}
	if l.ExemplarTitles[0] != "first" {
		t.Fatalf("duplicate overwrote title: %q", l.ExemplarTitles[0])
	}

	for i := int64(2); i <= 10; i++ {
		l.AddExemplar(i, "t")
	}
	if len(l.ExemplarIDs) != MaxExemplars {
		t.Fatalf("exemplar cap not enforced: got %d, want %d", len(l.ExemplarIDs), MaxExemplars)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	orig := SenseLine{ID: "line-1", ExemplarIDs: []int64{1}, ExemplarTitles: []string{"a"}}
	copied := orig.Clone()
	copied.AddExemplar(2, "b")
	if len(orig.ExemplarIDs) != 1 {
		t.Fatalf("mutating clone changed the original: %v", orig.ExemplarIDs)
	}
}

func TestNormalizeTrimsAndDerivesTitle(t *testing.T) {
	articles := []Article{
		{ID: 1, Title: "  Spaced Title  ", Summary: " body ", Region: " EU "},
		{ID: 2, Summary: "One two three four five six seven eight nine ten"},
		{ID: 3},
	}
	out := Normalize(articles)

	if out[0].Title != "Spaced Title" || out[0].Summary != "body" || out[0].Region != "EU" {
		t.Fatalf("whitespace not trimmed: %+v", out[0])
	}
	if out[1].Title != "One two three four five six seven eight" {
		t.Fatalf("derived title wrong: %q", out[1].Title)
	}
	if out[2].Title != "(untitled)" {
		t.Fatalf("empty article title = %q, want (untitled)", out[2].Title)
	}
	if len(out) != 3 {
		t.Fatalf("Normalize dropped articles: %d", len(out))
	}
}

func TestOverlayAssignments(t *testing.T) {
	lines := []SenseLine{{ID: "line-1"}, {ID: "line-3"}}
	prior := []Assignment{
		{ArticleID: 1, LineID: "line-1", Confidence: 0.8},
		{ArticleID: 2, LineID: "line-2", Confidence: 0.7}, // line retired
		{ArticleID: 3, LineID: "line-3", Confidence: 0.9},
	}
	fresh := []Assignment{
		{ArticleID: 3, LineID: "line-1", Confidence: 0.95},
		{ArticleID: 4, LineID: "line-3", Confidence: 0.6},
	}

	out := OverlayAssignments(prior, fresh, lines)
	if len(out) != 3 {
		t.Fatalf("got %d assignments, want 3: %+v", len(out), out)
	}
	// Sorted by article id; the stale line-2 record is gone.
	if out[0].ArticleID != 1 || out[1].ArticleID != 3 || out[2].ArticleID != 4 {
		t.Fatalf("order = %+v", out)
	}
	if out[1].LineID != "line-1" || out[1].Confidence != 0.95 {
		t.Fatalf("fresh assignment did not win: %+v", out[1])
	}
	for _, a := range out {
		if a.LineID == "line-2" {
			t.Fatalf("assignment to retired line survived: %+v", a)
		}
	}
}
