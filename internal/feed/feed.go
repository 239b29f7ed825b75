// Package feed defines the domain types for the senseline engine: short
// text articles flowing in from upstream sources, the sense lines (topic
// clusters) they get assigned to, and the assignment records linking them.
//
// Articles are immutable once loaded. Lines are created by discovery and may
// be rewritten (id and content) by the merge engine; the pipeline owns the
// only mutable registry of them.
package feed

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxExemplars caps the number of exemplar articles a line carries.
const MaxExemplars = 5

// RegionAdaptationNote marks a line whose member articles disagree on region.
const RegionAdaptationNote = "requires regional adaptation"

// Article is one short input document. Region and Importance are free text
// from upstream and may be empty.
type Article struct {
	ID         int64  `json:"id" yaml:"id"`
	Title      string `json:"title" yaml:"title"`
	Summary    string `json:"summary" yaml:"summary"`
	Region     string `json:"region,omitempty" yaml:"region,omitempty"`
	Importance string `json:"importance,omitempty" yaml:"importance,omitempty"`
}

// SenseLine is a named topic cluster articles can be assigned to. IDs are
// opaque stable tokens of the form "line-<n>"; ids minted during discovery
// are provisional until a merge settles the canonical identity.
type SenseLine struct {
	ID             string   `json:"id" yaml:"id"`
	ShortTitle     string   `json:"short_title" yaml:"short_title"`
	Description    string   `json:"description" yaml:"description"`
	RegionNote     string   `json:"region_note,omitempty" yaml:"region_note,omitempty"`
	ExemplarIDs    []int64  `json:"exemplar_document_ids" yaml:"exemplar_document_ids"`
	ExemplarTitles []string `json:"exemplar_titles" yaml:"exemplar_titles"`
}

// Assignment records that an article currently belongs to a line.
type Assignment struct {
	ArticleID  int64   `json:"document_id"`
	LineID     string  `json:"line_id"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}

// MintLineID formats a line id from a sequence number.
func MintLineID(seq int) string {
	return fmt.Sprintf("line-%d", seq)
}

// LineIDSuffix extracts the numeric suffix of a line id ("line-12" -> 12).
// Returns false for ids without a trailing number.
func LineIDSuffix(id string) (int, bool) {
	idx := strings.LastIndex(id, "-")
	if idx < 0 || idx == len(id)-1 {
		return 0, false
	}
	n, err := strconv.Atoi(id[idx+1:])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// LineIDLess orders line ids by numeric suffix, ids without a suffix last,
// falling back to lexicographic order. Used for canonical id election and
// deterministic output ordering.
func LineIDLess(a, b string) bool {
	na, oka := LineIDSuffix(a)
	nb, okb := LineIDSuffix(b)
	switch {
	case oka && okb:
		if na != nb {
			return na < nb
		}
		return a < b
	case oka:
		return true
	case okb:
		return false
	default:
		return a < b
	}
}

// AddExemplar appends an exemplar to a line, deduplicating by article id and
// enforcing the cap. Order is preserved (discovery order).
func (l *SenseLine) AddExemplar(articleID int64, title string) {
	for _, id := range l.ExemplarIDs {
		if id == articleID {
			return
		}
	}
	if len(l.ExemplarIDs) >= MaxExemplars {
		return
	}
	l.ExemplarIDs = append(l.ExemplarIDs, articleID)
	l.ExemplarTitles = append(l.ExemplarTitles, title)
}

// Clone returns a deep copy of the line.
func (l SenseLine) Clone() SenseLine {
	out := l
	out.ExemplarIDs = append([]int64(nil), l.ExemplarIDs...)
	out.ExemplarTitles = append([]string(nil), l.ExemplarTitles...)
	return out
}

// OverlayAssignments combines a persisted assignment set with a fresh run's
// output: prior assignments survive only while their line is still present,
// fresh assignments win per article id. The result is sorted by article id.
func OverlayAssignments(prior, fresh []Assignment, lines []SenseLine) []Assignment {
	valid := make(map[string]bool, len(lines))
	for _, l := range lines {
		valid[l.ID] = true
	}
	byDoc := make(map[int64]Assignment, len(prior)+len(fresh))
	for _, a := range prior {
		if valid[a.LineID] {
			byDoc[a.ArticleID] = a
		}
	}
	for _, a := range fresh {
		byDoc[a.ArticleID] = a
	}
	out := make([]Assignment, 0, len(byDoc))
	for _, a := range byDoc {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArticleID < out[j].ArticleID })
	return out
}

// Normalize cleans noisy upstream articles in place of rejecting them:
// whitespace is trimmed, a missing title is derived from the summary, and
// empty region/importance stay empty. Articles are never dropped here.
func Normalize(articles []Article) []Article {
	out := make([]Article, 0, len(articles))
	for _, a := range articles {
		a.Title = strings.TrimSpace(a.Title)
		a.Summary = strings.TrimSpace(a.Summary)
		a.Region = strings.TrimSpace(a.Region)
		a.Importance = strings.TrimSpace(a.Importance)
		if a.Title == "" {
			a.Title = deriveTitle(a.Summary)
		}
		out = append(out, a)
	}
	return out
}

// deriveTitle builds a stand-in title from body text: the first eight words,
// capped at 60 characters.
func deriveTitle(summary string) string {
	fields := strings.Fields(summary)
	if len(fields) == 0 {
		return "(untitled)"
	}
	if len(fields) > 8 {
		fields = fields[:8]
	}
	title := strings.Join(fields, " ")
	if len(title) > 60 {
		title = title[:60]
	}
	return title
}
