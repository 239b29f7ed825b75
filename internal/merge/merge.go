// Package merge detects and collapses duplicate sense lines, both
// previously registered and freshly discovered, into canonical lines and
// produces the id remap the orchestrator needs to reconcile earlier
// assignments.
//
// Merging is two-staged: a soft threshold nominates candidate pairs, and a
// hard threshold plus a corroborating gate (embedding, keyword, or exemplar
// overlap) is required to auto-merge. The gate stops a high score built
// entirely from one noisy signal from forcing a merge; pairs that clear the
// soft threshold but not the gate are referred to an optional tie-break
// collaborator and otherwise left alone.
package merge

import (
	"context"
	"fmt"
	"sort"

	"github.com/hurttlocker/senseline/internal/cluster"
	"github.com/hurttlocker/senseline/internal/feed"
	"github.com/hurttlocker/senseline/internal/signal"
)

// TieBreaker is the optional collaborator consulted for gate-failing
// candidate pairs. Errors are advisory: the pair is simply left unmerged.
type TieBreaker interface {
	ShouldMerge(ctx context.Context, a, b feed.SenseLine) (bool, error)
}

// Synthesizer is the optional collaborator that writes canonical content
// for a merge group. Invalid output is discarded in favor of the
// deterministic synthesis.
type Synthesizer interface {
	Synthesize(ctx context.Context, canonicalID string, members []feed.SenseLine) (*feed.SenseLine, error)
}

// Config holds the merge thresholds and weights. Passed by value, never
// mutated.
type Config struct {
	WeightEmbedding float64 `yaml:"weight_embedding"`
	WeightKeyword   float64 `yaml:"weight_keyword"`
	WeightEntity    float64 `yaml:"weight_entity"`
	WeightExemplar  float64 `yaml:"weight_exemplar"`

	// RegionPenalty is subtracted when both lines declare non-empty,
	// differing regions.
	RegionPenalty float64 `yaml:"region_penalty"`

	// SoftThreshold nominates candidate pairs; HardThreshold plus one
	// corroborating gate auto-merges them.
	SoftThreshold float64 `yaml:"soft_threshold"`
	HardThreshold float64 `yaml:"hard_threshold"`

	// Corroborating gates.
	GateEmbedding float64 `yaml:"gate_embedding"`
	GateKeyword   float64 `yaml:"gate_keyword"`
	GateOverlap   float64 `yaml:"gate_overlap"`

	// SkipRegisteredPairs skips pairs where both sides are already
	// registered, so stable topics are not re-litigated every batch.
	SkipRegisteredPairs bool `yaml:"skip_registered_pairs"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		WeightEmbedding:     0.50,
		WeightKeyword:       0.20,
		WeightEntity:        0.10,
		WeightExemplar:      0.20,
		RegionPenalty:       0.10,
		SoftThreshold:       0.55,
		HardThreshold:       0.66,
		GateEmbedding:       0.74,
		GateKeyword:         0.45,
		GateOverlap:         0.50,
		SkipRegisteredPairs: true,
	}
}

// Validate rejects caller bugs outright.
func (c Config) Validate() error {
	for name, w := range map[string]float64{
		"weight_embedding": c.WeightEmbedding,
		"weight_keyword":   c.WeightKeyword,
		"weight_entity":    c.WeightEntity,
		"weight_exemplar":  c.WeightExemplar,
		"region_penalty":   c.RegionPenalty,
	} {
		if w < 0 {
			return fmt.Errorf("%s cannot be negative, got %.3f", name, w)
		}
	}
	if c.SoftThreshold <= 0 || c.HardThreshold <= 0 {
		return fmt.Errorf("merge thresholds must be positive")
	}
	if c.SoftThreshold > c.HardThreshold {
		return fmt.Errorf("soft_threshold %.3f exceeds hard_threshold %.3f", c.SoftThreshold, c.HardThreshold)
	}
	return nil
}

// PairMetric is the scored comparison of two lines.
type PairMetric struct {
	A, B            string
	Score           float64
	Embedding       float64
	Keyword         float64
	Entity          float64
	ExemplarOverlap float64
	RegionPenalty   float64
}

// gatePasses reports whether at least one corroborating signal clears its
// gate.
func (m PairMetric) gatePasses(cfg Config) bool {
	return m.Embedding >= cfg.GateEmbedding ||
		m.Keyword >= cfg.GateKeyword ||
		m.ExemplarOverlap >= cfg.GateOverlap
}

// Result is the merge outcome: the canonical line set and the complete
// old-id to canonical-id remap, identity entries included.
type Result struct {
	Lines  []feed.SenseLine
	Remap  map[string]string
	Merged int
	// Referred counts gate-failing pairs sent to the tie-break
	// collaborator.
	Referred int
	// SynthesisFailures counts discarded synthesis collaborator answers.
	SynthesisFailures int
}

// Engine performs merge rounds.
type Engine struct {
	cfg         Config
	extractor   *signal.Extractor
	tieBreaker  TieBreaker
	synthesizer Synthesizer
}

// NewEngine builds a merge engine. tieBreaker and synthesizer may be nil.
func NewEngine(cfg Config, extractor *signal.Extractor, tieBreaker TieBreaker, synthesizer Synthesizer) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if extractor == nil {
		extractor = signal.NewExtractor(nil)
	}
	return &Engine{cfg: cfg, extractor: extractor, tieBreaker: tieBreaker, synthesizer: synthesizer}, nil
}

// Merge collapses duplicates across registered and proposed lines. The
// returned remap covers every input line; unchanged lines map to themselves.
func (e *Engine) Merge(ctx context.Context, registered, proposed []feed.SenseLine) (*Result, error) {
	all := make([]feed.SenseLine, 0, len(registered)+len(proposed))
	all = append(all, registered...)
	all = append(all, proposed...)

	registeredSet := make(map[string]struct{}, len(registered))
	for _, l := range registered {
		registeredSet[l.ID] = struct{}{}
	}
	byID := make(map[string]feed.SenseLine, len(all))
	for _, l := range all {
		if _, dup := byID[l.ID]; dup {
			return nil, fmt.Errorf("duplicate line id %q in merge input", l.ID)
		}
		byID[l.ID] = l
	}

	sigs := make(map[string]signal.Signature, len(all))
	for _, l := range all {
		sigs[l.ID] = e.extractor.LineSignature(l)
	}

	candidates := e.scorePairs(all, registeredSet, sigs)

	arena := cluster.NewArena()
	for _, l := range all {
		arena.Add(l.ID)
	}

	res := &Result{Remap: make(map[string]string, len(all))}
	for _, m := range candidates {
		if arena.Same(m.A, m.B) {
			continue
		}
		if m.Score >= e.cfg.HardThreshold && m.gatePasses(e.cfg) {
			arena.Union(m.A, m.B)
			res.Merged++
			continue
		}
		if e.tieBreaker == nil {
			continue
		}
		res.Referred++
		ok, err := e.tieBreaker.ShouldMerge(ctx, byID[m.A], byID[m.B])
		if err != nil || !ok {
			continue
		}
		arena.Union(m.A, m.B)
		res.Merged++
	}

	for _, group := range arena.Groups() {
		members := make([]feed.SenseLine, 0, len(group))
		for _, id := range group {
			members = append(members, byID[id])
		}
		canonicalID := electCanonicalID(group, registeredSet)

		var line feed.SenseLine
		if len(members) == 1 {
			line = members[0]
		} else {
			line = e.synthesize(ctx, canonicalID, members, registeredSet, res)
		}
		line.ID = canonicalID

		res.Lines = append(res.Lines, line)
		for _, id := range group {
			res.Remap[id] = canonicalID
		}
	}

	sort.Slice(res.Lines, func(i, j int) bool { return feed.LineIDLess(res.Lines[i].ID, res.Lines[j].ID) })
	return res, nil
}

// scorePairs builds merge metrics for every candidate pair, skipping
// registered-registered pairs when configured, and returns the ones at or
// above the soft threshold in descending score order.
func (e *Engine) scorePairs(all []feed.SenseLine, registeredSet map[string]struct{}, sigs map[string]signal.Signature) []PairMetric {
	var candidates []PairMetric
	for i := 0; i < len(all)-1; i++ {
		for j := i + 1; j < len(all); j++ {
			a, b := all[i], all[j]
			if e.cfg.SkipRegisteredPairs {
				_, ra := registeredSet[a.ID]
				_, rb := registeredSet[b.ID]
				if ra && rb {
					continue
				}
			}
			m := e.scorePair(a, b, sigs[a.ID], sigs[b.ID])
			if m.Score >= e.cfg.SoftThreshold {
				candidates = append(candidates, m)
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].A != candidates[j].A {
			return feed.LineIDLess(candidates[i].A, candidates[j].A)
		}
		return feed.LineIDLess(candidates[i].B, candidates[j].B)
	})
	return candidates
}

func (e *Engine) scorePair(a, b feed.SenseLine, sa, sb signal.Signature) PairMetric {
	m := PairMetric{
		A:               a.ID,
		B:               b.ID,
		Embedding:       signal.Cosine(sa.Embedding, sb.Embedding),
		Keyword:         signal.Jaccard(sa.Keywords, sb.Keywords),
		Entity:          signal.Jaccard(sa.Entities, sb.Entities),
		ExemplarOverlap: signal.OverlapCoefficient(sa.ExemplarIDs, sb.ExemplarIDs),
	}
	if sa.Region != "" && sb.Region != "" && sa.Region != sb.Region {
		m.RegionPenalty = e.cfg.RegionPenalty
	}
	m.Score = e.cfg.WeightEmbedding*m.Embedding +
		e.cfg.WeightKeyword*m.Keyword +
		e.cfg.WeightEntity*m.Entity +
		e.cfg.WeightExemplar*m.ExemplarOverlap -
		m.RegionPenalty
	return m
}

// electCanonicalID picks the id a merge group collapses to: a pre-existing
// registered id wins over any proposed id, lowest numeric suffix first, so
// stable identifiers never flip on repeated runs.
func electCanonicalID(group []string, registeredSet map[string]struct{}) string {
	var best string
	bestRegistered := false
	for _, id := range group {
		_, reg := registeredSet[id]
		switch {
		case best == "":
			best, bestRegistered = id, reg
		case reg && !bestRegistered:
			best, bestRegistered = id, true
		case reg == bestRegistered && feed.LineIDLess(id, best):
			best = id
		}
	}
	return best
}

// synthesize writes canonical content for a multi-member group: collaborator
// first, deterministic fallback otherwise.
func (e *Engine) synthesize(ctx context.Context, canonicalID string, members []feed.SenseLine, registeredSet map[string]struct{}, res *Result) feed.SenseLine {
	if e.synthesizer != nil {
		line, err := e.synthesizer.Synthesize(ctx, canonicalID, members)
		if err == nil && validSynthesis(line) {
			out := line.Clone()
			capExemplars(&out)
			return out
		}
		res.SynthesisFailures++
	}
	return deterministicSynthesis(members, registeredSet)
}

// validSynthesis rejects collaborator output with missing required fields.
func validSynthesis(line *feed.SenseLine) bool {
	return line != nil && line.ShortTitle != "" && line.Description != "" &&
		len(line.ExemplarIDs) == len(line.ExemplarTitles)
}

// deterministicSynthesis union-dedups exemplars (cap 5), unifies region
// notes, and takes title/description from the member with the most
// exemplars.
func deterministicSynthesis(members []feed.SenseLine, registeredSet map[string]struct{}) feed.SenseLine {
	// Walk members registered-first then by id, so exemplar order and
	// content choice are stable.
	ordered := append([]feed.SenseLine(nil), members...)
	sort.Slice(ordered, func(i, j int) bool {
		_, ri := registeredSet[ordered[i].ID]
		_, rj := registeredSet[ordered[j].ID]
		if ri != rj {
			return ri
		}
		return feed.LineIDLess(ordered[i].ID, ordered[j].ID)
	})

	var out feed.SenseLine
	for _, m := range ordered {
		for i, id := range m.ExemplarIDs {
			title := ""
			if i < len(m.ExemplarTitles) {
				title = m.ExemplarTitles[i]
			}
			out.AddExemplar(id, title)
		}
	}

	out.RegionNote = unifyRegionNotes(ordered)

	content := ordered[0]
	for _, m := range ordered[1:] {
		if len(m.ExemplarIDs) > len(content.ExemplarIDs) {
			content = m
		}
	}
	out.ShortTitle = content.ShortTitle
	out.Description = content.Description
	return out
}

// unifyRegionNotes keeps a unanimous note, prefers an adaptation marker
// already carried by a member, and on plain disagreement falls back to the
// first member's note. The marker is never minted here; only discovery
// introduces it, from article-level region conflicts.
func unifyRegionNotes(ordered []feed.SenseLine) string {
	first := ""
	for _, m := range ordered {
		if m.RegionNote == feed.RegionAdaptationNote {
			return feed.RegionAdaptationNote
		}
		if first == "" && signal.NormalizeRegion(m.RegionNote) != "" {
			first = m.RegionNote
		}
	}
	return first
}

func capExemplars(l *feed.SenseLine) {
	if len(l.ExemplarIDs) > feed.MaxExemplars {
		l.ExemplarIDs = l.ExemplarIDs[:feed.MaxExemplars]
		l.ExemplarTitles = l.ExemplarTitles[:feed.MaxExemplars]
	}
}
