// Package pipeline drives article batches through discovery and merge,
// keeping the one piece of long-lived mutable state in the engine: the
// cumulative line registry and the per-article assignment map. Batches run
// strictly in input order because later merge decisions depend on the
// registry earlier batches built.
package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/oklog/ulid/v2"

	"github.com/hurttlocker/senseline/internal/batch"
	"github.com/hurttlocker/senseline/internal/discover"
	"github.com/hurttlocker/senseline/internal/feed"
	"github.com/hurttlocker/senseline/internal/merge"
	"github.com/hurttlocker/senseline/internal/score"
	"github.com/hurttlocker/senseline/internal/signal"
)

// BatchState tracks a batch through the orchestrator.
type BatchState string

const (
	StatePending    BatchState = "PENDING"
	StateDiscovered BatchState = "DISCOVERED"
	StateMerged     BatchState = "MERGED"
	StateDone       BatchState = "DONE"
)

// Config bundles every engine parameter for one pipeline run.
type Config struct {
	Assign    score.Config    `yaml:"assign"`
	Merge     merge.Config    `yaml:"merge"`
	Discovery discover.Config `yaml:"discovery"`
	Batch     batch.Options   `yaml:"-"`

	// TokenBudget and TokenOverhead mirror Batch for config files.
	TokenBudget   int `yaml:"token_budget"`
	TokenOverhead int `yaml:"token_overhead"`

	// Reconcile re-scores every article against the final registry after
	// all batches; ForceAssign additionally assigns the best line even
	// below threshold so every article ends up covered.
	Reconcile   bool `yaml:"reconcile"`
	ForceAssign bool `yaml:"force_assign"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Assign:        score.DefaultConfig(),
		Merge:         merge.DefaultConfig(),
		Discovery:     discover.DefaultConfig(),
		TokenBudget:   6000,
		TokenOverhead: 800,
		Reconcile:     false,
		ForceAssign:   false,
	}
}

// Validate rejects caller bugs before any batch runs.
func (c Config) Validate() error {
	if err := c.Assign.Validate(); err != nil {
		return fmt.Errorf("assign config: %w", err)
	}
	if err := c.Merge.Validate(); err != nil {
		return fmt.Errorf("merge config: %w", err)
	}
	if err := c.Discovery.Validate(); err != nil {
		return fmt.Errorf("discovery config: %w", err)
	}
	if err := c.batchOptions().Validate(); err != nil {
		return fmt.Errorf("batch config: %w", err)
	}
	return nil
}

func (c Config) batchOptions() batch.Options {
	opts := c.Batch
	if opts.Budget == 0 {
		opts.Budget = c.TokenBudget
		opts.Overhead = c.TokenOverhead
	}
	return opts
}

// Stats summarizes one pipeline run.
type Stats struct {
	RunID     string `json:"run_id"`
	Documents int    `json:"documents"`
	Lines     int    `json:"lines"`
	Batches   int    `json:"batches"`
	Merged    int    `json:"merged"`

	ClassifierFailures int `json:"classifier_failures,omitempty"`
	ProposerFailures   int `json:"proposer_failures,omitempty"`
	SynthesisFailures  int `json:"synthesis_failures,omitempty"`
	TieBreakReferrals  int `json:"tiebreak_referrals,omitempty"`
}

// RunResult is the pipeline entry-point contract: the canonical lines, one
// assignment per covered article, the leftover article ids, and run stats.
type RunResult struct {
	Lines         []feed.SenseLine  `json:"lines"`
	Assignments   []feed.Assignment `json:"assignments"`
	UnassignedIDs []int64           `json:"unassigned_ids"`
	Stats         Stats             `json:"stats"`
}

// Orchestrator owns the registry and assignment map across batches. Not
// safe for concurrent use; one orchestrator per run sequence.
type Orchestrator struct {
	cfg       Config
	extractor *signal.Extractor
	discovery *discover.Engine
	merger    *merge.Engine
	counter   batch.TokenCounter

	registry    []feed.SenseLine
	assignments map[int64]feed.Assignment
	nextSeq     int
	batchStates []BatchState
}

// Option customizes orchestrator construction.
type Option func(*options)

type options struct {
	embedder    signal.Embedder
	classifier  discover.Classifier
	proposer    discover.Proposer
	tieBreaker  merge.TieBreaker
	synthesizer merge.Synthesizer
	counter     batch.TokenCounter
	seed        []feed.SenseLine
}

// WithEmbedder plugs a real embedding collaborator in place of the hashing
// fallback.
func WithEmbedder(e signal.Embedder) Option { return func(o *options) { o.embedder = e } }

// WithClassifier plugs the external assignment collaborator.
func WithClassifier(c discover.Classifier) Option { return func(o *options) { o.classifier = c } }

// WithProposer plugs the external new-line naming collaborator.
func WithProposer(p discover.Proposer) Option { return func(o *options) { o.proposer = p } }

// WithTieBreaker plugs the merge tie-break collaborator.
func WithTieBreaker(t merge.TieBreaker) Option { return func(o *options) { o.tieBreaker = t } }

// WithSynthesizer plugs the canonical-content synthesis collaborator.
func WithSynthesizer(s merge.Synthesizer) Option { return func(o *options) { o.synthesizer = s } }

// WithTokenCounter replaces the heuristic token estimator.
func WithTokenCounter(c batch.TokenCounter) Option { return func(o *options) { o.counter = c } }

// WithSeedRegistry starts the run from previously persisted lines, so line
// ids stay stable across processes. The id counter resumes past the highest
// seeded suffix.
func WithSeedRegistry(lines []feed.SenseLine) Option {
	return func(o *options) { o.seed = lines }
}

// New builds an orchestrator for one run sequence.
func New(cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	extractor := signal.NewExtractor(o.embedder)
	disc, err := discover.NewEngine(cfg.Discovery, cfg.Assign, extractor, o.classifier, o.proposer)
	if err != nil {
		return nil, err
	}
	merger, err := merge.NewEngine(cfg.Merge, extractor, o.tieBreaker, o.synthesizer)
	if err != nil {
		return nil, err
	}

	orch := &Orchestrator{
		cfg:         cfg,
		extractor:   extractor,
		discovery:   disc,
		merger:      merger,
		counter:     o.counter,
		assignments: make(map[int64]feed.Assignment),
		nextSeq:     1,
	}
	for _, l := range o.seed {
		orch.registry = append(orch.registry, l.Clone())
		if n, ok := feed.LineIDSuffix(l.ID); ok && n >= orch.nextSeq {
			orch.nextSeq = n + 1
		}
	}
	return orch, nil
}

// Registry returns a copy of the current line registry.
func (o *Orchestrator) Registry() []feed.SenseLine {
	out := make([]feed.SenseLine, 0, len(o.registry))
	for _, l := range o.registry {
		out = append(out, l.Clone())
	}
	return out
}

// BatchStates exposes the per-batch state trail of the last run.
func (o *Orchestrator) BatchStates() []BatchState {
	return append([]BatchState(nil), o.batchStates...)
}

func (o *Orchestrator) mint() string {
	id := feed.MintLineID(o.nextSeq)
	o.nextSeq++
	return id
}

// Run processes documents through batched discovery and merge, then the
// optional reconciliation pass. Empty input is a caller bug and errors
// immediately.
func (o *Orchestrator) Run(ctx context.Context, articles []feed.Article) (*RunResult, error) {
	if len(articles) == 0 {
		return nil, fmt.Errorf("no documents to process")
	}

	articles = feed.Normalize(articles)

	opts := o.cfg.batchOptions()
	if o.counter != nil {
		opts.Counter = o.counter
	}
	batches, err := batch.Split(articles, opts)
	if err != nil {
		return nil, err
	}

	stats := Stats{
		RunID:     ulid.Make().String(),
		Documents: len(articles),
		Batches:   len(batches),
	}
	o.batchStates = make([]BatchState, len(batches))

	for i, b := range batches {
		o.batchStates[i] = StatePending

		dres, err := o.discovery.Discover(ctx, o.Registry(), b, o.mint)
		if err != nil {
			return nil, fmt.Errorf("batch %d discovery: %w", i+1, err)
		}
		o.batchStates[i] = StateDiscovered
		stats.ClassifierFailures += dres.ClassifierFailures
		stats.ProposerFailures += dres.ProposerFailures

		batchAssignments := dres.Assignments

		if len(dres.NewLines) > 0 {
			if len(o.registry) == 0 {
				for _, l := range dres.NewLines {
					o.registry = append(o.registry, l.Clone())
				}
			} else {
				mres, err := o.merger.Merge(ctx, o.registry, dres.NewLines)
				if err != nil {
					return nil, fmt.Errorf("batch %d merge: %w", i+1, err)
				}
				stats.Merged += mres.Merged
				stats.TieBreakReferrals += mres.Referred
				stats.SynthesisFailures += mres.SynthesisFailures

				o.registry = mres.Lines
				// Remap earlier assignments before recording this batch's,
				// so every recorded line_id is a currently valid id.
				o.remapAssignments(mres.Remap)
				batchAssignments = remapBatch(batchAssignments, mres.Remap)
			}
		}
		o.batchStates[i] = StateMerged

		for _, a := range batchAssignments {
			o.assignments[a.ArticleID] = a
		}
		o.batchStates[i] = StateDone
	}

	if o.cfg.Reconcile {
		o.reconcile(articles)
	}

	res := &RunResult{Stats: stats}
	res.Lines = o.Registry()
	sort.Slice(res.Lines, func(i, j int) bool { return feed.LineIDLess(res.Lines[i].ID, res.Lines[j].ID) })
	res.Stats.Lines = len(res.Lines)

	for _, a := range articles {
		if assigned, ok := o.assignments[a.ID]; ok {
			res.Assignments = append(res.Assignments, assigned)
		} else {
			res.UnassignedIDs = append(res.UnassignedIDs, a.ID)
		}
	}
	sort.Slice(res.Assignments, func(i, j int) bool { return res.Assignments[i].ArticleID < res.Assignments[j].ArticleID })
	sort.Slice(res.UnassignedIDs, func(i, j int) bool { return res.UnassignedIDs[i] < res.UnassignedIDs[j] })

	return res, nil
}

// remapAssignments follows the merge remap for every recorded assignment,
// so articles assigned in earlier batches track their line's canonical
// identity.
func (o *Orchestrator) remapAssignments(remap map[string]string) {
	for id, a := range o.assignments {
		if canonical, ok := remap[a.LineID]; ok && canonical != a.LineID {
			a.LineID = canonical
			o.assignments[id] = a
		}
	}
}

func remapBatch(assignments []feed.Assignment, remap map[string]string) []feed.Assignment {
	for i, a := range assignments {
		if canonical, ok := remap[a.LineID]; ok {
			assignments[i].LineID = canonical
		}
	}
	return assignments
}

// reconcile re-scores every article against the final registry, producing
// the authoritative assignment set. With ForceAssign, the best line wins
// even below threshold so every article ends covered.
func (o *Orchestrator) reconcile(articles []feed.Article) {
	candidates := make([]score.Candidate, 0, len(o.registry))
	for _, l := range o.registry {
		candidates = append(candidates, score.Candidate{LineID: l.ID, Sig: o.extractor.LineSignature(l)})
	}
	if len(candidates) == 0 {
		return
	}

	final := make(map[int64]feed.Assignment, len(articles))
	for _, a := range articles {
		sig := o.extractor.ArticleSignature(a)
		res := score.Evaluate(o.cfg.Assign, sig, candidates)
		best := res.Best()
		switch {
		case res.Assigned:
			final[a.ID] = feed.Assignment{
				ArticleID:  a.ID,
				LineID:     best.LineID,
				Confidence: best.Combined,
				Rationale:  res.Rationale,
			}
		case o.cfg.ForceAssign:
			final[a.ID] = feed.Assignment{
				ArticleID:  a.ID,
				LineID:     best.LineID,
				Confidence: best.Combined,
				Rationale:  "force-assigned below threshold",
			}
		}
	}
	o.assignments = final
}
