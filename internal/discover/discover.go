// Package discover runs one batch of articles against the cumulative line
// registry: assigns what the scorer accepts, optionally consults external
// collaborators for the rest, and clusters the remainder deterministically
// into proposed new lines.
//
// Collaborators are advisory: a failed or malformed response degrades to the
// deterministic path and is reported as a counter, never as a batch failure.
package discover

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/hurttlocker/senseline/internal/cluster"
	"github.com/hurttlocker/senseline/internal/feed"
	"github.com/hurttlocker/senseline/internal/score"
	"github.com/hurttlocker/senseline/internal/signal"
)

// NewLineSentinel is the classifier's "this belongs to no existing line"
// answer. Articles routed there stay in the pool for clustering.
const NewLineSentinel = "NEW"

const defaultWorkers = 4

// Classifier is the optional external assignment collaborator. Returned
// assignments may reference existing line ids or NewLineSentinel; anything
// else is discarded.
type Classifier interface {
	Classify(ctx context.Context, lines []feed.SenseLine, articles []feed.Article) ([]feed.Assignment, error)
}

// ProposedLine is one new line suggested by the group-proposal collaborator,
// keyed by a collaborator-chosen temp id until the engine mints a real one.
type ProposedLine struct {
	TempID      string
	ShortTitle  string
	Description string
	RegionNote  string
	ExemplarIDs []int64
}

// DocRoute maps an article to a proposed line's temp id.
type DocRoute struct {
	ArticleID int64
	TempID    string
}

// Proposal is the group-proposal collaborator's structured answer.
type Proposal struct {
	NewLines []ProposedLine
	Mapping  []DocRoute
}

// Proposer is the optional external new-line naming collaborator.
type Proposer interface {
	Propose(ctx context.Context, unassigned []feed.Article, maxNewLines int) (*Proposal, error)
}

// Config holds the clustering parameters.
type Config struct {
	// ClusterThreshold is the minimum embedding cosine for an edge in the
	// single-link similarity graph.
	ClusterThreshold float64 `yaml:"cluster_threshold"`
	// MinSupport is the minimum member count for a component to become a
	// line; undersized components stay unassigned.
	MinSupport int `yaml:"min_support"`
	// MaxNewLines bounds how many new lines a collaborator may propose
	// per batch.
	MaxNewLines int `yaml:"max_new_lines"`
	// Workers bounds concurrent per-article scoring.
	Workers int `yaml:"workers"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ClusterThreshold: 0.62,
		MinSupport:       2,
		MaxNewLines:      8,
		Workers:          defaultWorkers,
	}
}

// Validate rejects caller bugs outright.
func (c Config) Validate() error {
	if c.ClusterThreshold <= 0 || c.ClusterThreshold > 1 {
		return fmt.Errorf("cluster_threshold must be in (0,1], got %.3f", c.ClusterThreshold)
	}
	if c.MinSupport < 1 {
		return fmt.Errorf("min_support must be at least 1, got %d", c.MinSupport)
	}
	if c.MaxNewLines < 1 {
		return fmt.Errorf("max_new_lines must be at least 1, got %d", c.MaxNewLines)
	}
	return nil
}

// BatchResult is the outcome of one discovery round.
type BatchResult struct {
	Assignments   []feed.Assignment
	NewLines      []feed.SenseLine
	UnassignedIDs []int64

	// Collaborator failure counters for run stats.
	ClassifierFailures int
	ProposerFailures   int
}

// Engine drives one batch through scoring, collaborator delegation, and
// deterministic clustering.
type Engine struct {
	cfg        Config
	assign     score.Config
	extractor  *signal.Extractor
	classifier Classifier
	proposer   Proposer
}

// NewEngine builds a discovery engine. classifier and proposer may be nil.
func NewEngine(cfg Config, assign score.Config, extractor *signal.Extractor, classifier Classifier, proposer Proposer) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := assign.Validate(); err != nil {
		return nil, err
	}
	if extractor == nil {
		extractor = signal.NewExtractor(nil)
	}
	return &Engine{
		cfg:        cfg,
		assign:     assign,
		extractor:  extractor,
		classifier: classifier,
		proposer:   proposer,
	}, nil
}

// Discover scores articles against the registry and clusters the leftovers.
// mint supplies fresh provisional line ids in a stable order.
func (e *Engine) Discover(ctx context.Context, registry []feed.SenseLine, articles []feed.Article, mint func() string) (*BatchResult, error) {
	res := &BatchResult{}
	if len(articles) == 0 {
		return res, nil
	}

	candidates := make([]score.Candidate, 0, len(registry))
	for _, l := range registry {
		candidates = append(candidates, score.Candidate{LineID: l.ID, Sig: e.extractor.LineSignature(l)})
	}

	sigs, decisions := e.scoreAll(articles, candidates)

	leftovers := make([]feed.Article, 0, len(articles))
	leftoverSigs := make([]signal.Signature, 0, len(articles))
	for i, a := range articles {
		d := decisions[i]
		if d.Assigned {
			best := d.Best()
			res.Assignments = append(res.Assignments, feed.Assignment{
				ArticleID:  a.ID,
				LineID:     best.LineID,
				Confidence: best.Combined,
				Rationale:  d.Rationale,
			})
			continue
		}
		leftovers = append(leftovers, a)
		leftoverSigs = append(leftoverSigs, sigs[i])
	}

	if e.classifier != nil && len(registry) > 0 && len(leftovers) > 0 {
		leftovers, leftoverSigs = e.delegateClassify(ctx, registry, leftovers, leftoverSigs, res)
	}

	if len(leftovers) == 0 {
		return res, nil
	}

	if e.proposer != nil {
		if ok := e.delegatePropose(ctx, leftovers, mint, res); ok {
			return res, nil
		}
	}

	e.clusterLeftovers(leftovers, leftoverSigs, mint, res)
	return res, nil
}

// scoreAll computes signatures and scoring decisions concurrently. Each
// worker writes distinct indices, so no synchronization is needed beyond the
// final wait.
func (e *Engine) scoreAll(articles []feed.Article, candidates []score.Candidate) ([]signal.Signature, []score.Result) {
	sigs := make([]signal.Signature, len(articles))
	decisions := make([]score.Result, len(articles))

	workers := e.cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	if workers > len(articles) {
		workers = len(articles)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				sigs[i] = e.extractor.ArticleSignature(articles[i])
				if len(candidates) > 0 {
					decisions[i] = score.Evaluate(e.assign, sigs[i], candidates)
				}
			}
		}()
	}
	for i := range articles {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return sigs, decisions
}

// delegateClassify asks the classifier collaborator about leftover articles.
// Valid assignments to existing lines are recorded; everything else (NEW,
// unknown ids, missing articles, outright failure) stays in the pool.
func (e *Engine) delegateClassify(ctx context.Context, registry []feed.SenseLine, leftovers []feed.Article, sigs []signal.Signature, res *BatchResult) ([]feed.Article, []signal.Signature) {
	answers, err := e.classifier.Classify(ctx, registry, leftovers)
	if err != nil {
		res.ClassifierFailures++
		return leftovers, sigs
	}

	known := make(map[string]struct{}, len(registry))
	for _, l := range registry {
		known[l.ID] = struct{}{}
	}
	routed := make(map[int64]feed.Assignment, len(answers))
	for _, a := range answers {
		if a.LineID == NewLineSentinel {
			continue
		}
		if _, ok := known[a.LineID]; !ok {
			continue
		}
		routed[a.ArticleID] = a
	}

	remaining := leftovers[:0]
	remainingSigs := sigs[:0]
	for i, art := range leftovers {
		if a, ok := routed[art.ID]; ok {
			res.Assignments = append(res.Assignments, a)
			continue
		}
		remaining = append(remaining, art)
		remainingSigs = append(remainingSigs, sigs[i])
	}
	return remaining, remainingSigs
}

// delegatePropose asks the group-proposal collaborator to group and name new
// lines. Returns false when the proposal is unusable and the deterministic
// path should run instead.
func (e *Engine) delegatePropose(ctx context.Context, leftovers []feed.Article, mint func() string, res *BatchResult) bool {
	proposal, err := e.proposer.Propose(ctx, leftovers, e.cfg.MaxNewLines)
	if err != nil || proposal == nil || len(proposal.NewLines) == 0 {
		res.ProposerFailures++
		return false
	}
	if len(proposal.NewLines) > e.cfg.MaxNewLines {
		proposal.NewLines = proposal.NewLines[:e.cfg.MaxNewLines]
	}

	byID := make(map[int64]feed.Article, len(leftovers))
	for _, a := range leftovers {
		byID[a.ID] = a
	}

	// Group member articles per temp id, keeping batch encounter order.
	members := make(map[string][]feed.Article)
	for _, route := range proposal.Mapping {
		if _, ok := byID[route.ArticleID]; !ok {
			continue
		}
		members[route.TempID] = append(members[route.TempID], byID[route.ArticleID])
	}

	placed := make(map[int64]struct{})
	for _, pl := range proposal.NewLines {
		group := members[pl.TempID]
		if len(group) < e.cfg.MinSupport {
			continue
		}
		line := feed.SenseLine{
			ID:          mint(),
			ShortTitle:  pl.ShortTitle,
			Description: pl.Description,
			RegionNote:  pl.RegionNote,
		}
		if line.ShortTitle == "" || line.Description == "" {
			// Collaborator skipped the naming work; synthesize it.
			det := synthesizeLine(line.ID, group)
			if line.ShortTitle == "" {
				line.ShortTitle = det.ShortTitle
			}
			if line.Description == "" {
				line.Description = det.Description
			}
		}
		for _, a := range exemplarOrder(pl.ExemplarIDs, group) {
			line.AddExemplar(a.ID, a.Title)
			if len(line.ExemplarIDs) >= 3 {
				break
			}
		}
		res.NewLines = append(res.NewLines, line)
		for _, a := range group {
			placed[a.ID] = struct{}{}
			res.Assignments = append(res.Assignments, feed.Assignment{
				ArticleID:  a.ID,
				LineID:     line.ID,
				Confidence: 0.5,
				Rationale:  "grouped by proposal collaborator",
			})
		}
	}

	if len(res.NewLines) == 0 {
		// Proposal produced nothing viable; treat it as a failure.
		res.ProposerFailures++
		return false
	}

	for _, a := range leftovers {
		if _, ok := placed[a.ID]; !ok {
			res.UnassignedIDs = append(res.UnassignedIDs, a.ID)
		}
	}
	return true
}

// exemplarOrder puts the collaborator's exemplar picks first, restricted to
// actual group members, then the rest of the group in encounter order.
// AddExemplar dedups the overlap.
func exemplarOrder(preferred []int64, group []feed.Article) []feed.Article {
	if len(preferred) == 0 {
		return group
	}
	byID := make(map[int64]feed.Article, len(group))
	for _, a := range group {
		byID[a.ID] = a
	}
	out := make([]feed.Article, 0, len(preferred)+len(group))
	for _, id := range preferred {
		if a, ok := byID[id]; ok {
			out = append(out, a)
		}
	}
	return append(out, group...)
}

// clusterLeftovers runs the deterministic fallback: single-link clustering
// over the embedding similarity graph, components extracted via union-find,
// minimum support enforced, line content synthesized from members.
func (e *Engine) clusterLeftovers(leftovers []feed.Article, sigs []signal.Signature, mint func() string, res *BatchResult) {
	arena := cluster.NewArena()
	simSum := make(map[string]float64)
	simCount := make(map[string]int)

	key := func(a feed.Article) string { return strconv.FormatInt(a.ID, 10) }

	for i := range leftovers {
		arena.Add(key(leftovers[i]))
	}
	for i := 0; i < len(leftovers)-1; i++ {
		for j := i + 1; j < len(leftovers); j++ {
			sim := signal.Cosine(sigs[i].Embedding, sigs[j].Embedding)
			if sim < e.cfg.ClusterThreshold {
				continue
			}
			arena.Union(key(leftovers[i]), key(leftovers[j]))
			for _, k := range []string{key(leftovers[i]), key(leftovers[j])} {
				simSum[k] += sim
				simCount[k]++
			}
		}
	}

	byKey := make(map[string]feed.Article, len(leftovers))
	order := make(map[string]int, len(leftovers))
	for i, a := range leftovers {
		byKey[key(a)] = a
		order[key(a)] = i
	}

	for _, group := range arena.Groups() {
		// Restore batch encounter order; the arena sorts keys as strings.
		sort.Slice(group, func(i, j int) bool { return order[group[i]] < order[group[j]] })

		if len(group) < e.cfg.MinSupport {
			for _, k := range group {
				res.UnassignedIDs = append(res.UnassignedIDs, byKey[k].ID)
			}
			continue
		}

		articles := make([]feed.Article, 0, len(group))
		for _, k := range group {
			articles = append(articles, byKey[k])
		}
		line := synthesizeLine(mint(), articles)
		res.NewLines = append(res.NewLines, line)

		for _, k := range group {
			confidence := e.cfg.ClusterThreshold
			if simCount[k] > 0 {
				confidence = simSum[k] / float64(simCount[k])
			}
			res.Assignments = append(res.Assignments, feed.Assignment{
				ArticleID:  byKey[k].ID,
				LineID:     line.ID,
				Confidence: confidence,
				Rationale:  "clustered with similar articles",
			})
		}
	}

	sort.Slice(res.UnassignedIDs, func(i, j int) bool { return res.UnassignedIDs[i] < res.UnassignedIDs[j] })
}

// synthesizeLine builds line content deterministically from its members:
// top-3 keywords as the title, up to two non-empty summaries as the
// description, a unanimous region (or the adaptation marker), and the first
// three members as exemplars.
func synthesizeLine(id string, members []feed.Article) feed.SenseLine {
	var corpus []string
	for _, a := range members {
		corpus = append(corpus, a.Title, a.Summary)
	}
	keywords := signal.Keywords(join(corpus), 3)

	title := join(keywords)
	if title == "" {
		title = members[0].Title
	}

	var summaries []string
	for _, a := range members {
		if a.Summary != "" {
			summaries = append(summaries, a.Summary)
		}
		if len(summaries) == 2 {
			break
		}
	}
	description := join(summaries)
	if description == "" {
		description = "Emerging topic grouped from related articles."
	}

	line := feed.SenseLine{
		ID:          id,
		ShortTitle:  title,
		Description: description,
		RegionNote:  unifyRegion(members),
	}
	for i, a := range members {
		if i == 3 {
			break
		}
		line.AddExemplar(a.ID, a.Title)
	}
	return line
}

// unifyRegion returns the members' common region when unanimous (ignoring
// articles without one), or the adaptation marker when they disagree.
func unifyRegion(members []feed.Article) string {
	display := ""
	seen := ""
	for _, a := range members {
		norm := signal.NormalizeRegion(a.Region)
		if norm == "" {
			continue
		}
		if seen == "" {
			seen = norm
			display = a.Region
			continue
		}
		if norm != seen {
			return feed.RegionAdaptationNote
		}
	}
	return display
}

func join(parts []string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += p
	}
	return out
}
