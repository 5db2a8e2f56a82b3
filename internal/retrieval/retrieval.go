// Package retrieval turns a query vector and/or seed node ids into a ranked,
// deduplicated, size-bounded context.
//
// One call runs ResolveSeeds, Expand, Merge, Rank and Trim in that order.
// The vector index and the expansion of explicit seeds are independent and
// run concurrently; their results meet only at the merge.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/lazypower/recall/internal/apperr"
	"github.com/lazypower/recall/internal/expansion"
	"github.com/lazypower/recall/internal/graph"
	"github.com/lazypower/recall/internal/scoring"
	"github.com/lazypower/recall/internal/vectorindex"
)

// Mode selects where seeds come from and whether they are expanded.
type Mode string

const (
	ModeVector Mode = "vector" // index seeds only, no expansion
	ModeGraph  Mode = "graph"  // explicit seeds, graph-only scoring, expansion
	ModeHybrid Mode = "hybrid" // index seeds plus explicit seeds, expansion
)

// ParseMode parses a mode name. Empty means hybrid.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeHybrid, nil
	case ModeVector, ModeGraph, ModeHybrid:
		return Mode(s), nil
	}
	return "", apperr.InvalidConfig("mode", "unknown retrieval mode %q", s)
}

// Config holds orchestrator defaults. Query fields override them per call.
type Config struct {
	Scoring    scoring.Config
	Expansion  expansion.Options
	DefaultK   int // vector hits requested when Query.K is zero
	MaxResults int // items kept when Query.MaxResults is zero; 0 is unlimited

	// FallbackToGraph lets a call that has explicit seeds continue in graph
	// mode when the vector index fails. Off by default: index failures are
	// fatal unless the caller opts in.
	FallbackToGraph bool

	// TouchResults refreshes the access score of every returned node.
	TouchResults bool
}

// DefaultConfig returns the default weights, a two-hop expansion, 10 vector
// hits and 20 results.
func DefaultConfig() Config {
	return Config{
		Scoring:    scoring.DefaultConfig(),
		Expansion:  expansion.DefaultOptions(),
		DefaultK:   10,
		MaxResults: 20,
	}
}

// Validate checks every nested configuration.
func (c Config) Validate() error {
	if err := c.Scoring.Validate(); err != nil {
		return err
	}
	if err := c.Expansion.Validate(); err != nil {
		return err
	}
	if c.DefaultK <= 0 {
		return apperr.InvalidConfig("default_k", "%d must be positive", c.DefaultK)
	}
	if c.MaxResults < 0 {
		return apperr.InvalidConfig("max_results", "%d must be >= 0", c.MaxResults)
	}
	return nil
}

// Query is one retrieval request.
type Query struct {
	Vector     []float64
	SeedIDs    []string
	Mode       Mode
	K          int
	Filter     vectorindex.Filter
	Expansion  *expansion.Options // nil uses Config.Expansion
	MaxResults int
	MaxChars   int // budget on summed node content length; 0 is unlimited
}

// Item is one ranked node.
type Item struct {
	Node  *graph.Node            `json:"node"`
	Score scoring.RelevanceScore `json:"score"`
}

// Stats describe how a context was produced.
type Stats struct {
	Mode            Mode          `json:"mode"`
	FellBack        bool          `json:"fell_back,omitempty"`
	Seeds           int           `json:"seeds"`
	Candidates      int           `json:"candidates"`
	NodesVisited    int           `json:"nodes_visited"`
	EdgesTraversed  int           `json:"edges_traversed"`
	BudgetExhausted bool          `json:"budget_exhausted,omitempty"`
	Elapsed         time.Duration `json:"elapsed"`
}

// Context is the retrieval result. Items are unique by node id and ordered by
// final score, highest first.
type Context struct {
	Items []Item `json:"items"`
	// Edges are expansion edges whose endpoints both survived trimming.
	Edges     []*graph.Edge `json:"edges"`
	Truncated bool          `json:"truncated"`
	// Failures are per-seed errors that did not abort the call.
	Failures []error `json:"-"`
	Stats    Stats   `json:"stats"`
}

// IndexError wraps a vector index failure.
type IndexError struct {
	Err error
}

func (e *IndexError) Error() string { return "vector index: " + e.Err.Error() }

func (e *IndexError) Unwrap() error { return e.Err }

var errNoIndex = errors.New("no vector index configured")

// Graph is what the orchestrator needs from the graph store.
type Graph interface {
	graph.Reader
	Touch(id string) error
}

// Orchestrator runs retrievals. It holds no lock across a call.
type Orchestrator struct {
	graph    Graph
	index    vectorindex.Index
	scorer   *scoring.Scorer
	expander *expansion.Engine
	cfg      Config
	metrics  *Metrics
	logger   *slog.Logger
}

// New validates cfg and wires an orchestrator. idx, metrics and logger may be
// nil; without an index, vector and hybrid queries fail with an IndexError.
func New(g Graph, idx vectorindex.Index, cfg Config, metrics *Metrics, logger *slog.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	scorer, err := scoring.New(cfg.Scoring)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{
		graph:    g,
		index:    idx,
		scorer:   scorer,
		expander: expansion.New(g, scorer, logger),
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
	}, nil
}

// Scorer returns the orchestrator's scorer.
func (o *Orchestrator) Scorer() *scoring.Scorer { return o.scorer }

// Config returns the orchestrator's defaults.
func (o *Orchestrator) Config() Config { return o.cfg }

// Retrieve runs one retrieval. Per-seed failures land in Context.Failures;
// invalid queries, index failures without fallback, cancellation and an
// unsatisfiable MaxChars are returned as errors.
func (o *Orchestrator) Retrieve(ctx context.Context, q Query) (*Context, error) {
	start := time.Now()
	mode := q.Mode
	if mode == "" {
		mode = ModeHybrid
	}

	out, err := o.retrieve(ctx, q, mode)
	elapsed := time.Since(start)
	if err != nil {
		o.metrics.observe(mode, "error", elapsed)
		return nil, err
	}
	out.Stats.Elapsed = elapsed
	outcome := "ok"
	if len(out.Failures) > 0 {
		outcome = "partial"
	}
	o.metrics.observe(mode, outcome, elapsed)
	o.metrics.observeContext(out)

	o.logger.Debug("retrieval complete",
		"mode", out.Stats.Mode,
		"items", len(out.Items),
		"candidates", out.Stats.Candidates,
		"truncated", out.Truncated,
		"failures", len(out.Failures),
		"elapsed", elapsed)
	return out, nil
}

func (o *Orchestrator) retrieve(ctx context.Context, q Query, mode Mode) (*Context, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	wantVector := mode == ModeVector || mode == ModeHybrid
	if wantVector && len(q.Vector) == 0 {
		return nil, apperr.InvalidConfig("vector", "%s mode needs a query vector", mode)
	}
	if mode == ModeGraph && len(q.SeedIDs) == 0 {
		return nil, apperr.InvalidConfig("seed_ids", "graph mode needs at least one seed id")
	}

	expOpts := o.cfg.Expansion
	if q.Expansion != nil {
		expOpts = *q.Expansion
		if err := expOpts.Validate(); err != nil {
			return nil, err
		}
	}
	k := q.K
	if k <= 0 {
		k = o.cfg.DefaultK
	}
	maxResults := q.MaxResults
	if maxResults <= 0 {
		maxResults = o.cfg.MaxResults
	}

	explicit := make([]expansion.Seed, len(q.SeedIDs))
	for i, id := range q.SeedIDs {
		explicit[i] = expansion.Seed{ID: id}
	}

	// ResolveSeeds. The index search and the expansion of explicit seeds do
	// not depend on each other.
	var (
		hits         []vectorindex.Hit
		searchErr    error
		explicitRes  *expansion.Result
		explicitErrs error
	)
	var g errgroup.Group
	if wantVector {
		g.Go(func() error {
			hits, searchErr = o.search(ctx, q, k)
			return nil
		})
	}
	if mode != ModeVector && len(explicit) > 0 {
		g.Go(func() error {
			explicitRes, explicitErrs = o.expander.Expand(ctx, explicit, expOpts)
			return nil
		})
	}
	_ = g.Wait()

	out := &Context{Stats: Stats{Mode: mode}}

	if searchErr != nil {
		if !o.cfg.FallbackToGraph || len(explicit) == 0 {
			return nil, &IndexError{Err: searchErr}
		}
		o.logger.Warn("vector index failed, falling back to graph mode", "err", searchErr)
		out.Stats.Mode = ModeGraph
		out.Stats.FellBack = true
		if mode == ModeVector {
			explicitRes, explicitErrs = o.expander.Expand(ctx, explicit, expOpts)
		}
		hits = nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vecSeeds := make([]expansion.Seed, len(hits))
	for i, h := range hits {
		vecSeeds[i] = expansion.Seed{ID: h.NodeID, Similarity: h.Similarity, HasVector: true}
	}
	out.Stats.Seeds = len(vecSeeds) + len(explicit)
	if out.Stats.Mode == ModeVector {
		out.Stats.Seeds = len(vecSeeds)
	}
	out.Failures = append(out.Failures, seedFailures(explicitErrs)...)

	// Expand and merge.
	var merged *expansion.Result
	switch {
	case out.Stats.Mode == ModeVector:
		merged = o.directMatches(vecSeeds, out)
	case len(vecSeeds) > 0:
		vecRes, err := o.expander.Expand(ctx, vecSeeds, expOpts)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		out.Failures = append(out.Failures, seedFailures(err)...)
		merged = expansion.Merge(vecRes, explicitRes)
	default:
		merged = expansion.Merge(explicitRes)
	}
	out.Stats.Candidates = len(merged.Candidates)
	out.Stats.NodesVisited = merged.NodesVisited
	out.Stats.EdgesTraversed = merged.EdgesTraversed
	out.Stats.BudgetExhausted = merged.BudgetExhausted

	// Rank.
	items := o.rank(merged.Candidates, out)

	// Trim.
	items, truncated, err := trim(items, maxResults, q.MaxChars)
	if err != nil {
		return nil, err
	}
	out.Items = items
	out.Truncated = truncated
	out.Edges = connecting(merged.Edges, items)

	if o.cfg.TouchResults {
		for _, it := range items {
			if err := o.graph.Touch(it.Node.ID); err != nil {
				o.logger.Warn("touch failed", "node", it.Node.ID, "err", err)
			}
		}
	}
	return out, nil
}

func (o *Orchestrator) search(ctx context.Context, q Query, k int) ([]vectorindex.Hit, error) {
	if o.index == nil {
		return nil, errNoIndex
	}
	return o.index.SearchWithFilter(ctx, q.Vector, q.Filter, k)
}

// directMatches scores vector seeds without expansion. Seeds whose node is
// missing from the graph are recorded as failures.
func (o *Orchestrator) directMatches(seeds []expansion.Seed, out *Context) *expansion.Result {
	res := &expansion.Result{}
	for _, s := range seeds {
		if _, err := o.graph.GetNode(s.ID); err != nil {
			out.Failures = append(out.Failures, &expansion.SeedError{SeedID: s.ID, Err: err})
			continue
		}
		res.Candidates = append(res.Candidates, o.scorer.DirectMatch(s.ID, s.Similarity))
	}
	return expansion.Merge(res)
}

// rank attaches nodes, applies the access feature and reranks. Candidates
// whose node vanished since expansion are dropped as failures.
func (o *Orchestrator) rank(cands []scoring.RelevanceScore, out *Context) []Item {
	nodes := make(map[string]*graph.Node, len(cands))
	scored := make([]scoring.RelevanceScore, 0, len(cands))
	for _, c := range cands {
		n, err := o.graph.GetNode(c.NodeID)
		if err != nil {
			out.Failures = append(out.Failures, fmt.Errorf("resolve candidate: %w", err))
			continue
		}
		nodes[c.NodeID] = n
		scored = append(scored, o.scorer.WithAccess(c, n.AccessScore))
	}

	ranked := scoring.Rerank(scored)
	items := make([]Item, len(ranked))
	for i, rs := range ranked {
		items[i] = Item{Node: nodes[rs.NodeID], Score: rs}
	}
	return items
}

// trim keeps the highest ranked prefix that fits maxResults items and
// maxChars of content. Zero limits are unlimited.
func trim(items []Item, maxResults, maxChars int) ([]Item, bool, error) {
	truncated := false
	if maxResults > 0 && len(items) > maxResults {
		items = items[:maxResults]
		truncated = true
	}
	if maxChars <= 0 || len(items) == 0 {
		return items, truncated, nil
	}

	if first := len(items[0].Node.Content); first > maxChars {
		return nil, false, fmt.Errorf("top item %q needs %d chars, limit is %d: %w",
			items[0].Node.ID, first, maxChars, apperr.ErrContextTooLarge)
	}
	used := 0
	for i, it := range items {
		used += len(it.Node.Content)
		if used > maxChars {
			return items[:i], true, nil
		}
	}
	return items, truncated, nil
}

func connecting(edges []*graph.Edge, items []Item) []*graph.Edge {
	keep := make(map[string]bool, len(items))
	for _, it := range items {
		keep[it.Node.ID] = true
	}
	var out []*graph.Edge
	for _, e := range edges {
		if keep[e.Source] && keep[e.Target] {
			out = append(out, e)
		}
	}
	return out
}

// seedFailures flattens an expansion error into its per-seed errors.
func seedFailures(err error) []error {
	if err == nil {
		return nil
	}
	var merr *multierror.Error
	if errors.As(err, &merr) {
		return merr.WrappedErrors()
	}
	return []error{err}
}
