// Package expansion grows a set of scored seed nodes outward through the
// graph, producing scored candidates under a node and hop budget.
package expansion

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/lazypower/recall/internal/apperr"
	"github.com/lazypower/recall/internal/graph"
	"github.com/lazypower/recall/internal/scoring"
)

// Strategy selects which edges expansion may follow.
type Strategy int

const (
	// Neighbors follows every relation.
	Neighbors Strategy = iota
	// Relations follows only Options.Relations.
	Relations
)

func (s Strategy) String() string {
	if s == Relations {
		return "relations"
	}
	return "neighbors"
}

// ParseStrategy parses "neighbors" or "relations". Empty means neighbors.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "neighbors":
		return Neighbors, nil
	case "relations":
		return Relations, nil
	}
	return Neighbors, apperr.InvalidConfig("strategy", "unknown strategy %q", s)
}

// Options bound one expansion. A zero MaxNodes or MaxHops leaves that
// dimension unbounded, but at least one must be set.
type Options struct {
	Strategy    Strategy
	Relations   []graph.Relation
	Direction   graph.Direction
	MaxNodes    int // newly discovered nodes per seed, seed excluded
	MaxHops     int
	Concurrency int // parallel seeds; <= 0 means 4
}

// DefaultOptions explores two hops out, at most 50 nodes per seed.
func DefaultOptions() Options {
	return Options{
		Strategy:    Neighbors,
		Direction:   graph.Outgoing,
		MaxNodes:    50,
		MaxHops:     2,
		Concurrency: 4,
	}
}

// Validate checks the budget and strategy.
func (o Options) Validate() error {
	if o.MaxNodes < 0 {
		return apperr.InvalidConfig("max_nodes", "%d must be >= 0", o.MaxNodes)
	}
	if o.MaxHops < 0 {
		return apperr.InvalidConfig("max_hops", "%d must be >= 0", o.MaxHops)
	}
	if o.MaxNodes == 0 && o.MaxHops == 0 {
		return apperr.InvalidConfig("budget", "one of max_nodes or max_hops must be set")
	}
	if o.Strategy == Relations && len(o.Relations) == 0 {
		return apperr.InvalidConfig("relations", "relation strategy needs at least one relation")
	}
	return nil
}

func (o Options) traverse() graph.TraverseOptions {
	t := graph.TraverseOptions{Direction: o.Direction}
	if o.Strategy == Relations {
		t.Relations = o.Relations
	}
	return t
}

// Seed is an expansion starting point. Nodes discovered from a seed with a
// vector signal inherit its similarity; seeds without one score graph-only.
type Seed struct {
	ID         string
	Similarity float64
	HasVector  bool
}

// Result is the outcome of expanding one or more seeds.
type Result struct {
	// Candidates includes the seeds themselves at hop 0.
	Candidates      []scoring.RelevanceScore
	Edges           []*graph.Edge
	NodesVisited    int
	EdgesTraversed  int
	BudgetExhausted bool
}

// SeedError records the failure of a single seed's expansion.
type SeedError struct {
	SeedID string
	Err    error
}

func (e *SeedError) Error() string {
	return fmt.Sprintf("expand seed %q: %v", e.SeedID, e.Err)
}

func (e *SeedError) Unwrap() error { return e.Err }

// Engine runs expansions against a graph.
type Engine struct {
	graph  graph.Reader
	scorer *scoring.Scorer
	logger *slog.Logger
}

// New returns an Engine. A nil scorer uses the default weights and a nil
// logger discards output.
func New(g graph.Reader, s *scoring.Scorer, logger *slog.Logger) *Engine {
	if s == nil {
		s = scoring.Default()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{graph: g, scorer: s, logger: logger}
}

func (e *Engine) score(seed Seed, id string, hop int) scoring.RelevanceScore {
	if seed.HasVector {
		return e.scorer.Traversal(id, seed.Similarity, hop)
	}
	return e.scorer.GraphOnly(id, hop)
}

// ExpandSeed runs a breadth-first expansion from one seed with its own
// visited set. The budget is checked before every discovery; reaching it sets
// BudgetExhausted and returns what was found so far.
func (e *Engine) ExpandSeed(ctx context.Context, seed Seed, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if _, err := e.graph.GetNode(seed.ID); err != nil {
		return nil, err
	}

	trav := opts.traverse()
	res := &Result{Candidates: []scoring.RelevanceScore{e.score(seed, seed.ID, 0)}}

	type item struct {
		id  string
		hop int
	}
	visited := map[string]bool{seed.ID: true}
	queue := []item{{id: seed.ID}}
	discovered := 0

	for i := 0; i < len(queue); i++ {
		cur := queue[i]
		res.NodesVisited++

		steps, err := graph.Steps(e.graph, cur.id, trav)
		if err != nil {
			return nil, err
		}

		if opts.MaxHops > 0 && cur.hop >= opts.MaxHops {
			for _, s := range steps {
				if !visited[s.Next] {
					res.BudgetExhausted = true
					break
				}
			}
			continue
		}

		for _, s := range steps {
			res.EdgesTraversed++
			if visited[s.Next] {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if opts.MaxNodes > 0 && discovered >= opts.MaxNodes {
				res.BudgetExhausted = true
				return res, nil
			}
			visited[s.Next] = true
			discovered++
			res.Candidates = append(res.Candidates, e.score(seed, s.Next, cur.hop+1))
			res.Edges = append(res.Edges, s.Edge)
			queue = append(queue, item{id: s.Next, hop: cur.hop + 1})
		}
	}
	return res, nil
}

// Expand expands every seed concurrently, each with an independent visited
// set, and merges the results. A failing seed does not stop its siblings:
// the merged result of the survivors is returned together with a
// *multierror.Error of SeedErrors.
func (e *Engine) Expand(ctx context.Context, seeds []Seed, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	results := make([]*Result, len(seeds))
	errs := make([]error, len(seeds))

	limit := opts.Concurrency
	if limit <= 0 {
		limit = 4
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, seed := range seeds {
		g.Go(func() error {
			r, err := e.ExpandSeed(ctx, seed, opts)
			if err != nil {
				e.logger.Warn("seed expansion failed", "seed", seed.ID, "err", err)
				errs[i] = &SeedError{SeedID: seed.ID, Err: err}
				return nil
			}
			e.logger.Debug("seed expanded",
				"seed", seed.ID,
				"candidates", len(r.Candidates),
				"visited", r.NodesVisited,
				"exhausted", r.BudgetExhausted)
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()

	var merr *multierror.Error
	for _, err := range errs {
		if err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return Merge(results...), merr.ErrorOrNil()
}

// Merge unions results. A node discovered more than once keeps only its
// highest FinalScore; equal scores keep the first. Candidate order is the
// order of first discovery. Nil results are skipped.
func Merge(results ...*Result) *Result {
	out := &Result{}
	pos := make(map[string]int)
	seenEdge := make(map[string]bool)

	for _, r := range results {
		if r == nil {
			continue
		}
		out.NodesVisited += r.NodesVisited
		out.EdgesTraversed += r.EdgesTraversed
		out.BudgetExhausted = out.BudgetExhausted || r.BudgetExhausted

		for _, c := range r.Candidates {
			if i, ok := pos[c.NodeID]; ok {
				if c.FinalScore > out.Candidates[i].FinalScore {
					out.Candidates[i] = c
				}
				continue
			}
			pos[c.NodeID] = len(out.Candidates)
			out.Candidates = append(out.Candidates, c)
		}
		for _, edge := range r.Edges {
			if seenEdge[edge.ID] {
				continue
			}
			seenEdge[edge.ID] = true
			out.Edges = append(out.Edges, edge)
		}
	}
	return out
}
