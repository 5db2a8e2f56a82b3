package graph

import (
	"errors"
	"sort"
	"strings"

	"github.com/lazypower/recall/internal/apperr"
)

// TraverseOptions restricts which edges a traversal may follow.
//
// Direction is symmetry-aware: Outgoing follows out-edges plus in-edges whose
// relation is symmetric, Incoming mirrors that, Both follows everything.
// An empty Relations set allows every relation.
type TraverseOptions struct {
	Direction Direction
	Relations []Relation
}

func (o TraverseOptions) allows(r Relation) bool {
	if len(o.Relations) == 0 {
		return true
	}
	for _, allowed := range o.Relations {
		if allowed == r {
			return true
		}
	}
	return false
}

// Step is one traversable edge out of a node.
type Step struct {
	Edge *Edge
	Next string
}

// Steps lists the edges a traversal at id may follow under opts.
func Steps(r Reader, id string, opts TraverseOptions) ([]Step, error) {
	edges, err := r.Edges(id, Both)
	if err != nil {
		return nil, wrapTraversal("steps", id, err)
	}

	steps := make([]Step, 0, len(edges))
	for _, e := range edges {
		if !opts.allows(e.Relation) {
			continue
		}
		forward := e.Source == id
		switch opts.Direction {
		case Outgoing:
			if !forward && !e.Relation.Symmetric() {
				continue
			}
		case Incoming:
			if forward && !e.Relation.Symmetric() {
				continue
			}
		}
		steps = append(steps, Step{Edge: e, Next: e.Other(id)})
	}
	return steps, nil
}

// wrapTraversal passes NotFound through unchanged and wraps anything else as
// a TraversalError.
func wrapTraversal(op, id string, err error) error {
	if err == nil || errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	var te *apperr.TraversalError
	if errors.As(err, &te) {
		return err
	}
	return &apperr.TraversalError{Op: op, NodeID: id, Err: err}
}

// Visit is one node reached by a traversal.
type Visit struct {
	ID     string
	Hop    int
	Parent string // empty for the start node
	Via    *Edge  // edge from Parent, nil for the start node
}

// BFS explores outward from start up to depth hops and returns every
// discovered node, start included at hop 0, each exactly once at its minimum
// hop distance. A single visited set makes it terminate on cyclic graphs.
func BFS(r Reader, start string, depth int, opts TraverseOptions) ([]Visit, error) {
	if _, err := r.GetNode(start); err != nil {
		return nil, wrapTraversal("bfs", start, err)
	}
	if depth < 0 {
		depth = 0
	}

	visits := []Visit{{ID: start}}
	visited := map[string]bool{start: true}

	for i := 0; i < len(visits); i++ {
		cur := visits[i]
		if cur.Hop >= depth {
			continue
		}
		steps, err := Steps(r, cur.ID, opts)
		if err != nil {
			return nil, err
		}
		for _, s := range steps {
			if visited[s.Next] {
				continue
			}
			visited[s.Next] = true
			visits = append(visits, Visit{ID: s.Next, Hop: cur.Hop + 1, Parent: cur.ID, Via: s.Edge})
		}
	}
	return visits, nil
}

// ShortestPath returns the node ids of a minimum-hop path from -> to that uses
// at most maxHops edges, or nil if none exists within the bound. Edge weights
// are ignored.
func ShortestPath(r Reader, from, to string, maxHops int, opts TraverseOptions) ([]string, error) {
	if _, err := r.GetNode(from); err != nil {
		return nil, wrapTraversal("shortest path", from, err)
	}
	if _, err := r.GetNode(to); err != nil {
		return nil, wrapTraversal("shortest path", to, err)
	}
	if from == to {
		return []string{from}, nil
	}

	parent := map[string]string{from: ""}
	frontier := []string{from}
	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			steps, err := Steps(r, id, opts)
			if err != nil {
				return nil, err
			}
			for _, s := range steps {
				if _, seen := parent[s.Next]; seen {
					continue
				}
				parent[s.Next] = id
				if s.Next == to {
					return backtrack(parent, from, to), nil
				}
				next = append(next, s.Next)
			}
		}
		frontier = next
	}
	return nil, nil
}

func backtrack(parent map[string]string, from, to string) []string {
	var path []string
	for cur := to; cur != from; cur = parent[cur] {
		path = append(path, cur)
	}
	path = append(path, from)
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// SimplePaths enumerates every simple path from -> to with at most maxDepth
// edges, shortest first.
//
// The search is an explicit work stack whose entries each carry their own
// path-local visited set, so different branches may pass through the same
// node. There is no global visit cap: the number of paths can grow
// combinatorially with maxDepth, and maxDepth is the only bound on cost.
// Parallel edges that yield the same node sequence are reported once.
func SimplePaths(r Reader, from, to string, maxDepth int, opts TraverseOptions) ([][]string, error) {
	if _, err := r.GetNode(from); err != nil {
		return nil, wrapTraversal("simple paths", from, err)
	}
	if _, err := r.GetNode(to); err != nil {
		return nil, wrapTraversal("simple paths", to, err)
	}

	type frame struct {
		path    []string
		visited map[string]bool
	}

	paths := [][]string{}
	found := make(map[string]bool)
	stack := []frame{{path: []string{from}, visited: map[string]bool{from: true}}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		last := f.path[len(f.path)-1]
		if last == to {
			key := strings.Join(f.path, "\x00")
			if !found[key] {
				found[key] = true
				paths = append(paths, f.path)
			}
			continue
		}
		if len(f.path)-1 >= maxDepth {
			continue
		}

		steps, err := Steps(r, last, opts)
		if err != nil {
			return nil, err
		}
		// Push in reverse so the first adjacency is explored first.
		for i := len(steps) - 1; i >= 0; i-- {
			next := steps[i].Next
			if f.visited[next] {
				continue
			}
			path := make([]string, len(f.path), len(f.path)+1)
			copy(path, f.path)
			visited := make(map[string]bool, len(f.visited)+1)
			for id := range f.visited {
				visited[id] = true
			}
			visited[next] = true
			stack = append(stack, frame{path: append(path, next), visited: visited})
		}
	}

	sort.SliceStable(paths, func(i, j int) bool { return len(paths[i]) < len(paths[j]) })
	return paths, nil
}

// Subgraph is the neighborhood extracted around a set of seeds.
type Subgraph struct {
	Nodes []*Node        `json:"nodes"`
	Edges []*Edge        `json:"edges"`
	// Hops maps each node id to its minimum hop distance from any seed.
	Hops  map[string]int `json:"hops"`
}

// ExtractSubgraph returns the union of the nodes within radius hops of any
// seed, each once, plus every edge incident to a seed.
func ExtractSubgraph(r Reader, seeds []string, radius int, opts TraverseOptions) (*Subgraph, error) {
	sg := &Subgraph{Hops: make(map[string]int)}
	var order []string

	for _, seed := range seeds {
		visits, err := BFS(r, seed, radius, opts)
		if err != nil {
			return nil, err
		}
		for _, v := range visits {
			hop, seen := sg.Hops[v.ID]
			if !seen {
				order = append(order, v.ID)
				sg.Hops[v.ID] = v.Hop
			} else if v.Hop < hop {
				sg.Hops[v.ID] = v.Hop
			}
		}
	}

	for _, id := range order {
		n, err := r.GetNode(id)
		if err != nil {
			return nil, wrapTraversal("subgraph", id, err)
		}
		sg.Nodes = append(sg.Nodes, n)
	}

	seenEdge := make(map[string]bool)
	for _, seed := range seeds {
		edges, err := r.Edges(seed, Both)
		if err != nil {
			return nil, wrapTraversal("subgraph", seed, err)
		}
		for _, e := range edges {
			if seenEdge[e.ID] {
				continue
			}
			seenEdge[e.ID] = true
			sg.Edges = append(sg.Edges, e)
		}
	}
	return sg, nil
}
