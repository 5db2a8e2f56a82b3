// Package reasoning explains how two nodes are connected: it finds a path,
// classifies the relations along it and scores how much to trust it.
package reasoning

import (
	"sort"
	"strings"

	"github.com/lazypower/recall/internal/graph"
)

// PathType classifies the relations along a path.
type PathType string

const (
	Causal       PathType = "causal"
	Hierarchical PathType = "hierarchical"
	Temporal     PathType = "temporal"
	Associative  PathType = "associative"
	Hybrid       PathType = "hybrid"
)

// maxLabel bounds node text inside explanations.
const maxLabel = 80

// Path is an explained chain of nodes. Edges may be shorter than the number of
// consecutive node pairs when a pair has no stored edge between them.
type Path struct {
	Nodes       []*graph.Node `json:"nodes"`
	Edges       []*graph.Edge `json:"edges"`
	Type        PathType      `json:"type"`
	Confidence  float64       `json:"confidence"`
	Explanation string        `json:"explanation"`
}

// Reasoner builds paths over a graph.
type Reasoner struct {
	graph graph.Reader
}

// New returns a Reasoner over g.
func New(g graph.Reader) *Reasoner {
	return &Reasoner{graph: g}
}

var traverse = graph.TraverseOptions{Direction: graph.Outgoing}

// Explain finds the shortest path from -> to of at most maxHops edges and
// explains it. It returns nil, nil when no such path exists.
func (r *Reasoner) Explain(from, to string, maxHops int) (*Path, error) {
	ids, err := graph.ShortestPath(r.graph, from, to, maxHops, traverse)
	if err != nil || ids == nil {
		return nil, err
	}
	return r.build(ids)
}

// AllPaths explains every simple path from -> to of at most maxDepth edges,
// most confident first. Cost grows combinatorially with maxDepth.
func (r *Reasoner) AllPaths(from, to string, maxDepth int) ([]*Path, error) {
	all, err := graph.SimplePaths(r.graph, from, to, maxDepth, traverse)
	if err != nil {
		return nil, err
	}
	paths := make([]*Path, 0, len(all))
	for _, ids := range all {
		p, err := r.build(ids)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	sort.SliceStable(paths, func(i, j int) bool { return paths[i].Confidence > paths[j].Confidence })
	return paths, nil
}

func (r *Reasoner) build(ids []string) (*Path, error) {
	p := &Path{Nodes: make([]*graph.Node, 0, len(ids))}
	for _, id := range ids {
		n, err := r.graph.GetNode(id)
		if err != nil {
			return nil, err
		}
		p.Nodes = append(p.Nodes, n)
	}
	for i := 0; i+1 < len(ids); i++ {
		e, err := r.connecting(ids[i], ids[i+1])
		if err != nil {
			return nil, err
		}
		if e != nil {
			p.Edges = append(p.Edges, e)
		}
	}
	p.Type = Classify(p.Edges)
	p.Confidence = Confidence(p.Edges)
	p.Explanation = Explanation(p.Nodes, p.Edges)
	return p, nil
}

// connecting picks the edge joining a to b: a->b first, then a symmetric
// b->a, then any b->a. It returns nil when the pair has no edge.
func (r *Reasoner) connecting(a, b string) (*graph.Edge, error) {
	out, err := r.graph.Edges(a, graph.Outgoing)
	if err != nil {
		return nil, err
	}
	for _, e := range out {
		if e.Target == b {
			return e, nil
		}
	}
	back, err := r.graph.Edges(b, graph.Outgoing)
	if err != nil {
		return nil, err
	}
	var fallback *graph.Edge
	for _, e := range back {
		if e.Target != a {
			continue
		}
		if e.Relation.Symmetric() {
			return e, nil
		}
		if fallback == nil {
			fallback = e
		}
	}
	return fallback, nil
}

// Classify names the relational character of a chain of edges.
func Classify(edges []*graph.Edge) PathType {
	if len(edges) == 0 {
		return Associative
	}
	all := func(pred func(graph.Relation) bool) bool {
		for _, e := range edges {
			if !pred(e.Relation) {
				return false
			}
		}
		return true
	}
	switch {
	case all(func(r graph.Relation) bool { return r == graph.Causes }):
		return Causal
	case all(graph.Relation.Hierarchical):
		return Hierarchical
	case all(func(r graph.Relation) bool { return r == graph.HappenedAfter }):
		return Temporal
	}
	return Hybrid
}

// Confidence is the product of the edge weights; 1 for no edges.
func Confidence(edges []*graph.Edge) float64 {
	c := 1.0
	for _, e := range edges {
		c *= e.Weight
	}
	return c
}

// Explanation renders "A causes B, which is a C". Pairs without an edge read
// "is connected to".
func Explanation(nodes []*graph.Node, edges []*graph.Edge) string {
	if len(nodes) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(label(nodes[0]))
	for i := 1; i < len(nodes); i++ {
		if i > 1 {
			b.WriteString(", which ")
		} else {
			b.WriteByte(' ')
		}
		b.WriteString(phrase(edges, nodes[i-1].ID, nodes[i].ID))
		b.WriteByte(' ')
		b.WriteString(label(nodes[i]))
	}
	return b.String()
}

func phrase(edges []*graph.Edge, a, b string) string {
	for _, e := range edges {
		if (e.Source == a && e.Target == b) || (e.Source == b && e.Target == a) {
			return e.Relation.Phrase()
		}
	}
	return "is connected to"
}

func label(n *graph.Node) string {
	s := strings.Join(strings.Fields(n.Label()), " ")
	if r := []rune(s); len(r) > maxLabel {
		return string(r[:maxLabel-3]) + "..."
	}
	return s
}
