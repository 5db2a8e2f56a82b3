// Package format renders a retrieval context for downstream consumers: a flat
// ranked list, a tree grouped by hop distance, a serializable record, and a
// token-budgeted compression for prompt assembly.
package format

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/lazypower/recall/internal/graph"
	"github.com/lazypower/recall/internal/retrieval"
	"github.com/lazypower/recall/internal/scoring"
)

// FlatEntry is one line of the flat rendering.
type FlatEntry struct {
	Rank    int            `json:"rank"`
	NodeID  string         `json:"node_id"`
	Kind    graph.NodeKind `json:"kind"`
	Content string         `json:"content"`
	Score   float64        `json:"score"`
}

// Flat lists the items in rank order, ranks starting at 1.
func Flat(c *retrieval.Context) []FlatEntry {
	out := make([]FlatEntry, len(c.Items))
	for i, it := range c.Items {
		out[i] = FlatEntry{
			Rank:    i + 1,
			NodeID:  it.Node.ID,
			Kind:    it.Node.Kind,
			Content: it.Node.Content,
			Score:   it.Score.FinalScore,
		}
	}
	return out
}

// RenderFlat writes one numbered line per item.
func RenderFlat(w io.Writer, c *retrieval.Context) error {
	for _, e := range Flat(c) {
		if _, err := fmt.Fprintf(w, "%d. [%.3f] (%s) %s\n", e.Rank, e.Score, e.Kind, oneLine(e.Content)); err != nil {
			return err
		}
	}
	if c.Truncated {
		if _, err := fmt.Fprintln(w, "(truncated)"); err != nil {
			return err
		}
	}
	return nil
}

// HopGroup holds the items found at one hop distance, in rank order.
type HopGroup struct {
	Hop   int              `json:"hop"`
	Items []retrieval.Item `json:"items"`
}

// Tree groups items by hop distance, nearest first.
func Tree(c *retrieval.Context) []HopGroup {
	byHop := make(map[int][]retrieval.Item)
	for _, it := range c.Items {
		byHop[it.Score.HopDistance] = append(byHop[it.Score.HopDistance], it)
	}
	groups := make([]HopGroup, 0, len(byHop))
	for hop, items := range byHop {
		groups = append(groups, HopGroup{Hop: hop, Items: items})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Hop < groups[j].Hop })
	return groups
}

// RenderTree writes the hop groups as markdown sections.
func RenderTree(w io.Writer, c *retrieval.Context) error {
	var b strings.Builder
	for i, g := range Tree(c) {
		if i > 0 {
			b.WriteByte('\n')
		}
		switch g.Hop {
		case 0:
			b.WriteString("## Direct matches\n")
		case 1:
			b.WriteString("## 1 hop\n")
		default:
			fmt.Fprintf(&b, "## %d hops\n", g.Hop)
		}
		for _, it := range g.Items {
			fmt.Fprintf(&b, "- %s (%.3f)\n", oneLine(it.Node.Content), it.Score.FinalScore)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// RecordItem is a node and its score in serializable form.
type RecordItem struct {
	ID      string                 `json:"id"`
	Kind    graph.NodeKind         `json:"kind"`
	Content string                 `json:"content"`
	Score   scoring.RelevanceScore `json:"score"`
}

// Record is the serializable form of a retrieval context.
type Record struct {
	Items     []RecordItem    `json:"items"`
	Edges     []*graph.Edge   `json:"edges"`
	Truncated bool            `json:"truncated"`
	Failures  []string        `json:"failures,omitempty"`
	Stats     retrieval.Stats `json:"stats"`
}

// ToRecord converts c into a Record. Failures are flattened to strings.
func ToRecord(c *retrieval.Context) Record {
	r := Record{
		Items:     make([]RecordItem, len(c.Items)),
		Edges:     c.Edges,
		Truncated: c.Truncated,
		Stats:     c.Stats,
	}
	if r.Edges == nil {
		r.Edges = []*graph.Edge{}
	}
	for i, it := range c.Items {
		r.Items[i] = RecordItem{ID: it.Node.ID, Kind: it.Node.Kind, Content: it.Node.Content, Score: it.Score}
	}
	for _, err := range c.Failures {
		r.Failures = append(r.Failures, err.Error())
	}
	return r
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
