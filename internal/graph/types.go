// Package graph owns the node/edge model and the traversal primitives the
// retrieval engine is built on.
//
// Nodes and edges live in an arena keyed by id: a map from id to node record
// plus outgoing and incoming adjacency lists. Cycles need no special handling
// in the data model; traversals carry visited sets instead.
package graph

import (
	"math"
	"time"

	"github.com/lazypower/recall/internal/apperr"
)

// NodeKind is the closed set of node type tags.
type NodeKind string

const (
	KindEntity   NodeKind = "entity"
	KindConcept  NodeKind = "concept"
	KindFact     NodeKind = "fact"
	KindRawChunk NodeKind = "raw_chunk"
)

// Valid reports whether k is one of the known node kinds.
func (k NodeKind) Valid() bool {
	switch k {
	case KindEntity, KindConcept, KindFact, KindRawChunk:
		return true
	}
	return false
}

// Node is a unit of knowledge.
type Node struct {
	ID          string            `json:"id"`
	Kind        NodeKind          `json:"kind"`
	Content     string            `json:"content"`
	AccessScore float64           `json:"access_score"` // >= 0, decayed externally
	CreatedAt   time.Time         `json:"created_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.Metadata != nil {
		c.Metadata = make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Label is the human-facing name of a node: its content, or its id when the
// content is empty.
func (n *Node) Label() string {
	if n.Content != "" {
		return n.Content
	}
	return n.ID
}

// Relation tags an edge. The known relations form a closed set; any other
// non-empty identifier is a custom relation.
type Relation string

const (
	RelatedTo     Relation = "related_to"
	Causes        Relation = "causes"
	IsA           Relation = "is_a"
	IsPartOf      Relation = "is_part_of"
	HappenedAfter Relation = "happened_after"
	SimilarTo     Relation = "similar_to"
	Contradicts   Relation = "contradicts"
	Supports      Relation = "supports"
	DerivedFrom   Relation = "derived_from"
	Mentions      Relation = "mentions"
)

var relationPhrases = map[Relation]string{
	RelatedTo:     "is related to",
	Causes:        "causes",
	IsA:           "is a",
	IsPartOf:      "is part of",
	HappenedAfter: "happened after",
	SimilarTo:     "is similar to",
	Contradicts:   "contradicts",
	Supports:      "supports",
	DerivedFrom:   "is derived from",
	Mentions:      "mentions",
}

// Custom returns a custom relation with the given identifier.
func Custom(name string) Relation { return Relation(name) }

// IsCustom reports whether r is outside the known set.
func (r Relation) IsCustom() bool {
	_, ok := relationPhrases[r]
	return !ok
}

// Symmetric reports whether r reads the same in both directions.
func (r Relation) Symmetric() bool {
	switch r {
	case SimilarTo, RelatedTo, Contradicts:
		return true
	}
	return false
}

// Hierarchical reports whether r places its endpoints in a hierarchy.
func (r Relation) Hierarchical() bool {
	return r == IsA || r == IsPartOf
}

// Phrase renders r for explanations. Custom relations render their raw
// identifier.
func (r Relation) Phrase() string {
	if p, ok := relationPhrases[r]; ok {
		return p
	}
	return string(r)
}

// Edge is a directed, weighted relation between two nodes.
type Edge struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	Relation  Relation  `json:"relation"`
	Weight    float64   `json:"weight"` // [0, 1]
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a copy of e.
func (e *Edge) Clone() *Edge {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// Other returns the endpoint of e that is not id.
func (e *Edge) Other(id string) string {
	if e.Source == id {
		return e.Target
	}
	return e.Source
}

func validateEdge(e *Edge) error {
	if e.Source == "" || e.Target == "" {
		return apperr.InvalidConfig("edge", "source and target are required")
	}
	if e.Source == e.Target {
		return ErrSelfLoop
	}
	if e.Relation == "" {
		return apperr.InvalidConfig("relation", "must not be empty")
	}
	if math.IsNaN(e.Weight) || e.Weight < 0 || e.Weight > 1 {
		return apperr.InvalidConfig("weight", "%v outside [0, 1]", e.Weight)
	}
	return nil
}

// Direction selects which adjacency lists an operation reads.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
	Both
)

func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "outgoing"
	case Incoming:
		return "incoming"
	default:
		return "both"
	}
}

// ParseDirection parses "outgoing", "incoming" or "both". The empty string
// means both.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "outgoing", "out":
		return Outgoing, nil
	case "incoming", "in":
		return Incoming, nil
	case "both", "":
		return Both, nil
	}
	return Both, apperr.InvalidConfig("direction", "unknown direction %q", s)
}
