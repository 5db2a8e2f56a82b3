package graph

import (
	"fmt"

	"github.com/lazypower/recall/internal/apperr"
)

// Persistent is a Memory store whose mutations are written through to a
// Backend before they are applied in memory. Reads never touch the backend.
type Persistent struct {
	*Memory
}

// NewPersistent loads every stored node and edge from b into a fresh arena and
// returns a store that persists subsequent mutations to b.
func NewPersistent(b Backend) (*Persistent, error) {
	m := NewMemory()

	nodes, err := b.LoadNodes()
	if err != nil {
		return nil, apperr.Storage("load nodes", err)
	}
	for _, n := range nodes {
		if err := m.AddNode(n); err != nil {
			return nil, fmt.Errorf("load node %q: %w", n.ID, err)
		}
	}

	edges, err := b.LoadEdges()
	if err != nil {
		return nil, apperr.Storage("load edges", err)
	}
	for _, e := range edges {
		if err := m.AddEdge(e); err != nil {
			return nil, fmt.Errorf("load edge %q: %w", e.ID, err)
		}
	}

	m.backend = b
	return &Persistent{Memory: m}, nil
}
