package graph

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lazypower/recall/internal/apperr"
)

var (
	// ErrSelfLoop rejects edges whose source equals their target.
	ErrSelfLoop = fmt.Errorf("%w: self-referential edge", apperr.ErrInvalidConfig)

	// ErrNodeHasEdges rejects RemoveNode on a node that still has incident
	// edges. Use RemoveNodeCascade to drop them together.
	ErrNodeHasEdges = errors.New("node has incident edges")
)

// Reader is the read-only subset of Store that traversal needs.
type Reader interface {
	GetNode(id string) (*Node, error)
	Neighbors(id string, dir Direction) ([]string, error)
	Edges(id string, dir Direction) ([]*Edge, error)
}

// Store is the Graph Store contract. Memory and Persistent implement it.
type Store interface {
	Reader
	GetEdge(id string) (*Edge, error)
	Nodes() []*Node
	AddNode(n *Node) error
	AddEdge(e *Edge) error
	RemoveNode(id string) error
	RemoveNodeCascade(id string) error
	RemoveEdge(id string) error
	Touch(id string) error
	NodeCount() int
	EdgeCount() int
}

// Backend persists graph mutations. store.DB implements it.
type Backend interface {
	SaveNode(n *Node) error
	SaveEdge(e *Edge) error
	DeleteNode(id string) error // also deletes incident edges
	DeleteEdge(id string) error
	TouchNode(id string) error
	LoadNodes() ([]*Node, error)
	LoadEdges() ([]*Edge, error)
}

// Memory is the in-memory arena store. All methods are safe for concurrent
// use: writers take an exclusive lock for the duration of one mutation,
// readers share a read lock and receive copies.
type Memory struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	edges map[string]*Edge
	out   map[string][]*Edge
	in    map[string][]*Edge

	// backend, when set, receives every mutation before it is applied.
	backend Backend
	now     func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		nodes: make(map[string]*Node),
		edges: make(map[string]*Edge),
		out:   make(map[string][]*Edge),
		in:    make(map[string][]*Edge),
		now:   time.Now,
	}
}

// AddNode inserts n. An empty ID is replaced with a fresh uuid and a zero
// CreatedAt with the current time; both are written back to n.
func (m *Memory) AddNode(n *Node) error {
	if n == nil {
		return apperr.InvalidConfig("node", "nil node")
	}
	if !n.Kind.Valid() {
		return apperr.InvalidConfig("kind", "unknown node kind %q", n.Kind)
	}
	if math.IsNaN(n.AccessScore) || n.AccessScore < 0 {
		return apperr.InvalidConfig("access_score", "%v must be >= 0", n.AccessScore)
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.nodes[n.ID]; exists {
		return fmt.Errorf("add node %q: %w", n.ID, apperr.ErrDuplicate)
	}
	stored := n.Clone()
	if m.backend != nil {
		if err := m.backend.SaveNode(stored); err != nil {
			return apperr.Storage("save node", err)
		}
	}
	m.nodes[n.ID] = stored
	return nil
}

// AddEdge inserts e, or updates the weight of the existing edge with the same
// source, target and relation. e.ID is set to the stored edge's id.
func (m *Memory) AddEdge(e *Edge) error {
	if e == nil {
		return apperr.InvalidConfig("edge", "nil edge")
	}
	if err := validateEdge(e); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[e.Source]; !ok {
		return apperr.NodeNotFound(e.Source)
	}
	if _, ok := m.nodes[e.Target]; !ok {
		return apperr.NodeNotFound(e.Target)
	}

	for _, existing := range m.out[e.Source] {
		if existing.Target == e.Target && existing.Relation == e.Relation {
			updated := existing.Clone()
			updated.Weight = e.Weight
			if m.backend != nil {
				if err := m.backend.SaveEdge(updated); err != nil {
					return apperr.Storage("save edge", err)
				}
			}
			existing.Weight = e.Weight
			e.ID = existing.ID
			e.CreatedAt = existing.CreatedAt
			return nil
		}
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if _, exists := m.edges[e.ID]; exists {
		return fmt.Errorf("add edge %q: %w", e.ID, apperr.ErrDuplicate)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now()
	}
	stored := e.Clone()
	if m.backend != nil {
		if err := m.backend.SaveEdge(stored); err != nil {
			return apperr.Storage("save edge", err)
		}
	}
	m.edges[stored.ID] = stored
	m.out[stored.Source] = append(m.out[stored.Source], stored)
	m.in[stored.Target] = append(m.in[stored.Target], stored)
	return nil
}

// GetNode returns a copy of the node with the given id.
func (m *Memory) GetNode(id string) (*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.nodes[id]
	if !ok {
		return nil, apperr.NodeNotFound(id)
	}
	return n.Clone(), nil
}

// GetEdge returns a copy of the edge with the given id.
func (m *Memory) GetEdge(id string) (*Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.edges[id]
	if !ok {
		return nil, apperr.EdgeNotFound(id)
	}
	return e.Clone(), nil
}

// Nodes returns copies of every node, in no particular order.
func (m *Memory) Nodes() []*Node {
	m.mu.RLock()
	defer m.mu.RUnlock()

	nodes := make([]*Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		nodes = append(nodes, n.Clone())
	}
	return nodes
}

// RemoveNode deletes a node that has no incident edges.
func (m *Memory) RemoveNode(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[id]; !ok {
		return apperr.NodeNotFound(id)
	}
	if len(m.out[id]) > 0 || len(m.in[id]) > 0 {
		return fmt.Errorf("remove node %q: %w (%d outgoing, %d incoming)",
			id, ErrNodeHasEdges, len(m.out[id]), len(m.in[id]))
	}
	if m.backend != nil {
		if err := m.backend.DeleteNode(id); err != nil {
			return apperr.Storage("delete node", err)
		}
	}
	delete(m.nodes, id)
	delete(m.out, id)
	delete(m.in, id)
	return nil
}

// RemoveNodeCascade deletes a node together with every incident edge.
func (m *Memory) RemoveNodeCascade(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[id]; !ok {
		return apperr.NodeNotFound(id)
	}
	if m.backend != nil {
		if err := m.backend.DeleteNode(id); err != nil {
			return apperr.Storage("delete node", err)
		}
	}

	incident := make([]*Edge, 0, len(m.out[id])+len(m.in[id]))
	incident = append(incident, m.out[id]...)
	incident = append(incident, m.in[id]...)
	for _, e := range incident {
		m.unlinkEdge(e)
	}
	delete(m.nodes, id)
	delete(m.out, id)
	delete(m.in, id)
	return nil
}

// RemoveEdge deletes a single edge.
func (m *Memory) RemoveEdge(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.edges[id]
	if !ok {
		return apperr.EdgeNotFound(id)
	}
	if m.backend != nil {
		if err := m.backend.DeleteEdge(id); err != nil {
			return apperr.Storage("delete edge", err)
		}
	}
	m.unlinkEdge(e)
	return nil
}

// unlinkEdge removes e from every index. Caller holds the write lock.
func (m *Memory) unlinkEdge(e *Edge) {
	delete(m.edges, e.ID)
	m.out[e.Source] = removeEdge(m.out[e.Source], e.ID)
	m.in[e.Target] = removeEdge(m.in[e.Target], e.ID)
}

func removeEdge(list []*Edge, id string) []*Edge {
	for i, e := range list {
		if e.ID == id {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// Touch refreshes a node's access score to 1.0 (retrieval boost).
func (m *Memory) Touch(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[id]
	if !ok {
		return apperr.NodeNotFound(id)
	}
	if m.backend != nil {
		if err := m.backend.TouchNode(id); err != nil {
			return apperr.Storage("touch node", err)
		}
	}
	n.AccessScore = 1.0
	return nil
}

// SetAccessScore overwrites a node's access score. It is the entry point for
// the external decay collaborator and is not persisted.
func (m *Memory) SetAccessScore(id string, score float64) error {
	if math.IsNaN(score) || score < 0 {
		return apperr.InvalidConfig("access_score", "%v must be >= 0", score)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[id]
	if !ok {
		return apperr.NodeNotFound(id)
	}
	n.AccessScore = score
	return nil
}

// Rescore runs fn with the store's write lock held. set overwrites the
// in-memory access score of a node and ignores unknown ids and invalid
// scores. A backend-side rescore done inside fn cannot interleave with Touch,
// so a touch either lands before it (and is decayed) or after it (and wins).
func (m *Memory) Rescore(fn func(set func(id string, score float64)) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return fn(func(id string, score float64) {
		if math.IsNaN(score) || score < 0 {
			return
		}
		if n, ok := m.nodes[id]; ok {
			n.AccessScore = score
		}
	})
}

// Neighbors returns the ids adjacent to id in the given direction, each once,
// in adjacency order.
func (m *Memory) Neighbors(id string, dir Direction) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.nodes[id]; !ok {
		return nil, apperr.NodeNotFound(id)
	}

	seen := make(map[string]bool)
	var ids []string
	for _, e := range m.edgesLocked(id, dir) {
		other := e.Other(id)
		if !seen[other] {
			seen[other] = true
			ids = append(ids, other)
		}
	}
	return ids, nil
}

// Edges returns copies of the edges incident to id in the given direction.
func (m *Memory) Edges(id string, dir Direction) ([]*Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.nodes[id]; !ok {
		return nil, apperr.NodeNotFound(id)
	}

	edges := m.edgesLocked(id, dir)
	out := make([]*Edge, len(edges))
	for i, e := range edges {
		out[i] = e.Clone()
	}
	return out, nil
}

func (m *Memory) edgesLocked(id string, dir Direction) []*Edge {
	switch dir {
	case Outgoing:
		return m.out[id]
	case Incoming:
		return m.in[id]
	default:
		edges := make([]*Edge, 0, len(m.out[id])+len(m.in[id]))
		edges = append(edges, m.out[id]...)
		return append(edges, m.in[id]...)
	}
}

// NodeCount returns the number of nodes.
func (m *Memory) NodeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}

// EdgeCount returns the number of edges.
func (m *Memory) EdgeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.edges)
}
