package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lazypower/recall/internal/apperr"
	"github.com/lazypower/recall/internal/graph"
	"github.com/lazypower/recall/internal/reasoning"
	"github.com/lazypower/recall/internal/retrieval"
	"github.com/lazypower/recall/internal/store"
	"github.com/lazypower/recall/internal/vectorindex"
)

// DecayInterval is how often StartDecayTimer re-applies access decay.
const DecayInterval = 24 * time.Hour

// Engine ties the persistent graph, the vector index, the embedder and the
// retrieval orchestrator together.
type Engine struct {
	DB        *store.DB
	Graph     *graph.Persistent
	Index     *vectorindex.Flat // nil when no embedder is configured
	Embedder  Embedder
	Retriever *retrieval.Orchestrator
	Reasoner  *reasoning.Reasoner

	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once

	// space is held exclusively while a refit changes the embedder's vector
	// space, and shared by anything that embeds and then uses the index.
	space     sync.RWMutex
	refreshMu sync.Mutex
	// fitted is the node count the embedder's vocabulary last saw.
	fitted atomic.Int64
}

// Options configure New.
type Options struct {
	Retrieval retrieval.Config
	Metrics   *retrieval.Metrics // may be nil
	Logger    *slog.Logger       // may be nil
}

// New loads the graph from db, builds a vector index sized for emb (when
// non-nil) from the vectors stored for its model, and wires the
// orchestrator.
func New(db *store.DB, emb Embedder, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	g, err := graph.NewPersistent(db)
	if err != nil {
		return nil, fmt.Errorf("load graph: %w", err)
	}

	e := &Engine{
		DB:       db,
		Graph:    g,
		Embedder: emb,
		Reasoner: reasoning.New(g),
		logger:   logger,
		stopCh:   make(chan struct{}),
	}

	// A nil *Flat must not reach the orchestrator as a non-nil interface.
	var idx vectorindex.Index
	if emb != nil {
		flat, err := vectorindex.NewFlat(emb.Dimensions())
		if err != nil {
			return nil, fmt.Errorf("create vector index: %w", err)
		}
		e.Index = flat
		idx = flat
		n, err := e.LoadIndex()
		if err != nil {
			return nil, err
		}
		logger.Info("vector index loaded", "model", emb.Model(), "vectors", n)

		if r := refitter(emb); r != nil {
			e.fitted.Store(int64(max(g.NodeCount(), r.Docs())))
		}
	}

	e.Retriever, err = retrieval.New(g, idx, opts.Retrieval, opts.Metrics, logger)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// LoadIndex adds every stored vector produced by the current embedder to the
// index. Vectors from other models are ignored until re-embedded.
func (e *Engine) LoadIndex() (int, error) {
	if e.Index == nil {
		return 0, nil
	}
	records, err := e.DB.VectorsForModel(e.Embedder.Model(), e.Embedder.Dimensions())
	if err != nil {
		return 0, fmt.Errorf("load vectors: %w", err)
	}
	for _, r := range records {
		if err := e.Index.Add(r.NodeID, r.Kind, r.Embedding); err != nil {
			return 0, fmt.Errorf("index vector for %s: %w", r.NodeID, err)
		}
	}
	return len(records), nil
}

// AddNode stores n and, when an embedder is configured, embeds it. A node
// added without an access score starts at 1.0, as if just accessed. An
// embedding failure is logged and leaves the node without a vector; a later
// EmbedMissing picks it up. Once the graph has outgrown a corpus-fitted
// vocabulary, the vocabulary is refreshed instead.
func (e *Engine) AddNode(ctx context.Context, n *graph.Node) error {
	if n != nil && n.AccessScore == 0 {
		n.AccessScore = 1.0
	}
	if err := e.Graph.AddNode(n); err != nil {
		return err
	}
	if e.vocabularyStale() {
		if _, err := e.RefreshVocabulary(ctx); err != nil {
			e.logger.Warn("refresh vocabulary failed", "node", n.ID, "err", err)
		}
		return nil
	}
	if err := e.EmbedNode(ctx, n); err != nil {
		e.logger.Warn("embed node failed", "node", n.ID, "err", err)
	}
	return nil
}

// AddEdge stores e, or updates the weight of the matching existing edge.
func (e *Engine) AddEdge(edge *graph.Edge) error {
	return e.Graph.AddEdge(edge)
}

// RemoveNode deletes a node from the graph and the index. Without cascade a
// node with incident edges is rejected.
func (e *Engine) RemoveNode(id string, cascade bool) error {
	var err error
	if cascade {
		err = e.Graph.RemoveNodeCascade(id)
	} else {
		err = e.Graph.RemoveNode(id)
	}
	if err != nil {
		return err
	}
	if e.Index != nil {
		e.Index.Remove(id)
	}
	return nil
}

// EmbedNode generates, stores and indexes an embedding for a single node.
// Nodes with empty content are skipped.
func (e *Engine) EmbedNode(ctx context.Context, n *graph.Node) error {
	if e.Embedder == nil || n.Content == "" {
		return nil
	}

	e.space.RLock()
	defer e.space.RUnlock()

	vec, err := e.Embedder.Embed(ctx, n.Content)
	if err != nil {
		return fmt.Errorf("embed node %s: %w", n.ID, err)
	}
	if err := e.DB.SaveVector(n.ID, vec, e.Embedder.Model()); err != nil {
		return apperr.Storage("save vector", err)
	}
	return e.Index.Add(n.ID, n.Kind, vec)
}

// EmbedMissing embeds every node that has no vector or whose vector came
// from a different model. Individual failures are logged and skipped.
func (e *Engine) EmbedMissing(ctx context.Context) (int, error) {
	if e.Embedder == nil {
		return 0, nil
	}

	embedded := 0
	for _, n := range e.Graph.Nodes() {
		if err := ctx.Err(); err != nil {
			return embedded, err
		}
		if n.Content == "" {
			continue
		}

		existing, err := e.DB.GetVector(n.ID)
		if err != nil {
			e.logger.Warn("embed missing: get vector", "node", n.ID, "err", err)
			continue
		}
		if existing != nil && existing.Model == e.Embedder.Model() {
			continue
		}

		if err := e.EmbedNode(ctx, n); err != nil {
			e.logger.Warn("embed missing", "err", err)
			continue
		}
		embedded++
	}

	return embedded, nil
}

// vocabularyStale reports whether the node count has grown by more than a
// quarter since a corpus-fitted embedder was last refitted.
func (e *Engine) vocabularyStale() bool {
	if refitter(e.Embedder) == nil {
		return false
	}
	fitted := e.fitted.Load()
	return int64(e.Graph.NodeCount()) > fitted+fitted/4
}

// RefreshVocabulary refits a corpus-fitted embedder to the content now in
// the graph. When the vocabulary changes, the index is emptied and resized
// and every node is re-embedded under the new model. Embedders with a fixed
// model are left alone. It returns how many nodes were re-embedded.
func (e *Engine) RefreshVocabulary(ctx context.Context) (int, error) {
	r := refitter(e.Embedder)
	if r == nil {
		return 0, nil
	}
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	nodes := e.Graph.Nodes()
	docs := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n.Content != "" {
			docs = append(docs, n.Content)
		}
	}

	e.space.Lock()
	changed := r.Refit(docs)
	if changed {
		if err := e.Index.Reset(e.Embedder.Dimensions()); err != nil {
			e.space.Unlock()
			return 0, err
		}
	}
	e.space.Unlock()
	e.fitted.Store(int64(len(nodes)))
	if !changed {
		return 0, nil
	}

	// Vectors already stored under the new model (a vocabulary seen before)
	// are reused.
	if _, err := e.LoadIndex(); err != nil {
		return 0, err
	}
	n, err := e.EmbedMissing(ctx)
	e.logger.Info("vocabulary refreshed", "model", e.Embedder.Model(),
		"dims", e.Embedder.Dimensions(), "docs", len(docs), "embedded", n)
	return n, err
}

// Retrieve runs a query against the orchestrator.
func (e *Engine) Retrieve(ctx context.Context, q retrieval.Query) (*retrieval.Context, error) {
	return e.Retriever.Retrieve(ctx, q)
}

// RetrieveText embeds text with the configured embedder and retrieves with
// the resulting vector. Other query fields are used as given.
func (e *Engine) RetrieveText(ctx context.Context, text string, q retrieval.Query) (*retrieval.Context, error) {
	if e.Embedder == nil {
		return nil, apperr.InvalidConfig("embedder", "text queries need an embedder")
	}
	e.space.RLock()
	defer e.space.RUnlock()

	vec, err := e.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, &retrieval.IndexError{Err: fmt.Errorf("embed query: %w", err)}
	}
	q.Vector = vec
	return e.Retriever.Retrieve(ctx, q)
}

// Stats summarizes what the engine holds.
type Stats struct {
	Nodes      int    `json:"nodes"`
	Edges      int    `json:"edges"`
	Vectors    int    `json:"vectors"`
	Indexed    int    `json:"indexed"`
	Unembedded int    `json:"unembedded"`
	Model      string `json:"model,omitempty"`
}

// Stats reports stored and indexed counts.
func (e *Engine) Stats() (Stats, error) {
	nodes, edges, vectors, err := e.DB.Counts()
	if err != nil {
		return Stats{}, apperr.Storage("counts", err)
	}
	missing, err := e.DB.NodeIDsWithoutVector()
	if err != nil {
		return Stats{}, apperr.Storage("nodes without vector", err)
	}
	s := Stats{Nodes: nodes, Edges: edges, Vectors: vectors, Unembedded: len(missing)}
	if e.Index != nil {
		s.Indexed = e.Index.Len()
		s.Model = e.Embedder.Model()
	}
	return s, nil
}

// ApplyDecay decays stored access scores as of now and mirrors the changes
// into the in-memory graph. Both steps run under the graph's write lock, so a
// concurrent Touch is never overwritten by a stale decayed score. It returns
// how many nodes changed.
func (e *Engine) ApplyDecay(now time.Time) (int, error) {
	var updates []store.ScoreUpdate
	err := e.Graph.Rescore(func(set func(string, float64)) error {
		var derr error
		updates, derr = e.DB.DecayAccessScores(now)
		for _, u := range updates {
			set(u.NodeID, u.Score)
		}
		return derr
	})
	if err != nil {
		return len(updates), apperr.Storage("decay access scores", err)
	}
	return len(updates), nil
}

// StartDecayTimer runs decay on startup and then every DecayInterval.
func (e *Engine) StartDecayTimer() {
	e.decay()

	go func() {
		ticker := time.NewTicker(DecayInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.decay()
			case <-e.stopCh:
				return
			}
		}
	}()
}

func (e *Engine) decay() {
	if updated, err := e.ApplyDecay(time.Now()); err != nil {
		e.logger.Error("decay failed", "err", err)
	} else if updated > 0 {
		e.logger.Info("decay applied", "nodes", updated)
	}
}

// Stop shuts down the engine's background goroutines. It is safe to call
// more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}
