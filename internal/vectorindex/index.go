// Package vectorindex is the boundary to the vector similarity collaborator.
//
// The retrieval core only depends on Index. Flat is a brute-force cosine
// implementation good enough for a single-process store.
package vectorindex

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/lazypower/recall/internal/apperr"
	"github.com/lazypower/recall/internal/graph"
	"github.com/viterin/vek"
)

// Hit is one search result. Similarity is in [0, 1].
type Hit struct {
	NodeID     string  `json:"node_id"`
	Similarity float64 `json:"similarity"`
}

// Filter narrows a search. Zero values disable each clause.
type Filter struct {
	Kinds         []graph.NodeKind `json:"kinds,omitempty"`
	MinSimilarity float64          `json:"min_similarity,omitempty"`
	Exclude       []string         `json:"exclude,omitempty"`
}

// Index is the vector search contract consumed by retrieval.
type Index interface {
	Search(ctx context.Context, query []float64, k int) ([]Hit, error)
	SearchWithFilter(ctx context.Context, query []float64, f Filter, k int) ([]Hit, error)
	Dimensions() int
}

// DimensionError reports a vector whose length differs from the index.
type DimensionError struct {
	Want, Got int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: index has %d, got %d", e.Want, e.Got)
}

func (e *DimensionError) Is(target error) bool { return target == apperr.ErrInvalidConfig }

type entry struct {
	kind graph.NodeKind
	vec  []float64
	norm float64
}

// Flat scans every stored vector on each query.
type Flat struct {
	mu      sync.RWMutex
	dims    int
	entries map[string]entry
}

// NewFlat returns an empty index for vectors of length dims.
func NewFlat(dims int) (*Flat, error) {
	if dims <= 0 {
		return nil, apperr.InvalidConfig("dimensions", "%d must be positive", dims)
	}
	return &Flat{dims: dims, entries: make(map[string]entry)}, nil
}

// Dimensions returns the configured vector length.
func (f *Flat) Dimensions() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dims
}

// Reset drops every stored vector and resizes the index to dims. It is used
// when the embedder's vector space changes.
func (f *Flat) Reset(dims int) error {
	if dims <= 0 {
		return apperr.InvalidConfig("dimensions", "%d must be positive", dims)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dims = dims
	f.entries = make(map[string]entry)
	return nil
}

// Add stores or replaces the vector for id.
func (f *Flat) Add(id string, kind graph.NodeKind, vec []float64) error {
	v := make([]float64, len(vec))
	copy(v, vec)

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(vec) != f.dims {
		return &DimensionError{Want: f.dims, Got: len(vec)}
	}
	f.entries[id] = entry{kind: kind, vec: v, norm: math.Sqrt(vek.Dot(v, v))}
	return nil
}

// Remove drops id. Unknown ids are ignored.
func (f *Flat) Remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, id)
}

// Len returns the number of stored vectors.
func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// Search returns the k most similar vectors.
func (f *Flat) Search(ctx context.Context, query []float64, k int) ([]Hit, error) {
	return f.SearchWithFilter(ctx, query, Filter{}, k)
}

// SearchWithFilter returns the k most similar vectors that pass filt, most
// similar first. Ties order by node id.
func (f *Flat) SearchWithFilter(ctx context.Context, query []float64, filt Filter, k int) ([]Hit, error) {
	if dims := f.Dimensions(); len(query) != dims {
		return nil, &DimensionError{Want: dims, Got: len(query)}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	qnorm := math.Sqrt(vek.Dot(query, query))
	if qnorm == 0 {
		return nil, nil
	}

	kinds := make(map[graph.NodeKind]bool, len(filt.Kinds))
	for _, kd := range filt.Kinds {
		kinds[kd] = true
	}
	exclude := make(map[string]bool, len(filt.Exclude))
	for _, id := range filt.Exclude {
		exclude[id] = true
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(query) != f.dims {
		return nil, &DimensionError{Want: f.dims, Got: len(query)}
	}

	h := &hitHeap{}
	for id, e := range f.entries {
		if e.norm == 0 || exclude[id] {
			continue
		}
		if len(kinds) > 0 && !kinds[e.kind] {
			continue
		}
		sim := vek.Dot(query, e.vec) / (qnorm * e.norm)
		if sim < 0 {
			sim = 0
		} else if sim > 1 {
			sim = 1
		}
		if sim < filt.MinSimilarity {
			continue
		}
		hit := Hit{NodeID: id, Similarity: sim}
		if h.Len() < k {
			heap.Push(h, hit)
		} else if better(hit, (*h)[0]) {
			(*h)[0] = hit
			heap.Fix(h, 0)
		}
	}

	hits := []Hit(*h)
	sort.Slice(hits, func(i, j int) bool { return better(hits[i], hits[j]) })
	return hits, nil
}

func better(a, b Hit) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	return a.NodeID < b.NodeID
}

// hitHeap is a min-heap on similarity holding the current top k.
type hitHeap []Hit

func (h hitHeap) Len() int           { return len(h) }
func (h hitHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h hitHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x any)        { *h = append(*h, x.(Hit)) }
func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
