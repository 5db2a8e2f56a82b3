package engine

import (
	"context"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of cached query embeddings.
const DefaultCacheSize = 1024

// CachedEmbedder memoizes another Embedder by exact text. Repeated queries
// (retries, pagination, the same question from several clients) skip the
// round trip to the embedding backend.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float64]

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedEmbedder wraps inner with an LRU of the given size.
func NewCachedEmbedder(inner Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []float64](size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

func (c *CachedEmbedder) Model() string   { return c.inner.Model() }
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Unwrap returns the wrapped embedder.
func (c *CachedEmbedder) Unwrap() Embedder { return c.inner }

// Embed returns a copy of the cached vector when present. Failed embeddings
// are not cached. Entries are keyed by model as well as text, so a refitted
// embedder never serves vectors from its previous vocabulary.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	key := c.inner.Model() + "\x00" + text
	if vec, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return append([]float64(nil), vec...), nil
	}
	c.misses.Add(1)

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, append([]float64(nil), vec...))
	return vec, nil
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// Stats returns a snapshot of the cache counters.
func (c *CachedEmbedder) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   c.cache.Len(),
	}
}
