package vectorindex

import (
	"context"
	"errors"
	"testing"

	"github.com/lazypower/recall/internal/apperr"
	"github.com/lazypower/recall/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIndex(t *testing.T) *Flat {
	t.Helper()
	idx, err := NewFlat(3)
	require.NoError(t, err)
	require.NoError(t, idx.Add("x", graph.KindEntity, []float64{1, 0, 0}))
	require.NoError(t, idx.Add("xy", graph.KindConcept, []float64{1, 1, 0}))
	require.NoError(t, idx.Add("y", graph.KindFact, []float64{0, 1, 0}))
	require.NoError(t, idx.Add("neg", graph.KindFact, []float64{-1, 0, 0}))
	return idx
}

func ids(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.NodeID
	}
	return out
}

func TestSearchOrdersBySimilarity(t *testing.T) {
	idx := testIndex(t)

	hits, err := idx.Search(context.Background(), []float64{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "xy", "neg"}, ids(hits), "zero similarity ties order by id")
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)
	assert.InDelta(t, 0.7071, hits[1].Similarity, 1e-3)
	assert.Zero(t, hits[2].Similarity)
}

func TestSearchWithFilter(t *testing.T) {
	idx := testIndex(t)
	ctx := context.Background()

	hits, err := idx.SearchWithFilter(ctx, []float64{1, 0, 0}, Filter{Kinds: []graph.NodeKind{graph.KindConcept, graph.KindFact}}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"xy", "neg", "y"}, ids(hits))

	hits, err = idx.SearchWithFilter(ctx, []float64{1, 0, 0}, Filter{MinSimilarity: 0.5, Exclude: []string{"x"}}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"xy"}, ids(hits))
}

func TestDimensionMismatch(t *testing.T) {
	idx := testIndex(t)

	_, err := idx.Search(context.Background(), []float64{1, 0}, 1)
	require.ErrorIs(t, err, apperr.ErrInvalidConfig)
	var de *DimensionError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 3, de.Want)
	assert.Equal(t, 2, de.Got)

	assert.ErrorIs(t, idx.Add("bad", graph.KindFact, []float64{1}), apperr.ErrInvalidConfig)
}

func TestReset(t *testing.T) {
	idx := testIndex(t)

	require.NoError(t, idx.Reset(2))
	assert.Equal(t, 0, idx.Len())
	assert.Equal(t, 2, idx.Dimensions())
	require.NoError(t, idx.Add("a", graph.KindFact, []float64{1, 0}))
	assert.ErrorIs(t, idx.Add("b", graph.KindFact, []float64{1, 0, 0}), apperr.ErrInvalidConfig)

	hits, err := idx.Search(context.Background(), []float64{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(hits))

	assert.ErrorIs(t, idx.Reset(0), apperr.ErrInvalidConfig)
}

func TestRemoveAndEmptyQueries(t *testing.T) {
	idx := testIndex(t)
	idx.Remove("x")
	assert.Equal(t, 3, idx.Len())

	hits, err := idx.Search(context.Background(), []float64{0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = idx.Search(context.Background(), []float64{1, 0, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = NewFlat(0)
	assert.ErrorIs(t, err, apperr.ErrInvalidConfig)
}

func TestSearchHonorsCancellation(t *testing.T) {
	idx := testIndex(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := idx.Search(ctx, []float64{1, 0, 0}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
