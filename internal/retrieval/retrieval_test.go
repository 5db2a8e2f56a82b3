package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/recall/internal/apperr"
	"github.com/lazypower/recall/internal/expansion"
	"github.com/lazypower/recall/internal/graph"
	"github.com/lazypower/recall/internal/vectorindex"
)

// fixture:
//
//	lang -is_a-> concept
//	goroutine -is_part_of-> lang
//	channel -is_part_of-> lang
//	goroutine -related_to-> channel
//	island (no edges)
type fixture struct {
	g   *graph.Memory
	idx *vectorindex.Flat
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	g := graph.NewMemory()
	idx, err := vectorindex.NewFlat(2)
	require.NoError(t, err)

	add := func(id, content string, vec []float64) {
		require.NoError(t, g.AddNode(&graph.Node{ID: id, Kind: graph.KindConcept, Content: content}))
		if vec != nil {
			require.NoError(t, idx.Add(id, graph.KindConcept, vec))
		}
	}
	add("lang", "Go is a compiled language", []float64{1, 0})
	add("concept", "programming language", nil)
	add("goroutine", "goroutines are lightweight threads", []float64{0.6, 0.8})
	add("channel", "channels pass values between goroutines", []float64{0, 1})
	add("island", "unrelated", nil)

	link := func(from, to string, rel graph.Relation, w float64) {
		require.NoError(t, g.AddEdge(&graph.Edge{Source: from, Target: to, Relation: rel, Weight: w}))
	}
	link("lang", "concept", graph.IsA, 0.9)
	link("goroutine", "lang", graph.IsPartOf, 0.8)
	link("channel", "lang", graph.IsPartOf, 0.8)
	link("goroutine", "channel", graph.RelatedTo, 0.7)

	return &fixture{g: g, idx: idx}
}

func (f *fixture) orchestrator(t *testing.T, cfg Config, idx vectorindex.Index) *Orchestrator {
	t.Helper()
	o, err := New(f.g, idx, cfg, nil, nil)
	require.NoError(t, err)
	return o
}

func itemIDs(c *Context) []string {
	out := make([]string, len(c.Items))
	for i, it := range c.Items {
		out[i] = it.Node.ID
	}
	return out
}

func assertUniqueSorted(t *testing.T, c *Context) {
	t.Helper()
	seen := map[string]bool{}
	for i, it := range c.Items {
		assert.False(t, seen[it.Node.ID], "duplicate %s", it.Node.ID)
		seen[it.Node.ID] = true
		if i > 0 {
			assert.GreaterOrEqual(t, c.Items[i-1].Score.FinalScore, it.Score.FinalScore)
		}
	}
}

type failingIndex struct{ err error }

func (f failingIndex) Search(ctx context.Context, q []float64, k int) ([]vectorindex.Hit, error) {
	return nil, f.err
}

func (f failingIndex) SearchWithFilter(ctx context.Context, q []float64, _ vectorindex.Filter, k int) ([]vectorindex.Hit, error) {
	return nil, f.err
}

func (f failingIndex) Dimensions() int { return 2 }

func TestVectorModeDoesNotExpand(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, DefaultConfig(), f.idx)

	c, err := o.Retrieve(context.Background(), Query{Vector: []float64{1, 0}, Mode: ModeVector, K: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"lang", "goroutine"}, itemIDs(c))
	assert.Equal(t, 0, c.Items[0].Score.HopDistance)
	assert.InDelta(t, 0.6*1+0.4, c.Items[0].Score.FinalScore, 1e-9)
	assert.Empty(t, c.Edges)
	assert.Zero(t, c.Stats.NodesVisited)
}

func TestGraphModeScoresWithoutVector(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, DefaultConfig(), nil)

	c, err := o.Retrieve(context.Background(), Query{SeedIDs: []string{"goroutine"}, Mode: ModeGraph})
	require.NoError(t, err)
	assertUniqueSorted(t, c)

	assert.Equal(t, "goroutine", c.Items[0].Node.ID)
	for _, it := range c.Items {
		assert.Zero(t, it.Score.VectorSimilarity)
	}
	assert.ElementsMatch(t, []string{"goroutine", "lang", "channel", "concept"}, itemIDs(c))
	assert.NotEmpty(t, c.Edges)
}

func TestGraphModeRecordsMissingSeed(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, DefaultConfig(), nil)

	c, err := o.Retrieve(context.Background(), Query{SeedIDs: []string{"lang", "ghost"}, Mode: ModeGraph})
	require.NoError(t, err)
	require.Len(t, c.Failures, 1)
	assert.ErrorIs(t, c.Failures[0], apperr.ErrNotFound)

	var se *expansion.SeedError
	require.True(t, errors.As(c.Failures[0], &se))
	assert.Equal(t, "ghost", se.SeedID)
	assert.Contains(t, itemIDs(c), "lang")
}

func TestHybridDedupKeepsHighestScore(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, DefaultConfig(), f.idx)

	// lang is both a direct vector hit and one hop from the explicit seed.
	c, err := o.Retrieve(context.Background(), Query{
		Vector:  []float64{1, 0},
		K:       1,
		SeedIDs: []string{"channel"},
		Mode:    ModeHybrid,
	})
	require.NoError(t, err)
	assertUniqueSorted(t, c)

	require.Equal(t, "lang", c.Items[0].Node.ID)
	assert.InDelta(t, 1.0, c.Items[0].Score.FinalScore, 1e-9)
	assert.Equal(t, 0, c.Items[0].Score.HopDistance)
	assert.Equal(t, 2, c.Stats.Seeds)
}

func TestIndexFailureIsFatalWithoutFallback(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("index offline")
	o := f.orchestrator(t, DefaultConfig(), failingIndex{err: boom})

	_, err := o.Retrieve(context.Background(), Query{Vector: []float64{1, 0}, SeedIDs: []string{"lang"}})
	require.Error(t, err)
	var ie *IndexError
	require.True(t, errors.As(err, &ie))
	assert.ErrorIs(t, err, boom)
}

func TestIndexFailureFallsBackWhenConfigured(t *testing.T) {
	f := newFixture(t)
	cfg := DefaultConfig()
	cfg.FallbackToGraph = true
	o := f.orchestrator(t, cfg, failingIndex{err: errors.New("index offline")})

	c, err := o.Retrieve(context.Background(), Query{Vector: []float64{1, 0}, SeedIDs: []string{"lang"}})
	require.NoError(t, err)
	assert.True(t, c.Stats.FellBack)
	assert.Equal(t, ModeGraph, c.Stats.Mode)
	assert.Equal(t, "lang", c.Items[0].Node.ID)

	// Without explicit seeds there is nothing to fall back to.
	_, err = o.Retrieve(context.Background(), Query{Vector: []float64{1, 0}})
	var ie *IndexError
	assert.True(t, errors.As(err, &ie))
}

func TestMissingIndexIsIndexError(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, DefaultConfig(), nil)
	_, err := o.Retrieve(context.Background(), Query{Vector: []float64{1, 0}, Mode: ModeVector})
	var ie *IndexError
	assert.True(t, errors.As(err, &ie))
}

func TestInvalidQueries(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, DefaultConfig(), f.idx)
	ctx := context.Background()

	_, err := o.Retrieve(ctx, Query{Mode: ModeGraph})
	assert.ErrorIs(t, err, apperr.ErrInvalidConfig)

	_, err = o.Retrieve(ctx, Query{Mode: ModeVector})
	assert.ErrorIs(t, err, apperr.ErrInvalidConfig)

	_, err = o.Retrieve(ctx, Query{Mode: "psychic", SeedIDs: []string{"lang"}})
	assert.ErrorIs(t, err, apperr.ErrInvalidConfig)

	_, err = o.Retrieve(ctx, Query{Vector: []float64{1, 0, 0}, Mode: ModeVector})
	assert.ErrorIs(t, err, apperr.ErrInvalidConfig, "dimension mismatch surfaces through the index error")

	_, err = o.Retrieve(ctx, Query{SeedIDs: []string{"lang"}, Mode: ModeGraph, Expansion: &expansion.Options{}})
	assert.ErrorIs(t, err, apperr.ErrInvalidConfig)
}

func TestTrimByCountAndChars(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(t, DefaultConfig(), f.idx)
	ctx := context.Background()

	c, err := o.Retrieve(ctx, Query{SeedIDs: []string{"goroutine"}, Mode: ModeGraph, MaxResults: 2})
	require.NoError(t, err)
	assert.Len(t, c.Items, 2)
	assert.True(t, c.Truncated)
	for _, e := range c.Edges {
		assert.Contains(t, itemIDs(c), e.Source)
		assert.Contains(t, itemIDs(c), e.Target)
	}

	top := len("goroutines are lightweight threads")
	c, err = o.Retrieve(ctx, Query{SeedIDs: []string{"goroutine"}, Mode: ModeGraph, MaxChars: top})
	require.NoError(t, err)
	assert.Equal(t, []string{"goroutine"}, itemIDs(c))
	assert.True(t, c.Truncated)

	c, err = o.Retrieve(ctx, Query{SeedIDs: []string{"goroutine"}, Mode: ModeGraph, MaxChars: 10000})
	require.NoError(t, err)
	assert.False(t, c.Truncated)

	_, err = o.Retrieve(ctx, Query{SeedIDs: []string{"goroutine"}, Mode: ModeGraph, MaxChars: 5})
	assert.ErrorIs(t, err, apperr.ErrContextTooLarge)
}

func TestTouchResults(t *testing.T) {
	f := newFixture(t)
	cfg := DefaultConfig()
	cfg.TouchResults = true
	o := f.orchestrator(t, cfg, f.idx)

	_, err := o.Retrieve(context.Background(), Query{Vector: []float64{0, 1}, Mode: ModeVector, K: 1})
	require.NoError(t, err)

	n, err := f.g.GetNode("channel")
	require.NoError(t, err)
	assert.Equal(t, 1.0, n.AccessScore)

	n, err = f.g.GetNode("island")
	require.NoError(t, err)
	assert.Zero(t, n.AccessScore)
}

func TestAccessWeightBoostsRecentNodes(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.g.SetAccessScore("channel", 1.0))

	cfg := DefaultConfig()
	cfg.Scoring.AccessWeight = 0.5
	o := f.orchestrator(t, cfg, f.idx)

	// lang and channel are both one hop from goroutine; the access bonus
	// orders channel first.
	c, err := o.Retrieve(context.Background(), Query{SeedIDs: []string{"goroutine"}, Mode: ModeGraph})
	require.NoError(t, err)
	assert.Equal(t, "channel", c.Items[0].Node.ID)
	assert.Equal(t, 1.0, c.Items[0].Score.AccessScore)
}

func TestMetricsRecorded(t *testing.T) {
	f := newFixture(t)
	reg := prometheus.NewRegistry()
	o, err := New(f.g, f.idx, DefaultConfig(), NewMetrics(reg), nil)
	require.NoError(t, err)

	_, err = o.Retrieve(context.Background(), Query{SeedIDs: []string{"lang", "ghost"}, Mode: ModeGraph, MaxResults: 1})
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[mf.GetName()] += m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				values[mf.GetName()] += float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	assert.Equal(t, 1.0, values["recall_retrievals_total"])
	assert.Equal(t, 1.0, values["recall_retrieval_truncations_total"])
	assert.Equal(t, 1.0, values["recall_retrieval_seed_failures_total"])
	assert.Equal(t, 1.0, values["recall_retrieval_duration_seconds"])
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.DefaultK = 0
	assert.ErrorIs(t, cfg.Validate(), apperr.ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.Scoring.VectorWeight = -1
	_, err := New(graph.NewMemory(), nil, cfg, nil, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidConfig)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeHybrid, m)
	_, err = ParseMode(strings.ToUpper("graph"))
	assert.Error(t, err)
}
