package scoring

import (
	"math"
	"math/rand"
	"testing"

	"github.com/lazypower/recall/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraversalScore(t *testing.T) {
	s, err := New(Config{VectorWeight: 0.6, GraphWeight: 0.4, HopDecayRate: 0.5})
	require.NoError(t, err)

	rs := s.Traversal("n1", 0.9, 1)
	assert.InDelta(t, 0.5, rs.GraphProximity, 1e-9)
	assert.InDelta(t, 0.74, rs.FinalScore, 1e-9)
	assert.Equal(t, 1, rs.HopDistance)
	assert.Equal(t, "n1", rs.NodeID)
}

func TestDirectMatchDefaults(t *testing.T) {
	rs := DirectMatch("n1", 0.95)
	assert.Equal(t, 0, rs.HopDistance)
	assert.Equal(t, 1.0, rs.GraphProximity)
	assert.InDelta(t, 0.97, rs.FinalScore, 1e-9)
}

func TestGraphOnly(t *testing.T) {
	s := Default()
	rs := s.GraphOnly("n", 2)
	assert.Zero(t, rs.VectorSimilarity)
	assert.InDelta(t, 0.25, rs.GraphProximity, 1e-9)
	assert.InDelta(t, 0.1, rs.FinalScore, 1e-9)
}

func TestFinalScoreBounded(t *testing.T) {
	configs := []Config{
		DefaultConfig(),
		{VectorWeight: 5, GraphWeight: 5, HopDecayRate: 1},
		{VectorWeight: 0, GraphWeight: 0, HopDecayRate: 0},
		{VectorWeight: 1, GraphWeight: 1, HopDecayRate: 0.9, AccessWeight: 2},
	}
	sims := []float64{0, 1, 0.5, -3, 7, math.NaN(), math.Inf(1), math.Inf(-1)}

	for _, cfg := range configs {
		s, err := New(cfg)
		require.NoError(t, err)
		for _, sim := range sims {
			for hop := -1; hop <= 6; hop++ {
				for _, rs := range []RelevanceScore{
					s.Traversal("x", sim, hop),
					s.GraphOnly("x", hop),
					s.WithAccess(s.DirectMatch("x", sim), sim),
				} {
					assert.False(t, math.IsNaN(rs.FinalScore))
					assert.GreaterOrEqual(t, rs.FinalScore, 0.0)
					assert.LessOrEqual(t, rs.FinalScore, 1.0)
					assert.GreaterOrEqual(t, rs.VectorSimilarity, 0.0)
					assert.LessOrEqual(t, rs.VectorSimilarity, 1.0)
				}
			}
		}
	}
}

func TestProximityMonotonic(t *testing.T) {
	for _, rate := range []float64{0, 0.1, 0.5, 0.9, 0.999} {
		s, err := New(Config{GraphWeight: 1, HopDecayRate: rate})
		require.NoError(t, err)
		prev := s.Proximity(0)
		for hop := 1; hop < 20; hop++ {
			p := s.Proximity(hop)
			assert.LessOrEqual(t, p, prev, "rate %v hop %d", rate, hop)
			prev = p
		}
	}
}

func TestNewClampsDecayRate(t *testing.T) {
	s, err := New(Config{GraphWeight: 1, HopDecayRate: 3})
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.Config().HopDecayRate)

	s, err = New(Config{GraphWeight: 1, HopDecayRate: -2})
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.Config().HopDecayRate)
}

func TestValidateRejectsBadWeights(t *testing.T) {
	for _, cfg := range []Config{
		{VectorWeight: -0.1},
		{GraphWeight: math.NaN()},
		{VectorWeight: math.Inf(1)},
		{AccessWeight: -1},
		{HopDecayRate: math.NaN()},
	} {
		_, err := New(cfg)
		assert.ErrorIs(t, err, apperr.ErrInvalidConfig, "%+v", cfg)
	}
}

func TestWithAccess(t *testing.T) {
	off := Default()
	base := off.GraphOnly("n", 1)
	assert.Equal(t, base, off.WithAccess(base, 1))

	on, err := New(Config{VectorWeight: 0.6, GraphWeight: 0.4, HopDecayRate: 0.5, AccessWeight: 0.1})
	require.NoError(t, err)
	rs := on.WithAccess(on.GraphOnly("n", 1), 0.5)
	assert.InDelta(t, 0.2+0.05, rs.FinalScore, 1e-9)
	assert.Equal(t, 0.5, rs.AccessScore)
}

func TestRerankStableAndPermutation(t *testing.T) {
	in := []RelevanceScore{
		{NodeID: "a", FinalScore: 0.5},
		{NodeID: "b", FinalScore: 0.9},
		{NodeID: "c", FinalScore: 0.5},
		{NodeID: "d", FinalScore: 0.1},
		{NodeID: "e", FinalScore: 0.9},
	}
	out := Rerank(in)

	ids := make([]string, len(out))
	for i, rs := range out {
		ids[i] = rs.NodeID
	}
	assert.Equal(t, []string{"b", "e", "a", "c", "d"}, ids)
	assert.Equal(t, "a", in[0].NodeID, "input must not be reordered")
}

func TestRerankRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		in := make([]RelevanceScore, rng.Intn(40))
		for i := range in {
			in[i] = RelevanceScore{NodeID: string(rune('a' + i)), FinalScore: float64(rng.Intn(5)) / 4}
		}
		out := Rerank(in)
		require.Len(t, out, len(in))
		assert.ElementsMatch(t, in, out)
		for i := 1; i < len(out); i++ {
			assert.GreaterOrEqual(t, out[i-1].FinalScore, out[i].FinalScore)
		}
	}
}
