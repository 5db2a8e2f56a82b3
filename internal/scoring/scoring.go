// Package scoring fuses vector similarity and graph proximity into a single
// ranking score. Everything here is pure: no I/O, no shared state.
package scoring

import (
	"math"
	"sort"

	"github.com/lazypower/recall/internal/apperr"
)

// Config weights the two retrieval signals. The weights need not sum to one.
type Config struct {
	VectorWeight float64 `json:"vector_weight" yaml:"vector_weight"`
	GraphWeight  float64 `json:"graph_weight" yaml:"graph_weight"`
	HopDecayRate float64 `json:"hop_decay_rate" yaml:"hop_decay_rate"`
	// AccessWeight adds the externally decayed access score as a bonus.
	// Zero disables the feature.
	AccessWeight float64 `json:"access_weight" yaml:"access_weight"`
}

// DefaultConfig returns 0.6 vector, 0.4 graph, 0.5 decay per hop.
func DefaultConfig() Config {
	return Config{VectorWeight: 0.6, GraphWeight: 0.4, HopDecayRate: 0.5}
}

// Validate rejects negative or non-finite weights. HopDecayRate is clamped by
// New rather than rejected, but must still be a number.
func (c Config) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"vector_weight", c.VectorWeight},
		{"graph_weight", c.GraphWeight},
		{"access_weight", c.AccessWeight},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v < 0 {
			return apperr.InvalidConfig(f.name, "%v must be a finite non-negative number", f.v)
		}
	}
	if math.IsNaN(c.HopDecayRate) {
		return apperr.InvalidConfig("hop_decay_rate", "must be a number")
	}
	return nil
}

// RelevanceScore is one scored candidate. It is a value: copies never share
// state.
type RelevanceScore struct {
	NodeID           string  `json:"node_id"`
	VectorSimilarity float64 `json:"vector_similarity"`
	GraphProximity   float64 `json:"graph_proximity"`
	HopDistance      int     `json:"hop_distance"`
	AccessScore      float64 `json:"access_score,omitempty"`
	FinalScore       float64 `json:"final_score"`
}

// Scorer computes RelevanceScores under a fixed Config.
type Scorer struct {
	cfg Config
}

// New validates cfg and clamps its decay rate into [0, 1].
func New(cfg Config) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.HopDecayRate = clamp(cfg.HopDecayRate)
	return &Scorer{cfg: cfg}, nil
}

// Default returns a Scorer with DefaultConfig.
func Default() *Scorer {
	return &Scorer{cfg: DefaultConfig()}
}

// Config returns the effective configuration.
func (s *Scorer) Config() Config { return s.cfg }

// Proximity is decay^hop. Hop 0 is always 1.
func (s *Scorer) Proximity(hop int) float64 {
	if hop <= 0 {
		return 1
	}
	return clamp(math.Pow(s.cfg.HopDecayRate, float64(hop)))
}

// DirectMatch scores a seed that came straight from vector search.
func (s *Scorer) DirectMatch(id string, similarity float64) RelevanceScore {
	return s.Traversal(id, similarity, 0)
}

// Traversal scores a node reached hop edges away from a seed with the given
// similarity.
func (s *Scorer) Traversal(id string, similarity float64, hop int) RelevanceScore {
	if hop < 0 {
		hop = 0
	}
	sim := clamp(similarity)
	prox := s.Proximity(hop)
	return RelevanceScore{
		NodeID:           id,
		VectorSimilarity: sim,
		GraphProximity:   prox,
		HopDistance:      hop,
		FinalScore:       clamp(s.cfg.VectorWeight*sim + s.cfg.GraphWeight*prox),
	}
}

// GraphOnly scores a node with no vector signal.
func (s *Scorer) GraphOnly(id string, hop int) RelevanceScore {
	if hop < 0 {
		hop = 0
	}
	prox := s.Proximity(hop)
	return RelevanceScore{
		NodeID:         id,
		GraphProximity: prox,
		HopDistance:    hop,
		FinalScore:     clamp(s.cfg.GraphWeight * prox),
	}
}

// WithAccess folds a node's access score into rs. It returns rs unchanged when
// AccessWeight is zero.
func (s *Scorer) WithAccess(rs RelevanceScore, access float64) RelevanceScore {
	if s.cfg.AccessWeight == 0 {
		return rs
	}
	a := clamp(access)
	rs.AccessScore = a
	rs.FinalScore = clamp(rs.FinalScore + s.cfg.AccessWeight*a)
	return rs
}

// DirectMatch scores a vector hit with the default weights.
func DirectMatch(id string, similarity float64) RelevanceScore {
	return Default().DirectMatch(id, similarity)
}

// Rerank returns a copy of scores ordered by FinalScore, highest first. Equal
// scores keep their input order.
func Rerank(scores []RelevanceScore) []RelevanceScore {
	out := make([]RelevanceScore, len(scores))
	copy(out, scores)
	sort.SliceStable(out, func(i, j int) bool { return out[i].FinalScore > out[j].FinalScore })
	return out
}

// clamp maps NaN to 0 and everything else into [0, 1].
func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
