package server

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/lazypower/recall/internal/apperr"
	"github.com/lazypower/recall/internal/expansion"
	"github.com/lazypower/recall/internal/format"
	"github.com/lazypower/recall/internal/graph"
	"github.com/lazypower/recall/internal/reasoning"
	"github.com/lazypower/recall/internal/retrieval"
	"github.com/lazypower/recall/internal/vectorindex"
)

const retrieveTimeout = 60 * time.Second

// expansionRequest overrides the configured expansion defaults field by
// field; zero values keep the default.
type expansionRequest struct {
	Strategy    string           `json:"strategy"`
	Relations   []graph.Relation `json:"relations"`
	Direction   string           `json:"direction"`
	MaxNodes    int              `json:"max_nodes"`
	MaxHops     int              `json:"max_hops"`
	Concurrency int              `json:"concurrency"`
}

type retrieveRequest struct {
	Text          string            `json:"text"`
	Vector        []float64         `json:"vector"`
	SeedIDs       []string          `json:"seed_ids"`
	Mode          string            `json:"mode"`
	K             int               `json:"k"`
	Kinds         []graph.NodeKind  `json:"kinds"`
	MinSimilarity float64           `json:"min_similarity"`
	Exclude       []string          `json:"exclude"`
	MaxResults    int               `json:"max_results"`
	MaxChars      int               `json:"max_chars"`
	MaxTokens     int               `json:"max_tokens"`
	Expansion     *expansionRequest `json:"expansion"`
	Format        string            `json:"format"` // record (default), compressed, flat, tree
}

func (s *Server) buildQuery(req retrieveRequest) (retrieval.Query, error) {
	mode, err := retrieval.ParseMode(req.Mode)
	if err != nil {
		return retrieval.Query{}, err
	}
	q := retrieval.Query{
		Vector:     req.Vector,
		SeedIDs:    req.SeedIDs,
		Mode:       mode,
		K:          req.K,
		MaxResults: req.MaxResults,
		MaxChars:   req.MaxChars,
		Filter: vectorindex.Filter{
			Kinds:         req.Kinds,
			MinSimilarity: req.MinSimilarity,
			Exclude:       req.Exclude,
		},
	}
	if req.Expansion == nil {
		return q, nil
	}

	opts := s.engine.Retriever.Config().Expansion
	x := req.Expansion
	if x.Strategy != "" {
		if opts.Strategy, err = expansion.ParseStrategy(x.Strategy); err != nil {
			return q, err
		}
	}
	if len(x.Relations) > 0 {
		opts.Relations = x.Relations
	}
	if x.Direction != "" {
		if opts.Direction, err = graph.ParseDirection(x.Direction); err != nil {
			return q, err
		}
	}
	if x.MaxNodes != 0 {
		opts.MaxNodes = x.MaxNodes
	}
	if x.MaxHops != 0 {
		opts.MaxHops = x.MaxHops
	}
	if x.Concurrency != 0 {
		opts.Concurrency = x.Concurrency
	}
	q.Expansion = &opts
	return q, nil
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if !decode(w, r, &req) {
		return
	}
	q, err := s.buildQuery(req)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), retrieveTimeout)
	defer cancel()

	var rc *retrieval.Context
	if req.Text != "" && len(req.Vector) == 0 && q.Mode != retrieval.ModeGraph {
		rc, err = s.engine.RetrieveText(ctx, req.Text, q)
	} else {
		rc, err = s.engine.Retrieve(ctx, q)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	switch req.Format {
	case "", "record":
		if req.MaxTokens > 0 {
			writeJSON(w, http.StatusOK, format.Compress(rc, format.Budget{MaxTokens: req.MaxTokens}, s.counter))
			return
		}
		writeJSON(w, http.StatusOK, format.ToRecord(rc))
	case "compressed":
		writeJSON(w, http.StatusOK, format.Compress(rc, format.Budget{MaxTokens: req.MaxTokens}, s.counter))
	case "flat", "tree":
		var buf bytes.Buffer
		render := format.RenderFlat
		if req.Format == "tree" {
			render = format.RenderTree
		}
		if err := render(&buf, rc); err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write(buf.Bytes())
	default:
		writeError(w, apperr.InvalidConfig("format", "unknown format %q", req.Format))
	}
}

// intParam parses an optional integer query parameter.
func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperr.InvalidConfig(name, "%q is not a non-negative integer", v)
	}
	return n, nil
}

func pathEnds(r *http.Request) (string, string, error) {
	from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	if from == "" || to == "" {
		return "", "", apperr.InvalidConfig("from/to", "both parameters are required")
	}
	return from, to, nil
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	from, to, err := pathEnds(r)
	if err != nil {
		writeError(w, err)
		return
	}
	maxHops, err := intParam(r, "max_hops", 4)
	if err != nil {
		writeError(w, err)
		return
	}

	p, err := s.engine.Reasoner.Explain(from, to, maxHops)
	if err != nil {
		writeError(w, err)
		return
	}
	if p == nil {
		writeMessage(w, http.StatusNotFound, "no path from "+from+" to "+to)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// maxPathDepth caps max_depth for path enumeration, which grows
// exponentially with depth on dense graphs.
const maxPathDepth = 6

func (s *Server) handlePaths(w http.ResponseWriter, r *http.Request) {
	from, to, err := pathEnds(r)
	if err != nil {
		writeError(w, err)
		return
	}
	maxDepth, err := intParam(r, "max_depth", 3)
	if err != nil {
		writeError(w, err)
		return
	}
	maxDepth = min(maxDepth, maxPathDepth)

	paths, err := s.engine.Reasoner.AllPaths(from, to, maxDepth)
	if err != nil {
		writeError(w, err)
		return
	}
	if paths == nil {
		paths = []*reasoning.Path{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from":      from,
		"to":        to,
		"max_depth": maxDepth,
		"count":     len(paths),
		"paths":     paths,
	})
}

type subgraphRequest struct {
	Seeds     []string         `json:"seeds"`
	Radius    int              `json:"radius"`
	Direction string           `json:"direction"`
	Relations []graph.Relation `json:"relations"`
}

func (s *Server) handleSubgraph(w http.ResponseWriter, r *http.Request) {
	var req subgraphRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Seeds) == 0 {
		writeError(w, apperr.InvalidConfig("seeds", "at least one seed is required"))
		return
	}
	dir, err := graph.ParseDirection(req.Direction)
	if err != nil {
		writeError(w, err)
		return
	}

	sg, err := graph.ExtractSubgraph(s.engine.Graph, req.Seeds, req.Radius, graph.TraverseOptions{
		Direction: dir,
		Relations: req.Relations,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sg)
}
