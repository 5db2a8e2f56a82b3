package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/recall/internal/graph"
)

type nodeRequest struct {
	ID          string            `json:"id"`
	Kind        graph.NodeKind    `json:"kind"`
	Content     string            `json:"content"`
	AccessScore float64           `json:"access_score"`
	Metadata    map[string]string `json:"metadata"`
}

func (s *Server) handleAddNode(w http.ResponseWriter, r *http.Request) {
	var req nodeRequest
	if !decode(w, r, &req) {
		return
	}

	n := &graph.Node{
		ID:          req.ID,
		Kind:        req.Kind,
		Content:     req.Content,
		AccessScore: req.AccessScore,
		Metadata:    req.Metadata,
	}
	if err := s.engine.AddNode(r.Context(), n); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.Graph.GetNode(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cascade, _ := strconv.ParseBool(r.URL.Query().Get("cascade"))

	if err := s.engine.RemoveNode(id, cascade); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	dir, err := graph.ParseDirection(r.URL.Query().Get("direction"))
	if err != nil {
		writeError(w, err)
		return
	}

	ids, err := s.engine.Graph.Neighbors(id, dir)
	if err != nil {
		writeError(w, err)
		return
	}
	edges, err := s.engine.Graph.Edges(id, dir)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        id,
		"direction": dir.String(),
		"neighbors": ids,
		"edges":     edges,
	})
}

type edgeRequest struct {
	Source   string         `json:"source"`
	Target   string         `json:"target"`
	Relation graph.Relation `json:"relation"`
	Weight   *float64       `json:"weight"` // defaults to 1
}

func (s *Server) handleAddEdge(w http.ResponseWriter, r *http.Request) {
	var req edgeRequest
	if !decode(w, r, &req) {
		return
	}

	e := &graph.Edge{
		Source:   req.Source,
		Target:   req.Target,
		Relation: req.Relation,
		Weight:   1,
	}
	if req.Weight != nil {
		e.Weight = *req.Weight
	}
	if err := s.engine.Graph.AddEdge(e); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleDeleteEdge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Graph.RemoveEdge(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}
