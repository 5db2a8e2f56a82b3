package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lazypower/recall/internal/apperr"
	"github.com/lazypower/recall/internal/engine"
	"github.com/lazypower/recall/internal/format"
	"github.com/lazypower/recall/internal/graph"
	"github.com/lazypower/recall/internal/retrieval"
)

// maxBodyBytes bounds request bodies; query vectors are the largest payload.
const maxBodyBytes = 4 << 20

// Options configure New.
type Options struct {
	Version string
	// Registry, when set, is served on /metrics.
	Registry *prometheus.Registry
	// Counter measures max_tokens budgets. Nil uses format.CharCounter.
	Counter format.TokenCounter
}

// Server is the recall HTTP API server.
type Server struct {
	engine   *engine.Engine
	router   chi.Router
	version  string
	registry *prometheus.Registry
	counter  format.TokenCounter
	started  time.Time
}

// New creates a new Server over eng.
func New(eng *engine.Engine, opts Options) *Server {
	s := &Server{
		engine:   eng,
		version:  opts.Version,
		registry: opts.Registry,
		counter:  opts.Counter,
		started:  time.Now(),
	}
	if s.counter == nil {
		s.counter = format.CharCounter{}
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)

		r.Post("/nodes", s.handleAddNode)
		r.Get("/nodes/{id}", s.handleGetNode)
		r.Delete("/nodes/{id}", s.handleDeleteNode)
		r.Get("/nodes/{id}/neighbors", s.handleNeighbors)

		r.Post("/edges", s.handleAddEdge)
		r.Delete("/edges/{id}", s.handleDeleteEdge)

		r.Post("/import", s.handleImport)
		r.Post("/documents", s.handleDocument)

		r.Post("/retrieve", s.handleRetrieve)
		r.Get("/explain", s.handleExplain)
		r.Get("/paths", s.handlePaths)
		r.Post("/subgraph", s.handleSubgraph)
	})

	if s.registry != nil {
		r.Method("GET", "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.engine.DB.Ping(); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.engine.DB.Path,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Stats()
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]any{"graph": st}
	if cached, ok := s.engine.Embedder.(*engine.CachedEmbedder); ok {
		resp["embedding_cache"] = cached.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var idxErr *retrieval.IndexError
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, graph.ErrNodeHasEdges):
		writeMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, apperr.ErrInvalidConfig), errors.Is(err, apperr.ErrDuplicate):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperr.ErrContextTooLarge):
		writeMessage(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.As(err, &idxErr):
		writeMessage(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Printf("request failed: %v", err)
		writeMessage(w, http.StatusInternalServerError, err.Error())
	}
}

// decode reads a JSON body into v, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}
