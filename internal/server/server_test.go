package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lazypower/recall/internal/engine"
	"github.com/lazypower/recall/internal/retrieval"
	"github.com/lazypower/recall/internal/store"
)

var docs = []string{
	"Go concurrency with goroutines and channels",
	"Rust ownership and borrowing rules",
	"SQLite storage with WAL journaling",
}

func testServer(t *testing.T) *Server {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	emb, err := engine.NewCachedEmbedder(engine.NewTFIDFEmbedderFromDocs(docs, 64), 16)
	if err != nil {
		t.Fatalf("NewCachedEmbedder: %v", err)
	}
	reg := prometheus.NewRegistry()
	eng, err := engine.New(db, emb, engine.Options{
		Retrieval: retrieval.DefaultConfig(),
		Metrics:   retrieval.NewMetrics(reg),
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(eng.Stop)

	return New(eng, Options{Version: "test-version", Registry: reg})
}

// do sends a request and returns the recorder.
func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v; body: %s", err, w.Body.String())
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "GET", "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	body := decodeBody(t, w)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["version"] != "test-version" {
		t.Errorf("version = %v, want test-version", body["version"])
	}
	if body["db"] != true {
		t.Errorf("db = %v, want true", body["db"])
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv := testServer(t)
	do(t, srv, "POST", "/api/nodes", `{"id":"go","kind":"concept","content":"Go concurrency"}`)

	w := do(t, srv, "GET", "/api/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	g, ok := body["graph"].(map[string]any)
	if !ok {
		t.Fatalf("graph = %v", body["graph"])
	}
	if g["nodes"] != float64(1) || g["indexed"] != float64(1) {
		t.Errorf("graph stats = %v", g)
	}
	if _, ok := body["embedding_cache"]; !ok {
		t.Error("expected embedding_cache stats for a cached embedder")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := testServer(t)
	do(t, srv, "POST", "/api/nodes", `{"id":"go","kind":"concept","content":"Go concurrency"}`)
	do(t, srv, "POST", "/api/retrieve", `{"text":"goroutines","mode":"vector"}`)

	w := do(t, srv, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "recall_retrievals_total") {
		t.Errorf("metrics output missing recall_retrievals_total:\n%s", w.Body.String())
	}
}

func TestUnknownRoute(t *testing.T) {
	srv := testServer(t)
	w := do(t, srv, "GET", "/api/sessions", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
