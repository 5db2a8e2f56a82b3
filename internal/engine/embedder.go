package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/viterin/vek"

	"github.com/lazypower/recall/internal/store"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Model() string
	Dimensions() int
}

// Refitter is implemented by embedders whose vocabulary is fitted to the
// stored corpus rather than fixed by a model.
type Refitter interface {
	Refit(docs []string) bool
	Docs() int
}

// refitter returns emb, or the embedder it wraps, as a Refitter.
func refitter(emb Embedder) Refitter {
	if w, ok := emb.(interface{ Unwrap() Embedder }); ok {
		emb = w.Unwrap()
	}
	r, _ := emb.(Refitter)
	return r
}

// OllamaEmbedder uses Ollama's embedding API.
type OllamaEmbedder struct {
	url    string
	model  string
	dims   int
	client *http.Client
}

// NewOllamaEmbedder creates an embedder using Ollama's API. dims must match
// the model's output length; the vector index is sized from it.
func NewOllamaEmbedder(url, model string, dims int) *OllamaEmbedder {
	return &OllamaEmbedder{
		url:    strings.TrimRight(url, "/"),
		model:  model,
		dims:   dims,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (o *OllamaEmbedder) Model() string   { return "ollama:" + o.model }
func (o *OllamaEmbedder) Dimensions() int { return o.dims }

// Embed sends text to Ollama's embed endpoint and returns the embedding vector.
func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	reqBody := map[string]any{
		"model": o.model,
		"input": text,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.url+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed status %d: %s", resp.StatusCode, respBody)
	}

	var result struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama returned no embeddings")
	}
	vec := result.Embeddings[0]
	if len(vec) != o.dims {
		return nil, fmt.Errorf("ollama returned %d dimensions, want %d", len(vec), o.dims)
	}
	return vec, nil
}

// ProbeOllama checks if Ollama is reachable and the embedding model is available.
func ProbeOllama(url, model string) bool {
	client := &http.Client{Timeout: 3 * time.Second}
	reqBody, _ := json.Marshal(map[string]any{
		"model": model,
		"input": "test",
	})
	resp, err := client.Post(strings.TrimRight(url, "/")+"/api/embed", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// TFIDFEmbedder generates TF-IDF bag-of-words embeddings as a fallback. Its
// vocabulary is fitted to a corpus and can be refitted as the corpus grows.
type TFIDFEmbedder struct {
	maxTerms int

	mu    sync.RWMutex
	vocab []string           // ordered vocabulary (top terms by doc frequency)
	idf   map[string]float64 // inverse document frequency per term
	dims  int
	model string
	docs  int
}

// NewTFIDFEmbedder builds a TF-IDF embedder from the content of stored nodes.
func NewTFIDFEmbedder(db *store.DB, maxTerms int) (*TFIDFEmbedder, error) {
	nodes, err := db.LoadNodes()
	if err != nil {
		return nil, fmt.Errorf("load nodes for tfidf: %w", err)
	}
	docs := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n.Content != "" {
			docs = append(docs, n.Content)
		}
	}
	return NewTFIDFEmbedderFromDocs(docs, maxTerms), nil
}

// NewTFIDFEmbedderFromDocs builds the vocabulary from docs directly.
func NewTFIDFEmbedderFromDocs(docs []string, maxTerms int) *TFIDFEmbedder {
	if maxTerms <= 0 {
		maxTerms = 512
	}
	t := &TFIDFEmbedder{maxTerms: maxTerms}
	t.Refit(docs)
	return t
}

// Refit rebuilds the vocabulary from docs and reports whether the model
// changed. Vectors from the previous model are not comparable with new ones.
func (t *TFIDFEmbedder) Refit(docs []string) bool {
	// Build document frequency
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool)
		for _, term := range tokenize(doc) {
			if !seen[term] {
				df[term]++
				seen[term] = true
			}
		}
	}

	type termFreq struct {
		term string
		freq int
	}
	var terms []termFreq
	for term, f := range df {
		terms = append(terms, termFreq{term, f})
	}
	// Ties break on the term so the vocabulary is stable across restarts.
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].freq != terms[j].freq {
			return terms[i].freq > terms[j].freq
		}
		return terms[i].term < terms[j].term
	})

	dims := t.maxTerms
	if len(terms) < dims {
		dims = len(terms)
	}
	if dims == 0 {
		dims = 1 // minimum dimension to avoid zero-length vectors
	}

	vocab := make([]string, dims)
	idf := make(map[string]float64)
	numDocs := float64(len(docs))
	if numDocs == 0 {
		numDocs = 1
	}

	for i := 0; i < dims && i < len(terms); i++ {
		vocab[i] = terms[i].term
		// IDF = log(N / df) + 1 (smoothed)
		idf[vocab[i]] = math.Log(numDocs/float64(terms[i].freq)) + 1.0
	}

	// Vectors from different vocabularies live in different spaces, so the
	// model name carries a fingerprint of the vocabulary.
	h := fnv.New32a()
	for _, term := range vocab {
		h.Write([]byte(term))
		h.Write([]byte{0})
	}
	model := fmt.Sprintf("tfidf:%08x", h.Sum32())

	t.mu.Lock()
	defer t.mu.Unlock()
	changed := model != t.model
	t.vocab, t.idf, t.dims, t.model, t.docs = vocab, idf, dims, model, len(docs)
	return changed
}

func (t *TFIDFEmbedder) Model() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.model
}

func (t *TFIDFEmbedder) Dimensions() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dims
}

// Docs returns how many documents the current vocabulary was fitted to.
func (t *TFIDFEmbedder) Docs() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.docs
}

// Embed generates a normalized TF-IDF vector for the given text.
func (t *TFIDFEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	t.mu.RLock()
	vocab, idfs, dims := t.vocab, t.idf, t.dims
	t.mu.RUnlock()

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return make([]float64, dims), nil
	}

	tf := make(map[string]int)
	for _, tok := range tokens {
		tf[tok]++
	}

	vec := make([]float64, dims)
	maxTF := 0
	for _, c := range tf {
		if c > maxTF {
			maxTF = c
		}
	}

	for i, term := range vocab {
		count := tf[term]
		if count == 0 {
			continue
		}
		// Augmented TF to prevent bias towards longer documents
		augTF := 0.5 + 0.5*float64(count)/float64(maxTF)
		idf := idfs[term]
		if idf == 0 {
			idf = 1.0
		}
		vec[i] = augTF * idf
	}

	normalize(vec)
	return vec, nil
}

// tokenize splits text into lowercase tokens, stripping punctuation.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var current strings.Builder
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			current.WriteRune(r)
		} else {
			if current.Len() > 1 { // skip single-char tokens
				tokens = append(tokens, current.String())
			}
			current.Reset()
		}
	}
	if current.Len() > 1 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

// normalize performs in-place L2 normalization.
func normalize(vec []float64) {
	norm := vek.Norm(vec)
	if norm == 0 {
		return
	}
	vek.DivNumber_Inplace(vec, norm)
}
