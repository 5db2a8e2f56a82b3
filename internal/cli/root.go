package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/engine"
	"github.com/lazypower/recall/internal/format"
	"github.com/lazypower/recall/internal/retrieval"
	"github.com/lazypower/recall/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Hybrid graph and vector retrieval for LLM context",
	Long: "Recall stores a knowledge graph with embeddings in a single SQLite file and " +
		"retrieves ranked context by combining vector similarity with graph expansion.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.recall/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(edgeCmd)
	rootCmd.AddCommand(retrieveCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(pathsCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(ingestCmd)
}

// loadConfig reads --config, or the default path when unset.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return config.Config{}, err
		}
	}
	return config.Load(path)
}

// openDB opens the database named by the config, falling back to
// ~/.recall/recall.db.
func openDB(cfg config.Config) (*store.DB, string, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, "", fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, "", fmt.Errorf("open database: %w", err)
	}
	return db, dbPath, nil
}

// newEmbedder picks the embedding provider. "auto" probes Ollama and falls
// back to TF-IDF over the stored corpus. The returned name is the provider
// actually chosen; it is "none" with a nil embedder.
func newEmbedder(cfg config.EmbeddingConfig, db *store.DB) (engine.Embedder, string, error) {
	var (
		emb  engine.Embedder
		name = cfg.Provider
	)
	switch cfg.Provider {
	case "none":
		return nil, "none", nil
	case "ollama":
		emb = engine.NewOllamaEmbedder(cfg.OllamaURL, cfg.Model, cfg.Dimensions)
	case "auto":
		if engine.ProbeOllama(cfg.OllamaURL, cfg.Model) {
			emb = engine.NewOllamaEmbedder(cfg.OllamaURL, cfg.Model, cfg.Dimensions)
			name = "ollama"
			break
		}
		name = "tfidf"
		fallthrough
	case "tfidf":
		t, err := engine.NewTFIDFEmbedder(db, cfg.MaxTerms)
		if err != nil {
			return nil, "", fmt.Errorf("tfidf embedder: %w", err)
		}
		emb = t
	default:
		return nil, "", fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	if cfg.CacheSize > 0 {
		cached, err := engine.NewCachedEmbedder(emb, cfg.CacheSize)
		if err != nil {
			return nil, "", err
		}
		emb = cached
	}
	return emb, name, nil
}

// tokenCounter returns the tiktoken counter for the configured model, or the
// character estimate when none is set.
func tokenCounter(cfg config.RetrievalConfig) (format.TokenCounter, error) {
	if cfg.Tokenizer == "" {
		return format.CharCounter{}, nil
	}
	return format.NewTiktoken(cfg.Tokenizer)
}

// runtime is an opened engine plus what it was built from.
type runtime struct {
	cfg      config.Config
	db       *store.DB
	dbPath   string
	eng      *engine.Engine
	provider string
}

func (r *runtime) Close() {
	r.eng.Stop()
	r.db.Close()
}

// openRuntime opens the database and builds the engine. reg may be nil.
// TF-IDF vectors are refreshed synchronously since they are cheap to
// compute; other providers are left to the caller.
func openRuntime(ctx context.Context, cfg config.Config, reg prometheus.Registerer) (*runtime, error) {
	db, dbPath, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	emb, provider, err := newEmbedder(cfg.Embedding, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	rc, err := cfg.RetrievalConfig()
	if err != nil {
		db.Close()
		return nil, err
	}

	opts := engine.Options{
		Retrieval: rc,
		Logger:    cfg.Log.Logger(os.Stderr),
	}
	if reg != nil {
		opts.Metrics = retrieval.NewMetrics(reg)
	}
	eng, err := engine.New(db, emb, opts)
	if err != nil {
		db.Close()
		return nil, err
	}

	rt := &runtime{cfg: cfg, db: db, dbPath: dbPath, eng: eng, provider: provider}
	if provider == "tfidf" {
		if _, err := eng.EmbedMissing(ctx); err != nil {
			rt.Close()
			return nil, fmt.Errorf("embed missing: %w", err)
		}
	}
	return rt, nil
}

// withRuntime loads config, opens the engine for one CLI command and closes
// it afterwards.
func withRuntime(timeout time.Duration, fn func(context.Context, *runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	rt, err := openRuntime(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}
