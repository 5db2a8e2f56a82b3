package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"

	"github.com/lazypower/recall/internal/apperr"
	"github.com/lazypower/recall/internal/expansion"
	"github.com/lazypower/recall/internal/graph"
	"github.com/lazypower/recall/internal/retrieval"
	"github.com/lazypower/recall/internal/scoring"
)

// Config holds all recall configuration. Values come from Default, then the
// YAML file, then RECALL_* environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Bind string `yaml:"bind" env:"RECALL_BIND"`
	Port int    `yaml:"port" env:"RECALL_PORT"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" env:"RECALL_DB"` // empty resolves to store.DefaultDBPath()
}

type RetrievalConfig struct {
	VectorWeight float64 `yaml:"vector_weight" env:"RECALL_VECTOR_WEIGHT"`
	GraphWeight  float64 `yaml:"graph_weight" env:"RECALL_GRAPH_WEIGHT"`
	HopDecayRate float64 `yaml:"hop_decay_rate" env:"RECALL_HOP_DECAY_RATE"`
	AccessWeight float64 `yaml:"access_weight" env:"RECALL_ACCESS_WEIGHT"`

	DefaultK    int    `yaml:"default_k" env:"RECALL_DEFAULT_K"`
	MaxResults  int    `yaml:"max_results" env:"RECALL_MAX_RESULTS"`
	MaxNodes    int    `yaml:"max_nodes" env:"RECALL_MAX_NODES"`
	MaxHops     int    `yaml:"max_hops" env:"RECALL_MAX_HOPS"`
	Concurrency int    `yaml:"concurrency" env:"RECALL_CONCURRENCY"`
	Direction   string `yaml:"direction" env:"RECALL_DIRECTION"` // outgoing, incoming, both

	FallbackToGraph bool `yaml:"fallback_to_graph" env:"RECALL_FALLBACK_TO_GRAPH"`
	TouchResults    bool `yaml:"touch_results" env:"RECALL_TOUCH_RESULTS"`

	// Tokenizer names a tiktoken model for max_tokens budgets, e.g.
	// "gpt-4o". Empty estimates four characters per token.
	Tokenizer string `yaml:"tokenizer" env:"RECALL_TOKENIZER"`
}

type EmbeddingConfig struct {
	Provider   string `yaml:"provider" env:"RECALL_EMBEDDER"` // "auto", "ollama", "tfidf", "none"
	OllamaURL  string `yaml:"ollama_url" env:"RECALL_OLLAMA_URL"`
	Model      string `yaml:"model" env:"RECALL_EMBEDDING_MODEL"` // e.g. "nomic-embed-text"
	Dimensions int    `yaml:"dimensions" env:"RECALL_EMBEDDING_DIMENSIONS"`
	MaxTerms   int    `yaml:"max_terms" env:"RECALL_TFIDF_MAX_TERMS"` // tfidf vocabulary size
	CacheSize  int    `yaml:"cache_size" env:"RECALL_EMBEDDING_CACHE"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"RECALL_LOG_LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"RECALL_LOG_FORMAT"` // text, json
}

// Default returns a Config with sensible defaults.
func Default() Config {
	scoringDefaults := scoring.DefaultConfig()
	expansionDefaults := expansion.DefaultOptions()
	retrievalDefaults := retrieval.DefaultConfig()

	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
		},
		Retrieval: RetrievalConfig{
			VectorWeight: scoringDefaults.VectorWeight,
			GraphWeight:  scoringDefaults.GraphWeight,
			HopDecayRate: scoringDefaults.HopDecayRate,
			DefaultK:     retrievalDefaults.DefaultK,
			MaxResults:   retrievalDefaults.MaxResults,
			MaxNodes:     expansionDefaults.MaxNodes,
			MaxHops:      expansionDefaults.MaxHops,
			Concurrency:  expansionDefaults.Concurrency,
			Direction:    "outgoing",
			TouchResults: true,
		},
		Embedding: EmbeddingConfig{
			Provider:   "auto",
			OllamaURL:  "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			MaxTerms:   512,
			CacheSize:  1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath returns ~/.recall/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".recall", "config.yaml"), nil
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks server, embedding and logging settings and that the
// retrieval settings build a valid retrieval.Config.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return apperr.InvalidConfig("server.port", "%d out of range", c.Server.Port)
	}
	switch c.Embedding.Provider {
	case "auto", "ollama", "tfidf", "none":
	default:
		return apperr.InvalidConfig("embedding.provider", "unknown provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Provider == "ollama" || c.Embedding.Provider == "auto" {
		if c.Embedding.Dimensions <= 0 {
			return apperr.InvalidConfig("embedding.dimensions", "%d must be positive", c.Embedding.Dimensions)
		}
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		return apperr.InvalidConfig("log.format", "unknown format %q", c.Log.Format)
	}
	_, err := c.RetrievalConfig()
	return err
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// ScoringConfig returns the scorer weights.
func (c *Config) ScoringConfig() scoring.Config {
	return scoring.Config{
		VectorWeight: c.Retrieval.VectorWeight,
		GraphWeight:  c.Retrieval.GraphWeight,
		HopDecayRate: c.Retrieval.HopDecayRate,
		AccessWeight: c.Retrieval.AccessWeight,
	}
}

// RetrievalConfig returns the orchestrator defaults.
func (c *Config) RetrievalConfig() (retrieval.Config, error) {
	dir, err := graph.ParseDirection(c.Retrieval.Direction)
	if err != nil {
		return retrieval.Config{}, err
	}
	opts := expansion.DefaultOptions()
	opts.Direction = dir
	opts.MaxNodes = c.Retrieval.MaxNodes
	opts.MaxHops = c.Retrieval.MaxHops
	opts.Concurrency = c.Retrieval.Concurrency

	rc := retrieval.Config{
		Scoring:         c.ScoringConfig(),
		Expansion:       opts,
		DefaultK:        c.Retrieval.DefaultK,
		MaxResults:      c.Retrieval.MaxResults,
		FallbackToGraph: c.Retrieval.FallbackToGraph,
		TouchResults:    c.Retrieval.TouchResults,
	}
	if err := rc.Validate(); err != nil {
		return retrieval.Config{}, err
	}
	return rc, nil
}

// Logger builds the structured logger described by the log settings.
func (c LogConfig) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(c.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, apperr.InvalidConfig("log.level", "unknown level %q", s)
	}
	return level, nil
}
