// Package config handles global configuration and environment overrides for
// the ingestion pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config is the fully resolved runtime configuration: global config file
// values with environment overrides and defaults applied.
type Config struct {
	// DBPath is the SQLite store location. Opening it is fatal on failure.
	DBPath string

	// Workdir holds downloaded archives and extracted sources for one run.
	// It is removed at the end of the run.
	Workdir string

	// OutputPath is where the JSONL run artifact is written.
	OutputPath string

	S2APIKey         string
	OpenRouterAPIKey string
	OpenRouterModel  string

	OllamaURL  string
	EmbedModel string

	// Query seeds the run when no explicit IDs are given.
	Query string

	// SortBy is the seed search sort criterion (relevance when empty).
	SortBy string

	// Category switches seeding to the latest papers of one arXiv category
	// instead of a query search.
	Category string

	// PaperCount is how many seed papers to pull for the query.
	PaperCount int

	// MaxExtensions is the per-paper citation fan-out budget.
	MaxExtensions int
}

// Defaults applied when neither the config file nor the environment sets a
// value.
const (
	DefaultQuery         = "large language models"
	DefaultPaperCount    = 5
	DefaultMaxExtensions = 5
	DefaultDBFile        = "papergraph.db"
	DefaultOutputFile    = "papers.jsonl"
)

// Environment variable names honored as overrides. A .env file loaded at
// startup feeds the same variables.
const (
	EnvS2APIKey         = "S2_API_KEY"
	EnvOpenRouterAPIKey = "OPENROUTER_API_KEY"
	EnvDBPath           = "PAPERGRAPH_DB"
	EnvOllamaURL        = "OLLAMA_URL"
)

// Resolve builds the runtime configuration: global config file first, then
// environment overrides, then defaults for anything still unset.
func Resolve() (*Config, error) {
	global, err := LoadGlobalConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DBPath:           global.DBPath,
		Workdir:          global.Workdir,
		OutputPath:       global.OutputPath,
		S2APIKey:         global.S2APIKey,
		OpenRouterAPIKey: global.OpenRouterAPIKey,
		OpenRouterModel:  global.OpenRouterModel,
		OllamaURL:        global.OllamaURL,
		EmbedModel:       global.EmbedModel,
		Query:            global.Query,
		SortBy:           global.SortBy,
		Category:         global.Category,
		PaperCount:       global.PaperCount,
		MaxExtensions:    global.MaxExtensions,
	}

	if v := os.Getenv(EnvS2APIKey); v != "" {
		cfg.S2APIKey = v
	}
	if v := os.Getenv(EnvOpenRouterAPIKey); v != "" {
		cfg.OpenRouterAPIKey = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvOllamaURL); v != "" {
		cfg.OllamaURL = v
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = DefaultDBFile
	}
	c.DBPath = ExpandPath(c.DBPath)

	if c.Workdir == "" {
		c.Workdir = filepath.Join(os.TempDir(), "papergraph")
	}
	c.Workdir = ExpandPath(c.Workdir)

	if c.OutputPath == "" {
		c.OutputPath = DefaultOutputFile
	}
	c.OutputPath = ExpandPath(c.OutputPath)

	if c.Query == "" {
		c.Query = DefaultQuery
	}
	if c.PaperCount <= 0 {
		c.PaperCount = DefaultPaperCount
	}
	if c.MaxExtensions <= 0 {
		c.MaxExtensions = DefaultMaxExtensions
	}
}

// Validate checks the invariants required before a run starts.
func (c *Config) Validate() error {
	if c.PaperCount <= 0 {
		return fmt.Errorf("paper count must be positive, got %d", c.PaperCount)
	}
	if c.MaxExtensions <= 0 {
		return fmt.Errorf("max extensions must be positive, got %d", c.MaxExtensions)
	}
	switch c.SortBy {
	case "", "relevance", "submittedDate", "lastUpdatedDate":
	default:
		return fmt.Errorf("unknown sort criterion %q", c.SortBy)
	}
	return nil
}

// ExpandPath expands ~ to the user's home directory.
// Returns the original path unchanged if it doesn't start with ~.
func ExpandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path // Return original if we can't get home directory
	}

	return filepath.Join(home, path[1:])
}
