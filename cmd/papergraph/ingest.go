package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/matsen/papergraph/internal/arxiv"
	"github.com/matsen/papergraph/internal/config"
	"github.com/matsen/papergraph/internal/enrich"
	"github.com/matsen/papergraph/internal/pipeline"
	"github.com/matsen/papergraph/internal/s2"
	"github.com/matsen/papergraph/internal/sink"
	"github.com/spf13/cobra"
)

var (
	ingestQuery         string
	ingestSort          string
	ingestCategory      string
	ingestCount         int
	ingestMaxExtensions int
	ingestOutput        string
	ingestDB            string
	ingestSkipEnrich    bool
	ingestSkipEmbed     bool
	ingestVerbose       bool
	ingestHuman         bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion: seed search, citation expansion, enrichment, persistence",
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestQuery, "query", "q", "", "seed search query (default from config)")
	ingestCmd.Flags().StringVar(&ingestSort, "sort", "", "seed sort criterion: relevance, submittedDate, lastUpdatedDate")
	ingestCmd.Flags().StringVar(&ingestCategory, "category", "", "seed from the latest papers of an arXiv category instead of a query")
	ingestCmd.Flags().IntVarP(&ingestCount, "count", "n", 0, "number of seed papers (default from config)")
	ingestCmd.Flags().IntVarP(&ingestMaxExtensions, "max-extensions", "x", 0, "per-paper citation fan-out budget (default from config)")
	ingestCmd.Flags().StringVarP(&ingestOutput, "output", "o", "", "JSONL artifact path (default from config)")
	ingestCmd.Flags().StringVar(&ingestDB, "db", "", "SQLite store path (default from config)")
	ingestCmd.Flags().BoolVar(&ingestSkipEnrich, "skip-enrich", false, "skip LLM enrichment")
	ingestCmd.Flags().BoolVar(&ingestSkipEmbed, "skip-embed", false, "skip embedding generation")
	ingestCmd.Flags().BoolVarP(&ingestVerbose, "verbose", "v", false, "debug logging")
	ingestCmd.Flags().BoolVar(&ingestHuman, "human", false, "use human-readable output instead of JSON")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(ExitConfigError)
	}
	applyIngestFlags(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(ExitConfigError)
	}

	level := slog.LevelInfo
	if ingestVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Sink connectivity is the one fatal startup dependency.
	db, err := sink.OpenDB(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: opening store %s: %s\n", cfg.DBPath, err)
		os.Exit(ExitSinkError)
	}
	defer db.Close()

	arxivClient := arxiv.NewClient()
	s2Opts := []s2.ClientOption{}
	if cfg.S2APIKey != "" {
		s2Opts = append(s2Opts, s2.WithAPIKey(cfg.S2APIKey))
	}
	s2Client := s2.NewClient(s2Opts...)

	ingestor := pipeline.NewIngestor(arxivClient, s2Client, cfg.Workdir, logger)

	var search pipeline.Searcher = arxivClient
	if cfg.Category != "" {
		search = &categorySeeder{client: arxivClient, category: cfg.Category}
	}

	deps := pipeline.Deps{
		Search:    search,
		Citations: s2Client,
		Resolver:  arxivClient,
		Ingestor:  ingestor,
		Store:     db,
		Logger:    logger,
		Cleanup:   ingestor.Cleanup,
	}

	if !ingestSkipEnrich {
		if cfg.OpenRouterAPIKey == "" {
			logger.Warn("no OpenRouter API key configured, skipping enrichment")
		} else {
			classifier, err := enrich.NewClassifier(enrich.DefaultBaseURL, cfg.OpenRouterAPIKey, cfg.OpenRouterModel)
			if err != nil {
				return fmt.Errorf("creating enrichment client: %w", err)
			}
			deps.Enricher = classifier
		}
	}

	if !ingestSkipEmbed {
		embedOpts := []sink.OllamaOption{}
		if cfg.OllamaURL != "" {
			embedOpts = append(embedOpts, sink.WithBaseURL(cfg.OllamaURL))
		}
		if cfg.EmbedModel != "" {
			embedOpts = append(embedOpts, sink.WithModel(cfg.EmbedModel))
		}
		deps.Embedder = sink.NewOllamaEmbedder(embedOpts...)
		deps.Vectors = db
	}

	driver := pipeline.NewDriver(cfg, deps)
	stats, err := driver.Run(cmd.Context())
	if err != nil {
		return err
	}

	if ingestHuman {
		fmt.Printf("ingested %d seed(s), expanded %d paper(s), %d edge(s), persisted %d, artifact %s\n",
			stats.SeedsIngested, stats.Expanded, stats.Edges, stats.Persisted, stats.ArtifactPath)
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

// categorySeeder seeds a run from the latest papers of one arXiv category
// instead of a query search. The query and sort criterion are ignored.
type categorySeeder struct {
	client   *arxiv.Client
	category string
}

func (s *categorySeeder) Search(ctx context.Context, _ string, max int, _ string) ([]string, error) {
	return s.client.Latest(ctx, s.category, max)
}

func applyIngestFlags(cfg *config.Config) {
	if ingestQuery != "" {
		cfg.Query = ingestQuery
	}
	if ingestSort != "" {
		cfg.SortBy = ingestSort
	}
	if ingestCategory != "" {
		cfg.Category = ingestCategory
	}
	if ingestCount > 0 {
		cfg.PaperCount = ingestCount
	}
	if ingestMaxExtensions > 0 {
		cfg.MaxExtensions = ingestMaxExtensions
	}
	if ingestOutput != "" {
		cfg.OutputPath = ingestOutput
	}
	if ingestDB != "" {
		cfg.DBPath = ingestDB
	}
}
