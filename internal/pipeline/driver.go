package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/matsen/papergraph/internal/config"
	"github.com/matsen/papergraph/internal/dedupe"
	"github.com/matsen/papergraph/internal/expand"
	"github.com/matsen/papergraph/internal/paper"
	"github.com/matsen/papergraph/internal/sink"
)

// Searcher resolves a free-text query to seed canonical IDs.
// *arxiv.Client satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, max int, criterion string) ([]string, error)
}

// Store is the persistence contract the driver needs: the existing-ID
// snapshot, record writes, and the enrichment vocabulary. *sink.DB satisfies
// it.
type Store interface {
	ExistingIDs() (map[string]bool, error)
	SavePaper(p *paper.Paper) error
	SaveEdges(edges []paper.Edge) (int, error)
	Keywords() ([]string, error)
	Domains() ([]string, error)
}

// Enricher attaches keywords, domain, and summary to a paper.
// *enrich.Classifier satisfies it.
type Enricher interface {
	Enrich(ctx context.Context, p *paper.Paper, knownKeywords, knownDomains []string)
}

// Deps are the collaborators a Driver sequences. Enricher, Embedder, and
// Vectors may be nil; those stages are then skipped.
type Deps struct {
	Search    Searcher
	Citations expand.CitationSource
	Resolver  expand.TitleResolver
	Ingestor  expand.Ingestor
	Store     Store
	Enricher  Enricher
	Embedder  sink.Embedder
	Vectors   sink.VectorWriter
	Logger    *slog.Logger

	// Cleanup runs at the end of a run regardless of outcome.
	Cleanup func()
}

// Driver runs one complete ingestion: seed acquisition, dedup, ingestion,
// two-directional citation expansion, enrichment, persistence, and the JSONL
// handoff artifact.
type Driver struct {
	cfg    *config.Config
	deps   Deps
	engine *expand.Engine
	logger *slog.Logger
}

// RunStats summarizes one completed run.
type RunStats struct {
	SeedIDs       int    `json:"seed_ids"`
	SeedsNew      int    `json:"seeds_new"`
	SeedsIngested int    `json:"seeds_ingested"`
	Expanded      int    `json:"expanded"`
	Edges         int    `json:"edges"`
	Persisted     int    `json:"persisted"`
	Embedded      int    `json:"embedded"`
	ArtifactPath  string `json:"artifact_path"`
}

// NewDriver wires a driver from explicit collaborators. Nothing global: the
// store connection and every client are constructed once by the caller and
// passed in.
func NewDriver(cfg *config.Config, deps Deps) *Driver {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		cfg:    cfg,
		deps:   deps,
		engine: expand.NewEngine(deps.Citations, deps.Resolver, deps.Ingestor, deps.Store, logger),
		logger: logger,
	}
}

// Run executes the pipeline once. It returns an error only for fatal
// conditions (unreachable store, unusable seed query); every per-paper
// failure degrades to a logged warning.
func (d *Driver) Run(ctx context.Context) (*RunStats, error) {
	if d.deps.Cleanup != nil {
		defer d.deps.Cleanup()
	}

	stats := &RunStats{ArtifactPath: d.cfg.OutputPath}

	seedIDs, err := d.deps.Search.Search(ctx, d.cfg.Query, d.cfg.PaperCount, d.cfg.SortBy)
	if err != nil {
		return nil, fmt.Errorf("seed search: %w", err)
	}
	stats.SeedIDs = len(seedIDs)

	existing, err := d.deps.Store.ExistingIDs()
	if err != nil {
		return nil, fmt.Errorf("reading stored ids: %w", err)
	}

	freshIDs := dedupe.FilterNew(seedIDs, existing)
	stats.SeedsNew = len(freshIDs)
	d.logger.Info("seeds resolved", "query", d.cfg.Query, "found", len(seedIDs), "new", len(freshIDs))

	var seeds []*paper.Paper
	for _, id := range freshIDs {
		p, err := d.deps.Ingestor.Ingest(ctx, id)
		if err != nil {
			d.logger.Warn("seed ingestion failed", "paper_id", id, "error", err)
			continue
		}
		seeds = append(seeds, p)
	}
	stats.SeedsIngested = len(seeds)

	papers := seeds
	var edges []paper.Edge

	// One visited set across both directions: a paper admitted by the
	// backward pass must not be ingested again by the forward pass.
	visited := make(map[string]bool)
	expandCfg := expand.Config{MaxExtensions: d.cfg.MaxExtensions, Depth: 1}
	for _, dir := range []expand.Direction{expand.Backward, expand.Forward} {
		result, err := d.engine.Expand(ctx, seeds, dir, expandCfg, visited)
		if err != nil {
			return nil, err
		}
		papers = append(papers, result.Papers...)
		edges = append(edges, result.Edges...)
		stats.Expanded += len(result.Papers)
	}
	edges = paper.DedupeEdges(edges)
	stats.Edges = len(edges)

	d.enrichAll(ctx, papers)
	stats.Persisted = d.persist(papers, edges)

	if d.deps.Embedder != nil && d.deps.Vectors != nil {
		stats.Embedded = sink.EmbedPapers(ctx, d.deps.Embedder, d.deps.Vectors, papers, d.logger)
	}

	if err := WriteArtifact(d.cfg.OutputPath, papers, edges); err != nil {
		return nil, fmt.Errorf("writing artifact: %w", err)
	}

	d.logger.Info("run complete",
		"papers", len(papers), "edges", len(edges),
		"persisted", stats.Persisted, "artifact", d.cfg.OutputPath)
	return stats, nil
}

// enrichAll runs the enrichment stage against the vocabulary stored before
// this run's papers landed. Vocabulary read failures degrade to empty lists.
func (d *Driver) enrichAll(ctx context.Context, papers []*paper.Paper) {
	if d.deps.Enricher == nil || len(papers) == 0 {
		return
	}

	keywords, err := d.deps.Store.Keywords()
	if err != nil {
		d.logger.Warn("loading keyword vocabulary failed", "error", err)
	}
	domains, err := d.deps.Store.Domains()
	if err != nil {
		d.logger.Warn("loading domain vocabulary failed", "error", err)
	}

	for _, p := range papers {
		d.deps.Enricher.Enrich(ctx, p, keywords, domains)
	}
}

// persist writes papers and edges. Individual write failures leave the run
// degraded but alive.
func (d *Driver) persist(papers []*paper.Paper, edges []paper.Edge) int {
	persisted := 0
	for _, p := range papers {
		if err := d.deps.Store.SavePaper(p); err != nil {
			d.logger.Warn("persisting paper failed", "paper_id", p.CanonicalID, "error", err)
			continue
		}
		persisted++
	}

	if len(edges) > 0 {
		if _, err := d.deps.Store.SaveEdges(edges); err != nil {
			d.logger.Warn("persisting edges failed", "error", err)
		}
	}
	return persisted
}
