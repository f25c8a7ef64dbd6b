// Package expand implements the citation expansion engine: a bounded-depth,
// bounded-breadth traversal of the citation graph outward from a seed paper
// set, in both the cited (backward) and citing (forward) directions.
package expand

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/matsen/papergraph/internal/arxivid"
	"github.com/matsen/papergraph/internal/dedupe"
	"github.com/matsen/papergraph/internal/paper"
	"github.com/matsen/papergraph/internal/s2"
)

// Direction selects which side of the citation relationship to traverse.
type Direction int

const (
	// Backward expands to papers the frontier cites. Edges are recorded as
	// (frontier, neighbor).
	Backward Direction = iota

	// Forward expands to papers citing the frontier. Edges are recorded as
	// (neighbor, frontier).
	Forward
)

// String implements fmt.Stringer.
func (d Direction) String() string {
	if d == Forward {
		return "forward"
	}
	return "backward"
}

// CitationSource provides cited/citing lists for a canonical ID.
// *s2.Client satisfies it.
type CitationSource interface {
	GetCitationLists(ctx context.Context, canonicalID, knownTitle string) (cited, citing []s2.CitationRef, err error)
}

// TitleResolver resolves a free-text title to a canonical arXiv ID,
// returning "" when nothing resolves. *arxiv.Client satisfies it.
type TitleResolver interface {
	ResolveTitle(ctx context.Context, title string) string
}

// Ingestor runs the full single-paper sub-pipeline for a canonical ID:
// metadata fetch and validation, document download and extraction, section
// parsing. It returns an error when the paper fails any validity check.
type Ingestor interface {
	Ingest(ctx context.Context, canonicalID string) (*paper.Paper, error)
}

// Config bounds a traversal.
type Config struct {
	// MaxExtensions caps how many new edges a single frontier paper may
	// contribute per hop.
	MaxExtensions int

	// Depth is the number of hops. The surviving papers of hop N become
	// the frontier of hop N+1.
	Depth int
}

// DefaultConfig is the standard single-hop traversal bound.
var DefaultConfig = Config{MaxExtensions: 5, Depth: 1}

// Result is the outcome of one directional traversal: the newly ingested
// papers and the citation edges connecting them to the frontier.
type Result struct {
	Papers []*paper.Paper
	Edges  []paper.Edge
}

// Engine orchestrates expansion using narrow collaborator contracts so every
// external dependency is swappable in tests.
type Engine struct {
	citations CitationSource
	resolver  TitleResolver
	ingestor  Ingestor
	store     dedupe.ExistingIDSource
	logger    *slog.Logger
}

// NewEngine creates an expansion engine.
func NewEngine(citations CitationSource, resolver TitleResolver, ingestor Ingestor, store dedupe.ExistingIDSource, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		citations: citations,
		resolver:  resolver,
		ingestor:  ingestor,
		store:     store,
		logger:    logger,
	}
}

// candidate is one resolved neighbor of one frontier paper.
type candidate struct {
	frontierID string
	neighborID string
}

// Expand runs a bounded traversal in one direction starting from the given
// frontier. The frontier and every ID admitted during the traversal are
// recorded in visited, so a canonical ID is processed at most once even when
// multiple frontier papers reference it. Callers running several traversals
// in one run (both directions) pass the same visited set to every call so an
// ID admitted by one pass is never re-ingested by another; a nil visited set
// gets a fresh one scoped to this call.
//
// Returns an error only when the existing-ID snapshot cannot be read; every
// per-paper failure degrades to a warning and a dropped candidate.
func (e *Engine) Expand(ctx context.Context, frontier []*paper.Paper, dir Direction, cfg Config, visited map[string]bool) (*Result, error) {
	if cfg.MaxExtensions <= 0 {
		cfg.MaxExtensions = DefaultConfig.MaxExtensions
	}
	if cfg.Depth <= 0 {
		cfg.Depth = DefaultConfig.Depth
	}

	if visited == nil {
		visited = make(map[string]bool, len(frontier))
	}
	for _, p := range frontier {
		visited[p.CanonicalID] = true
	}

	result := &Result{}
	current := frontier

	for hop := 1; hop <= cfg.Depth && len(current) > 0; hop++ {
		admitted, edges, err := e.runHop(ctx, current, dir, cfg.MaxExtensions, visited)
		if err != nil {
			return nil, fmt.Errorf("%s hop %d: %w", dir, hop, err)
		}

		result.Papers = append(result.Papers, admitted...)
		result.Edges = append(result.Edges, edges...)
		current = admitted
	}

	result.Edges = paper.DedupeEdges(result.Edges)
	return result, nil
}

// runHop executes one full pass: resolve candidates, dedup as a batch,
// ingest survivors, record edges. Each hop takes its frontier and budget as
// arguments and returns its own result set.
func (e *Engine) runHop(ctx context.Context, frontier []*paper.Paper, dir Direction, budget int, visited map[string]bool) ([]*paper.Paper, []paper.Edge, error) {
	candidates := e.resolveCandidates(ctx, frontier, dir, visited)

	// One bulk snapshot per hop, read before any candidate is fetched.
	// Dedup decisions for the whole hop are made against this snapshot.
	existing, err := e.store.ExistingIDs()
	if err != nil {
		return nil, nil, fmt.Errorf("reading stored ids: %w", err)
	}

	var (
		admitted []*paper.Paper
		edges    []paper.Edge
		ingested = make(map[string]*paper.Paper)
		failed   = make(map[string]bool)
		accepted = make(map[string]int, len(frontier))
	)

	for _, c := range candidates {
		if accepted[c.frontierID] >= budget {
			continue
		}
		if existing[c.neighborID] {
			e.logger.Debug("candidate already stored", "paper_id", c.neighborID)
			continue
		}

		p, ok := ingested[c.neighborID]
		if !ok {
			if failed[c.neighborID] {
				continue
			}
			p, err = e.ingestor.Ingest(ctx, c.neighborID)
			if err != nil {
				e.logger.Warn("candidate ingestion failed",
					"paper_id", c.neighborID, "direction", dir.String(), "error", err)
				failed[c.neighborID] = true
				continue
			}
			ingested[c.neighborID] = p
			visited[c.neighborID] = true
			admitted = append(admitted, p)
		}

		edges = append(edges, newEdge(c.frontierID, c.neighborID, dir))
		accepted[c.frontierID]++
	}

	return admitted, edges, nil
}

// resolveCandidates walks each frontier paper's citation list in the chosen
// direction and resolves every entry to a canonical ID. Entries that resolve
// to nothing, to the frontier paper itself, or to an ID already admitted
// this run are dropped here.
func (e *Engine) resolveCandidates(ctx context.Context, frontier []*paper.Paper, dir Direction, visited map[string]bool) []candidate {
	var out []candidate

	for _, fp := range frontier {
		cited, citing, err := e.citations.GetCitationLists(ctx, fp.CanonicalID, fp.Title)
		if err != nil {
			e.logger.Warn("citation list fetch failed", "paper_id", fp.CanonicalID, "error", err)
			continue
		}

		refs := cited
		if dir == Forward {
			refs = citing
		}

		seen := make(map[string]bool, len(refs))
		for _, ref := range refs {
			id := e.resolveRef(ctx, ref)
			if id == "" || id == fp.CanonicalID || visited[id] || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, candidate{frontierID: fp.CanonicalID, neighborID: id})
		}
	}
	return out
}

// resolveRef turns one citation reference into a canonical ID: a carried
// arXiv ID is accepted directly, otherwise the title goes through resolution.
// "" means the reference cannot be pursued.
func (e *Engine) resolveRef(ctx context.Context, ref s2.CitationRef) string {
	if ref.ArXivID != "" {
		return arxivid.StripVersion(ref.ArXivID)
	}
	if ref.Title == "" {
		return ""
	}
	return e.resolver.ResolveTitle(ctx, ref.Title)
}

func newEdge(frontierID, neighborID string, dir Direction) paper.Edge {
	if dir == Forward {
		return paper.Edge{SourceID: neighborID, TargetID: frontierID}
	}
	return paper.Edge{SourceID: frontierID, TargetID: neighborID}
}
