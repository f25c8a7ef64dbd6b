// Package pipeline sequences one ingestion run: seed acquisition,
// deduplication, document ingestion, citation expansion, enrichment, and
// persistence, ending with a line-delimited JSON artifact on disk.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/matsen/papergraph/internal/arxiv"
	"github.com/matsen/papergraph/internal/paper"
	"github.com/matsen/papergraph/internal/s2"
	"github.com/matsen/papergraph/internal/texsrc"
)

// DocumentSource downloads source archives and serves catalog metadata.
// *arxiv.Client satisfies it.
type DocumentSource interface {
	FetchMetadata(ctx context.Context, ids []string) ([]arxiv.Metadata, error)
	DownloadSource(ctx context.Context, canonicalID, destDir string) (string, error)
}

// MetadataClient serves bibliographic metadata and citation lists.
// *s2.Client satisfies it.
type MetadataClient interface {
	GetPaperMetadata(ctx context.Context, canonicalID, knownTitle string) (*s2.PaperMetadata, error)
	GetCitationLists(ctx context.Context, canonicalID, knownTitle string) (cited, citing []s2.CitationRef, err error)
}

// Ingestor runs the single-paper sub-pipeline: catalog metadata, validity
// check, source download, extraction, section and citation parsing. The same
// path serves seed papers and expansion candidates.
type Ingestor struct {
	docs    DocumentSource
	catalog MetadataClient
	workdir string
	logger  *slog.Logger
}

// NewIngestor creates an ingestor that extracts sources under workdir.
func NewIngestor(docs DocumentSource, catalog MetadataClient, workdir string, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{docs: docs, catalog: catalog, workdir: workdir, logger: logger}
}

// Ingest builds a validated Paper for one canonical ID. The metadata validity
// check runs before the source download so an unusable paper never costs a
// download. Catalog-enrichment failures (author metrics, counts) degrade to
// a warning; a missing or unparseable document is an error and the paper is
// dropped by the caller.
func (i *Ingestor) Ingest(ctx context.Context, canonicalID string) (*paper.Paper, error) {
	metas, err := i.docs.FetchMetadata(ctx, []string{canonicalID})
	if err != nil {
		return nil, fmt.Errorf("fetching metadata: %w", err)
	}
	if len(metas) == 0 {
		return nil, fmt.Errorf("no metadata returned for %s", canonicalID)
	}
	meta := metas[0]

	p := &paper.Paper{
		CanonicalID:   canonicalID,
		URL:           meta.URL,
		Title:         collapseTitle(meta.Title),
		Abstract:      strings.TrimSpace(meta.Abstract),
		DOI:           meta.DOI,
		Year:          meta.Published.Year(),
		PublishedDate: meta.Published.Format("02-01-2006"),
	}
	if meta.Published.IsZero() {
		p.Year = 0
		p.PublishedDate = ""
	}

	// Invalid metadata fails here, before any download happens.
	if err := p.ValidateMetadata(); err != nil {
		return nil, fmt.Errorf("invalid metadata for %s: %w", canonicalID, err)
	}

	i.mergeCatalogMetadata(ctx, p)

	if err := i.ingestDocument(ctx, p); err != nil {
		return nil, err
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid paper %s: %w", canonicalID, err)
	}
	return p, nil
}

// mergeCatalogMetadata layers citation counts, venue, and author records from
// the bibliographic catalog onto the paper. This enrichment is best-effort.
func (i *Ingestor) mergeCatalogMetadata(ctx context.Context, p *paper.Paper) {
	meta, err := i.catalog.GetPaperMetadata(ctx, p.CanonicalID, p.Title)
	if err != nil {
		i.logger.Warn("catalog metadata unavailable", "paper_id", p.CanonicalID, "error", err)
		return
	}

	p.SemanticID = meta.SemanticID
	p.Venue = meta.Venue
	p.Journal = meta.Journal
	p.CitationCount = meta.CitationCount
	p.InfluentialCitationCount = meta.InfluentialCitationCount
	if p.DOI == "" {
		p.DOI = meta.DOI
	}
	if meta.Year != 0 && p.Year == 0 {
		p.Year = meta.Year
	}

	for _, a := range meta.Authors {
		p.Authors = append(p.Authors, paper.Author{
			Name:         a.Name,
			Affiliations: a.Affiliations,
			AuthorID:     a.AuthorID,
			HIndex:       a.HIndex,
			CitationCnt:  a.CitationCount,
			Order:        a.Order,
		})
	}
}

// ingestDocument downloads and extracts the paper's source archive, then
// parses sections, tables, and bibliography entries.
func (i *Ingestor) ingestDocument(ctx context.Context, p *paper.Paper) error {
	archive, err := i.docs.DownloadSource(ctx, p.CanonicalID, i.workdir)
	if err != nil {
		return fmt.Errorf("downloading source: %w", err)
	}

	extractDir := filepath.Join(i.workdir, safeDirName(p.CanonicalID))
	if err := texsrc.ExtractArchive(archive, extractDir); err != nil {
		return fmt.Errorf("extracting source: %w", err)
	}

	src, err := texsrc.Organize(extractDir)
	if err != nil {
		return fmt.Errorf("organizing source: %w", err)
	}

	sections, tables := texsrc.ParseSections(src.MainTex)
	p.Sections = sections
	p.Tables = tables
	p.Citations = texsrc.ExtractCitations(src)
	return nil
}

// Cleanup removes the working directory with all downloaded and extracted
// material. Called once at the end of a run.
func (i *Ingestor) Cleanup() {
	if i.workdir == "" {
		return
	}
	if err := os.RemoveAll(i.workdir); err != nil {
		i.logger.Warn("workdir cleanup failed", "workdir", i.workdir, "error", err)
	}
}

func safeDirName(id string) string {
	return strings.ReplaceAll(id, "/", "_")
}

// collapseTitle flattens feed-supplied whitespace in titles.
func collapseTitle(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
