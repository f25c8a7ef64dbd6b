// Package paper defines the core domain types for the ingestion pipeline:
// papers, authors, raw citation entries, and citation edges.
package paper

import (
	"errors"
	"time"
)

// Paper is the central entity of the pipeline. It is created once metadata
// and document fetch both succeed, and fields are filled in stage by stage.
// A paper that fails a validity check at any stage is dropped and never
// persisted.
type Paper struct {
	// CanonicalID is the version-stripped arXiv identifier
	// (e.g. "2310.01234", never "2310.01234v2").
	CanonicalID string `json:"paper_id"`

	URL      string `json:"paper_url,omitempty"`
	Title    string `json:"title"`
	Abstract string `json:"abstract"`
	Year     int    `json:"year,omitempty"`

	// PublishedDate is formatted DD-MM-YYYY in the output artifact.
	PublishedDate string `json:"date,omitempty"`

	Venue   string `json:"venue,omitempty"`
	Journal string `json:"journal,omitempty"`
	DOI     string `json:"doi,omitempty"`

	// SemanticID is the Semantic Scholar paper ID, when known.
	SemanticID string `json:"semanticId,omitempty"`

	// Authors preserves catalog order; author position matters downstream.
	Authors []Author `json:"authors,omitempty"`

	CitationCount            int `json:"citationCount"`
	InfluentialCitationCount int `json:"influentialCitationCount"`

	// Sections maps section name to body text in document order.
	// A paper with zero extracted sections is invalid and dropped.
	Sections *SectionMap `json:"sections,omitempty"`

	// Tables holds table environments stripped from section bodies.
	Tables []string `json:"tables,omitempty"`

	// Citations are raw bibliography entries, pre-resolution.
	Citations []CitationEntry `json:"citations,omitempty"`

	// Enrichment outputs; empty until the enrichment stage runs, and left
	// empty when an enrichment step soft-fails.
	Keywords []string `json:"keywords,omitempty"`
	Domain   string   `json:"domain,omitempty"`
	Summary  string   `json:"summary,omitempty"`
}

// Author identifies a paper author within a run by name, and across runs by
// external AuthorID when present (lowercased name otherwise).
type Author struct {
	Name         string   `json:"name"`
	Affiliations []string `json:"affiliations,omitempty"`
	AuthorID     string   `json:"authorId,omitempty"`
	HIndex       *int     `json:"hIndex,omitempty"`
	CitationCnt  *int     `json:"citationCount,omitempty"`
	Order        int      `json:"author_order"`
}

// PlaceholderAffiliation is recorded when the catalog returns no affiliation.
const PlaceholderAffiliation = "N/A"

// IdentityKey returns the cross-run identity for the author: the external
// author ID when present, otherwise the lowercased name.
func (a Author) IdentityKey() string {
	if a.AuthorID != "" {
		return a.AuthorID
	}
	return lowerASCII(a.Name)
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// CitationEntry is unresolved evidence from a paper's own bibliography. It is
// not a Paper: it must go through title resolution to become a canonical ID.
type CitationEntry struct {
	Key     string `json:"key"`
	Title   string `json:"title,omitempty"`
	Authors string `json:"authors,omitempty"`
	Year    string `json:"year,omitempty"`

	// ArXivID is set when the bibliography text itself carries an arXiv
	// identifier (eprint fields, PDF reference scans). Entries without one
	// go through title resolution.
	ArXivID string `json:"arxivId,omitempty"`
}

// Validation errors for papers and edges.
var (
	ErrEmptyID       = errors.New("paper_id is required")
	ErrEmptyTitle    = errors.New("title is required")
	ErrEmptyAbstract = errors.New("abstract is required")
	ErrNoSections    = errors.New("paper has no extracted sections")
	ErrEmptySource   = errors.New("source_id is required")
	ErrEmptyTarget   = errors.New("target_id is required")
	ErrSelfEdge      = errors.New("source_id and target_id cannot be the same")
)

// ValidateMetadata checks the invariants required before document fetch:
// non-empty canonical ID, title, and abstract.
func (p *Paper) ValidateMetadata() error {
	if p.CanonicalID == "" {
		return ErrEmptyID
	}
	if p.Title == "" {
		return ErrEmptyTitle
	}
	if p.Abstract == "" {
		return ErrEmptyAbstract
	}
	return nil
}

// Validate checks the full validity invariants for a persistable paper.
func (p *Paper) Validate() error {
	if err := p.ValidateMetadata(); err != nil {
		return err
	}
	if p.Sections == nil || p.Sections.Len() == 0 {
		return ErrNoSections
	}
	return nil
}

// Edge is a directed citation relationship: source cites target. Edges may
// reference canonical IDs outside the current paper set; the persistence
// sink resolves those against its own ID mapping.
type Edge struct {
	SourceID  string `json:"source_id"`
	TargetID  string `json:"target_id"`
	CreatedAt string `json:"created_at,omitempty"`
}

// Validate checks the edge invariants for creation.
func (e *Edge) Validate() error {
	if e.SourceID == "" {
		return ErrEmptySource
	}
	if e.TargetID == "" {
		return ErrEmptyTarget
	}
	if e.SourceID == e.TargetID {
		return ErrSelfEdge
	}
	return nil
}

// Key returns the identity pair used for edge deduplication.
func (e *Edge) Key() EdgeKey {
	return EdgeKey{SourceID: e.SourceID, TargetID: e.TargetID}
}

// SetCreatedAt stamps the edge with the current time if not already set.
func (e *Edge) SetCreatedAt() {
	if e.CreatedAt == "" {
		e.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
}

// EdgeKey is the unique identity of an edge.
type EdgeKey struct {
	SourceID string
	TargetID string
}

// DedupeEdges returns edges with duplicate (source, target) pairs removed,
// preserving first-seen order.
func DedupeEdges(edges []Edge) []Edge {
	seen := make(map[EdgeKey]bool, len(edges))
	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		k := e.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}
