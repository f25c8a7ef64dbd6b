// Package sink implements the persistence destinations for ingested papers:
// a SQLite store holding relational records and citation edges, and a
// best-effort vector sink fed by an embedding provider.
package sink

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/matsen/papergraph/internal/paper"
	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection. A failed open is fatal to the run;
// individual write failures after that are reported but leave the run in a
// degraded, continuing state.
type DB struct {
	db *sql.DB
}

// OpenDB opens or creates a SQLite database at the given path.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// createSchema creates the database schema if it doesn't exist.
func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS papers (
			paper_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			abstract TEXT,
			url TEXT,
			pub_year INTEGER,
			pub_date TEXT,
			venue TEXT,
			journal TEXT,
			doi TEXT,
			semantic_id TEXT,
			citation_count INTEGER NOT NULL DEFAULT 0,
			influential_citation_count INTEGER NOT NULL DEFAULT 0,
			domain TEXT,
			summary TEXT,
			tables_json TEXT,
			created_at TEXT NOT NULL
		);

		-- One row per distinct author identity. Identity is the external
		-- author ID when known, otherwise the lowercased name.
		CREATE TABLE IF NOT EXISTS authors (
			identity_key TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			author_id TEXT,
			h_index INTEGER,
			citation_count INTEGER,
			affiliations_json TEXT
		);

		CREATE TABLE IF NOT EXISTS paper_authors (
			paper_id TEXT NOT NULL,
			identity_key TEXT NOT NULL,
			author_order INTEGER NOT NULL,
			PRIMARY KEY (paper_id, identity_key)
		);

		CREATE TABLE IF NOT EXISTS sections (
			paper_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			body TEXT,
			PRIMARY KEY (paper_id, position)
		);

		-- Raw bibliography entries as extracted, pre-resolution.
		CREATE TABLE IF NOT EXISTS citations (
			paper_id TEXT NOT NULL,
			cite_key TEXT NOT NULL,
			title TEXT,
			authors TEXT,
			pub_year TEXT,
			arxiv_id TEXT
		);

		CREATE TABLE IF NOT EXISTS keywords (
			paper_id TEXT NOT NULL,
			keyword TEXT NOT NULL,
			PRIMARY KEY (paper_id, keyword)
		);

		-- Directed citation graph: source cites target. Either endpoint may
		-- reference a paper not present in papers (a dangling edge into a
		-- later ingestion run); those rows are legal.
		CREATE TABLE IF NOT EXISTS edges (
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			created_at TEXT,
			PRIMARY KEY (source_id, target_id)
		);

		CREATE TABLE IF NOT EXISTS embeddings (
			paper_id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			vector_json TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
	`

	_, err := db.Exec(schema)
	return err
}

// ExistingIDs returns the set of canonical paper IDs already stored. This is
// the deduplication gate's source of truth and is read once per batch, not
// per candidate.
func (d *DB) ExistingIDs() (map[string]bool, error) {
	rows, err := d.db.Query("SELECT paper_id FROM papers")
	if err != nil {
		return nil, fmt.Errorf("querying existing ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// SavePaper persists a paper with its authors, sections, keywords, and raw
// citation entries. An author whose identity already exists keeps its stored
// metrics record untouched; the paper-author link is still written.
func (d *DB) SavePaper(p *paper.Paper) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("refusing to persist %s: %w", p.CanonicalID, err)
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var tablesJSON []byte
	if len(p.Tables) > 0 {
		tablesJSON, err = json.Marshal(p.Tables)
		if err != nil {
			return fmt.Errorf("marshaling tables for %s: %w", p.CanonicalID, err)
		}
	}

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO papers (
			paper_id, title, abstract, url, pub_year, pub_date,
			venue, journal, doi, semantic_id,
			citation_count, influential_citation_count,
			domain, summary, tables_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.CanonicalID, p.Title, p.Abstract, nullableStringValue(p.URL),
		nullableInt(p.Year), nullableStringValue(p.PublishedDate),
		nullableStringValue(p.Venue), nullableStringValue(p.Journal),
		nullableStringValue(p.DOI), nullableStringValue(p.SemanticID),
		p.CitationCount, p.InfluentialCitationCount,
		nullableStringValue(p.Domain), nullableStringValue(p.Summary),
		nullableString(tablesJSON), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting paper %s: %w", p.CanonicalID, err)
	}

	if err := saveAuthors(tx, p); err != nil {
		return err
	}
	if err := saveSections(tx, p); err != nil {
		return err
	}
	if err := saveCitations(tx, p); err != nil {
		return err
	}
	if err := saveKeywords(tx, p); err != nil {
		return err
	}

	return tx.Commit()
}

func saveAuthors(tx *sql.Tx, p *paper.Paper) error {
	for _, a := range p.Authors {
		key := a.IdentityKey()

		var exists int
		err := tx.QueryRow("SELECT COUNT(*) FROM authors WHERE identity_key = ?", key).Scan(&exists)
		if err != nil {
			return fmt.Errorf("checking author %s: %w", key, err)
		}

		// A known identity skips the metrics insert; the link below is
		// still written.
		if exists == 0 {
			affiliations := a.Affiliations
			if len(affiliations) == 0 {
				affiliations = []string{paper.PlaceholderAffiliation}
			}
			affJSON, err := json.Marshal(affiliations)
			if err != nil {
				return fmt.Errorf("marshaling affiliations for %s: %w", a.Name, err)
			}

			_, err = tx.Exec(`
				INSERT INTO authors (identity_key, name, author_id, h_index, citation_count, affiliations_json)
				VALUES (?, ?, ?, ?, ?, ?)
			`, key, a.Name, nullableStringValue(a.AuthorID),
				nullableIntPtr(a.HIndex), nullableIntPtr(a.CitationCnt), string(affJSON))
			if err != nil {
				return fmt.Errorf("inserting author %s: %w", a.Name, err)
			}
		}

		_, err = tx.Exec(`
			INSERT OR IGNORE INTO paper_authors (paper_id, identity_key, author_order)
			VALUES (?, ?, ?)
		`, p.CanonicalID, key, a.Order)
		if err != nil {
			return fmt.Errorf("linking author %s to %s: %w", a.Name, p.CanonicalID, err)
		}
	}
	return nil
}

func saveSections(tx *sql.Tx, p *paper.Paper) error {
	if _, err := tx.Exec("DELETE FROM sections WHERE paper_id = ?", p.CanonicalID); err != nil {
		return fmt.Errorf("clearing sections for %s: %w", p.CanonicalID, err)
	}
	for i, name := range p.Sections.Names() {
		body, _ := p.Sections.Get(name)
		_, err := tx.Exec(`
			INSERT INTO sections (paper_id, position, name, body)
			VALUES (?, ?, ?, ?)
		`, p.CanonicalID, i, name, body)
		if err != nil {
			return fmt.Errorf("inserting section %q for %s: %w", name, p.CanonicalID, err)
		}
	}
	return nil
}

func saveCitations(tx *sql.Tx, p *paper.Paper) error {
	if _, err := tx.Exec("DELETE FROM citations WHERE paper_id = ?", p.CanonicalID); err != nil {
		return fmt.Errorf("clearing citations for %s: %w", p.CanonicalID, err)
	}
	for _, c := range p.Citations {
		_, err := tx.Exec(`
			INSERT INTO citations (paper_id, cite_key, title, authors, pub_year, arxiv_id)
			VALUES (?, ?, ?, ?, ?, ?)
		`, p.CanonicalID, c.Key, nullableStringValue(c.Title),
			nullableStringValue(c.Authors), nullableStringValue(c.Year),
			nullableStringValue(c.ArXivID))
		if err != nil {
			return fmt.Errorf("inserting citation %q for %s: %w", c.Key, p.CanonicalID, err)
		}
	}
	return nil
}

func saveKeywords(tx *sql.Tx, p *paper.Paper) error {
	for _, kw := range p.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		_, err := tx.Exec(`
			INSERT OR IGNORE INTO keywords (paper_id, keyword) VALUES (?, ?)
		`, p.CanonicalID, kw)
		if err != nil {
			return fmt.Errorf("inserting keyword %q for %s: %w", kw, p.CanonicalID, err)
		}
	}
	return nil
}

// SaveEdges writes citation edges, ignoring duplicates of already-stored
// pairs. It returns the number of newly inserted edges.
func (d *DB) SaveEdges(edges []paper.Edge) (int, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO edges (source_id, target_id, created_at)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("preparing edge insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, e := range edges {
		if err := e.Validate(); err != nil {
			return inserted, fmt.Errorf("invalid edge %s -> %s: %w", e.SourceID, e.TargetID, err)
		}
		e.SetCreatedAt()
		res, err := stmt.Exec(e.SourceID, e.TargetID, e.CreatedAt)
		if err != nil {
			return inserted, fmt.Errorf("inserting edge %s -> %s: %w", e.SourceID, e.TargetID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing edges: %w", err)
	}
	return inserted, nil
}

// Keywords returns the distinct stored keyword vocabulary, lowercased.
func (d *DB) Keywords() ([]string, error) {
	return d.stringColumn("SELECT DISTINCT keyword FROM keywords ORDER BY keyword")
}

// Domains returns the distinct stored domain vocabulary, lowercased.
func (d *DB) Domains() ([]string, error) {
	return d.stringColumn("SELECT DISTINCT LOWER(domain) FROM papers WHERE domain IS NOT NULL AND domain != '' ORDER BY 1")
}

func (d *DB) stringColumn(query string) ([]string, error) {
	rows, err := d.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("querying vocabulary: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// CountPapers returns the total number of stored papers.
func (d *DB) CountPapers() (int, error) {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM papers").Scan(&count)
	return count, err
}

// CountEdges returns the total number of stored citation edges.
func (d *DB) CountEdges() (int, error) {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM edges").Scan(&count)
	return count, err
}

// SaveEmbedding stores or replaces the embedding vector for a paper.
func (d *DB) SaveEmbedding(paperID, model string, vector []float32) error {
	vecJSON, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("marshaling vector for %s: %w", paperID, err)
	}
	_, err = d.db.Exec(`
		INSERT OR REPLACE INTO embeddings (paper_id, model, vector_json, created_at)
		VALUES (?, ?, ?, ?)
	`, paperID, model, string(vecJSON), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting embedding for %s: %w", paperID, err)
	}
	return nil
}

// CountEmbeddings returns the number of papers with stored embeddings.
func (d *DB) CountEmbeddings() (int, error) {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM embeddings").Scan(&count)
	return count, err
}

func nullableString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// nullableStringValue converts a string to sql.NullString, treating empty as NULL.
func nullableStringValue(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableInt(n int) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(n), Valid: true}
}

func nullableIntPtr(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}
