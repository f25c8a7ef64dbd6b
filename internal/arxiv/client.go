// Package arxiv provides a rate-limited client for the arXiv Atom API and
// e-print source downloads.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/matsen/papergraph/internal/arxivid"
)

const (
	// APIBaseURL is the arXiv Atom query API endpoint.
	APIBaseURL = "https://export.arxiv.org/api/query"

	// SourceBaseURL is the e-print (LaTeX source archive) endpoint.
	SourceBaseURL = "https://arxiv.org/e-print"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 60 * time.Second

	// RateLimit follows arXiv's guideline of roughly one request every
	// three seconds per caller.
	RateLimit = 1.0 / 3.0
)

// Sort criteria for seed searches.
const (
	SortRelevance   = "relevance"
	SortLastUpdated = "lastUpdatedDate"
	SortSubmitted   = "submittedDate"
)

// Client is a rate-limited HTTP client for arXiv.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	apiURL     string
	srcURL     string
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithAPIURL sets a custom query API URL (for testing).
func WithAPIURL(u string) ClientOption {
	return func(c *Client) { c.apiURL = u }
}

// WithSourceURL sets a custom e-print base URL (for testing).
func WithSourceURL(u string) ClientOption {
	return func(c *Client) { c.srcURL = u }
}

// WithRateLimit overrides the requests-per-second limit.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// NewClient creates a new arXiv client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(RateLimit), 1),
		apiURL:     APIBaseURL,
		srcURL:     SourceBaseURL,
		logger:     slog.Default().With("component", "arxiv"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Metadata is the bibliographic subset arXiv returns for a paper.
type Metadata struct {
	CanonicalID string
	URL         string
	Title       string
	Abstract    string
	Published   time.Time
	Updated     time.Time
	Authors     []string
	Categories  []string
	DOI         string
}

// Search returns canonical IDs for papers matching the query, ordered by the
// given sort criterion (SortRelevance by default).
func (c *Client) Search(ctx context.Context, query string, max int, criterion string) ([]string, error) {
	if max <= 0 {
		max = 10
	}
	if criterion != SortLastUpdated && criterion != SortSubmitted {
		criterion = SortRelevance
	}

	params := url.Values{}
	params.Set("search_query", "all:"+query)
	params.Set("start", "0")
	params.Set("max_results", fmt.Sprintf("%d", max))
	params.Set("sortBy", criterion)
	params.Set("sortOrder", "descending")

	feed, err := c.queryFeed(ctx, params)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		if id := arxivid.FromURL(entry.ID); id != "" {
			ids = append(ids, id)
		}
	}
	c.logger.Info("search complete", "query", query, "found", len(ids))
	return ids, nil
}

// Latest returns canonical IDs for the most recently submitted papers in a
// category (e.g. "cs.AI").
func (c *Client) Latest(ctx context.Context, category string, max int) ([]string, error) {
	if max <= 0 {
		max = 3
	}

	params := url.Values{}
	params.Set("search_query", "cat:"+category)
	params.Set("start", "0")
	params.Set("max_results", fmt.Sprintf("%d", max))
	params.Set("sortBy", SortSubmitted)
	params.Set("sortOrder", "descending")

	feed, err := c.queryFeed(ctx, params)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		if id := arxivid.FromURL(entry.ID); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// FetchMetadata fetches bibliographic metadata for a batch of canonical IDs
// in a single API call. Missing IDs are simply absent from the result.
func (c *Client) FetchMetadata(ctx context.Context, ids []string) ([]Metadata, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	params := url.Values{}
	params.Set("id_list", strings.Join(ids, ","))
	params.Set("max_results", fmt.Sprintf("%d", len(ids)))

	feed, err := c.queryFeed(ctx, params)
	if err != nil {
		return nil, err
	}

	metas := make([]Metadata, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		m := entryToMetadata(entry)
		if m.CanonicalID == "" {
			continue
		}
		metas = append(metas, m)
	}
	return metas, nil
}

// TitleSearch looks up a paper by exact title match and returns its canonical
// ID. Returns "" when no paper matches.
func (c *Client) TitleSearch(ctx context.Context, title string) (string, error) {
	params := url.Values{}
	params.Set("search_query", fmt.Sprintf("ti:%q", title))
	params.Set("start", "0")
	params.Set("max_results", "1")

	feed, err := c.queryFeed(ctx, params)
	if err != nil {
		return "", err
	}
	if len(feed.Entries) == 0 {
		return "", nil
	}
	return arxivid.FromURL(feed.Entries[0].ID), nil
}

// ResolveTitle resolves a free-text title to a canonical ID. Resolution is
// best-effort: transport and parse failures are logged and reported as
// not-found, since most citation titles have no arXiv counterpart.
func (c *Client) ResolveTitle(ctx context.Context, title string) string {
	if strings.TrimSpace(title) == "" {
		return ""
	}
	id, err := c.TitleSearch(ctx, title)
	if err != nil {
		c.logger.Warn("title search failed", "title", title, "error", err)
		return ""
	}
	return id
}

// DownloadSource downloads the e-print source archive for a paper into
// destDir and returns the archive path. The archive is usually a gzipped tar
// but may be a single gzipped TeX file.
func (c *Client) DownloadSource(ctx context.Context, canonicalID, destDir string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	srcURL := c.srcURL + "/" + canonicalID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching source for %s: %w", canonicalID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching source for %s: http %s", canonicalID, resp.Status)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}

	// IDs may contain "/" (old format); flatten for the filename.
	name := strings.ReplaceAll(canonicalID, "/", "_") + ".tar.gz"
	path := filepath.Join(destDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating archive file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("writing archive: %w", err)
	}

	c.logger.Info("downloaded source", "id", canonicalID, "path", path)
	return path, nil
}

func (c *Client) queryFeed(ctx context.Context, params url.Values) (*atomFeed, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying arxiv: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("querying arxiv: http %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("parsing atom feed: %w", err)
	}
	return &feed, nil
}

func entryToMetadata(entry atomEntry) Metadata {
	m := Metadata{
		CanonicalID: arxivid.FromURL(entry.ID),
		URL:         entry.ID,
		Title:       collapseWhitespace(entry.Title),
		Abstract:    collapseWhitespace(entry.Summary),
		DOI:         entry.DOI,
	}
	for _, a := range entry.Authors {
		m.Authors = append(m.Authors, a.Name)
	}
	for _, cat := range entry.Categories {
		m.Categories = append(m.Categories, cat.Term)
	}
	m.Published, _ = time.Parse(time.RFC3339, entry.Published)
	m.Updated, _ = time.Parse(time.RFC3339, entry.Updated)
	return m
}

// collapseWhitespace flattens newlines and runs of spaces that arXiv embeds
// in titles and abstracts.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Atom feed structures for the arXiv API.

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID         string         `xml:"id"`
	Title      string         `xml:"title"`
	Summary    string         `xml:"summary"`
	Authors    []atomAuthor   `xml:"author"`
	Categories []atomCategory `xml:"category"`
	Published  string         `xml:"published"`
	Updated    string         `xml:"updated"`
	DOI        string         `xml:"doi"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}
