// Package s2 provides a rate-limited client for the Semantic Scholar graph
// API with bounded retry and exponential backoff.
package s2

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/matsen/papergraph/internal/arxivid"
)

const (
	// BaseURL is the Semantic Scholar graph API base URL.
	BaseURL = "https://api.semanticscholar.org/graph/v1"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 60 * time.Second

	// RateLimit is 1 request per second for unauthenticated callers.
	RateLimit = 1.0

	// DefaultMaxRetries bounds retry attempts per request.
	DefaultMaxRetries = 5

	// DefaultBackoffBase is the exponential backoff base delay: attempt n
	// waits base * 2^(n-1).
	DefaultBackoffBase = 2 * time.Second

	// metadataFields are requested for paper metadata lookups.
	metadataFields = "paperId,title,abstract,authors.name,authors.authorId,authors.affiliations,year,externalIds,venue,journal,url,citationCount,influentialCitationCount"

	// citationFields are requested for citation/reference list lookups.
	citationFields = "title,year,paperId,externalIds," +
		"citations.title,citations.year,citations.paperId,citations.externalIds," +
		"references.title,references.year,references.paperId,references.externalIds"
)

// Client is a rate-limited HTTP client for the Semantic Scholar API.
type Client struct {
	httpClient  *http.Client
	limiter     *rate.Limiter
	apiKey      string
	baseURL     string
	maxRetries  int
	backoffBase time.Duration
	sleep       func(time.Duration)
	logger      *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIKey sets the API key for authenticated requests.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

// WithRetry configures retry attempts and backoff base delay.
func WithRetry(maxRetries int, backoffBase time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.backoffBase = backoffBase
	}
}

// WithRateLimit overrides the requests-per-second limit.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// NewClient creates a new Semantic Scholar API client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		limiter:     rate.NewLimiter(rate.Limit(RateLimit), 1),
		baseURL:     BaseURL,
		maxRetries:  DefaultMaxRetries,
		backoffBase: DefaultBackoffBase,
		sleep:       time.Sleep,
		logger:      slog.Default().With("component", "s2"),
	}

	if key := os.Getenv("S2_API_KEY"); key != "" {
		c.apiKey = key
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetPaperMetadata retrieves title, abstract, venue, counts, and the ordered
// author list (with batch-fetched metrics) for a canonical arXiv ID. When
// knownTitle is non-empty and differs from the catalog's title, a warning is
// logged but the result is still returned: catalog search is fuzzy and
// near-matches are accepted.
func (c *Client) GetPaperMetadata(ctx context.Context, canonicalID, knownTitle string) (*PaperMetadata, error) {
	url := fmt.Sprintf("%s/paper/arXiv:%s?fields=%s", c.baseURL, canonicalID, metadataFields)

	body, err := c.doWithRetry(ctx, http.MethodGet, url, nil, canonicalID)
	if err != nil {
		return nil, err
	}

	var raw s2Paper
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: parsing paper metadata: %v", ErrInvalidResponse, err)
	}
	if raw.PaperID == "" {
		return nil, ErrNotFound
	}

	c.warnTitleMismatch(canonicalID, knownTitle, raw.Title)

	meta := &PaperMetadata{
		SemanticID:               raw.PaperID,
		Title:                    raw.Title,
		Year:                     raw.Year,
		Venue:                    raw.Venue,
		URL:                      raw.URL,
		DOI:                      raw.ExternalIDs.DOI,
		ArXivID:                  arxivid.StripVersion(raw.ExternalIDs.ArXiv),
		CitationCount:            raw.CitationCount,
		InfluentialCitationCount: raw.InfluentialCitationCount,
	}
	if raw.Journal != nil {
		meta.Journal = raw.Journal.Name
	}

	metrics := c.authorMetrics(ctx, raw.Authors)
	for i, a := range raw.Authors {
		am := AuthorMetadata{
			Name:         a.Name,
			AuthorID:     a.AuthorID,
			Affiliations: a.Affiliations,
			Order:        i + 1,
		}
		if m, ok := metrics[a.AuthorID]; ok {
			am.HIndex = m.HIndex
			am.CitationCount = m.CitationCount
		}
		meta.Authors = append(meta.Authors, am)
	}

	return meta, nil
}

// GetCitationLists retrieves the papers cited by (references) and citing
// (citations) the given paper. Each entry carries whatever identity subset
// the catalog returned.
func (c *Client) GetCitationLists(ctx context.Context, canonicalID, knownTitle string) (cited, citing []CitationRef, err error) {
	url := fmt.Sprintf("%s/paper/arXiv:%s?fields=%s", c.baseURL, canonicalID, citationFields)

	body, err := c.doWithRetry(ctx, http.MethodGet, url, nil, canonicalID)
	if err != nil {
		return nil, nil, err
	}

	var raw s2Paper
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, nil, fmt.Errorf("%w: parsing citation lists: %v", ErrInvalidResponse, err)
	}

	c.warnTitleMismatch(canonicalID, knownTitle, raw.Title)

	return toCitationRefs(raw.References), toCitationRefs(raw.Citations), nil
}

// authorMetrics batch-fetches hIndex and citationCount for the given authors
// via /author/batch. Failures degrade to an empty map: author metrics are
// enrichment, not identity.
func (c *Client) authorMetrics(ctx context.Context, authors []s2Author) map[string]s2Author {
	var ids []string
	for _, a := range authors {
		if a.AuthorID != "" {
			ids = append(ids, a.AuthorID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	payload, err := json.Marshal(map[string][]string{"ids": ids})
	if err != nil {
		return nil
	}

	url := c.baseURL + "/author/batch?fields=name,hIndex,citationCount"
	body, err := c.doWithRetry(ctx, http.MethodPost, url, payload, "")
	if err != nil {
		c.logger.Warn("author metrics fetch failed", "error", err)
		return nil
	}

	var raw []s2Author
	if err := json.Unmarshal(body, &raw); err != nil {
		c.logger.Warn("author metrics parse failed", "error", err)
		return nil
	}

	metrics := make(map[string]s2Author, len(raw))
	for _, a := range raw {
		if a.AuthorID != "" {
			metrics[a.AuthorID] = a
		}
	}
	return metrics
}

func toCitationRefs(papers []s2Paper) []CitationRef {
	refs := make([]CitationRef, 0, len(papers))
	for _, p := range papers {
		refs = append(refs, CitationRef{
			Title:      p.Title,
			ArXivID:    arxivid.StripVersion(p.ExternalIDs.ArXiv),
			SemanticID: p.PaperID,
			Year:       p.Year,
		})
	}
	return refs
}

func (c *Client) warnTitleMismatch(canonicalID, known, found string) {
	if known == "" || found == "" {
		return
	}
	if !strings.EqualFold(strings.TrimSpace(known), strings.TrimSpace(found)) {
		c.logger.Warn("title mismatch", "id", canonicalID, "known", known, "found", found)
	}
}

// doWithRetry executes one API request with bounded retry and exponential
// backoff. Not-found and other client errors return immediately; rate limits,
// server errors, and transport failures are retried until attempts are
// exhausted.
func (c *Client) doWithRetry(ctx context.Context, method, url string, payload []byte, paperID string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		body, err := c.doOnce(ctx, method, url, payload, paperID)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}
		if attempt < c.maxRetries {
			delay := c.backoffBase << (attempt - 1)
			c.logger.Warn("request failed, retrying", "attempt", attempt, "delay", delay, "error", err)
			c.sleep(delay)
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, url string, payload []byte, paperID string) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, &APIError{StatusCode: resp.StatusCode, Message: resp.Status, PaperID: paperID}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return body, nil
}
