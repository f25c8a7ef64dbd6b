// Package enrich attaches keywords, a domain label, and a summary to papers
// via an OpenAI-compatible chat API. The three steps run sequentially per
// paper; a failing step leaves its field empty without touching the others.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/matsen/papergraph/internal/paper"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	// DefaultBaseURL is the OpenRouter OpenAI-compatible endpoint.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultModel is the default chat model.
	DefaultModel = "meta-llama/llama-4-maverick:free"

	// DefaultMaxKeywords bounds the keyword list per paper.
	DefaultMaxKeywords = 10

	// parseAttempts is how many times a malformed model response is retried.
	parseAttempts = 3
)

// Classifier enriches papers through an LLM.
type Classifier struct {
	model       llms.Model
	maxKeywords int
	logger      *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithModel replaces the chat model. Used by tests to inject a mock.
func WithModel(m llms.Model) Option {
	return func(c *Classifier) {
		c.model = m
	}
}

// WithMaxKeywords sets the per-paper keyword cap.
func WithMaxKeywords(n int) Option {
	return func(c *Classifier) {
		c.maxKeywords = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) {
		c.logger = l
	}
}

// NewClassifier creates a classifier backed by an OpenAI-compatible API.
func NewClassifier(baseURL, apiKey, model string, opts ...Option) (*Classifier, error) {
	c := &Classifier{
		maxKeywords: DefaultMaxKeywords,
		logger:      slog.Default().With("component", "enrich"),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.model == nil {
		if baseURL == "" {
			baseURL = DefaultBaseURL
		}
		if model == "" {
			model = DefaultModel
		}
		client, err := openai.New(
			openai.WithBaseURL(baseURL),
			openai.WithToken(apiKey),
			openai.WithModel(model),
		)
		if err != nil {
			return nil, fmt.Errorf("creating llm client: %w", err)
		}
		c.model = client
	}
	return c, nil
}

// Enrich runs the keywords, domain, and summary steps for one paper. Each
// step soft-fails independently: a failure leaves that field at its zero
// value and the paper proceeds.
func (c *Classifier) Enrich(ctx context.Context, p *paper.Paper, knownKeywords, knownDomains []string) {
	keywords, err := c.Keywords(ctx, p.Title, p.Abstract, knownKeywords)
	if err != nil {
		c.logger.Warn("keyword extraction failed", "paper_id", p.CanonicalID, "error", err)
	} else {
		p.Keywords = keywords
	}

	domain, err := c.Domain(ctx, p.Title, p.Abstract, knownDomains)
	if err != nil {
		c.logger.Warn("domain classification failed", "paper_id", p.CanonicalID, "error", err)
	} else {
		p.Domain = domain
	}

	summary, err := c.Summary(ctx, p.Title, p.Abstract)
	if err != nil {
		c.logger.Warn("summary generation failed", "paper_id", p.CanonicalID, "error", err)
	} else {
		p.Summary = summary
	}
}

// Keywords extracts up to maxKeywords research keywords, steered by the
// stored vocabulary.
func (c *Classifier) Keywords(ctx context.Context, title, abstract string, known []string) ([]string, error) {
	prompt := fmt.Sprintf(
		"Given the following paper title and abstract, extract up to %d concise and meaningful research keywords.\n"+
			"Use relevant terms from this list of known keywords if they apply, but feel free to override or add better ones if necessary.\n"+
			"Known Keywords: %s\n\n"+
			"Title: %s\n\n"+
			"Abstract: %s\n"+
			"Keywords should be broad enough such that multiple papers can fit into it but still sufficiently specific.\n"+
			"Each keyword should be short (no more than 3-4 words).\n"+
			`Return the output as a JSON object with the key "keywords": ["keyword1", "keyword2"] and nothing else.`,
		c.maxKeywords, vocabList(known), title, abstract)

	var out struct {
		Keywords []string `json:"keywords"`
	}
	if err := c.complete(ctx, prompt, &out); err != nil {
		return nil, err
	}
	if len(out.Keywords) > c.maxKeywords {
		out.Keywords = out.Keywords[:c.maxKeywords]
	}
	return out.Keywords, nil
}

// Domain classifies the paper into a single research domain, preferring the
// stored vocabulary.
func (c *Classifier) Domain(ctx context.Context, title, abstract string, known []string) (string, error) {
	prompt := fmt.Sprintf(
		"Given the following paper title and abstract, identify the single most relevant research domain from the list below.\n"+
			"Choose only one domain from the list if it applies. If none are relevant, suggest one better suited.\n"+
			"Available Domains: %s\n\n"+
			"Title: %s\n\n"+
			"Abstract: %s\n"+
			"Domain should be broad enough such that multiple papers can fit into it but not all. "+
			"For example, representation learning or contrastive learning are valid, but machine learning is not.\n"+
			"The domain should be short (no more than 3-4 words).\n"+
			`Return the output as a JSON object with the key "domain": "domain name" and nothing else.`,
		vocabList(known), title, abstract)

	var out struct {
		Domain string `json:"domain"`
	}
	if err := c.complete(ctx, prompt, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Domain), nil
}

// Summary generates a 3-4 sentence summary of the paper.
func (c *Classifier) Summary(ctx context.Context, title, abstract string) (string, error) {
	prompt := fmt.Sprintf(
		"Given the following paper title: %s and abstract: %s, generate a concise and informative summary.\n"+
			"The summary should be of 3-4 sentences max. Focus on what the paper is about and its core contribution.\n"+
			`Return the output as a JSON object with the key "summary": "Here is the summary" and nothing else.`,
		title, abstract)

	var out struct {
		Summary string `json:"summary"`
	}
	if err := c.complete(ctx, prompt, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Summary), nil
}

// complete sends one prompt and unmarshals the JSON response into dest,
// retrying on malformed output.
func (c *Classifier) complete(ctx context.Context, prompt string, dest any) error {
	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(prompt)},
		},
	}

	var lastErr error
	for attempt := 1; attempt <= parseAttempts; attempt++ {
		response, err := c.model.GenerateContent(ctx, content, llms.WithTemperature(0.0))
		if err != nil {
			return fmt.Errorf("generating content: %w", err)
		}
		if len(response.Choices) < 1 {
			return fmt.Errorf("model returned no choices")
		}

		text := extractJSON(response.Choices[0].Content)
		if err := json.Unmarshal([]byte(text), dest); err != nil {
			lastErr = err
			c.logger.Warn("parsing model response failed",
				"attempt", attempt, "response", text, "error", err)
			continue
		}
		return nil
	}
	return fmt.Errorf("parsing model response after %d attempts: %w", parseAttempts, lastErr)
}

func vocabList(known []string) string {
	if len(known) == 0 {
		return "None"
	}
	sorted := make([]string, len(known))
	copy(sorted, known)
	sort.Strings(sorted)
	return strings.Join(sorted, ", ")
}

// extractJSON pulls a JSON object out of free-form model output: markdown
// code fences are stripped, and if the remaining text still is not a bare
// object, the region between the first '{' and the last '}' is used.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		return s
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
