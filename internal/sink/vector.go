package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/matsen/papergraph/internal/paper"
)

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

// VectorWriter stores embedding vectors keyed by canonical paper ID.
// *DB satisfies it.
type VectorWriter interface {
	SaveEmbedding(paperID, model string, vector []float32) error
}

const (
	// DefaultOllamaURL is the default Ollama API endpoint.
	DefaultOllamaURL = "http://localhost:11434"

	// DefaultEmbedModel is the default embedding model.
	DefaultEmbedModel = "all-minilm:l6-v2"

	// DefaultEmbedTimeout is the timeout for embedding requests.
	DefaultEmbedTimeout = 30 * time.Second

	apiPathEmbeddings = "/api/embeddings"
)

// OllamaEmbedder generates embeddings using the Ollama API.
type OllamaEmbedder struct {
	baseURL string
	model   string
	client  *http.Client
}

// OllamaOption configures an OllamaEmbedder.
type OllamaOption func(*OllamaEmbedder)

// WithBaseURL sets the Ollama API base URL.
func WithBaseURL(url string) OllamaOption {
	return func(e *OllamaEmbedder) {
		e.baseURL = url
	}
}

// WithModel sets the embedding model.
func WithModel(model string) OllamaOption {
	return func(e *OllamaEmbedder) {
		e.model = model
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) OllamaOption {
	return func(e *OllamaEmbedder) {
		e.client.Timeout = timeout
	}
}

// NewOllamaEmbedder creates a new Ollama embedding provider.
func NewOllamaEmbedder(opts ...OllamaOption) *OllamaEmbedder {
	e := &OllamaEmbedder{
		baseURL: DefaultOllamaURL,
		model:   DefaultEmbedModel,
		client:  &http.Client{Timeout: DefaultEmbedTimeout},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Embed generates an embedding for the given text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+apiPathEmbeddings, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding")
	}

	return result.Embedding, nil
}

// ModelName returns the name of the embedding model.
func (e *OllamaEmbedder) ModelName() string {
	return e.model
}

// EmbedPapers embeds title+abstract for each paper and stores the vectors.
// The vector sink is best-effort: failures are logged and counted, never
// fatal to the run.
func EmbedPapers(ctx context.Context, embedder Embedder, w VectorWriter, papers []*paper.Paper, logger *slog.Logger) int {
	stored := 0
	for _, p := range papers {
		vec, err := embedder.Embed(ctx, p.Title+"\n\n"+p.Abstract)
		if err != nil {
			logger.Warn("embedding failed", "paper_id", p.CanonicalID, "error", err)
			continue
		}
		if err := w.SaveEmbedding(p.CanonicalID, embedder.ModelName(), vec); err != nil {
			logger.Warn("storing embedding failed", "paper_id", p.CanonicalID, "error", err)
			continue
		}
		stored++
	}
	return stored
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}
