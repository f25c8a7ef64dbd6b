package enrich

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/matsen/papergraph/internal/paper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// mockModel returns canned responses keyed by a substring of the prompt.
type mockModel struct {
	responses map[string]string
	errOn     string
	prompts   []string
}

func (m *mockModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	var prompt string
	for _, part := range messages[len(messages)-1].Parts {
		if text, ok := part.(llms.TextContent); ok {
			prompt += text.Text
		}
	}
	m.prompts = append(m.prompts, prompt)

	if m.errOn != "" && strings.Contains(prompt, m.errOn) {
		return nil, errors.New("model unavailable")
	}
	for key, resp := range m.responses {
		if strings.Contains(prompt, key) {
			return &llms.ContentResponse{
				Choices: []*llms.ContentChoice{{Content: resp}},
			}, nil
		}
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: "{}"}},
	}, nil
}

func (m *mockModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := m.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func newTestClassifier(t *testing.T, m llms.Model) *Classifier {
	t.Helper()
	c, err := NewClassifier("", "", "",
		WithModel(m),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return c
}

func TestEnrich_AllStepsSucceed(t *testing.T) {
	model := &mockModel{responses: map[string]string{
		"research keywords":   `{"keywords": ["attention", "machine translation"]}`,
		"research domain":     `{"domain": "Neural Machine Translation"}`,
		"informative summary": `{"summary": "The paper introduces the transformer."}`,
	}}
	c := newTestClassifier(t, model)

	p := &paper.Paper{CanonicalID: "1706.03762", Title: "Attention Is All You Need", Abstract: "We propose..."}
	c.Enrich(context.Background(), p, []string{"nlp"}, []string{"representation learning"})

	assert.Equal(t, []string{"attention", "machine translation"}, p.Keywords)
	assert.Equal(t, "Neural Machine Translation", p.Domain)
	assert.Equal(t, "The paper introduces the transformer.", p.Summary)
}

func TestEnrich_FieldLevelSoftFail(t *testing.T) {
	// Domain step fails; keywords and summary still land.
	model := &mockModel{
		responses: map[string]string{
			"research keywords":   `{"keywords": ["graphs"]}`,
			"informative summary": `{"summary": "A summary."}`,
		},
		errOn: "research domain",
	}
	c := newTestClassifier(t, model)

	p := &paper.Paper{CanonicalID: "x", Title: "T", Abstract: "A"}
	c.Enrich(context.Background(), p, nil, nil)

	assert.Equal(t, []string{"graphs"}, p.Keywords)
	assert.Empty(t, p.Domain)
	assert.Equal(t, "A summary.", p.Summary)
}

func TestKeywords_VocabularyInPrompt(t *testing.T) {
	model := &mockModel{responses: map[string]string{
		"research keywords": `{"keywords": ["a"]}`,
	}}
	c := newTestClassifier(t, model)

	_, err := c.Keywords(context.Background(), "T", "A", []string{"zeta", "alpha"})
	require.NoError(t, err)

	require.Len(t, model.prompts, 1)
	// Vocabulary is rendered sorted.
	assert.Contains(t, model.prompts[0], "alpha, zeta")
}

func TestKeywords_EmptyVocabulary(t *testing.T) {
	model := &mockModel{responses: map[string]string{
		"research keywords": `{"keywords": ["a"]}`,
	}}
	c := newTestClassifier(t, model)

	_, err := c.Keywords(context.Background(), "T", "A", nil)
	require.NoError(t, err)
	assert.Contains(t, model.prompts[0], "Known Keywords: None")
}

func TestKeywords_CapApplied(t *testing.T) {
	model := &mockModel{responses: map[string]string{
		"research keywords": `{"keywords": ["a", "b", "c", "d"]}`,
	}}
	c := newTestClassifier(t, model)
	c.maxKeywords = 2

	keywords, err := c.Keywords(context.Background(), "T", "A", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keywords)
}

func TestComplete_FencedJSONAccepted(t *testing.T) {
	model := &mockModel{responses: map[string]string{
		"research domain": "```json\n{\"domain\": \"Graph Learning\"}\n```",
	}}
	c := newTestClassifier(t, model)

	domain, err := c.Domain(context.Background(), "T", "A", nil)
	require.NoError(t, err)
	assert.Equal(t, "Graph Learning", domain)
}

func TestComplete_JSONEmbeddedInProse(t *testing.T) {
	model := &mockModel{responses: map[string]string{
		"informative summary": `Sure, here you go: {"summary": "Wrapped."} Hope that helps!`,
	}}
	c := newTestClassifier(t, model)

	summary, err := c.Summary(context.Background(), "T", "A")
	require.NoError(t, err)
	assert.Equal(t, "Wrapped.", summary)
}

func TestComplete_MalformedExhaustsRetries(t *testing.T) {
	model := &mockModel{responses: map[string]string{
		"informative summary": `not json at all`,
	}}
	c := newTestClassifier(t, model)

	_, err := c.Summary(context.Background(), "T", "A")
	require.Error(t, err)
	// One retry per parse attempt.
	assert.Len(t, model.prompts, parseAttempts)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a": 1}`, `{"a": 1}`},
		{"```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"```\n{\"a\": 1}\n```", `{"a": 1}`},
		{`prefix {"a": 1} suffix`, `{"a": 1}`},
		{`no object here`, `no object here`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractJSON(tt.in), "input: %q", tt.in)
	}
}
