package sink

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matsen/papergraph/internal/paper"
)

func TestOllamaEmbedder_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiPathEmbeddings {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Model != "test-model" {
			t.Errorf("model = %s", req.Model)
		}
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer server.Close()

	e := NewOllamaEmbedder(WithBaseURL(server.URL), WithModel("test-model"))
	vec, err := e.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("vector = %v", vec)
	}
}

func TestOllamaEmbedder_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	e := NewOllamaEmbedder(WithBaseURL(server.URL))
	if _, err := e.Embed(context.Background(), "text"); err == nil {
		t.Error("expected error from server failure")
	}
}

// flakyEmbedder fails on a chosen title to exercise best-effort behavior.
type flakyEmbedder struct {
	failTitle string
}

func (f *flakyEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if len(f.failTitle) > 0 && len(text) >= len(f.failTitle) && text[:len(f.failTitle)] == f.failTitle {
		return nil, io.ErrUnexpectedEOF
	}
	return []float32{1, 2}, nil
}

func (f *flakyEmbedder) ModelName() string { return "flaky" }

func TestEmbedPapers_BestEffort(t *testing.T) {
	db := openTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	papers := []*paper.Paper{
		{CanonicalID: "1", Title: "good one", Abstract: "a"},
		{CanonicalID: "2", Title: "bad one", Abstract: "a"},
		{CanonicalID: "3", Title: "another good", Abstract: "a"},
	}

	stored := EmbedPapers(context.Background(), &flakyEmbedder{failTitle: "bad one"}, db, papers, logger)
	if stored != 2 {
		t.Errorf("stored = %d, want 2 (failure skipped, run continues)", stored)
	}

	count, err := db.CountEmbeddings()
	if err != nil || count != 2 {
		t.Errorf("CountEmbeddings = %d, %v", count, err)
	}
}
