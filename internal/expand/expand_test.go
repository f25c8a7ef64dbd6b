package expand

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/matsen/papergraph/internal/paper"
	"github.com/matsen/papergraph/internal/s2"
)

type fakeCitations struct {
	cited  map[string][]s2.CitationRef
	citing map[string][]s2.CitationRef
	err    error
}

func (f *fakeCitations) GetCitationLists(_ context.Context, id, _ string) ([]s2.CitationRef, []s2.CitationRef, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.cited[id], f.citing[id], nil
}

type fakeResolver struct {
	byTitle map[string]string
}

func (f *fakeResolver) ResolveTitle(_ context.Context, title string) string {
	return f.byTitle[title]
}

type fakeIngestor struct {
	failing map[string]bool
	calls   []string
}

func (f *fakeIngestor) Ingest(_ context.Context, id string) (*paper.Paper, error) {
	f.calls = append(f.calls, id)
	if f.failing[id] {
		return nil, errors.New("no sections extracted")
	}
	sections := paper.NewSectionMap()
	sections.Set("Introduction", "body")
	return &paper.Paper{
		CanonicalID: id,
		Title:       "Paper " + id,
		Abstract:    "abstract",
		Sections:    sections,
	}, nil
}

type fakeStore struct {
	ids map[string]bool
	err error
}

func (f *fakeStore) ExistingIDs() (map[string]bool, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]bool, len(f.ids))
	for k, v := range f.ids {
		out[k] = v
	}
	return out, nil
}

func seedPaper(id string) *paper.Paper {
	sections := paper.NewSectionMap()
	sections.Set("Introduction", "body")
	return &paper.Paper{CanonicalID: id, Title: "Paper " + id, Abstract: "abstract", Sections: sections}
}

func newTestEngine(c *fakeCitations, r *fakeResolver, i *fakeIngestor, s *fakeStore) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(c, r, i, s, logger)
}

// Seed paper with 3 citation entries: 2 resolve to unstored IDs, 1 to a
// stored ID. With a budget of 2, exactly 2 papers are ingested and 2 edges
// recorded; the stored ID is excluded at the dedup gate.
func TestExpand_BackwardWithStoredCandidate(t *testing.T) {
	citations := &fakeCitations{
		cited: map[string][]s2.CitationRef{
			"seed": {
				{ArXivID: "1111.0001"},
				{Title: "A Resolvable Title"},
				{ArXivID: "9999.0001"}, // already stored
			},
		},
	}
	resolver := &fakeResolver{byTitle: map[string]string{"A Resolvable Title": "1111.0002"}}
	ingestor := &fakeIngestor{}
	store := &fakeStore{ids: map[string]bool{"9999.0001": true}}

	engine := newTestEngine(citations, resolver, ingestor, store)
	result, err := engine.Expand(context.Background(), []*paper.Paper{seedPaper("seed")}, Backward, Config{MaxExtensions: 2}, nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	if len(result.Papers) != 2 {
		t.Errorf("papers = %d, want 2", len(result.Papers))
	}
	if len(result.Edges) != 2 {
		t.Fatalf("edges = %v, want 2", result.Edges)
	}
	for _, e := range result.Edges {
		if e.SourceID != "seed" {
			t.Errorf("backward edge source = %q, want seed", e.SourceID)
		}
		if e.TargetID == "9999.0001" {
			t.Error("stored candidate promoted to an edge")
		}
	}
	for _, id := range ingestor.calls {
		if id == "9999.0001" {
			t.Error("stored candidate was fetched")
		}
	}
}

// A candidate that fails ingestion appears in neither the paper set nor the
// edge list.
func TestExpand_FailedIngestionDropsCandidate(t *testing.T) {
	citations := &fakeCitations{
		cited: map[string][]s2.CitationRef{
			"seed": {{ArXivID: "1111.0001"}, {ArXivID: "1111.0002"}},
		},
	}
	ingestor := &fakeIngestor{failing: map[string]bool{"1111.0002": true}}
	store := &fakeStore{ids: map[string]bool{}}

	engine := newTestEngine(citations, &fakeResolver{}, ingestor, store)
	result, err := engine.Expand(context.Background(), []*paper.Paper{seedPaper("seed")}, Backward, Config{MaxExtensions: 2}, nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	if len(result.Papers) != 1 || result.Papers[0].CanonicalID != "1111.0001" {
		t.Errorf("papers = %+v, want only 1111.0001", result.Papers)
	}
	if len(result.Edges) != 1 || result.Edges[0].TargetID != "1111.0001" {
		t.Errorf("edges = %+v, want single edge to 1111.0001", result.Edges)
	}
}

func TestExpand_BudgetRespected(t *testing.T) {
	refs := []s2.CitationRef{
		{ArXivID: "1111.0001"},
		{ArXivID: "1111.0002"},
		{ArXivID: "1111.0003"},
		{ArXivID: "1111.0004"},
		{ArXivID: "1111.0005"},
	}
	citations := &fakeCitations{cited: map[string][]s2.CitationRef{"seed": refs}}
	store := &fakeStore{ids: map[string]bool{}}

	engine := newTestEngine(citations, &fakeResolver{}, &fakeIngestor{}, store)
	result, err := engine.Expand(context.Background(), []*paper.Paper{seedPaper("seed")}, Backward, Config{MaxExtensions: 2}, nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	if len(result.Edges) != 2 {
		t.Errorf("edges = %d, want budget cap of 2", len(result.Edges))
	}
	if len(result.Papers) != 2 {
		t.Errorf("papers = %d, want 2", len(result.Papers))
	}
}

func TestExpand_ForwardEdgeOrientation(t *testing.T) {
	citations := &fakeCitations{
		citing: map[string][]s2.CitationRef{
			"seed": {{ArXivID: "2222.0001"}},
		},
	}
	store := &fakeStore{ids: map[string]bool{}}

	engine := newTestEngine(citations, &fakeResolver{}, &fakeIngestor{}, store)
	result, err := engine.Expand(context.Background(), []*paper.Paper{seedPaper("seed")}, Forward, Config{MaxExtensions: 2}, nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	if len(result.Edges) != 1 {
		t.Fatalf("edges = %v", result.Edges)
	}
	e := result.Edges[0]
	if e.SourceID != "2222.0001" || e.TargetID != "seed" {
		t.Errorf("forward edge = %s -> %s, want 2222.0001 -> seed", e.SourceID, e.TargetID)
	}
}

// A reference that resolves back to the frontier paper itself never becomes
// an edge.
func TestExpand_NoSelfEdges(t *testing.T) {
	citations := &fakeCitations{
		cited: map[string][]s2.CitationRef{
			"1111.0001": {{ArXivID: "1111.0001v3"}, {ArXivID: "1111.0002"}},
		},
	}
	store := &fakeStore{ids: map[string]bool{}}

	engine := newTestEngine(citations, &fakeResolver{}, &fakeIngestor{}, store)
	result, err := engine.Expand(context.Background(), []*paper.Paper{seedPaper("1111.0001")}, Backward, Config{MaxExtensions: 5}, nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	for _, e := range result.Edges {
		if e.SourceID == e.TargetID {
			t.Errorf("self edge produced: %+v", e)
		}
	}
	if len(result.Edges) != 1 {
		t.Errorf("edges = %v, want only the non-self edge", result.Edges)
	}
}

// A candidate referenced by two frontier papers is ingested once but linked
// from both.
func TestExpand_SharedCandidateFetchedOnce(t *testing.T) {
	citations := &fakeCitations{
		cited: map[string][]s2.CitationRef{
			"seedA": {{ArXivID: "3333.0001"}},
			"seedB": {{ArXivID: "3333.0001"}},
		},
	}
	ingestor := &fakeIngestor{}
	store := &fakeStore{ids: map[string]bool{}}

	engine := newTestEngine(citations, &fakeResolver{}, ingestor, store)
	frontier := []*paper.Paper{seedPaper("seedA"), seedPaper("seedB")}
	result, err := engine.Expand(context.Background(), frontier, Backward, Config{MaxExtensions: 2}, nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	if len(ingestor.calls) != 1 {
		t.Errorf("ingest calls = %v, want one fetch for the shared candidate", ingestor.calls)
	}
	if len(result.Papers) != 1 {
		t.Errorf("papers = %d, want 1", len(result.Papers))
	}
	if len(result.Edges) != 2 {
		t.Errorf("edges = %v, want links from both frontier papers", result.Edges)
	}
}

// Unresolvable titles cannot be pursued and are dropped silently.
func TestExpand_UnresolvableTitleDropped(t *testing.T) {
	citations := &fakeCitations{
		cited: map[string][]s2.CitationRef{
			"seed": {{Title: "Unknown Work"}},
		},
	}
	store := &fakeStore{ids: map[string]bool{}}

	engine := newTestEngine(citations, &fakeResolver{}, &fakeIngestor{}, store)
	result, err := engine.Expand(context.Background(), []*paper.Paper{seedPaper("seed")}, Backward, Config{MaxExtensions: 2}, nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(result.Papers) != 0 || len(result.Edges) != 0 {
		t.Errorf("result = %+v, want empty", result)
	}
}

// Two consecutive runs over the same citation data: the first discovers the
// neighbors, the second (with the store now containing them) discovers none.
func TestExpand_RoundTrip(t *testing.T) {
	citations := &fakeCitations{
		cited: map[string][]s2.CitationRef{
			"seed": {{ArXivID: "4444.0001"}, {ArXivID: "4444.0002"}},
		},
	}
	store := &fakeStore{ids: map[string]bool{}}
	engine := newTestEngine(citations, &fakeResolver{}, &fakeIngestor{}, store)

	first, err := engine.Expand(context.Background(), []*paper.Paper{seedPaper("seed")}, Backward, Config{MaxExtensions: 5}, nil)
	if err != nil {
		t.Fatalf("run 1: %v", err)
	}
	if len(first.Papers) != 2 {
		t.Fatalf("run 1 papers = %d, want 2", len(first.Papers))
	}

	for _, p := range first.Papers {
		store.ids[p.CanonicalID] = true
	}

	second, err := engine.Expand(context.Background(), []*paper.Paper{seedPaper("seed")}, Backward, Config{MaxExtensions: 5}, nil)
	if err != nil {
		t.Fatalf("run 2: %v", err)
	}
	if len(second.Papers) != 0 {
		t.Errorf("run 2 papers = %d, want 0", len(second.Papers))
	}
}

func TestExpand_DepthTwo(t *testing.T) {
	citations := &fakeCitations{
		cited: map[string][]s2.CitationRef{
			"seed":      {{ArXivID: "5555.0001"}},
			"5555.0001": {{ArXivID: "5555.0002"}, {ArXivID: "seed"}},
		},
	}
	store := &fakeStore{ids: map[string]bool{}}

	engine := newTestEngine(citations, &fakeResolver{}, &fakeIngestor{}, store)
	result, err := engine.Expand(context.Background(), []*paper.Paper{seedPaper("seed")}, Backward, Config{MaxExtensions: 5, Depth: 2}, nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	if len(result.Papers) != 2 {
		t.Errorf("papers = %d, want 2 across two hops", len(result.Papers))
	}
	// The seed is visited; hop 2 must not re-admit it.
	for _, p := range result.Papers {
		if p.CanonicalID == "seed" {
			t.Error("seed re-admitted in hop 2")
		}
	}
	if len(result.Edges) != 2 {
		t.Errorf("edges = %v, want 2", result.Edges)
	}
}

// No duplicate canonical IDs in the output set, ever.
func TestExpand_DedupExclusivity(t *testing.T) {
	citations := &fakeCitations{
		cited: map[string][]s2.CitationRef{
			"seed": {
				{ArXivID: "6666.0001"},
				{ArXivID: "6666.0001v2"}, // same paper, versioned
				{Title: "Same Paper By Title"},
			},
		},
	}
	resolver := &fakeResolver{byTitle: map[string]string{"Same Paper By Title": "6666.0001"}}
	store := &fakeStore{ids: map[string]bool{}}

	engine := newTestEngine(citations, resolver, &fakeIngestor{}, store)
	result, err := engine.Expand(context.Background(), []*paper.Paper{seedPaper("seed")}, Backward, Config{MaxExtensions: 5}, nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	seen := make(map[string]bool)
	for _, p := range result.Papers {
		if seen[p.CanonicalID] {
			t.Errorf("duplicate canonical id %s in output", p.CanonicalID)
		}
		seen[p.CanonicalID] = true
	}
	if len(result.Papers) != 1 {
		t.Errorf("papers = %d, want 1", len(result.Papers))
	}
}

// A shared visited set makes an ID admitted by one directional pass
// invisible to the next: the neighbor appearing on both sides of the seed is
// ingested by the backward pass only.
func TestExpand_SharedVisitedAcrossDirections(t *testing.T) {
	citations := &fakeCitations{
		cited:  map[string][]s2.CitationRef{"seed": {{ArXivID: "7777.0001"}}},
		citing: map[string][]s2.CitationRef{"seed": {{ArXivID: "7777.0001"}}},
	}
	ingestor := &fakeIngestor{}
	store := &fakeStore{ids: map[string]bool{}}
	engine := newTestEngine(citations, &fakeResolver{}, ingestor, store)

	frontier := []*paper.Paper{seedPaper("seed")}
	visited := make(map[string]bool)

	backward, err := engine.Expand(context.Background(), frontier, Backward, Config{MaxExtensions: 2}, visited)
	if err != nil {
		t.Fatalf("backward: %v", err)
	}
	forward, err := engine.Expand(context.Background(), frontier, Forward, Config{MaxExtensions: 2}, visited)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	if len(backward.Papers) != 1 {
		t.Errorf("backward papers = %d, want 1", len(backward.Papers))
	}
	if len(forward.Papers) != 0 {
		t.Errorf("forward papers = %d, want 0 for already-admitted neighbor", len(forward.Papers))
	}
	if len(ingestor.calls) != 1 {
		t.Errorf("ingest calls = %v, want one fetch total", ingestor.calls)
	}
}

func TestExpand_StoreUnreachableIsFatal(t *testing.T) {
	citations := &fakeCitations{cited: map[string][]s2.CitationRef{}}
	store := &fakeStore{err: errors.New("connection refused")}

	engine := newTestEngine(citations, &fakeResolver{}, &fakeIngestor{}, store)
	_, err := engine.Expand(context.Background(), []*paper.Paper{seedPaper("seed")}, Backward, Config{}, nil)
	if err == nil {
		t.Error("expected error when existing-ID snapshot is unreachable")
	}
}

func TestExpand_CitationFetchFailureSkipsPaper(t *testing.T) {
	citations := &fakeCitations{err: errors.New("remote exhausted")}
	store := &fakeStore{ids: map[string]bool{}}

	engine := newTestEngine(citations, &fakeResolver{}, &fakeIngestor{}, store)
	result, err := engine.Expand(context.Background(), []*paper.Paper{seedPaper("seed")}, Backward, Config{}, nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(result.Papers) != 0 || len(result.Edges) != 0 {
		t.Errorf("result = %+v, want empty on citation fetch failure", result)
	}
}
