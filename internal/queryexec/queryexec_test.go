package queryexec

import (
	"context"
	"testing"

	"github.com/codeindex-dev/codeindex/internal/embedding"
	"github.com/codeindex-dev/codeindex/internal/vectorstore"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Provider() embedding.Provider { return embedding.Provider{ID: "fake"} }
func (fakeEmbedder) DetectDimension(context.Context, embedding.DetectOptions) (int, error) {
	return 4, nil
}
func (fakeEmbedder) Embed(context.Context, string) (embedding.Vector, error) {
	return embedding.Vector{Data: []float32{1, 0, 0, 0}}, nil
}
func (fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([]embedding.Vector, error) {
	out := make([]embedding.Vector, len(texts))
	return out, nil
}

type fakeStore struct {
	hasCollection bool
	searchResults []vectorstore.SearchResult
	hybridResults []vectorstore.SearchResult
	lastSubs      []vectorstore.HybridSubrequest
}

func (f *fakeStore) CreateCollection(context.Context, string, int, string) error       { return nil }
func (f *fakeStore) CreateHybridCollection(context.Context, string, int, string) error { return nil }
func (f *fakeStore) HasCollection(context.Context, string) (bool, error)              { return f.hasCollection, nil }
func (f *fakeStore) DropCollection(context.Context, string) error                      { return nil }
func (f *fakeStore) ListCollections(context.Context) ([]string, error)                 { return nil, nil }
func (f *fakeStore) Insert(context.Context, string, []vectorstore.VectorDocument) error { return nil }
func (f *fakeStore) InsertHybrid(context.Context, string, []vectorstore.VectorDocument) error {
	return nil
}
func (f *fakeStore) Search(context.Context, string, []float32, vectorstore.SearchOptions) ([]vectorstore.SearchResult, error) {
	return f.searchResults, nil
}
func (f *fakeStore) HybridSearch(_ context.Context, _ string, subs []vectorstore.HybridSubrequest, _ vectorstore.HybridOptions) ([]vectorstore.SearchResult, error) {
	f.lastSubs = subs
	return f.hybridResults, nil
}
func (f *fakeStore) Delete(context.Context, string, []string) error { return nil }
func (f *fakeStore) Query(context.Context, string, string, []string, int) ([]vectorstore.QueryRow, error) {
	return nil, nil
}
func (f *fakeStore) Close() error { return nil }

func TestSearch_MissingCollectionReturnsEmptyNotError(t *testing.T) {
	store := &fakeStore{hasCollection: false}
	exec, err := New(fakeEmbedder{}, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	results, err := exec.Search(context.Background(), Request{Collection: "missing", Query: "hi", TopK: 5})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if results != nil {
		t.Fatalf("expected nil results, got %v", results)
	}
}

func TestSearch_DenseModeUsesSearchAndSortsDeterministically(t *testing.T) {
	store := &fakeStore{
		hasCollection: true,
		searchResults: []vectorstore.SearchResult{
			{ID: "b", Score: 0.5, Metadata: vectorstore.Metadata{RelativePath: "b.go", SpanStart: 1, SpanEnd: 2}},
			{ID: "a", Score: 0.9, Metadata: vectorstore.Metadata{RelativePath: "a.go", SpanStart: 1, SpanEnd: 2}},
			{ID: "c", Score: 0.9, Metadata: vectorstore.Metadata{RelativePath: "c.go", SpanStart: 1, SpanEnd: 2}},
		},
	}
	exec, err := New(fakeEmbedder{}, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	results, err := exec.Search(context.Background(), Request{Collection: "col", Query: "q", TopK: 10, IndexMode: vectorstore.IndexModeDense})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	want := []string{"a.go", "c.go", "b.go"}
	for i, w := range want {
		if results[i].RelativePath != w {
			t.Fatalf("result[%d] = %s, want %s (full: %+v)", i, results[i].RelativePath, w, results)
		}
	}
}

func TestSearch_TruncatesToTopK(t *testing.T) {
	store := &fakeStore{
		hasCollection: true,
		searchResults: []vectorstore.SearchResult{
			{ID: "a", Score: 0.9, Metadata: vectorstore.Metadata{RelativePath: "a.go"}},
			{ID: "b", Score: 0.8, Metadata: vectorstore.Metadata{RelativePath: "b.go"}},
			{ID: "c", Score: 0.7, Metadata: vectorstore.Metadata{RelativePath: "c.go"}},
		},
	}
	exec, err := New(fakeEmbedder{}, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	results, err := exec.Search(context.Background(), Request{Collection: "col", Query: "q", TopK: 2})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestSearch_HybridModeBuildsDenseAndSparseSubrequests(t *testing.T) {
	store := &fakeStore{hasCollection: true}
	exec, err := New(fakeEmbedder{}, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := exec.Search(context.Background(), Request{Collection: "col", Query: "hello", TopK: 3, IndexMode: vectorstore.IndexModeHybrid}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if len(store.lastSubs) != 2 {
		t.Fatalf("expected 2 subrequests, got %d", len(store.lastSubs))
	}
	if len(store.lastSubs[0].QueryVector) == 0 {
		t.Fatalf("expected first subrequest to carry a dense query vector")
	}
	if store.lastSubs[1].QueryText != "hello" {
		t.Fatalf("expected second subrequest to carry the raw query text, got %q", store.lastSubs[1].QueryText)
	}
}

func TestSearch_RejectsCancelledContext(t *testing.T) {
	store := &fakeStore{hasCollection: true}
	exec, err := New(fakeEmbedder{}, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := exec.Search(ctx, Request{Collection: "col", Query: "q"}); err == nil {
		t.Fatalf("expected cancellation error")
	}
}

func TestNew_RejectsNilDependencies(t *testing.T) {
	if _, err := New(nil, &fakeStore{}); err == nil {
		t.Fatalf("expected error for nil embedder")
	}
	if _, err := New(fakeEmbedder{}, nil); err == nil {
		t.Fatalf("expected error for nil store")
	}
}
