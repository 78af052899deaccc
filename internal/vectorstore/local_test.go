package vectorstore

import (
	"context"
	"testing"

	"github.com/codeindex-dev/codeindex/internal/errs"
	"github.com/codeindex-dev/codeindex/internal/logging"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	return NewLocalStore(t.TempDir(), logging.NewTestLogger().Logger)
}

func TestLocalStore_CreateCollectionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.CreateCollection(ctx, "docs", 3, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateCollection(ctx, "docs", 3, ""); err != nil {
		t.Fatalf("expected idempotent create, got %v", err)
	}
}

func TestLocalStore_HasCollection(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	has, err := s.HasCollection(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Fatal("expected missing collection to report false")
	}

	_ = s.CreateCollection(ctx, "docs", 2, "")
	has, err = s.HasCollection(ctx, "docs")
	if err != nil {
		t.Fatal(err)
	}
	if !has {
		t.Fatal("expected created collection to report true")
	}
}

func TestLocalStore_InsertUnknownCollectionFails(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.Insert(ctx, "missing", []VectorDocument{{ID: "a", Vector: []float32{1, 2}}})
	if errs.KindOf(err) != errs.KindNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestLocalStore_InsertSearchRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_ = s.CreateCollection(ctx, "docs", 2, "")

	err := s.Insert(ctx, "docs", []VectorDocument{
		{ID: "near", Vector: []float32{0.1, 0.1}, Content: "close", Metadata: Metadata{RelativePath: "a.go", FileExtension: ".go"}},
		{ID: "far", Vector: []float32{0.9, 0.9}, Content: "distant", Metadata: Metadata{RelativePath: "b.py", FileExtension: ".py"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	results, err := s.Search(ctx, "docs", []float32{0.1, 0.1}, SearchOptions{TopK: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 || results[0].ID != "near" {
		t.Fatalf("expected nearest match first, got %+v", results)
	}
}

func TestLocalStore_SearchAppliesFilterExpr(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_ = s.CreateCollection(ctx, "docs", 2, "")
	_ = s.Insert(ctx, "docs", []VectorDocument{
		{ID: "go-file", Vector: []float32{0.1, 0.1}, Metadata: Metadata{FileExtension: ".go"}},
		{ID: "py-file", Vector: []float32{0.1, 0.1}, Metadata: Metadata{FileExtension: ".py"}},
	})

	results, err := s.Search(ctx, "docs", []float32{0.1, 0.1}, SearchOptions{TopK: 10, FilterExpr: `fileExtension == ".go"`})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.Metadata.FileExtension != ".go" {
			t.Errorf("expected only .go results, got %+v", r)
		}
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly one filtered match, got %d", len(results))
	}
}

func TestLocalStore_DeletePersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logger := logging.NewTestLogger().Logger

	s := NewLocalStore(dir, logger)
	_ = s.CreateCollection(ctx, "docs", 2, "")
	_ = s.Insert(ctx, "docs", []VectorDocument{{ID: "a", Vector: []float32{0.1, 0.1}}})
	if err := s.Delete(ctx, "docs", []string{"a"}); err != nil {
		t.Fatal(err)
	}

	// Reopen from disk to confirm the delete was persisted.
	reopened := NewLocalStore(dir, logger)
	rows, err := reopened.Query(ctx, "docs", "", nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows after delete+reload, got %+v", rows)
	}
}

func TestLocalStore_HybridSearchRejectsSparseWithoutFullTextIndex(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_ = s.CreateCollection(ctx, "docs", 2, "") // dense-only, not hybrid

	_, err := s.HybridSearch(ctx, "docs", []HybridSubrequest{{QueryText: "hello"}}, HybridOptions{Limit: 5})
	if errs.KindOf(err) != errs.KindInvalidInput {
		t.Fatalf("expected not_supported-shaped invalid_input, got %v", err)
	}
}

func TestLocalStore_HybridSearchFusesDenseAndSparse(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_ = s.CreateHybridCollection(ctx, "docs", 2, "")
	_ = s.InsertHybrid(ctx, "docs", []VectorDocument{
		{ID: "a", Vector: []float32{0.1, 0.1}, Content: "function parse token stream"},
		{ID: "b", Vector: []float32{0.9, 0.9}, Content: "completely unrelated text"},
	})

	results, err := s.HybridSearch(ctx, "docs", []HybridSubrequest{
		{QueryVector: []float32{0.1, 0.1}, Limit: 5},
		{QueryText: "parse token", Limit: 5},
	}, HybridOptions{Limit: 5, Rerank: RerankRRF, RerankK: 60, DenseWeight: 1, SparseWeight: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 || results[0].ID != "a" {
		t.Fatalf("expected doc matching both dense and sparse query to rank first, got %+v", results)
	}
}

func TestLocalStore_ListCollectionsSortedUnionOfMemoryAndDisk(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_ = s.CreateCollection(ctx, "zeta", 2, "")
	_ = s.CreateCollection(ctx, "alpha", 2, "")

	names, err := s.ListCollections(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Fatalf("expected sorted [alpha zeta], got %v", names)
	}
}

func TestLocalStore_DropCollectionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_ = s.CreateCollection(ctx, "docs", 2, "")
	if err := s.DropCollection(ctx, "docs"); err != nil {
		t.Fatal(err)
	}
	if err := s.DropCollection(ctx, "docs"); err != nil {
		t.Fatalf("expected idempotent drop, got %v", err)
	}
}
