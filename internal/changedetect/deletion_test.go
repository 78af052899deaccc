package changedetect

import (
	"context"
	"testing"

	"github.com/codeindex-dev/codeindex/internal/logging"
	"github.com/codeindex-dev/codeindex/internal/vectorstore"
)

func newTestStore(t *testing.T) *vectorstore.LocalStore {
	t.Helper()
	store := vectorstore.NewLocalStore(t.TempDir(), logging.NewTestLogger().Logger)
	if err := store.CreateCollection(context.Background(), "col", 2, ""); err != nil {
		t.Fatalf("CreateCollection() error = %v", err)
	}
	return store
}

func TestDeleteStalePaths_RemovesMatchingDocuments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	docs := []vectorstore.VectorDocument{
		{ID: "1", Vector: []float32{1, 0}, Content: "a", Metadata: vectorstore.Metadata{RelativePath: "a.go"}},
		{ID: "2", Vector: []float32{0, 1}, Content: "b", Metadata: vectorstore.Metadata{RelativePath: "b.go"}},
		{ID: "3", Vector: []float32{1, 1}, Content: "a2", Metadata: vectorstore.Metadata{RelativePath: "a.go"}},
	}
	if err := store.Insert(ctx, "col", docs); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if err := DeleteStalePaths(ctx, store, "col", []string{"a.go"}, 0); err != nil {
		t.Fatalf("DeleteStalePaths() error = %v", err)
	}

	rows, err := store.Query(ctx, "col", `relativePath == "a.go"`, []string{"id"}, 0)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no remaining rows for a.go, got %v", rows)
	}

	remaining, err := store.Query(ctx, "col", `relativePath == "b.go"`, []string{"id"}, 0)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected b.go's document to remain untouched, got %v", remaining)
	}
}

func TestDeleteStalePaths_NoMatchesIsANoOp(t *testing.T) {
	store := newTestStore(t)
	if err := DeleteStalePaths(context.Background(), store, "col", []string{"missing.go"}, 0); err != nil {
		t.Fatalf("DeleteStalePaths() error = %v", err)
	}
}

func TestDeleteStalePaths_EmptyPathsIsANoOp(t *testing.T) {
	store := newTestStore(t)
	if err := DeleteStalePaths(context.Background(), store, "col", nil, 0); err != nil {
		t.Fatalf("DeleteStalePaths() error = %v", err)
	}
}
