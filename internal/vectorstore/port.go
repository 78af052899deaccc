// Package vectorstore defines the uniform vector store port the pipeline
// and query executor depend on, plus the shared types its adapters
// (local, Qdrant gRPC, REST) exchange.
package vectorstore

import "context"

// IndexMode is a collection's fixed vector mode.
type IndexMode string

const (
	IndexModeDense  IndexMode = "dense"
	IndexModeHybrid IndexMode = "hybrid"
)

// Metadata is the fixed projection carried by every VectorDocument.
type Metadata struct {
	RelativePath  string
	Language      string
	FileExtension string
	SpanStart     int
	SpanEnd       int
	NodeKind      string
}

// VectorDocument is one point in a collection. Vector is present on
// insert and omitted on retrieval-only responses (query/metadata rows).
type VectorDocument struct {
	ID       string
	Vector   []float32
	Content  string
	Metadata Metadata
}

// SearchOptions configures a dense search call.
type SearchOptions struct {
	TopK       int
	Threshold  *float32
	FilterExpr string
}

// DefaultSearchOptions mirrors the port's documented defaults.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{TopK: 10}
}

// RerankStrategy selects how hybrid subrequest results are fused.
type RerankStrategy string

const (
	RerankRRF      RerankStrategy = "rrf"
	RerankWeighted RerankStrategy = "weighted"
)

// HybridSubrequest is one modality (dense or sparse) of a hybrid search.
type HybridSubrequest struct {
	AnnsField   string
	QueryVector []float32 // dense subrequests
	QueryText   string    // sparse subrequests
	Limit       int
	Params      map[string]string
}

// HybridOptions configures a hybrid_search call.
type HybridOptions struct {
	Limit          int
	Rerank         RerankStrategy
	RerankK        int     // rrf constant
	DenseWeight    float64 // weighted strategy
	SparseWeight   float64 // weighted strategy
	FilterExpr     string
}

// SearchResult is one scored hit.
type SearchResult struct {
	ID       string
	Score    float32
	Content  string
	Metadata Metadata
}

// QueryRow is one metadata-only retrieval row.
type QueryRow map[string]string

// Store is the capability set spec'd for the vector store port: collection
// lifecycle, insert, dense/hybrid search, delete, metadata query. Every
// adapter (local, qdrantrpc, restdb) implements this in full.
type Store interface {
	CreateCollection(ctx context.Context, name string, dimension int, description string) error
	CreateHybridCollection(ctx context.Context, name string, dimension int, description string) error
	HasCollection(ctx context.Context, name string) (bool, error)
	DropCollection(ctx context.Context, name string) error
	ListCollections(ctx context.Context) ([]string, error)

	Insert(ctx context.Context, name string, docs []VectorDocument) error
	InsertHybrid(ctx context.Context, name string, docs []VectorDocument) error

	Search(ctx context.Context, name string, queryVector []float32, opts SearchOptions) ([]SearchResult, error)
	HybridSearch(ctx context.Context, name string, subrequests []HybridSubrequest, opts HybridOptions) ([]SearchResult, error)

	Delete(ctx context.Context, name string, ids []string) error
	Query(ctx context.Context, name string, filterExpr string, outputFields []string, limit int) ([]QueryRow, error)

	Close() error
}
