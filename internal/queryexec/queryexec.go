// Package queryexec implements the query side of the service: embed a
// query, dispatch a dense or hybrid search against a collection, and
// return results in the deterministic total order spec'd for C9.
package queryexec

import (
	"context"
	"sort"

	"github.com/codeindex-dev/codeindex/internal/embedding"
	"github.com/codeindex-dev/codeindex/internal/errs"
	"github.com/codeindex-dev/codeindex/internal/vectorstore"
)

const hybridRerankK = 100

// Request is one query against a single collection.
type Request struct {
	Collection string
	Query      string
	TopK       int
	Threshold  *float32
	FilterExpr string
	IndexMode  vectorstore.IndexMode
}

// Result is one ranked hit, the shape spec'd for C9's output.
type Result struct {
	RelativePath string
	SpanStart    int
	SpanEnd      int
	Content      string
	Language     string
	Score        float32
	ID           string
}

// Executor runs queries against one embedding port and vector store.
type Executor struct {
	embedder embedding.Port
	store    vectorstore.Store
}

// New builds an Executor. Neither argument may be nil.
func New(embedder embedding.Port, store vectorstore.Store) (*Executor, error) {
	if embedder == nil {
		return nil, errs.New(errs.KindInvalidInput, "queryexec.new", "embedder must not be nil")
	}
	if store == nil {
		return nil, errs.New(errs.KindInvalidInput, "queryexec.new", "store must not be nil")
	}
	return &Executor{embedder: embedder, store: store}, nil
}

// Search runs req and returns results in the deterministic total order
// (-score, relative_path, span.start, span.end, id), truncated to TopK.
// A missing collection returns an empty result set, not an error.
func (e *Executor) Search(ctx context.Context, req Request) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Cancelled("queryexec.search")
	}

	has, err := e.store.HasCollection(ctx, req.Collection)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}

	vec, err := e.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}

	var hits []vectorstore.SearchResult
	switch req.IndexMode {
	case vectorstore.IndexModeHybrid:
		subs := []vectorstore.HybridSubrequest{
			{AnnsField: "vector", QueryVector: vec.Data, Limit: topK},
			{AnnsField: "sparse_vector", QueryText: req.Query, Limit: topK},
		}
		hits, err = e.store.HybridSearch(ctx, req.Collection, subs, vectorstore.HybridOptions{
			Limit:      topK,
			Rerank:     vectorstore.RerankRRF,
			RerankK:    hybridRerankK,
			FilterExpr: req.FilterExpr,
		})
	default:
		hits, err = e.store.Search(ctx, req.Collection, vec.Data, vectorstore.SearchOptions{
			TopK:       topK,
			Threshold:  req.Threshold,
			FilterExpr: req.FilterExpr,
		})
	}
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{
			RelativePath: h.Metadata.RelativePath,
			SpanStart:    h.Metadata.SpanStart,
			SpanEnd:      h.Metadata.SpanEnd,
			Content:      h.Content,
			Language:     h.Metadata.Language,
			Score:        h.Score,
			ID:           h.ID,
		}
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.RelativePath != b.RelativePath {
			return a.RelativePath < b.RelativePath
		}
		if a.SpanStart != b.SpanStart {
			return a.SpanStart < b.SpanStart
		}
		if a.SpanEnd != b.SpanEnd {
			return a.SpanEnd < b.SpanEnd
		}
		return a.ID < b.ID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}
