// Package splitter is the default external-collaborator implementation the
// indexing pipeline's Stage 1 calls to turn file bytes into chunks. The
// core pipeline depends only on the Splitter interface; this package
// supplies the one concrete, tree-sitter-backed adapter that ships with
// the service.
package splitter

import "context"

// Chunk is one text fragment produced by a Splitter. Its field names
// mirror vectorstore.Metadata's projection so the pipeline can zip a
// Chunk directly into a VectorDocument without an intermediate mapping
// step.
type Chunk struct {
	Content       string
	RelativePath  string
	SpanStart     int
	SpanEnd       int
	Language      string
	FileExtension string
	NodeKind      string
}

// SplitResult is one file's split output: its detected language plus the
// chunks extracted from it. A file with no extractable symbols is split
// into line windows instead; empty or whitespace-only content returns an
// empty Chunks slice, not an error.
type SplitResult struct {
	Language string
	Chunks   []Chunk
}

// Splitter turns one file's content into chunks bounded by maxChunkChars.
type Splitter interface {
	Split(ctx context.Context, relativePath string, content []byte, maxChunkChars int) (SplitResult, error)
}
