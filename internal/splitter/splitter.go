package splitter

import (
	"context"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/codeindex-dev/codeindex/internal/errs"
)

const unknownLanguage = "unknown"

// TreeSitterSplitter is the default Splitter: it parses a file with the
// grammar registered for its extension, chunks by top-level
// function/method/type/class nodes, and falls back to fixed-line windows
// bounded by maxChunkChars when the extension has no registered grammar,
// parsing fails, or no symbol nodes are found.
type TreeSitterSplitter struct {
	registry *languageRegistry
}

// New builds the default splitter with its built-in grammar registry.
func New() *TreeSitterSplitter {
	return &TreeSitterSplitter{registry: defaultLanguageRegistry}
}

func (s *TreeSitterSplitter) Split(ctx context.Context, relativePath string, content []byte, maxChunkChars int) (SplitResult, error) {
	if maxChunkChars <= 0 {
		return SplitResult{}, errs.New(errs.KindInvalidInput, "splitter.split", "max_chunk_chars must be > 0")
	}
	ext := fileExtension(relativePath)
	if len(content) == 0 {
		return SplitResult{Language: unknownLanguage}, nil
	}

	cfg, ok := s.registry.byExtension(ext)
	if !ok {
		return SplitResult{
			Language: unknownLanguage,
			Chunks:   s.lineWindows(relativePath, content, ext, unknownLanguage, maxChunkChars),
		}, nil
	}

	nodes, err := s.parseSymbolNodes(ctx, content, cfg)
	if err != nil || len(nodes) == 0 {
		return SplitResult{
			Language: cfg.name,
			Chunks:   s.lineWindows(relativePath, content, ext, cfg.name, maxChunkChars),
		}, nil
	}

	var chunks []Chunk
	for _, n := range nodes {
		chunks = append(chunks, s.chunksFromNode(n, content, relativePath, ext, cfg.name, maxChunkChars)...)
	}
	return SplitResult{Language: cfg.name, Chunks: chunks}, nil
}

type symbolNode struct {
	node     *sitter.Node
	nodeKind string
}

func (s *TreeSitterSplitter) parseSymbolNodes(ctx context.Context, content []byte, cfg *languageConfig) ([]symbolNode, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(cfg.grammar)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, err
	}
	if tree == nil {
		return nil, errs.New(errs.KindInvalidResponse, "splitter.parse", "tree-sitter returned a nil tree")
	}
	defer tree.Close()

	var nodes []symbolNode
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if kind, ok := cfg.symbolTypes[n.Type()]; ok {
			nodes = append(nodes, symbolNode{node: n, nodeKind: kind})
			return // don't descend into a matched symbol's own children
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(tree.RootNode())
	return nodes, nil
}

func (s *TreeSitterSplitter) chunksFromNode(n symbolNode, source []byte, relativePath, ext, language string, maxChunkChars int) []Chunk {
	start := int(n.node.StartPoint().Row) + 1
	text := string(source[n.node.StartByte():n.node.EndByte()])

	if len(text) <= maxChunkChars {
		return []Chunk{{
			Content:       text,
			RelativePath:  relativePath,
			SpanStart:     start,
			SpanEnd:       int(n.node.EndPoint().Row) + 1,
			Language:      language,
			FileExtension: ext,
			NodeKind:      n.nodeKind,
		}}
	}

	// The symbol itself exceeds the cap; split it by fixed-line windows so
	// every emitted chunk still respects max_chunk_chars.
	return s.windowLines(strings.Split(text, "\n"), start, relativePath, ext, language, n.nodeKind, maxChunkChars)
}

func (s *TreeSitterSplitter) lineWindows(relativePath string, content []byte, ext, language string, maxChunkChars int) []Chunk {
	if strings.TrimSpace(string(content)) == "" {
		return nil
	}
	lines := strings.Split(string(content), "\n")
	return s.windowLines(lines, 1, relativePath, ext, language, "line_window", maxChunkChars)
}

// windowLines groups consecutive lines into chunks, each at most
// maxChunkChars, starting line numbering at startLine. A single line
// longer than maxChunkChars is hard-sliced by character so the invariant
// is never violated.
func (s *TreeSitterSplitter) windowLines(lines []string, startLine int, relativePath, ext, language, nodeKind string, maxChunkChars int) []Chunk {
	var chunks []Chunk
	var buf strings.Builder
	bufStart := startLine
	lineNo := startLine

	flush := func(endLine int) {
		if buf.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Content:       buf.String(),
			RelativePath:  relativePath,
			SpanStart:     bufStart,
			SpanEnd:       endLine,
			Language:      language,
			FileExtension: ext,
			NodeKind:      nodeKind,
		})
		buf.Reset()
	}

	for _, line := range lines {
		for len(line) > maxChunkChars {
			// A single pathological line exceeds the cap on its own.
			flush(lineNo - 1)
			chunks = append(chunks, Chunk{
				Content:       line[:maxChunkChars],
				RelativePath:  relativePath,
				SpanStart:     lineNo,
				SpanEnd:       lineNo,
				Language:      language,
				FileExtension: ext,
				NodeKind:      nodeKind,
			})
			line = line[maxChunkChars:]
			bufStart = lineNo
		}

		candidateLen := buf.Len() + len(line) + 1
		if buf.Len() > 0 && candidateLen > maxChunkChars {
			flush(lineNo - 1)
			bufStart = lineNo
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(line)
		lineNo++
	}
	flush(lineNo - 1)
	return chunks
}

func fileExtension(relativePath string) string {
	ext := filepath.Ext(relativePath)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

var _ Splitter = (*TreeSitterSplitter)(nil)
