package splitter

import (
	"context"
	"strings"
	"testing"
)

func TestSplit_GoFunctionsBecomeChunks(t *testing.T) {
	src := []byte(`package main

func Add(a, b int) int {
	return a + b
}

func Sub(a, b int) int {
	return a - b
}
`)
	s := New()
	result, err := s.Split(context.Background(), "pkg/math.go", src, 4000)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if result.Language != "go" {
		t.Fatalf("expected language go, got %q", result.Language)
	}
	if len(result.Chunks) != 2 {
		t.Fatalf("expected 2 function chunks, got %d: %+v", len(result.Chunks), result.Chunks)
	}
	for _, c := range result.Chunks {
		if c.NodeKind != "function" {
			t.Errorf("expected node kind function, got %q", c.NodeKind)
		}
		if c.FileExtension != "go" {
			t.Errorf("expected file extension go, got %q", c.FileExtension)
		}
		if c.SpanStart < 1 || c.SpanEnd < c.SpanStart {
			t.Errorf("invalid span %d-%d", c.SpanStart, c.SpanEnd)
		}
	}
}

func TestSplit_UnsupportedExtensionFallsBackToLineWindows(t *testing.T) {
	src := []byte("line one\nline two\nline three\n")
	s := New()
	result, err := s.Split(context.Background(), "notes.txt", src, 4000)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if result.Language != unknownLanguage {
		t.Fatalf("expected unknown language, got %q", result.Language)
	}
	if len(result.Chunks) != 1 {
		t.Fatalf("expected a single fallback chunk for short content, got %d", len(result.Chunks))
	}
	if result.Chunks[0].NodeKind != "line_window" {
		t.Fatalf("expected line_window node kind, got %q", result.Chunks[0].NodeKind)
	}
}

func TestSplit_EmptyContentYieldsNoChunks(t *testing.T) {
	s := New()
	result, err := s.Split(context.Background(), "empty.go", []byte{}, 4000)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(result.Chunks) != 0 {
		t.Fatalf("expected no chunks for empty content, got %d", len(result.Chunks))
	}
}

func TestSplit_EveryChunkRespectsMaxChunkChars(t *testing.T) {
	var b strings.Builder
	b.WriteString("package main\n\nfunc Big() {\n")
	for i := 0; i < 200; i++ {
		b.WriteString("\tdoSomethingWithAVeryLongLineOfCodeThatTakesUpSpace()\n")
	}
	b.WriteString("}\n")

	s := New()
	result, err := s.Split(context.Background(), "big.go", []byte(b.String()), 200)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(result.Chunks) < 2 {
		t.Fatalf("expected the oversized function to split into multiple chunks, got %d", len(result.Chunks))
	}
	for _, c := range result.Chunks {
		if len(c.Content) > 200 {
			t.Fatalf("chunk content length %d exceeds max_chunk_chars 200", len(c.Content))
		}
	}
}

func TestSplit_RejectsNonPositiveMaxChunkChars(t *testing.T) {
	s := New()
	if _, err := s.Split(context.Background(), "a.go", []byte("package main\n"), 0); err == nil {
		t.Fatal("expected an error for max_chunk_chars <= 0")
	}
}

func TestSplit_PythonClassesBecomeChunks(t *testing.T) {
	src := []byte(`class Greeter:
    def hello(self):
        return "hi"
`)
	s := New()
	result, err := s.Split(context.Background(), "greet.py", src, 4000)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if result.Language != "python" {
		t.Fatalf("expected language python, got %q", result.Language)
	}
	if len(result.Chunks) == 0 {
		t.Fatal("expected at least one chunk for a python class")
	}
}

func TestFileExtension_LowercasesAndStripsDot(t *testing.T) {
	if ext := fileExtension("src/Foo.GO"); ext != "go" {
		t.Fatalf("expected go, got %q", ext)
	}
	if ext := fileExtension("README"); ext != "" {
		t.Fatalf("expected empty extension for an extensionless path, got %q", ext)
	}
}
