package syncsnapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/codeindex-dev/codeindex/internal/config"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func pathsOf(snap Snapshot) []string {
	paths := make([]string, len(snap.Files))
	for i, f := range snap.Files {
		paths[i] = f.RelativePath
	}
	return paths
}

func TestScan_WalksTreeAndSortsResults(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.go", "package b")
	writeFile(t, root, "a.go", "package a")
	writeFile(t, root, "sub/c.go", "package c")

	scanner := NewScanner(config.SyncConfig{IgnoreFiles: []string{".gitignore"}}, false)
	snap, err := scanner.Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	want := []string{"a.go", "b.go", "sub/c.go"}
	got := pathsOf(snap)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestScan_AlwaysSkipsDotGitDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")
	writeFile(t, root, ".git/HEAD", "ref: refs/heads/main")

	scanner := NewScanner(config.SyncConfig{}, false)
	snap, err := scanner.Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if got := pathsOf(snap); len(got) != 1 || got[0] != "a.go" {
		t.Fatalf("expected only a.go, got %v", got)
	}
}

func TestScan_HonorsNestedGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.go", "package keep")
	writeFile(t, root, "vendor/dep.go", "package dep")
	writeFile(t, root, ".gitignore", "vendor/\n")

	scanner := NewScanner(config.SyncConfig{IgnoreFiles: []string{".gitignore"}}, false)
	snap, err := scanner.Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if got := pathsOf(snap); len(got) != 1 || got[0] != "keep.go" {
		t.Fatalf("expected vendor/ excluded, got %v", got)
	}
}

func TestScan_NegatedPatternUnignoresPath(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "build/keep.txt", "keep")
	writeFile(t, root, "build/drop.txt", "drop")
	writeFile(t, root, ".gitignore", "build/*\n!build/keep.txt\n")

	scanner := NewScanner(config.SyncConfig{IgnoreFiles: []string{".gitignore"}}, false)
	snap, err := scanner.Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if got := pathsOf(snap); len(got) != 1 || got[0] != "build/keep.txt" {
		t.Fatalf("expected only build/keep.txt to survive negation, got %v", got)
	}
}

func TestScan_FallbackExcludesApplyGlobally(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, "node_modules/pkg/index.js", "module.exports = {}")

	scanner := NewScanner(config.SyncConfig{FallbackExcludes: []string{"node_modules/**"}}, false)
	snap, err := scanner.Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if got := pathsOf(snap); len(got) != 1 || got[0] != "main.go" {
		t.Fatalf("expected node_modules excluded, got %v", got)
	}
}

func TestScan_AllowedExtensionsFiltersNonMatching(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")
	writeFile(t, root, "readme.md", "# hi")

	scanner := NewScanner(config.SyncConfig{AllowedExtensions: []string{".go"}}, false)
	snap, err := scanner.Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if got := pathsOf(snap); len(got) != 1 || got[0] != "a.go" {
		t.Fatalf("expected only a.go, got %v", got)
	}
}

func TestScan_MaxFileSizeBytesSkipsLargeFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "small.go", "x")
	writeFile(t, root, "big.go", string(make([]byte, 100)))

	scanner := NewScanner(config.SyncConfig{MaxFileSizeBytes: 10}, false)
	snap, err := scanner.Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if got := pathsOf(snap); len(got) != 1 || got[0] != "small.go" {
		t.Fatalf("expected only small.go, got %v", got)
	}
}

func TestScan_MaxFilesTruncatesAndReportsTruncated(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "a")
	writeFile(t, root, "b.go", "b")
	writeFile(t, root, "c.go", "c")

	scanner := NewScanner(config.SyncConfig{MaxFiles: 2}, false)
	snap, err := scanner.Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if !snap.Truncated {
		t.Fatalf("expected Truncated=true")
	}
	if len(snap.Files) != 2 {
		t.Fatalf("expected exactly 2 files, got %d", len(snap.Files))
	}
}

func TestScan_HashContentPopulatesContentHash(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")

	scanner := NewScanner(config.SyncConfig{}, true)
	snap, err := scanner.Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(snap.Files) != 1 || snap.Files[0].ContentHash == "" {
		t.Fatalf("expected a content hash, got %+v", snap.Files)
	}
}

func TestScan_RespectsCancelledContext(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scanner := NewScanner(config.SyncConfig{}, false)
	if _, err := scanner.Scan(ctx, root); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}
