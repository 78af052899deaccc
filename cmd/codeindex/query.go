package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codeindex-dev/codeindex/internal/manifest"
	"github.com/codeindex-dev/codeindex/internal/queryexec"
)

var topK int

var queryCmd = &cobra.Command{
	Use:   "query <path> <text>",
	Short: "Embed a query and run dense or hybrid retrieval against a codebase's collection",
	Args:  cobra.ExactArgs(2),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().IntVar(&topK, "top-k", 10, "number of results to return")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, cancel := newRequestContext(cmd)
	defer cancel()

	root, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	text := args[1]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	col := collectionFor(root)

	existing, err := manifest.Load(cfg.Core.StorageRoot)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("no manifest bound at %s; run 'codeindex index %s' first", cfg.Core.StorageRoot, root)
	}
	want := manifest.Manifest{
		CodebaseRoot:    root,
		CollectionName:  col,
		IndexMode:       existing.IndexMode,
		SnapshotStorage: manifest.SnapshotStorageProject,
	}
	if err := manifest.EnsureConsistent(cfg.Core.StorageRoot, want); err != nil {
		return err
	}

	d, closeStore, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	exec, err := queryexec.New(d.embedder, d.store)
	if err != nil {
		return err
	}

	results, err := exec.Search(ctx, queryexec.Request{
		Collection: col,
		Query:      text,
		TopK:       topK,
		IndexMode:  existing.IndexMode,
	})
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no results")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "%d. %s:%d-%d  score=%.4f  id=%s\n", i+1, r.RelativePath, r.SpanStart, r.SpanEnd, r.Score, r.ID)
	}
	return nil
}
