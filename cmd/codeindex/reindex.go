package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codeindex-dev/codeindex/internal/changedetect"
	"github.com/codeindex-dev/codeindex/internal/manifest"
	"github.com/codeindex-dev/codeindex/internal/pipeline"
	"github.com/codeindex-dev/codeindex/internal/reqctx"
	"github.com/codeindex-dev/codeindex/internal/syncsnapshot"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex <path>",
	Short: "Reconcile a previously captured file snapshot against the current tree and re-index only changed files",
	Args:  cobra.ExactArgs(1),
	RunE:  runReindex,
}

func runReindex(cmd *cobra.Command, args []string) error {
	ctx, cancel := newJobContext(cmd)
	defer cancel()
	fmt.Fprintf(cmd.OutOrStdout(), "job %s\n", reqctx.CorrelationIDFromContext(ctx))

	root, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

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

	previous, err := syncsnapshot.Load(snapshotPath(cfg.Core.StorageRoot, col))
	if err != nil {
		return err
	}

	scanner := syncsnapshot.NewScanner(cfg.Sync, true)
	current, err := scanner.Scan(ctx, root)
	if err != nil {
		return err
	}

	diff := changedetect.Detect(current.Files, previous, changedetect.Options{UseContentHash: true})
	if len(diff.Added) == 0 && len(diff.Modified) == 0 && len(diff.Removed) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no changes detected")
		return saveSnapshot(cfg.Core.StorageRoot, col, current)
	}

	d, closeStore, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	stale := append(append([]string{}, diff.Removed...), diff.Modified...)
	if len(stale) > 0 {
		if err := changedetect.DeleteStalePaths(ctx, d.store, col, stale, 0); err != nil {
			return err
		}
	}

	toReindex := append(append([]string{}, diff.Added...), diff.Modified...)
	if len(toReindex) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d stale files, nothing to re-embed\n", len(diff.Removed))
		return saveSnapshot(cfg.Core.StorageRoot, col, current)
	}

	p, err := pipeline.New(d.splitter, d.embedder, d.store, col, d.logger)
	if err != nil {
		return err
	}

	files := make([]pipeline.FileRef, len(toReindex))
	for i, rel := range toReindex {
		files[i] = pipeline.FileRef{RelativePath: rel, AbsolutePath: filepath.Join(root, rel)}
	}

	opts := pipeline.Options{
		MaxInFlightFiles:            cfg.Core.MaxConcurrentFiles,
		MaxInFlightEmbeddingBatches: cfg.Core.MaxConcurrentEmbedBatches,
		MaxInFlightInserts:          cfg.Core.MaxConcurrentEmbedBatches,
		EmbeddingBatchSize:          cfg.Core.EmbedBatchSize,
		MaxChunkChars:               cfg.Core.MaxChunkChars,
		MaxFileSizeBytes:            cfg.Sync.MaxFileSizeBytes,
		IndexMode:                   existing.IndexMode,
		ForceReindex:                false,
	}

	result, err := p.Run(ctx, files, opts, progressPrinter(cmd, cfg.Core.ProgressIntervalFiles))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "re-indexed %d files, %d chunks; removed %d stale\n", result.FilesIndexed, result.ChunksIndexed, len(diff.Removed))

	return saveSnapshot(cfg.Core.StorageRoot, col, current)
}
