package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codeindex-dev/codeindex/internal/manifest"
	"github.com/codeindex-dev/codeindex/internal/pipeline"
	"github.com/codeindex-dev/codeindex/internal/reqctx"
	"github.com/codeindex-dev/codeindex/internal/syncsnapshot"
	"github.com/codeindex-dev/codeindex/internal/vectorstore"
)

var hybrid bool

var indexCmd = &cobra.Command{
	Use:   "index <path>",
	Short: "Scan, chunk, embed, and insert a codebase's code fragments into its collection",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&hybrid, "hybrid", false, "create the collection in hybrid (dense+sparse) mode")
}

func runIndex(cmd *cobra.Command, args []string) error {
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
	indexMode := vectorstore.IndexModeDense
	if hybrid {
		indexMode = vectorstore.IndexModeHybrid
	}

	want := manifest.Manifest{
		CodebaseRoot:    root,
		CollectionName:  col,
		IndexMode:       indexMode,
		SnapshotStorage: manifest.SnapshotStorageProject,
	}
	if err := manifest.EnsureConsistent(cfg.Core.StorageRoot, want); err != nil {
		return err
	}

	scanner := syncsnapshot.NewScanner(cfg.Sync, true)
	snap, err := scanner.Scan(ctx, root)
	if err != nil {
		return err
	}
	if snap.Truncated {
		fmt.Fprintf(cmd.OutOrStdout(), "warning: sync.max_files reached; scan was truncated\n")
	}

	d, closeStore, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	p, err := pipeline.New(d.splitter, d.embedder, d.store, col, d.logger)
	if err != nil {
		return err
	}

	files := make([]pipeline.FileRef, len(snap.Files))
	for i, f := range snap.Files {
		files[i] = pipeline.FileRef{RelativePath: f.RelativePath, AbsolutePath: filepath.Join(root, f.RelativePath)}
	}

	opts := pipeline.Options{
		MaxInFlightFiles:            cfg.Core.MaxConcurrentFiles,
		MaxInFlightEmbeddingBatches: cfg.Core.MaxConcurrentEmbedBatches,
		MaxInFlightInserts:          cfg.Core.MaxConcurrentEmbedBatches,
		EmbeddingBatchSize:          cfg.Core.EmbedBatchSize,
		MaxChunkChars:               cfg.Core.MaxChunkChars,
		MaxFileSizeBytes:            cfg.Sync.MaxFileSizeBytes,
		IndexMode:                   indexMode,
		ForceReindex:                true,
	}

	result, err := p.Run(ctx, files, opts, progressPrinter(cmd, cfg.Core.ProgressIntervalFiles))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "indexed %d files, %d chunks (%s)\n", result.FilesIndexed, result.ChunksIndexed, result.Status)

	return saveSnapshot(cfg.Core.StorageRoot, col, snap)
}

func progressPrinter(cmd *cobra.Command, everyNFiles int) pipeline.ProgressFunc {
	if everyNFiles < 1 {
		everyNFiles = 1
	}
	return func(pr pipeline.Progress) {
		if pr.Done%everyNFiles != 0 && (pr.Percentage == nil || *pr.Percentage != 100) {
			return
		}
		if pr.Percentage != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d/%d (%d%%)\n", pr.Message, pr.Done, pr.Total, *pr.Percentage)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d/%d\n", pr.Message, pr.Done, pr.Total)
	}
}

func snapshotPath(storageRoot, collection string) string {
	return filepath.Join(storageRoot, "snapshots", collection+".json")
}

func saveSnapshot(storageRoot, collection string, snap syncsnapshot.Snapshot) error {
	return syncsnapshot.Save(snapshotPath(storageRoot, collection), snap)
}
