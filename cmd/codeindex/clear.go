package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codeindex-dev/codeindex/internal/manifest"
)

var clearCmd = &cobra.Command{
	Use:   "clear <path>",
	Short: "Drop a codebase's collection and discard its captured file snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runClear,
}

func runClear(cmd *cobra.Command, args []string) error {
	ctx, cancel := newJobContext(cmd)
	defer cancel()

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
		fmt.Fprintln(cmd.OutOrStdout(), "nothing bound at this storage root")
		return nil
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

	has, err := d.store.HasCollection(ctx, col)
	if err != nil {
		return err
	}
	if has {
		if err := d.store.DropCollection(ctx, col); err != nil {
			return err
		}
	}

	if err := os.Remove(snapshotPath(cfg.Core.StorageRoot, col)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove snapshot: %w", err)
	}
	if err := os.Remove(manifest.Path(cfg.Core.StorageRoot)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove manifest: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "cleared collection %s\n", col)
	return nil
}
