// Package main implements the codeindex CLI: a thin cobra front end over
// internal/pipeline, internal/queryexec, internal/syncsnapshot, and
// internal/manifest. No indexing or query logic lives here.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codeindex-dev/codeindex/internal/config"
	"github.com/codeindex-dev/codeindex/internal/logging"
	"github.com/codeindex-dev/codeindex/internal/reqctx"
	"github.com/codeindex-dev/codeindex/internal/sanitize"
)

var (
	configPath  string
	storageRoot string
	collection  string
	version     = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "codeindex",
	Short:   "Semantic code indexing and search over a local codebase",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default ~/.config/codeindex/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&storageRoot, "storage-root", "", "override core.storage_root")
	rootCmd.PersistentFlags().StringVar(&collection, "collection", "", "collection name to bind this codebase to (default: derived from the path)")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(clearCmd)
}

// loadConfig loads the file/environment layers (cmd's flags are passed to
// koanf's posflag provider, but their names match no config key), then
// applies --storage-root over core.storage_root when it is set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadWithFlags(configPath, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if storageRoot != "" {
		cfg.Core.StorageRoot = storageRoot
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// newJobContext derives a cancellable context for a long-running
// invocation (index/reindex/clear) carrying a job correlation id, and
// bridges it into internal/logging's request-id context slot so any
// context-aware log line downstream carries it too.
func newJobContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, cancel := reqctx.NewJob(cmd.Context())
	ctx = logging.WithRequestID(ctx, reqctx.CorrelationIDFromContext(ctx).String())
	return ctx, cancel
}

// newRequestContext is newJobContext's counterpart for a single
// interactive query.
func newRequestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, cancel := reqctx.NewRequest(cmd.Context())
	ctx = logging.WithRequestID(ctx, reqctx.CorrelationIDFromContext(ctx).String())
	return ctx, cancel
}

// collectionFor returns the explicit --collection flag value, or a name
// derived from the codebase path when the flag was left empty.
func collectionFor(path string) string {
	if collection != "" {
		return sanitize.Identifier(collection)
	}
	return deriveCollectionName(path)
}
