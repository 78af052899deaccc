package main

import (
	"context"
	"fmt"

	"github.com/codeindex-dev/codeindex/internal/config"
	"github.com/codeindex-dev/codeindex/internal/embedcache"
	"github.com/codeindex-dev/codeindex/internal/embedding"
	"github.com/codeindex-dev/codeindex/internal/embedding/httpremote"
	"github.com/codeindex-dev/codeindex/internal/embedding/onnxlocal"
	"github.com/codeindex-dev/codeindex/internal/logging"
	"github.com/codeindex-dev/codeindex/internal/resilience"
	"github.com/codeindex-dev/codeindex/internal/splitrouter"
	"github.com/codeindex-dev/codeindex/internal/splitter"
	"github.com/codeindex-dev/codeindex/internal/vectorstore"
	"github.com/codeindex-dev/codeindex/internal/vectorstore/qdrantrpc"
	"github.com/codeindex-dev/codeindex/internal/vectorstore/restdb"
)

// deps bundles every port a command needs, built once per invocation from
// the resolved config.
type deps struct {
	embedder embedding.Port
	store    vectorstore.Store
	splitter splitter.Splitter
	logger   *logging.Logger
}

// buildDeps wires the embedding provider through the split router and
// resilience wrapper, and the vector store adapter selected by
// vectordb.mode, the same composition cmd/ctxd wires its HTTP handlers
// through.
func buildDeps(ctx context.Context, cfg *config.Config) (*deps, func() error, error) {
	logger, err := logging.NewLogger(logging.NewDefaultConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}

	primary, err := buildEmbeddingProvider(ctx, cfg.Embedding)
	if err != nil {
		return nil, nil, err
	}

	router, err := splitrouter.New(primary, nil, splitrouter.Config{
		RemoteThresholdChars: cfg.Embedding.RemoteThresholdChars,
	})
	if err != nil {
		return nil, nil, err
	}

	var cache *embedcache.Cache
	if cfg.Cache.DiskBackend != "none" || cfg.Cache.MemoryMaxEntries > 0 {
		cache, err = embedcache.New(embedcache.Config{
			MaxEntries: cfg.Cache.MemoryMaxEntries,
			MaxBytes:   cfg.Cache.MemoryMaxBytes,
		}, nil, logger)
		if err != nil {
			return nil, nil, err
		}
	}

	ns := embedcache.Namespace{
		ProviderID: router.Provider().ID,
		Model:      cfg.Embedding.Model,
		BaseURL:    cfg.Embedding.BaseURL,
		Dimension:  cfg.Embedding.Dimension,
	}

	wrapped, err := resilience.New(router, resilience.Config{
		MaxAttempts:        cfg.Retry.MaxAttempts,
		InitialBackoff:     cfg.Retry.InitialBackoff.Duration(),
		MaxBackoff:         cfg.Retry.MaxBackoff.Duration(),
		BackoffMultiplier:  cfg.Retry.BackoffMultiplier,
		RequestTimeout:     cfg.Retry.RequestTimeout.Duration(),
		JitterRatioPercent: cfg.Retry.JitterRatioPercent,
		MaxInFlightBatches: cfg.Core.MaxConcurrentEmbedBatches,
		IsRemote:           cfg.Embedding.Provider != "onnx_local",
	}, cache, ns, logger)
	if err != nil {
		return nil, nil, err
	}

	store, closeStore, err := buildStore(ctx, cfg.VectorDB, cfg.Core.StorageRoot, logger)
	if err != nil {
		return nil, nil, err
	}

	closeAll := func() error {
		if c, ok := primary.(closer); ok {
			if err := c.Close(); err != nil {
				return err
			}
		}
		return closeStore()
	}

	return &deps{
		embedder: wrapped,
		store:    store,
		splitter: splitter.New(),
		logger:   logger,
	}, closeAll, nil
}

// closer is satisfied by provider adapters (onnxlocal, httpremote) that
// hold a resource beyond the embedding.Port interface's scope.
type closer interface {
	Close() error
}

func buildEmbeddingProvider(ctx context.Context, cfg config.EmbeddingConfig) (embedding.Port, error) {
	switch cfg.Provider {
	case "onnx_local":
		return onnxlocal.New(ctx, onnxlocal.Config{
			ModelPath:     cfg.ModelPath,
			TokenizerPath: cfg.TokenizerPath,
			Dimension:     cfg.Dimension,
		})
	case "tei", "openai", "cohere":
		return httpremote.New(httpremote.Config{
			Provider:  httpremote.ProviderKind(cfg.Provider),
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey.Value(),
			Dimension: cfg.Dimension,
		})
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
	}
}

func buildStore(ctx context.Context, cfg config.VectorDBConfig, storageRoot string, logger *logging.Logger) (vectorstore.Store, func() error, error) {
	switch cfg.Mode {
	case "local":
		store := vectorstore.NewLocalStore(storageRoot, logger)
		return store, store.Close, nil
	case "grpc":
		client, err := qdrantrpc.New(ctx, qdrantrpc.Config{
			Host:           cfg.Host,
			Port:           cfg.Port,
			UseTLS:         cfg.UseTLS,
			APIKey:         cfg.APIKey.Value(),
			DialTimeout:    cfg.DialTimeout.Duration(),
			RequestTimeout: cfg.RequestTimeout.Duration(),
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	case "rest":
		client, err := restdb.New(restdb.Config{
			BaseURL:        cfg.Host,
			Token:          cfg.APIKey.Value(),
			RequestTimeout: cfg.RequestTimeout.Duration(),
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported vectordb mode %q", cfg.Mode)
	}
}
