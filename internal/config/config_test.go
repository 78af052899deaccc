package config

import (
	"strings"
	"testing"
)

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestCoreConfig_Validate_AggregatesAllViolations(t *testing.T) {
	c := CoreConfig{}
	err := c.Validate()
	if err == nil {
		t.Fatal("expected error for zero-value CoreConfig")
	}
	for _, field := range []string{
		"storage_root", "max_concurrent_files", "max_concurrent_embed_batches",
		"max_chunk_chars", "embed_batch_size", "progress_interval_files",
	} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("expected aggregated error to mention %q, got: %v", field, err)
		}
	}
}

func TestRetryConfig_Validate(t *testing.T) {
	cfg := Default().Retry
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default retry config should validate: %v", err)
	}

	bad := cfg
	bad.MaxBackoff = Duration(0)
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error when max_backoff < initial_backoff")
	}
}

func TestEmbeddingConfig_Validate_RemoteRequiresBaseURL(t *testing.T) {
	cfg := EmbeddingConfig{Provider: "tei", Dimension: 384}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when remote provider has no base_url")
	}
}

func TestEmbeddingConfig_Validate_LocalRequiresModelPaths(t *testing.T) {
	cfg := EmbeddingConfig{Provider: "onnx_local", Dimension: 384}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when onnx_local provider has no model/tokenizer paths")
	}
}

func TestVectorDBConfig_Validate_LocalRequiresHNSWParams(t *testing.T) {
	cfg := VectorDBConfig{Mode: "local"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when local mode has no HNSW tuning")
	}
}

func TestVectorDBConfig_Validate_RemoteRequiresHostAndTimeouts(t *testing.T) {
	cfg := VectorDBConfig{Mode: "grpc"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when remote mode has no host/timeouts")
	}
}

func TestCacheConfig_Validate_DiskBackendRequiresDSN(t *testing.T) {
	cfg := CacheConfig{DiskBackend: "sqlite"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when disk backend set without dsn")
	}
}

func TestSyncConfig_Validate_RequiresAtLeastOneRule(t *testing.T) {
	cfg := SyncConfig{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when no ignore files or fallback excludes set")
	}
}

func TestConfig_Validate_AggregatesSubsystemErrors(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected aggregated error for zero-value Config")
	}
	for _, section := range []string{"core", "retry", "embedding", "vectordb", "cache", "sync"} {
		if !strings.Contains(err.Error(), section) {
			t.Errorf("expected aggregated error to mention section %q, got: %v", section, err)
		}
	}
}
