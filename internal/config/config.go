// Package config provides typed, range-checked configuration for the
// indexing service, loaded from a YAML file overlaid with environment
// variables.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds the complete service configuration.
type Config struct {
	Core      CoreConfig      `koanf:"core"`
	Retry     RetryConfig     `koanf:"retry"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	VectorDB  VectorDBConfig  `koanf:"vectordb"`
	Cache     CacheConfig     `koanf:"cache"`
	Sync      SyncConfig      `koanf:"sync"`
}

// CoreConfig holds pipeline-wide bounds: concurrency, chunk caps, and the
// storage root under which manifests and local collections live.
type CoreConfig struct {
	// StorageRoot is the directory holding manifest.json, local HNSW/bleve
	// indices, and the embedding disk cache.
	StorageRoot string `koanf:"storage_root"`

	// MaxConcurrentFiles bounds how many files Stage 1 (split) processes
	// in flight at once. Must be >= 1.
	MaxConcurrentFiles int `koanf:"max_concurrent_files"`

	// MaxConcurrentEmbedBatches bounds in-flight embedding requests across
	// the resilience layer. Must be >= 1.
	MaxConcurrentEmbedBatches int `koanf:"max_concurrent_embed_batches"`

	// MaxChunkChars is the hard cap on characters per chunk; the splitter
	// must never emit a chunk larger than this. Must be > 0.
	MaxChunkChars int `koanf:"max_chunk_chars"`

	// EmbedBatchSize is the number of chunks grouped into a single
	// EmbedBatch call. Must be >= 1.
	EmbedBatchSize int `koanf:"embed_batch_size"`

	// ProgressIntervalFiles emits a deterministic progress event every N
	// files discovered. Must be >= 1.
	ProgressIntervalFiles int `koanf:"progress_interval_files"`
}

// Validate applies every range spec'd for CoreConfig and returns a single
// aggregated invalid_input-shaped error.
func (c *CoreConfig) Validate() error {
	var errs []string
	if c.StorageRoot == "" {
		errs = append(errs, "core.storage_root must not be empty")
	}
	if c.MaxConcurrentFiles < 1 {
		errs = append(errs, "core.max_concurrent_files must be >= 1")
	}
	if c.MaxConcurrentEmbedBatches < 1 {
		errs = append(errs, "core.max_concurrent_embed_batches must be >= 1")
	}
	if c.MaxChunkChars <= 0 {
		errs = append(errs, "core.max_chunk_chars must be > 0")
	}
	if c.EmbedBatchSize < 1 {
		errs = append(errs, "core.embed_batch_size must be >= 1")
	}
	if c.ProgressIntervalFiles < 1 {
		errs = append(errs, "core.progress_interval_files must be >= 1")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid core config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// RetryConfig governs the resilience layer's retry/backoff/timeout policy
// wrapping embedding provider calls.
type RetryConfig struct {
	MaxAttempts     int      `koanf:"max_attempts"`
	InitialBackoff  Duration `koanf:"initial_backoff"`
	MaxBackoff      Duration `koanf:"max_backoff"`
	BackoffMultiplier float64 `koanf:"backoff_multiplier"`
	RequestTimeout  Duration `koanf:"request_timeout"`

	// JitterRatioPercent adds uniform jitter of +/- this percent to each
	// computed backoff delay.
	JitterRatioPercent float64 `koanf:"jitter_ratio_percent"`
}

// Validate applies every range spec'd for RetryConfig.
func (c *RetryConfig) Validate() error {
	var errs []string
	if c.MaxAttempts < 1 {
		errs = append(errs, "retry.max_attempts must be >= 1")
	}
	if c.InitialBackoff.Duration() <= 0 {
		errs = append(errs, "retry.initial_backoff must be > 0")
	}
	if c.MaxBackoff.Duration() < c.InitialBackoff.Duration() {
		errs = append(errs, "retry.max_backoff must be >= retry.initial_backoff")
	}
	if c.BackoffMultiplier <= 1.0 {
		errs = append(errs, "retry.backoff_multiplier must be > 1.0")
	}
	if c.RequestTimeout.Duration() <= 0 {
		errs = append(errs, "retry.request_timeout must be > 0")
	}
	if c.JitterRatioPercent < 0 || c.JitterRatioPercent > 100 {
		errs = append(errs, "retry.jitter_ratio_percent must be within [0, 100]")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid retry config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// EmbeddingConfig selects and configures the embedding providers the split
// router dispatches to.
type EmbeddingConfig struct {
	// Provider selects the primary provider: "onnx_local", "tei", "openai",
	// "cohere".
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	Dimension int   `koanf:"dimension"`

	// BaseURL is used by remote providers (tei, openai, cohere).
	BaseURL string `koanf:"base_url"`
	APIKey  Secret `koanf:"api_key"`

	// ModelPath/TokenizerPath are used by the onnx_local provider.
	ModelPath     string `koanf:"model_path"`
	TokenizerPath string `koanf:"tokenizer_path"`

	// RemoteThresholdChars is passed to the split router, which sends a
	// batch to its remote provider when any chunk is at least this long.
	// cmd/codeindex builds the router without a remote provider, so every
	// batch goes to the configured provider and this value has no effect.
	RemoteThresholdChars int `koanf:"remote_threshold_chars"`
}

// Validate applies every range spec'd for EmbeddingConfig.
func (c *EmbeddingConfig) Validate() error {
	var errs []string
	switch c.Provider {
	case "onnx_local", "tei", "openai", "cohere":
	default:
		errs = append(errs, fmt.Sprintf("embedding.provider %q is not one of onnx_local, tei, openai, cohere", c.Provider))
	}
	if c.Dimension <= 0 {
		errs = append(errs, "embedding.dimension must be > 0")
	}
	if c.Provider == "onnx_local" {
		if c.ModelPath == "" {
			errs = append(errs, "embedding.model_path is required for provider onnx_local")
		}
		if c.TokenizerPath == "" {
			errs = append(errs, "embedding.tokenizer_path is required for provider onnx_local")
		}
	} else if c.BaseURL == "" {
		errs = append(errs, fmt.Sprintf("embedding.base_url is required for provider %s", c.Provider))
	}
	if c.RemoteThresholdChars < 0 {
		errs = append(errs, "embedding.remote_threshold_chars must be >= 0")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid embedding config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// VectorDBConfig selects and configures the vector store adapter: local
// (HNSW + optional bleve hybrid), or one of the two remote dialects.
type VectorDBConfig struct {
	// Mode selects "local", "grpc" (Qdrant), or "rest".
	Mode string `koanf:"mode"`

	Host    string   `koanf:"host"`
	Port    int      `koanf:"port"`
	UseTLS  bool     `koanf:"use_tls"`
	APIKey  Secret   `koanf:"api_key"`
	DialTimeout    Duration `koanf:"dial_timeout"`
	RequestTimeout Duration `koanf:"request_timeout"`

	// HNSW tuning, validated for local mode only. cmd/codeindex does not
	// pass these to the local store; its collections use
	// vectorkernel.DefaultParams (M 16, ef_construction 200, ef_search 50).
	HNSWM              int `koanf:"hnsw_m"`
	HNSWEfConstruction int `koanf:"hnsw_ef_construction"`
	HNSWEfSearch       int `koanf:"hnsw_ef_search"`
}

// Validate applies every range spec'd for VectorDBConfig.
func (c *VectorDBConfig) Validate() error {
	var errs []string
	switch c.Mode {
	case "local", "grpc", "rest":
	default:
		errs = append(errs, fmt.Sprintf("vectordb.mode %q is not one of local, grpc, rest", c.Mode))
	}
	if c.Mode != "local" {
		if c.Host == "" {
			errs = append(errs, "vectordb.host is required for remote modes")
		}
		if c.Port <= 0 {
			errs = append(errs, "vectordb.port must be > 0 for remote modes")
		}
		if c.DialTimeout.Duration() <= 0 {
			errs = append(errs, "vectordb.dial_timeout must be > 0 for remote modes")
		}
		if c.RequestTimeout.Duration() <= 0 {
			errs = append(errs, "vectordb.request_timeout must be > 0 for remote modes")
		}
	}
	if c.Mode == "local" {
		if c.HNSWM <= 0 {
			errs = append(errs, "vectordb.hnsw_m must be > 0 for local mode")
		}
		if c.HNSWEfConstruction <= 0 {
			errs = append(errs, "vectordb.hnsw_ef_construction must be > 0 for local mode")
		}
		if c.HNSWEfSearch <= 0 {
			errs = append(errs, "vectordb.hnsw_ef_search must be > 0 for local mode")
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid vectordb config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// CacheConfig configures the two-tier embedding cache.
type CacheConfig struct {
	MemoryMaxEntries int   `koanf:"memory_max_entries"`
	MemoryMaxBytes   int64 `koanf:"memory_max_bytes"`

	// DiskBackend selects "none", "sqlite", or "postgres".
	DiskBackend string `koanf:"disk_backend"`
	DiskDSN     Secret `koanf:"disk_dsn"`
}

// Validate applies every range spec'd for CacheConfig.
func (c *CacheConfig) Validate() error {
	var errs []string
	if c.MemoryMaxEntries < 0 {
		errs = append(errs, "cache.memory_max_entries must be >= 0")
	}
	if c.MemoryMaxBytes < 0 {
		errs = append(errs, "cache.memory_max_bytes must be >= 0")
	}
	switch c.DiskBackend {
	case "none", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("cache.disk_backend %q is not one of none, sqlite, postgres", c.DiskBackend))
	}
	if c.DiskBackend != "none" && c.DiskDSN.Value() == "" {
		errs = append(errs, fmt.Sprintf("cache.disk_dsn is required for disk_backend %s", c.DiskBackend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid cache config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SyncConfig governs the file-sync snapshot scan: which ignore files are
// honored and which directories are always skipped.
type SyncConfig struct {
	IgnoreFiles      []string `koanf:"ignore_files"`
	FallbackExcludes []string `koanf:"fallback_excludes"`

	// AllowedExtensions restricts the scan to these file extensions
	// (including the leading dot, e.g. ".go"). Empty means no restriction.
	AllowedExtensions []string `koanf:"allowed_extensions"`

	// MaxFiles caps how many files a single scan will report. 0 means
	// unbounded.
	MaxFiles int `koanf:"max_files"`

	// MaxFileSizeBytes skips any file larger than this. 0 means
	// unbounded.
	MaxFileSizeBytes int64 `koanf:"max_file_size_bytes"`
}

// Validate applies every range spec'd for SyncConfig.
func (c *SyncConfig) Validate() error {
	if len(c.IgnoreFiles) == 0 && len(c.FallbackExcludes) == 0 {
		return fmt.Errorf("invalid sync config: at least one of ignore_files or fallback_excludes must be set")
	}
	if c.MaxFiles < 0 {
		return fmt.Errorf("invalid sync config: max_files must be >= 0")
	}
	if c.MaxFileSizeBytes < 0 {
		return fmt.Errorf("invalid sync config: max_file_size_bytes must be >= 0")
	}
	return nil
}

// Validate applies every range named across the subsystem configs and
// returns a single aggregated invalid_input-shaped error listing every
// violated field.
func (c *Config) Validate() error {
	var errs []string
	if err := c.Core.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.Embedding.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.VectorDB.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.Cache.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.Sync.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Default returns a Config populated with production-ready defaults, the
// way the teacher's applyDefaults did, generalized to this service's
// subsystem set.
func Default() *Config {
	return &Config{
		Core: CoreConfig{
			StorageRoot:               "~/.config/codeindex",
			MaxConcurrentFiles:        8,
			MaxConcurrentEmbedBatches: 4,
			MaxChunkChars:             4000,
			EmbedBatchSize:            32,
			ProgressIntervalFiles:     50,
		},
		Retry: RetryConfig{
			MaxAttempts:        5,
			InitialBackoff:     Duration(200 * time.Millisecond),
			MaxBackoff:         Duration(10 * time.Second),
			BackoffMultiplier:  2.0,
			RequestTimeout:     Duration(30 * time.Second),
			JitterRatioPercent: 20,
		},
		Embedding: EmbeddingConfig{
			Provider:             "onnx_local",
			Model:                "bge-small-en-v1.5",
			Dimension:             384,
			ModelPath:             "~/.config/codeindex/models/bge-small-en-v1.5.onnx",
			TokenizerPath:         "~/.config/codeindex/models/bge-small-en-v1.5-tokenizer.json",
			RemoteThresholdChars:  0,
		},
		VectorDB: VectorDBConfig{
			Mode:               "local",
			HNSWM:               16,
			HNSWEfConstruction:  200,
			HNSWEfSearch:        64,
			DialTimeout:         Duration(5 * time.Second),
			RequestTimeout:      Duration(30 * time.Second),
		},
		Cache: CacheConfig{
			MemoryMaxEntries: 10000,
			MemoryMaxBytes:   64 * 1024 * 1024,
			DiskBackend:      "none",
		},
		Sync: SyncConfig{
			IgnoreFiles:      []string{".gitignore", ".dockerignore", ".codeindexignore"},
			FallbackExcludes: []string{".git/**", "node_modules/**", "vendor/**", "__pycache__/**"},
			MaxFiles:         0,
			MaxFileSizeBytes: 5 * 1024 * 1024,
		},
	}
}
