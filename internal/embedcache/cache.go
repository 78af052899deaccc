// Package embedcache is the two-tier embedding cache: a bounded in-memory
// LRU (tier 1) in front of an optional durable key-value store (tier 2).
// Miss in both tiers means compute; tier 2 writes are best-effort.
package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/codeindex-dev/codeindex/internal/errs"
	"github.com/codeindex-dev/codeindex/internal/logging"
)

// Tier2 is the uniform key-value interface every disk-backed cache
// implementation (sqlite, postgres; mysql/mssql share the same shape)
// satisfies.
type Tier2 interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Put(ctx context.Context, key string, vector []float32) error
	Close() error
}

// Namespace identifies the provider/model/base-url/dimension tuple a
// cache key is scoped to, so switching providers never serves a stale
// vector computed by a different one.
type Namespace struct {
	ProviderID string
	Model      string
	BaseURL    string
	Dimension  int
}

func (n Namespace) String() string {
	return fmt.Sprintf("provider=%s;model=%s;base_url=%s;dimension=%d", n.ProviderID, n.Model, n.BaseURL, n.Dimension)
}

// Key computes the stable cache key for one (namespace, text) pair using
// SHA-256, chosen for stability across process restarts over a
// non-cryptographic hash since nothing here is performance-critical at
// hash-compute scale.
func Key(ns Namespace, text string) string {
	sum := sha256.Sum256([]byte(ns.String() + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

const bytesPerFloat32 = 4
const perEntryOverhead = 64

func entrySize(dimension int) int {
	return dimension*bytesPerFloat32 + perEntryOverhead
}

// Config configures the cache's tier-1 eviction caps.
type Config struct {
	MaxEntries int
	MaxBytes   int64
}

func (c *Config) applyDefaults() {
	if c.MaxEntries <= 0 {
		c.MaxEntries = 10000
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 256 << 20 // 256MiB
	}
}

type entry struct {
	vector []float32
}

// Cache is the two-tier embedding cache the resilience wrapper consults
// around every inner Embed/EmbedBatch call.
type Cache struct {
	config Config
	tier1  *lru.Cache[string, entry]
	tier2  Tier2 // optional
	logger *logging.Logger

	mu        sync.Mutex // guards usedBytes and the tier-1 add/evict sequence
	usedBytes int64
}

// New builds a cache. tier2 may be nil to run memory-only.
func New(cfg Config, tier2 Tier2, logger *logging.Logger) (*Cache, error) {
	cfg.applyDefaults()
	if logger == nil {
		l, err := logging.NewLogger(logging.NewDefaultConfig())
		if err != nil {
			return nil, errs.Wrap(errs.KindInvariant, "embedcache.config", "failed to build default logger", err)
		}
		logger = l
	}
	tier1, err := lru.New[string, entry](cfg.MaxEntries)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvariant, "embedcache.config", "failed to build tier-1 LRU", err)
	}
	return &Cache{config: cfg, tier1: tier1, tier2: tier2, logger: logger}, nil
}

// Get looks up tier 1, then tier 2 on miss, promoting a tier-2 hit back
// into tier 1.
func (c *Cache) Get(ctx context.Context, key string) ([]float32, bool) {
	if e, ok := c.tier1.Get(key); ok {
		return e.vector, true
	}
	if c.tier2 == nil {
		return nil, false
	}
	vec, ok, err := c.tier2.Get(ctx, key)
	if err != nil {
		c.logger.Warn(ctx, "tier-2 cache lookup failed", logging.RedactedString("key", key))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	c.addTier1(key, vec)
	return vec, true
}

// Put inserts into tier 1 unconditionally and tier 2 best-effort: a tier-2
// write failure is logged, not propagated.
func (c *Cache) Put(ctx context.Context, key string, vector []float32) {
	c.addTier1(key, vector)
	if c.tier2 == nil {
		return
	}
	if err := c.tier2.Put(ctx, key, vector); err != nil {
		c.logger.Warn(ctx, "tier-2 cache write failed", logging.RedactedString("key", key))
	}
}

func (c *Cache) addTier1(key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := int64(entrySize(len(vector)))
	c.tier1.Add(key, entry{vector: vector})
	c.usedBytes += size
	for c.usedBytes > c.config.MaxBytes && c.tier1.Len() > 0 {
		_, evicted, ok := c.tier1.RemoveOldest()
		if !ok {
			break
		}
		c.usedBytes -= int64(entrySize(len(evicted.vector)))
	}
}

// Close releases tier 2's resources, if configured.
func (c *Cache) Close() error {
	if c.tier2 == nil {
		return nil
	}
	return c.tier2.Close()
}
