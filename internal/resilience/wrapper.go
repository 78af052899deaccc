// Package resilience wraps an embedding.Port with timeout, exponential
// backoff retry, an optional in-flight concurrency cap, and the two-tier
// embedding cache, so callers see a plain Port while every transient
// remote failure is absorbed beneath it.
package resilience

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/codeindex-dev/codeindex/internal/embedcache"
	"github.com/codeindex-dev/codeindex/internal/embedding"
	"github.com/codeindex-dev/codeindex/internal/errs"
	"github.com/codeindex-dev/codeindex/internal/logging"
)

// Config configures the retry/backoff/timeout/in-flight policy. Zero
// attempt, backoff, multiplier and timeout values are rejected by New
// rather than silently defaulted (zero jitter and a zero in-flight cap are
// valid and mean "none"), since this wrapper
// sits on the hot path and a misconfigured policy should fail loudly at
// construction.
type Config struct {
	MaxAttempts        int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	BackoffMultiplier  float64
	RequestTimeout     time.Duration
	JitterRatioPercent float64

	// MaxInFlightBatches caps concurrent EmbedBatch calls against the
	// inner port. Zero means unbounded; applies only when IsRemote is
	// true, matching the spec's "for remote providers only" scoping.
	MaxInFlightBatches int
	IsRemote           bool
}

func (c *Config) validate() error {
	if c.MaxAttempts < 1 {
		return errs.New(errs.KindInvalidInput, "resilience.config", "max_attempts must be >= 1")
	}
	if c.InitialBackoff <= 0 {
		return errs.New(errs.KindInvalidInput, "resilience.config", "initial_backoff must be > 0")
	}
	if c.MaxBackoff < c.InitialBackoff {
		return errs.New(errs.KindInvalidInput, "resilience.config", "max_backoff must be >= initial_backoff")
	}
	if c.BackoffMultiplier <= 1.0 {
		return errs.New(errs.KindInvalidInput, "resilience.config", "backoff_multiplier must be > 1.0")
	}
	if c.RequestTimeout <= 0 {
		return errs.New(errs.KindInvalidInput, "resilience.config", "request_timeout must be > 0")
	}
	if c.JitterRatioPercent < 0 || c.JitterRatioPercent > 100 {
		return errs.New(errs.KindInvalidInput, "resilience.config", "jitter_ratio_percent must be within [0, 100]")
	}
	return nil
}

// Wrapper implements embedding.Port around an inner provider.
type Wrapper struct {
	inner  embedding.Port
	config Config
	cache  *embedcache.Cache
	ns     embedcache.Namespace
	sem    *semaphore.Weighted
	logger *logging.Logger
	rand   *rand.Rand
}

// New builds a resilience wrapper. cache may be nil to run uncached.
func New(inner embedding.Port, cfg Config, cache *embedcache.Cache, ns embedcache.Namespace, logger *logging.Logger) (*Wrapper, error) {
	if inner == nil {
		return nil, errs.New(errs.KindInvalidInput, "resilience.config", "inner port must not be nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		l, err := logging.NewLogger(logging.NewDefaultConfig())
		if err != nil {
			return nil, errs.Wrap(errs.KindInvariant, "resilience.config", "failed to build default logger", err)
		}
		logger = l
	}
	var sem *semaphore.Weighted
	if cfg.IsRemote && cfg.MaxInFlightBatches > 0 {
		sem = semaphore.NewWeighted(int64(cfg.MaxInFlightBatches))
	}
	return &Wrapper{
		inner:  inner,
		config: cfg,
		cache:  cache,
		ns:     ns,
		sem:    sem,
		logger: logger,
		rand:   rand.New(rand.NewSource(1)),
	}, nil
}

func (w *Wrapper) Provider() embedding.Provider { return w.inner.Provider() }

// DetectDimension bypasses the cache but honors retry and timeout.
func (w *Wrapper) DetectDimension(ctx context.Context, opts embedding.DetectOptions) (int, error) {
	var dim int
	err := w.withRetry(ctx, func(ctx context.Context) error {
		d, err := w.inner.DetectDimension(ctx, opts)
		dim = d
		return err
	})
	return dim, err
}

func (w *Wrapper) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	vecs, err := w.EmbedBatch(ctx, []string{text})
	if err != nil {
		return embedding.Vector{}, err
	}
	return vecs[0], nil
}

// EmbedBatch splits the batch into a cache hit list and a miss list,
// forwards the miss list to the inner port in one call, fills the cache
// with the results, and interleaves everything back into original order.
func (w *Wrapper) EmbedBatch(ctx context.Context, texts []string) ([]embedding.Vector, error) {
	if len(texts) == 0 {
		return nil, errs.New(errs.KindInvalidInput, "resilience.embed_batch", "texts must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Cancelled("resilience.embed_batch")
	}

	results := make([]embedding.Vector, len(texts))
	keys := make([]string, len(texts))
	hit := make([]bool, len(texts))

	var missTexts []string
	var missPositions []int

	for i, text := range texts {
		key := embedcache.Key(w.ns, text)
		keys[i] = key
		if w.cache == nil {
			missTexts = append(missTexts, text)
			missPositions = append(missPositions, i)
			continue
		}
		if vec, ok := w.cache.Get(ctx, key); ok {
			results[i] = embedding.Vector{Data: vec}
			hit[i] = true
			continue
		}
		missTexts = append(missTexts, text)
		missPositions = append(missPositions, i)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	var computed []embedding.Vector
	err := w.withInFlightCap(ctx, func(ctx context.Context) error {
		return w.withRetry(ctx, func(ctx context.Context) error {
			vecs, err := w.inner.EmbedBatch(ctx, missTexts)
			computed = vecs
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	if len(computed) != len(missTexts) {
		return nil, errs.New(errs.KindInvalidResponse, "resilience.embed_batch", "provider returned a vector count that does not match the request")
	}

	for j, pos := range missPositions {
		results[pos] = computed[j]
		if w.cache != nil {
			w.cache.Put(ctx, keys[pos], computed[j].Data)
		}
	}
	return results, nil
}

func (w *Wrapper) withInFlightCap(ctx context.Context, fn func(ctx context.Context) error) error {
	if w.sem == nil {
		return fn(ctx)
	}
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return errs.Cancelled("resilience.in_flight_cap")
	}
	defer w.sem.Release(1)
	return fn(ctx)
}

// withRetry races fn against the configured request timeout, retrying
// retriable failures with exponential backoff and jitter up to
// MaxAttempts. Cancellation short-circuits the backoff sleep.
func (w *Wrapper) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	delay := w.config.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= w.config.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, w.config.RequestTimeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return errs.Cancelled("resilience.retry")
		}
		if !errs.KindOf(err).Retriable() {
			return err
		}
		if attempt == w.config.MaxAttempts {
			break
		}

		sleep := w.jittered(delay)
		w.logger.Warn(ctx, "embedding call failed, retrying",
			logging.RedactedString("error", err.Error()))
		select {
		case <-ctx.Done():
			return errs.Cancelled("resilience.retry")
		case <-time.After(sleep):
		}

		next := time.Duration(float64(delay) * w.config.BackoffMultiplier)
		if next > w.config.MaxBackoff {
			next = w.config.MaxBackoff
		}
		delay = next
	}
	return lastErr
}

func (w *Wrapper) jittered(d time.Duration) time.Duration {
	if w.config.JitterRatioPercent == 0 {
		return d
	}
	ratio := w.config.JitterRatioPercent / 100
	// uniform in [d*(1-ratio), d*(1+ratio)]
	spread := float64(d) * ratio
	offset := (w.rand.Float64()*2 - 1) * spread
	result := time.Duration(float64(d) + offset)
	if result < 0 {
		result = 0
	}
	return result
}

var _ embedding.Port = (*Wrapper)(nil)
