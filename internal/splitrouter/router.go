// Package splitrouter dispatches embedding batches between a local and a
// remote provider under a fixed per-run remote-call budget, falling back
// to local whenever the budget is exhausted or the remote call fails in a
// non-retriable way.
package splitrouter

import (
	"context"
	"sync/atomic"

	"github.com/codeindex-dev/codeindex/internal/embedding"
	"github.com/codeindex-dev/codeindex/internal/errs"
)

// Config configures the router's budget and size-based forcing rule.
type Config struct {
	// MaxRemoteBatches bounds how many EmbedBatch calls are routed to
	// remote on budget over the router's lifetime; batches forced by
	// RemoteThresholdChars bypass it. Zero means only forced batches go to
	// remote.
	MaxRemoteBatches int64

	// RemoteThresholdChars forces a batch to remote, regardless of
	// remaining budget, whenever any text in it is at least this long;
	// zero disables forcing. This exists because a local provider's
	// sequence-length ceiling can silently truncate content a remote
	// provider would embed in full.
	RemoteThresholdChars int
}

// Router implements embedding.Port by dispatching between local and
// remote. local is authoritative for Provider/DetectDimension and is the
// sole target for single-text Embed calls, to avoid spending a fraction
// of the remote budget on a single chunk.
type Router struct {
	local   embedding.Port
	remote  embedding.Port
	config  Config
	used    atomic.Int64
}

// New builds a router. remote may be nil, in which case every batch is
// routed to local regardless of budget or size.
func New(local, remote embedding.Port, cfg Config) (*Router, error) {
	if local == nil {
		return nil, errs.New(errs.KindInvalidInput, "splitrouter.config", "local provider must not be nil")
	}
	return &Router{local: local, remote: remote, config: cfg}, nil
}

func (r *Router) Provider() embedding.Provider { return r.local.Provider() }

// DetectDimension defers to local: the local model is authoritative for a
// run's dimension.
func (r *Router) DetectDimension(ctx context.Context, opts embedding.DetectOptions) (int, error) {
	return r.local.DetectDimension(ctx, opts)
}

// Embed always routes to local to avoid fractional budget spend on a
// single-text call.
func (r *Router) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	return r.local.Embed(ctx, text)
}

// RemoteBatchesUsed reports how many batches have been routed to remote
// so far.
func (r *Router) RemoteBatchesUsed() int64 { return r.used.Load() }

func (r *Router) EmbedBatch(ctx context.Context, texts []string) ([]embedding.Vector, error) {
	if len(texts) == 0 {
		return nil, errs.New(errs.KindInvalidInput, "splitrouter.embed_batch", "texts must not be empty")
	}

	if r.remote != nil && r.shouldUseRemote(texts) {
		vecs, err := r.remote.EmbedBatch(ctx, texts)
		if err == nil {
			r.used.Add(1)
			return vecs, nil
		}
		if !errs.KindOf(err).Retriable() {
			return r.local.EmbedBatch(ctx, texts)
		}
		return nil, err
	}
	return r.local.EmbedBatch(ctx, texts)
}

func (r *Router) shouldUseRemote(texts []string) bool {
	if r.forcedByLength(texts) {
		return true
	}
	return r.used.Load() < r.config.MaxRemoteBatches
}

func (r *Router) forcedByLength(texts []string) bool {
	if r.config.RemoteThresholdChars <= 0 {
		return false
	}
	for _, t := range texts {
		if len(t) >= r.config.RemoteThresholdChars {
			return true
		}
	}
	return false
}

var _ embedding.Port = (*Router)(nil)
