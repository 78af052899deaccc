// Package reqctx provides the request-scoped correlation identifier and
// cooperative-cancellation context threaded through the indexing pipeline
// and query executor.
//
// Cancellation is expressed with the standard context.Context rather than
// a hand-rolled token: every suspension point in the pipeline (worker pool
// dequeue, embedding call, vector store call) selects on ctx.Done() next to
// its normal I/O, so cancelling the context is cooperative — work already
// in flight finishes, work not yet started is skipped.
package reqctx

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
)

// CorrelationId identifies one index/reindex/query/clear invocation across
// every log line, retry attempt, and error envelope it produces.
type CorrelationId string

var (
	requestCounter uint64
	jobCounter     uint64
)

// NewRequestID returns a process-unique, best-effort correlation id for an
// interactively issued request (e.g. a single `query` invocation).
func NewRequestID() CorrelationId {
	n := atomic.AddUint64(&requestCounter, 1)
	return CorrelationId(fmt.Sprintf("req_%d", n))
}

// NewJobID returns a process-unique, best-effort correlation id for a
// longer-running job (e.g. an `index`/`reindex` run).
func NewJobID() CorrelationId {
	n := atomic.AddUint64(&jobCounter, 1)
	return CorrelationId(fmt.Sprintf("job_%d", n))
}

// Parse validates a caller-supplied correlation id (e.g. threaded through
// from an external system). Empty or whitespace-only values are rejected.
func Parse(value string) (CorrelationId, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("correlationId must be non-empty")
	}
	return CorrelationId(trimmed), nil
}

func (c CorrelationId) String() string {
	return string(c)
}

type correlationCtxKey struct{}

// WithCorrelationID attaches a correlation id to ctx.
func WithCorrelationID(ctx context.Context, id CorrelationId) context.Context {
	return context.WithValue(ctx, correlationCtxKey{}, id)
}

// CorrelationIDFromContext extracts the correlation id from ctx, or "" if
// none was attached.
func CorrelationIDFromContext(ctx context.Context) CorrelationId {
	if id, ok := ctx.Value(correlationCtxKey{}).(CorrelationId); ok {
		return id
	}
	return ""
}

// NewRequest derives a child context carrying a fresh request-scoped
// correlation id, along with the context.CancelFunc that cancels it. The
// returned context is what pipeline/queryexec entry points should thread
// through every downstream call.
func NewRequest(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ctx = WithCorrelationID(ctx, NewRequestID())
	return ctx, cancel
}

// NewJob is NewRequest's counterpart for longer-running jobs.
func NewJob(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ctx = WithCorrelationID(ctx, NewJobID())
	return ctx, cancel
}

// Cancelled reports whether ctx has been cancelled or its deadline
// exceeded. Suspension points call this (or select on ctx.Done()
// directly) at every cancellation-aware decision point.
func Cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
