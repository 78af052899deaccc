package workpool

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/codeindex-dev/codeindex/internal/errs"
)

type task struct {
	run func(ctx context.Context)
}

// Pool is a bounded worker pool: a dispatcher drains a BoundedQueue and
// fans each task out to its own goroutine gated by a weighted semaphore,
// so at most `concurrency` tasks run at once. Queued tasks that never
// started are dropped on cancellation; in-flight tasks run to completion.
type Pool struct {
	queue *BoundedQueue[task]
	sem   *semaphore.Weighted
	eg    *errgroup.Group
	ctx   context.Context
	stop  context.CancelFunc

	closeOnce sync.Once
}

// NewPool creates a pool with the given worker concurrency and queue
// capacity. Both must be at least 1. ctx bounds the pool's lifetime: when
// it is cancelled, the pool drops queued work and stops accepting more.
func NewPool(ctx context.Context, concurrency, queueCapacity int) (*Pool, error) {
	if concurrency < 1 {
		return nil, errs.New(errs.KindInvalidInput, "workpool.pool", "concurrency must be a positive number")
	}
	queue, err := NewBoundedQueue[task](queueCapacity)
	if err != nil {
		return nil, err
	}

	poolCtx, cancel := context.WithCancel(ctx)
	eg, egCtx := errgroup.WithContext(poolCtx)
	_ = egCtx // dispatcher uses poolCtx directly; task errors never cancel the group

	p := &Pool{
		queue: queue,
		sem:   semaphore.NewWeighted(int64(concurrency)),
		eg:    eg,
		ctx:   poolCtx,
		stop:  cancel,
	}

	eg.Go(func() error {
		p.dispatch()
		return nil
	})

	go func() {
		<-poolCtx.Done()
		queue.CloseAndClear()
	}()

	return p, nil
}

// dispatch drains the queue and hands each task to its own goroutine, bounded
// by the pool's semaphore, until the queue closes or the pool is cancelled.
func (p *Pool) dispatch() {
	for {
		t, err := p.queue.Dequeue(p.ctx)
		if err != nil {
			return
		}
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			return
		}
		p.eg.Go(func() error {
			defer p.sem.Release(1)
			t.run(p.ctx)
			return nil
		})
	}
}

// Stop closes and clears the queue, dropping any work not yet started.
// In-flight tasks are left to finish.
func (p *Pool) Stop() {
	p.queue.CloseAndClear()
}

// Shutdown stops the pool and waits for all dispatched and in-flight work
// to finish.
func (p *Pool) Shutdown() {
	p.closeOnce.Do(func() {
		p.queue.CloseAndClear()
		p.stop()
	})
	_ = p.eg.Wait()
}

type result[T any] struct {
	value T
	err   error
}

// Submit enqueues one task and blocks until it completes, is skipped due to
// cancellation observed when a worker picks it up, or the pool itself is
// cancelled while the task is still queued. A task already running when the
// pool is cancelled runs to completion and Submit returns its result.
func Submit[T any](p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if p.ctx.Err() != nil {
		return zero, errs.Cancelled("worker_pool.submit")
	}

	resultCh := make(chan result[T], 1)
	started := make(chan struct{})
	t := task{run: func(ctx context.Context) {
		if ctx.Err() != nil {
			resultCh <- result[T]{err: errs.Cancelled("worker_pool.submit")}
			return
		}
		close(started)
		v, err := fn(ctx)
		resultCh <- result[T]{value: v, err: err}
	}}

	if err := p.queue.Enqueue(p.ctx, t); err != nil {
		if p.ctx.Err() != nil {
			return zero, errs.Cancelled("worker_pool.submit.enqueue")
		}
		return zero, err
	}

	select {
	case <-p.ctx.Done():
		select {
		case <-started:
			r := <-resultCh
			return r.value, r.err
		default:
		}
		return zero, errs.Cancelled("worker_pool.submit.await")
	case r := <-resultCh:
		return r.value, r.err
	}
}

// Map applies fn over inputs with bounded concurrency and collects results
// in input order, independent of completion order. If any task fails, Map
// returns the first failure observed, but still awaits every already
// submitted task so none leak past the call.
func Map[TIn, TOut any](p *Pool, inputs []TIn, fn func(ctx context.Context, in TIn, index int) (TOut, error)) ([]TOut, error) {
	if p.ctx.Err() != nil {
		return nil, errs.Cancelled("worker_pool.map")
	}

	count := len(inputs)
	channels := make([]chan result[TOut], count)

	for i, in := range inputs {
		index := i
		input := in
		ch := make(chan result[TOut], 1)
		channels[i] = ch

		t := task{run: func(ctx context.Context) {
			if ctx.Err() != nil {
				ch <- result[TOut]{err: errs.Cancelled("worker_pool.map")}
				return
			}
			v, err := fn(ctx, input, index)
			ch <- result[TOut]{value: v, err: err}
		}}

		if err := p.queue.Enqueue(p.ctx, t); err != nil {
			if p.ctx.Err() != nil {
				return nil, errs.Cancelled("worker_pool.map.enqueue")
			}
			return nil, err
		}
	}

	results := make([]TOut, count)
	var firstErr error
	for i, ch := range channels {
		select {
		case <-p.ctx.Done():
			if firstErr == nil {
				firstErr = errs.Cancelled("worker_pool.map.await")
			}
		case r := <-ch:
			if r.err != nil && firstErr == nil {
				firstErr = r.err
			}
			results[i] = r.value
		}
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}
