package workpool

import (
	"context"
	"testing"
	"time"

	"github.com/codeindex-dev/codeindex/internal/errs"
)

func TestNewPool_RejectsZeroConcurrency(t *testing.T) {
	if _, err := NewPool(context.Background(), 0, 4); err == nil {
		t.Fatal("expected error for zero concurrency")
	}
}

func TestMap_IsDeterministicUnderOutOfOrderCompletion(t *testing.T) {
	pool, err := NewPool(context.Background(), 2, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Shutdown()

	inputs := []int{1, 2, 3, 4}
	out, err := Map(pool, inputs, func(ctx context.Context, in int, index int) (int, error) {
		// Force out-of-order completion: earlier indices sleep longer.
		delay := time.Duration(4-index) * 10 * time.Millisecond
		time.Sleep(delay)
		return in * 2, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []int{2, 4, 6, 8}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestMap_PropagatesFirstError(t *testing.T) {
	pool, err := NewPool(context.Background(), 2, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Shutdown()

	boom := errs.New(errs.KindInvalidInput, "test.boom", "boom")
	_, err = Map(pool, []int{1, 2, 3}, func(ctx context.Context, in int, index int) (int, error) {
		if in == 2 {
			return 0, boom
		}
		return in, nil
	})
	if err == nil {
		t.Fatal("expected an error from Map")
	}
}

func TestSubmit_RunsTask(t *testing.T) {
	pool, err := NewPool(context.Background(), 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Shutdown()

	got, err := Submit(pool, func(ctx context.Context) (string, error) {
		return "done", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "done" {
		t.Errorf("got %q, want %q", got, "done")
	}
}

func TestPool_CancelsQueuedWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool, err := NewPool(ctx, 1, 1)
	if err != nil {
		t.Fatal(err)
	}

	gate := make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		_, err := Submit(pool, func(ctx context.Context) (int, error) {
			<-gate
			return 1, nil
		})
		firstDone <- err
	}()

	secondDone := make(chan error, 1)
	go func() {
		_, err := Submit(pool, func(ctx context.Context) (int, error) {
			return 2, nil
		})
		secondDone <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	close(gate)

	if err := <-firstDone; err != nil {
		t.Errorf("in-flight task should complete, got err %v", err)
	}
	if err := <-secondDone; err == nil {
		t.Error("queued task should observe cancellation")
	}
}
