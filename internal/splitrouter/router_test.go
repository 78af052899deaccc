package splitrouter

import (
	"context"
	"testing"

	"github.com/codeindex-dev/codeindex/internal/embedding"
	"github.com/codeindex-dev/codeindex/internal/errs"
)

type stubPort struct {
	id        string
	dimension int
	err       error
	calls     int
	lastTexts []string
}

func (s *stubPort) Provider() embedding.Provider { return embedding.Provider{ID: s.id} }

func (s *stubPort) DetectDimension(ctx context.Context, opts embedding.DetectOptions) (int, error) {
	return s.dimension, nil
}

func (s *stubPort) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	s.calls++
	return embedding.Vector{Data: []float32{1}}, s.err
}

func (s *stubPort) EmbedBatch(ctx context.Context, texts []string) ([]embedding.Vector, error) {
	s.calls++
	s.lastTexts = texts
	if s.err != nil {
		return nil, s.err
	}
	vecs := make([]embedding.Vector, len(texts))
	for i := range texts {
		vecs[i] = embedding.Vector{Data: []float32{1}}
	}
	return vecs, nil
}

func TestEmbedBatch_UsesRemoteUntilBudgetExhausted(t *testing.T) {
	local := &stubPort{id: "local"}
	remote := &stubPort{id: "remote"}
	r, err := New(local, remote, Config{MaxRemoteBatches: 2})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := r.EmbedBatch(context.Background(), []string{"a"}); err != nil {
			t.Fatalf("EmbedBatch() error = %v", err)
		}
	}
	if remote.calls != 2 {
		t.Fatalf("expected 2 remote calls within budget, got %d", remote.calls)
	}
	if local.calls != 0 {
		t.Fatalf("expected local untouched while budget remains, got %d calls", local.calls)
	}

	if _, err := r.EmbedBatch(context.Background(), []string{"a"}); err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if local.calls != 1 {
		t.Fatalf("expected the third call to fall to local once budget is exhausted, got %d", local.calls)
	}
	if r.RemoteBatchesUsed() != 2 {
		t.Fatalf("expected remote_batches_used to stay at 2, got %d", r.RemoteBatchesUsed())
	}
}

func TestEmbedBatch_NonRetriableRemoteErrorFallsThroughToLocal(t *testing.T) {
	local := &stubPort{id: "local"}
	remote := &stubPort{id: "remote", err: errs.New(errs.KindInvalidInput, "x", "bad request")}
	r, err := New(local, remote, Config{MaxRemoteBatches: 5})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	vecs, err := r.EmbedBatch(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("expected fallback to succeed via local, got error = %v", err)
	}
	if len(vecs) != 1 {
		t.Fatalf("expected 1 vector, got %d", len(vecs))
	}
	if local.calls != 1 {
		t.Fatalf("expected local to be called once as fallback, got %d", local.calls)
	}
	if r.RemoteBatchesUsed() != 0 {
		t.Fatalf("expected remote_batches_used to stay at 0 after a failed remote call, got %d", r.RemoteBatchesUsed())
	}
}

func TestEmbedBatch_RetriableRemoteErrorPropagatesWithoutFallback(t *testing.T) {
	local := &stubPort{id: "local"}
	remote := &stubPort{id: "remote", err: errs.New(errs.KindUnavailable, "x", "down")}
	r, err := New(local, remote, Config{MaxRemoteBatches: 5})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = r.EmbedBatch(context.Background(), []string{"a"})
	if err == nil {
		t.Fatal("expected a retriable remote error to propagate rather than fall back")
	}
	if local.calls != 0 {
		t.Fatalf("expected local not to be called for a retriable remote error, got %d calls", local.calls)
	}
}

func TestEmbedBatch_NilRemoteAlwaysUsesLocal(t *testing.T) {
	local := &stubPort{id: "local"}
	r, err := New(local, nil, Config{MaxRemoteBatches: 100})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := r.EmbedBatch(context.Background(), []string{"a"}); err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if local.calls != 1 {
		t.Fatalf("expected local to handle the call, got %d calls", local.calls)
	}
}

func TestEmbedBatch_ForcedByLengthBypassesBudget(t *testing.T) {
	local := &stubPort{id: "local"}
	remote := &stubPort{id: "remote"}
	r, err := New(local, remote, Config{MaxRemoteBatches: 0, RemoteThresholdChars: 5})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := r.EmbedBatch(context.Background(), []string{"a long chunk"}); err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if remote.calls != 1 {
		t.Fatalf("expected a long chunk to force remote despite zero budget, got %d remote calls", remote.calls)
	}
}

func TestEmbed_AlwaysRoutesToLocal(t *testing.T) {
	local := &stubPort{id: "local"}
	remote := &stubPort{id: "remote"}
	r, err := New(local, remote, Config{MaxRemoteBatches: 100})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := r.Embed(context.Background(), "a"); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if local.calls != 1 || remote.calls != 0 {
		t.Fatalf("expected Embed to route only to local, got local=%d remote=%d", local.calls, remote.calls)
	}
}

func TestDetectDimension_DefersToLocal(t *testing.T) {
	local := &stubPort{id: "local", dimension: 384}
	remote := &stubPort{id: "remote", dimension: 768}
	r, err := New(local, remote, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	dim, err := r.DetectDimension(context.Background(), embedding.DetectOptions{})
	if err != nil {
		t.Fatalf("DetectDimension() error = %v", err)
	}
	if dim != 384 {
		t.Fatalf("expected the local dimension 384, got %d", dim)
	}
}

func TestNew_RejectsNilLocal(t *testing.T) {
	if _, err := New(nil, &stubPort{}, Config{}); err == nil {
		t.Fatal("expected an error for a nil local provider")
	}
}

func TestEmbedBatch_RejectsEmptyInput(t *testing.T) {
	r, err := New(&stubPort{}, nil, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := r.EmbedBatch(context.Background(), nil); err == nil {
		t.Fatal("expected an error for an empty batch")
	}
}
