package reqctx

import (
	"context"
	"testing"
)

func TestNewRequestID_Unique(t *testing.T) {
	a := NewRequestID()
	b := NewRequestID()
	if a == b {
		t.Fatalf("expected unique request ids, got %q twice", a)
	}
	if a[:4] != "req_" {
		t.Errorf("expected req_ prefix, got %q", a)
	}
}

func TestNewJobID_Unique(t *testing.T) {
	a := NewJobID()
	b := NewJobID()
	if a == b {
		t.Fatalf("expected unique job ids, got %q twice", a)
	}
	if a[:4] != "job_" {
		t.Errorf("expected job_ prefix, got %q", a)
	}
}

func TestParse_RejectsEmpty(t *testing.T) {
	if _, err := Parse(""); err == nil {
		t.Fatal("expected error for empty correlation id")
	}
	if _, err := Parse("   "); err == nil {
		t.Fatal("expected error for whitespace-only correlation id")
	}
}

func TestParse_TrimsWhitespace(t *testing.T) {
	id, err := Parse("  abc123  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.String() != "abc123" {
		t.Errorf("expected trimmed id, got %q", id)
	}
}

func TestNewRequest_AttachesCorrelationID(t *testing.T) {
	ctx, cancel := NewRequest(context.Background())
	defer cancel()

	id := CorrelationIDFromContext(ctx)
	if id == "" {
		t.Fatal("expected correlation id to be attached")
	}
}

func TestCancelled_ReflectsContextState(t *testing.T) {
	ctx, cancel := NewRequest(context.Background())
	if Cancelled(ctx) {
		t.Fatal("fresh context should not be cancelled")
	}
	cancel()
	if !Cancelled(ctx) {
		t.Fatal("expected context to be cancelled after cancel()")
	}
}

func TestCorrelationIDFromContext_MissingReturnsEmpty(t *testing.T) {
	if id := CorrelationIDFromContext(context.Background()); id != "" {
		t.Errorf("expected empty correlation id for bare context, got %q", id)
	}
}
