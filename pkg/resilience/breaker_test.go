package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failing(ctx context.Context) (any, error) { return nil, errBoom }
func succeeding(ctx context.Context) (any, error) { return "ok", nil }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker("test", Config{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := b.Call(ctx, failing, nil); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: expected operation error, got %v", i, err)
		}
	}

	if got := b.State(); got != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", got)
	}

	// While open the operation must never run.
	invoked := false
	_, err := b.Call(ctx, func(ctx context.Context) (any, error) {
		invoked = true
		return nil, nil
	}, nil)
	if invoked {
		t.Error("operation invoked while circuit open")
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreakerOpenUsesFallback(t *testing.T) {
	b := NewBreaker("test", Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute})
	ctx := context.Background()

	if _, err := b.Call(ctx, failing, nil); !errors.Is(err, errBoom) {
		t.Fatalf("expected operation error, got %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	result, err := b.Call(ctx, failing, func(ctx context.Context) (any, error) {
		return "fallback", nil
	})
	if err != nil {
		t.Fatalf("fallback call returned error: %v", err)
	}
	if result != "fallback" {
		t.Errorf("expected fallback result, got %v", result)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := NewBreaker("test", Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
	})
	ctx := context.Background()

	_, _ = b.Call(ctx, failing, nil)
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	// One trial call is allowed and its success closes the circuit.
	if _, err := b.Call(ctx, succeeding, nil); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed after successful trial, got %s", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("test", Config{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          10 * time.Millisecond,
	})
	ctx := context.Background()

	_, _ = b.Call(ctx, failing, nil)
	time.Sleep(20 * time.Millisecond)

	_, _ = b.Call(ctx, failing, nil)
	if b.State() != StateOpen {
		t.Errorf("expected open after half-open failure, got %s", b.State())
	}
}

func TestBreakerErrorRateOpens(t *testing.T) {
	b := NewBreaker("test", Config{
		FailureThreshold:   100, // only the rate trigger should fire
		SuccessThreshold:   1,
		Timeout:            time.Minute,
		ErrorRateThreshold: 0.5,
		WindowSize:         6,
	})
	ctx := context.Background()

	// Mixed outcomes keep consecutive failures low. The rate trigger is
	// armed only once the window is full, so the breaker must still be
	// closed one call before the window fills.
	for _, success := range []bool{true, true, false, true, false} {
		if success {
			_, _ = b.Call(ctx, succeeding, nil)
		} else {
			_, _ = b.Call(ctx, failing, nil)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed before the window fills, got %s", b.State())
	}

	// Sixth call fills the window at 3/6 failures.
	_, _ = b.Call(ctx, failing, nil)
	if b.State() != StateOpen {
		t.Errorf("expected open from rolling error rate, got %s (rate %.2f)", b.State(), b.Stats().ErrorRate)
	}
}

func TestBreakerSingleFailureStaysClosed(t *testing.T) {
	b := NewBreaker("test", DefaultConfig())
	ctx := context.Background()

	if _, err := b.Call(ctx, failing, nil); !errors.Is(err, errBoom) {
		t.Fatalf("expected operation error, got %v", err)
	}

	// One transient failure is 100% of a one-sample window; it must not
	// trip the rate trigger ahead of the failure threshold.
	if got := b.State(); got != StateClosed {
		t.Fatalf("expected closed after a single failure, got %s", got)
	}

	invoked := false
	_, _ = b.Call(ctx, func(ctx context.Context) (any, error) {
		invoked = true
		return "ok", nil
	}, nil)
	if !invoked {
		t.Error("expected the next operation to run with the circuit closed")
	}
}

func TestRegistrySharesBreakerPerName(t *testing.T) {
	r := NewRegistry(DefaultConfig())
	a := r.Get("document_retrieval")
	b := r.Get("document_retrieval")
	c := r.Get("answer_generation")

	if a != b {
		t.Error("expected the same breaker instance for the same name")
	}
	if a == c {
		t.Error("expected distinct breakers per dependency name")
	}
	if len(r.AllStats()) != 2 {
		t.Errorf("expected 2 registered breakers, got %d", len(r.AllStats()))
	}
}
