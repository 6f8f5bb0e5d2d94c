package resilience

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func newTestExecutor(cfg Config) *Executor {
	return NewExecutor(cfg, slog.New(slog.DiscardHandler))
}

func retryOnlyConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	}
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	exec := newTestExecutor(retryOnlyConfig())

	attempts := 0
	errTransient := errors.New("connection reset")
	err := exec.Execute(context.Background(), "ollama.generate", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTransient
		}
		return nil
	}, func(err error) ErrorClassification {
		if errors.Is(err, errTransient) {
			return Retryable()
		}
		return Permanent()
	})
	if err != nil {
		t.Fatalf("Execute() error = %v, want success after retries", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestExecuteStopsOnPermanentFailure(t *testing.T) {
	exec := newTestExecutor(retryOnlyConfig())

	attempts := 0
	errPermanent := errors.New("model not found")
	err := exec.Execute(context.Background(), "ollama.generate", func(context.Context) error {
		attempts++
		return errPermanent
	}, func(error) ErrorClassification {
		return CallerFault()
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("Execute() error = %v, want %v", err, errPermanent)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry)", attempts)
	}
}

func TestExecuteGivesUpAfterMaxAttempts(t *testing.T) {
	exec := newTestExecutor(retryOnlyConfig())

	attempts := 0
	errTransient := errors.New("timeout")
	err := exec.Execute(context.Background(), "nats.publish", func(context.Context) error {
		attempts++
		return errTransient
	}, func(error) ErrorClassification {
		return Retryable()
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("Execute() error = %v, want %v", err, errTransient)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want the full retry budget of 3", attempts)
	}
}

func TestExecuteOpensCircuitAfterFailureRun(t *testing.T) {
	exec := newTestExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     time.Millisecond,
		RetryMaxBackoff:         time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	})

	errDown := errors.New("backend down")
	classifier := func(error) ErrorClassification { return Permanent() }

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "ollama.generate", func(context.Context) error {
			return errDown
		}, classifier)
		if !errors.Is(err, errDown) {
			t.Fatalf("iteration %d: error = %v, want %v", i, err, errDown)
		}
	}

	err := exec.Execute(context.Background(), "ollama.generate", func(context.Context) error {
		t.Fatal("open circuit must not invoke the operation")
		return nil
	}, classifier)
	if !IsCircuitOpen(err) {
		t.Fatalf("error = %v, want open circuit", err)
	}
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("error = %v, want gobreaker.ErrOpenState", err)
	}
}

func TestExecuteScopesBreakerPerOperation(t *testing.T) {
	exec := newTestExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     time.Millisecond,
		RetryMaxBackoff:         time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	})

	errDown := errors.New("backend down")
	classifier := func(error) ErrorClassification { return Permanent() }
	for i := 0; i < 2; i++ {
		_ = exec.Execute(context.Background(), "ollama.vision", func(context.Context) error {
			return errDown
		}, classifier)
	}

	// The vision breaker is open; publishes must be unaffected.
	err := exec.Execute(context.Background(), "nats.publish", func(context.Context) error {
		return nil
	}, classifier)
	if err != nil {
		t.Fatalf("publish after unrelated trip: error = %v", err)
	}
}
