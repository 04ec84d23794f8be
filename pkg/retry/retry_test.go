package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")
var errTerminal = errors.New("terminal")

func alwaysTransient(err error) bool { return errors.Is(err, errTransient) }

func TestDoSucceedsAfterFailures(t *testing.T) {
	policy := Policy{MaxAttempts: 5, InitialBackoff: time.Millisecond, BackoffMultiplier: 2, MaxBackoff: 5 * time.Millisecond}

	calls := 0
	err := Do(context.Background(), policy, alwaysTransient, func() error {
		calls++
		if calls < 4 {
			return errTransient
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do returned %v after eventual success", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	policy := Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, BackoffMultiplier: 2, MaxBackoff: 2 * time.Millisecond}

	calls := 0
	err := Do(context.Background(), policy, alwaysTransient, func() error {
		calls++
		return errTransient
	})

	if !errors.Is(err, errTransient) {
		t.Fatalf("exhausted Do returned %v, want the last error", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnTerminalError(t *testing.T) {
	policy := Policy{MaxAttempts: 5, InitialBackoff: time.Millisecond, BackoffMultiplier: 2, MaxBackoff: 2 * time.Millisecond}

	calls := 0
	err := Do(context.Background(), policy, alwaysTransient, func() error {
		calls++
		return errTerminal
	})

	if !errors.Is(err, errTerminal) {
		t.Fatalf("Do returned %v, want terminal error", err)
	}
	if calls != 1 {
		t.Errorf("terminal error was retried: calls = %d", calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	policy := Policy{MaxAttempts: 10, InitialBackoff: time.Hour, BackoffMultiplier: 2, MaxBackoff: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, policy, alwaysTransient, func() error { return errTransient })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do returned %v, want context.Canceled", err)
	}
}

func TestDoZeroInitialBackoff(t *testing.T) {
	policy := Policy{MaxAttempts: 3, InitialBackoff: 0, BackoffMultiplier: 2, MaxBackoff: time.Millisecond}

	calls := 0
	_ = Do(context.Background(), policy, alwaysTransient, func() error {
		calls++
		return errTransient
	})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}
