package retry

import (
	"context"
	stderr "errors"
	"syscall"
	"testing"
	"time"

	"github.com/weldmaster/resultstore/pkg/errors"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestDoSucceedsAfterRetryableErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	err := New(fastConfig()).Do(func() error {
		calls++
		if calls < 3 {
			return errors.NewError(errors.ErrCodeEvictionFailed, "directory busy")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	t.Parallel()

	calls := 0
	want := errors.NewError(errors.ErrCodePathInvalid, "outside root")
	err := New(fastConfig()).Do(func() error {
		calls++
		return want
	})
	if !stderr.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	t.Parallel()

	var retries []int
	cfg := fastConfig()
	cfg.OnRetry = func(attempt int, _ error, _ time.Duration) { retries = append(retries, attempt) }

	err := New(cfg).Do(func() error {
		return errors.NewError(errors.ErrCodeIndexWrite, "rename")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(retries) != 2 {
		t.Errorf("OnRetry called %d times, want 2", len(retries))
	}
}

func TestRetryIfForPlainErrors(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.RetryIf = func(err error) bool { return stderr.Is(err, syscall.EBUSY) }

	calls := 0
	err := New(cfg).Do(func() error {
		calls++
		if calls == 1 {
			return syscall.EBUSY
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}

	calls = 0
	_ = New(cfg).Do(func() error {
		calls++
		return syscall.EACCES
	})
	if calls != 1 {
		t.Errorf("EACCES retried %d times", calls)
	}
}

func TestDoWithContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := New(fastConfig()).DoWithContext(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if err == nil || called {
		t.Errorf("err = %v, called = %v", err, called)
	}
}

func TestCalculateDelayCapped(t *testing.T) {
	t.Parallel()

	r := New(Config{MaxAttempts: 10, InitialDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond, Multiplier: 2})
	want := []time.Duration{10, 20, 40, 40}
	for i, w := range want {
		if got := r.calculateDelay(i + 1); got != w*time.Millisecond {
			t.Errorf("attempt %d delay = %v, want %v", i+1, got, w*time.Millisecond)
		}
	}
}
