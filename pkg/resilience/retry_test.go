package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	perrors "github.com/jllopis/concord/pkg/errors"
)

func fastConfig() RetryConfig {
	return DefaultRetryConfig().WithInitialDelay(time.Millisecond).WithMaxDelay(5 * time.Millisecond)
}

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	err := fastConfig().Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := fastConfig().WithMaxAttempts(2).Do(context.Background(), func() error {
		attempts++
		return errors.New("always fails")
	})

	if err == nil {
		t.Errorf("expected error after max attempts")
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryNonRecoverable(t *testing.T) {
	attempts := 0
	config := fastConfig().WithIsRecoverable(func(err error) bool {
		return false
	})
	err := config.Do(context.Background(), func() error {
		attempts++
		return errors.New("non-recoverable error")
	})

	if err == nil {
		t.Errorf("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := DefaultRetryConfig().WithInitialDelay(100 * time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	attempts := 0
	err := config.Do(ctx, func() error {
		attempts++
		return errors.New("transient error")
	})

	if !perrors.IsCode(err, perrors.CodeContextLost) {
		t.Errorf("expected CONTEXT_LOST, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestPipelineErrorRecoverableFlag(t *testing.T) {
	tests := []struct {
		name        string
		recoverable bool
		want        int
	}{
		{name: "recoverable", recoverable: true, want: 2},
		{name: "fatal", recoverable: false, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := perrors.New(perrors.CodeCollaboratorFailure, "invoke failed", nil).WithRecoverable(tt.recoverable)
			attempts := 0
			_ = fastConfig().Do(context.Background(), func() error {
				attempts++
				if attempts < 2 {
					return pe
				}
				return nil
			})
			if attempts != tt.want {
				t.Errorf("expected %d attempts, got %d", tt.want, attempts)
			}
		})
	}
}

func TestBackoffCapped(t *testing.T) {
	rc := RetryConfig{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}
	if d := rc.backoff(1); d != time.Second {
		t.Errorf("first retry should wait the initial delay, got %v", d)
	}
	if d := rc.backoff(2); d != 2*time.Second {
		t.Errorf("second retry should double, got %v", d)
	}
	if d := rc.backoff(5); d != 3*time.Second {
		t.Errorf("expected delay capped at 3s, got %v", d)
	}
}

func TestOnRetryReportsAttempts(t *testing.T) {
	var seen []int
	cfg := fastConfig().WithOnRetry(func(attempt int, err error, _ time.Duration) {
		seen = append(seen, attempt)
	})
	var got []int
	_ = cfg.DoAttempt(context.Background(), func(attempt int) error {
		got = append(got, attempt)
		return errors.New("down")
	})
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("unexpected attempts %v", got)
	}
	// No retry follows the last attempt.
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("unexpected retry notifications %v", seen)
	}
}
