// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package resilience holds the retry policy of model-invocation transports.
// The consensus core never retries a failed invocation; only the provider
// wrapper in pkg/llm does.
package resilience

import (
	"context"
	stderrors "errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jllopis/concord/pkg/errors"
)

// RetryConfig is an exponential backoff policy.
type RetryConfig struct {
	// MaxAttempts counts the first call. Values below 1 mean 1.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Multiplier defaults to 2.
	Multiplier float64
	// Jitter spreads each delay by ±Jitter/2 of its value.
	Jitter float64

	// IsRecoverable decides whether an error is worth another attempt.
	// Nil honours PipelineError.Recoverable and retries anything else.
	IsRecoverable func(error) bool
	// OnRetry, when set, is called before sleeping for the next attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig suits a local model server: three attempts, half a
// second apart at first.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		Jitter:       0.1,
	}
}

func (rc RetryConfig) WithMaxAttempts(n int) RetryConfig {
	rc.MaxAttempts = n
	return rc
}

func (rc RetryConfig) WithInitialDelay(d time.Duration) RetryConfig {
	rc.InitialDelay = d
	return rc
}

func (rc RetryConfig) WithMaxDelay(d time.Duration) RetryConfig {
	rc.MaxDelay = d
	return rc
}

func (rc RetryConfig) WithIsRecoverable(fn func(error) bool) RetryConfig {
	rc.IsRecoverable = fn
	return rc
}

func (rc RetryConfig) WithOnRetry(fn func(attempt int, err error, delay time.Duration)) RetryConfig {
	rc.OnRetry = fn
	return rc
}

// Do calls fn until it succeeds, fails with an unrecoverable error or runs
// out of attempts. It returns the last error of fn, or a CONTEXT_LOST error
// when ctx ends while waiting.
func (rc RetryConfig) Do(ctx context.Context, fn func() error) error {
	return rc.DoAttempt(ctx, func(int) error { return fn() })
}

// DoAttempt is Do with the 1-based attempt number passed to fn.
func (rc RetryConfig) DoAttempt(ctx context.Context, fn func(attempt int) error) error {
	maxAttempts := max(rc.MaxAttempts, 1)
	recoverable := rc.IsRecoverable
	if recoverable == nil {
		recoverable = Recoverable
	}

	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if attempt >= maxAttempts || !recoverable(err) {
			return err
		}

		delay := rc.backoff(attempt)
		if rc.OnRetry != nil {
			rc.OnRetry(attempt, err, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.New(errors.CodeContextLost, "context canceled during retry", ctx.Err()).
				WithContext("attempt", attempt).
				WithContext("max_attempts", maxAttempts)
		case <-timer.C:
		}
	}
}

// backoff is the wait after the given failed attempt.
func (rc RetryConfig) backoff(attempt int) time.Duration {
	mult := rc.Multiplier
	if mult == 0 {
		mult = 2
	}
	delay := time.Duration(float64(rc.InitialDelay) * math.Pow(mult, float64(attempt-1)))
	if rc.MaxDelay > 0 && delay > rc.MaxDelay {
		delay = rc.MaxDelay
	}
	if rc.Jitter > 0 {
		delay += time.Duration(float64(delay) * rc.Jitter * (rand.Float64() - 0.5))
	}
	return max(delay, 0)
}

// Recoverable honours the Recoverable flag of pipeline errors and treats
// any other error as transient.
func Recoverable(err error) bool {
	if err == nil {
		return false
	}
	var pe *errors.PipelineError
	if stderrors.As(err, &pe) {
		return pe.Recoverable
	}
	return true
}
