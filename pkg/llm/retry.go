// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jllopis/concord/pkg/resilience"
)

// RetryingProvider retries transport failures of the wrapped provider.
// It lives on the collaborator side: the consensus core never retries a
// failed invocation itself.
type RetryingProvider struct {
	next   Provider
	retry  resilience.RetryConfig
	logger *slog.Logger
}

// NewRetryingProvider wraps next with the given retry policy. Cancellation
// and client errors (4xx other than 429) are never retried.
func NewRetryingProvider(next Provider, cfg resilience.RetryConfig) *RetryingProvider {
	p := &RetryingProvider{next: next, logger: slog.Default()}
	recoverable := cfg.IsRecoverable
	cfg.IsRecoverable = func(err error) bool {
		return isTransient(err) && (recoverable == nil || recoverable(err))
	}
	onRetry := cfg.OnRetry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		p.logger.Warn("model invocation failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
	}
	p.retry = cfg
	return p
}

// Chat implements Provider.
func (p *RetryingProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var resp *ChatResponse
	err := p.retry.DoAttempt(ctx, func(int) error {
		var err error
		resp, err = p.next.Chat(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
