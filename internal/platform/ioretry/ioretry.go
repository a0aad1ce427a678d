// Package ioretry wraps filesystem operations in a bounded exponential
// backoff retry loop for the transient failure kinds documented in
// spec.md §4.2: sharing violations, access-denied on locked files,
// interrupted syscalls, and temporarily-unavailable resources
package ioretry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	perr "redarc/internal/platform/errors"
)

// Config bounds a retry loop
type Config struct {
	// MaxAttempts caps the total number of tries, including the first. Zero uses DefaultMaxAttempts
	MaxAttempts int
	// MaxDelay caps the backoff interval between attempts. Zero uses DefaultMaxDelay
	MaxDelay time.Duration
	// OnRetry, if set, is called before each retry with the attempt number (1-based) and the error that triggered it
	OnRetry func(attempt int, err error)
}

const (
	// DefaultMaxAttempts is the default total attempt cap (spec.md §4.2)
	DefaultMaxAttempts = 8
	// DefaultMaxDelay is the default cap on backoff interval (spec.md §4.2)
	DefaultMaxDelay = 2 * time.Second
)

// Do runs fn, retrying on transient errors (per perr.Retryable) up to
// cfg.MaxAttempts with exponential backoff capped at cfg.MaxDelay. A
// non-transient error short-circuits immediately. Context cancellation
// short-circuits and surfaces as ErrorCodeCancelled
func Do(ctx context.Context, cfg Config, fn func() error) error {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}

	eb := backoff.NewExponentialBackOff()
	eb.MaxInterval = maxDelay
	eb.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(maxAttempts-1)), ctx)

	attempt := 0
	op := func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(perr.Wrap(err, perr.ErrorCodeCancelled, "ioretry: context done"))
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !perr.Retryable(err) {
			return backoff.Permanent(err)
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		return err
	}

	err := backoff.Retry(op, policy)
	if err == nil {
		return nil
	}
	if pe, ok := perr.As(err); ok {
		return pe
	}
	return perr.IOPermanentf(err, "ioretry: exhausted %d attempts", attempt)
}
