// The doubling schedule follows the exponential backoff policy of
// github.com/Azure/iot-operations-sdks/go/mqtt/retry,
// Copyright (c) Microsoft Corporation, licensed under the MIT License.

package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// ErrExhausted is joined with the last operation error once every retry
// was spent.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Operation is one attempt. Returning an error wrapped by Permanent stops
// the retry loop immediately.
type Operation func(ctx context.Context) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth another attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Backoff pauses BaseDelay, 2*BaseDelay, 4*BaseDelay and so on between
// attempts, without jitter.
type Backoff struct {
	// MaxRetries counts attempts after the first. Zero means
	// DefaultMaxRetries; negative disables retries.
	MaxRetries int

	// BaseDelay is the pause before the first retry. Zero means
	// DefaultBaseDelay.
	BaseDelay time.Duration

	// MaxDelay caps a single pause when positive.
	MaxDelay time.Duration

	// OnRetry is called before each pause with the 1-based retry number.
	OnRetry func(retry int, delay time.Duration, err error)

	Logger *slog.Logger
}

// Do runs op until it succeeds, fails permanently, runs out of retries or
// ctx is done. Cancellation wins over any operation error.
func (b *Backoff) Do(ctx context.Context, name string, op Operation) error {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("operation", name)
	budget := b.retries()

	for retries := 0; ; retries++ {
		err := op(ctx)
		if err == nil {
			if retries > 0 {
				logger.Debug("operation recovered", "retries", retries)
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var permanent *permanentError
		if errors.As(err, &permanent) {
			return permanent.err
		}
		if retries >= budget {
			logger.Info("retries exhausted", "attempts", retries+1, "error", err)
			return errors.Join(ErrExhausted, err)
		}

		delay := b.Delay(retries + 1)
		if b.OnRetry != nil {
			b.OnRetry(retries+1, delay, err)
		}
		logger.Warn("operation failed, retrying", "retry", retries+1, "delay", delay, "error", err)
		if err := pause(ctx, delay); err != nil {
			return err
		}
	}
}

// Delay is the pause before the given 1-based retry.
func (b *Backoff) Delay(retry int) time.Duration {
	delay := b.BaseDelay
	if delay <= 0 {
		delay = DefaultBaseDelay
	}
	for ; retry > 1; retry-- {
		if b.MaxDelay > 0 && delay >= b.MaxDelay {
			break
		}
		if delay > time.Duration(1<<62) {
			break
		}
		delay *= 2
	}
	if b.MaxDelay > 0 && delay > b.MaxDelay {
		return b.MaxDelay
	}
	return delay
}

func (b *Backoff) retries() int {
	switch {
	case b.MaxRetries == 0:
		return DefaultMaxRetries
	case b.MaxRetries < 0:
		return 0
	default:
		return b.MaxRetries
	}
}

func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
