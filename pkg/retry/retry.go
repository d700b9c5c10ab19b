// Package retry bounds calls to external collaborators: per-attempt timeouts,
// cancellation, and a small number of retries for transient failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// ErrAttemptTimeout marks an attempt abandoned because it exceeded its timeout.
// Timed-out work is never retried automatically.
var ErrAttemptTimeout = errors.New("attempt timed out")

// Config defines retry behavior with exponential backoff
type Config struct {
	MaxRetries     int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFactor   float64       // 0.0-1.0, +/- fraction of the delay
	AttemptTimeout time.Duration // 0 means attempts are bounded only by the parent context
}

// DefaultConfig returns the connection-establishment defaults:
// 3 retries with 100ms initial delay, capped at 5s, doubling each time, with 10% jitter
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// CollaboratorConfig returns the discipline for query execution and model
// calls: one retry of a transient failure, each attempt bounded by timeout.
func CollaboratorConfig(timeout time.Duration, retries int) *Config {
	if retries > 1 {
		retries = 1
	}
	if retries < 0 {
		retries = 0
	}
	return &Config{
		MaxRetries:     retries,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       time.Second,
		Multiplier:     2.0,
		JitterFactor:   0.1,
		AttemptTimeout: timeout,
	}
}

// applyJitter returns delay +/- (delay * jitterFactor * random(-1 to +1)).
func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

// wait sleeps for the current backoff delay and returns the next one.
func wait(ctx context.Context, cfg *Config, delay time.Duration) (time.Duration, error) {
	select {
	case <-time.After(applyJitter(delay, cfg.JitterFactor)):
	case <-ctx.Done():
		return delay, ctx.Err()
	}
	next := time.Duration(float64(delay) * cfg.Multiplier)
	if cfg.MaxDelay > 0 && next > cfg.MaxDelay {
		next = cfg.MaxDelay
	}
	return next, nil
}

// DoWithResult executes fn and returns both result and error, retrying every
// failure. Useful for connection establishment (pool creation, ping).
// Respects context cancellation during wait periods.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var result T
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}
		result, lastErr = r, err

		if attempt < cfg.MaxRetries {
			if delay, err = wait(ctx, cfg, delay); err != nil {
				return result, err
			}
		}
	}

	return result, lastErr
}

// Outcome describes how DoWithTimeout finished.
type Outcome struct {
	Attempts int
	TimedOut bool
}

// DoWithTimeout runs fn with a fresh per-attempt timeout derived from ctx.
//   - cancellation of ctx is returned immediately, never retried;
//   - an attempt that exceeds AttemptTimeout is abandoned and reported as
//     ErrAttemptTimeout (wrapping the attempt's error), never retried;
//   - any other failure is retried up to MaxRetries times when IsRetryable.
func DoWithTimeout[T any](ctx context.Context, cfg *Config, fn func(ctx context.Context) (T, error)) (T, Outcome, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var zero T
	var out Outcome
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, out, err
		}
		out.Attempts++

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if cfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.AttemptTimeout)
		}
		r, err := fn(attemptCtx)
		timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err == nil {
			return r, out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, out, ctxErr
		}
		if timedOut {
			out.TimedOut = true
			return zero, out, fmt.Errorf("%w after %s: %w", ErrAttemptTimeout, cfg.AttemptTimeout, err)
		}
		if !IsRetryable(err) || attempt == cfg.MaxRetries {
			return zero, out, err
		}
		if delay, err = wait(ctx, cfg, delay); err != nil {
			return zero, out, err
		}
	}

	return zero, out, nil
}

// RetryableError is an interface for errors that explicitly declare their retryability.
// LLM and query execution errors implement it.
type RetryableError interface {
	error
	IsRetryable() bool
}

// retryablePatterns are driver and network messages worth a second attempt.
var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"timeout",
	"timed out",
	"temporary failure",
	"too many connections",
	"deadlock",
	"network is unreachable",
	"service unavailable",
	"too many requests",
	"rate limit",
}

// IsRetryable determines if an error is transient and worth retrying.
// Errors implementing RetryableError anywhere in the chain decide for themselves;
// otherwise the message is matched against known transient failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var r RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
