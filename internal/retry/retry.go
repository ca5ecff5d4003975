package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/syncerr"
)

// Backoff describes the delay between attempts. A Multiplier of 1 (or less)
// yields a constant delay of Initial.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Policy configures Do.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff
	// AttemptTimeout bounds each attempt; zero disables the per-attempt deadline.
	AttemptTimeout time.Duration
	// ShouldRetry decides whether a failure is worth another attempt. Nil retries everything.
	ShouldRetry func(error) bool
	Operation   string
	Logger      *zap.Logger
}

// Constant returns a policy sleeping delay between every attempt.
func Constant(maxAttempts int, delay time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Backoff:     Backoff{Initial: delay, Max: delay, Multiplier: 1},
	}
}

// MinExponentialDelay floors the first delay of an exponential policy.
const MinExponentialDelay = time.Millisecond

// Exponential returns a policy doubling the delay from min up to max.
func Exponential(maxAttempts int, min, max time.Duration) Policy {
	if min < MinExponentialDelay {
		min = MinExponentialDelay
	}
	if max < min {
		max = min
	}
	return Policy{
		MaxAttempts: maxAttempts,
		Backoff:     Backoff{Initial: min, Max: max, Multiplier: 2},
	}
}

func (p Policy) WithShouldRetry(fn func(error) bool) Policy {
	p.ShouldRetry = fn
	return p
}

func (p Policy) WithAttemptTimeout(d time.Duration) Policy {
	p.AttemptTimeout = d
	return p
}

func (p Policy) WithLogger(logger *zap.Logger) Policy {
	p.Logger = logger
	return p
}

func (p Policy) Named(operation string) Policy {
	p.Operation = operation
	return p
}

// Delay returns the sleep before the given retry (attempt counts from 1).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.Backoff.Initial
	if delay < 0 {
		delay = 0
	}
	if p.Backoff.Multiplier <= 1 {
		return delay
	}
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(delay) * p.Backoff.Multiplier)
		if p.Backoff.Max > 0 && next >= p.Backoff.Max {
			return p.Backoff.Max
		}
		delay = next
	}
	if p.Backoff.Max > 0 && delay > p.Backoff.Max {
		return p.Backoff.Max
	}
	return delay
}

// Do invokes op until it succeeds, ShouldRetry rejects the error, or
// MaxAttempts is exhausted; the last error is returned. MaxAttempts < 1 is a
// config error and op is never invoked.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		return zero, syncerr.Configf("retry %s: max attempts must be at least 1, got %d", p.Operation, p.MaxAttempts)
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		value, err := runAttempt(ctx, p.AttemptTimeout, op)
		if err == nil {
			if attempt > 1 {
				logger.Debug("operation succeeded after retries", zap.String("operation", p.Operation), zap.Int("attempts", attempt))
			}
			return value, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, lastErr
		}
		if p.ShouldRetry != nil && !p.ShouldRetry(err) {
			return zero, lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt)
		logger.Warn("operation failed, retrying",
			zap.String("operation", p.Operation),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)

		if err := sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx)
}

func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
