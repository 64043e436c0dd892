package retry

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Config defines a bounded exponential backoff.
type Config struct {
	MaxAttempts int           // total attempts including the first one
	BaseDelay   time.Duration // delay after the first failed attempt
	MaxDelay    time.Duration // cap before jitter, 0 for none
	MaxJitter   time.Duration // uniform jitter added to every delay
	Multiplier  float64
}

// DefaultConfig matches the upstream rate-limit policy: 3 attempts,
// 1s base delay doubling each time, up to 1s of jitter.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxJitter:   time.Second,
		Multiplier:  2.0,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	return c
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper backed by a timer.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn until it succeeds, shouldRetry rejects its error, or the attempt
// budget is spent. It returns the last error from fn, or ctx.Err() if the
// context ends during a wait. A nil shouldRetry uses IsRetryable.
func Do(ctx context.Context, cfg Config, shouldRetry func(error) bool, fn func(attempt int) error, opts ...Option) error {
	_, err := DoWithResult(ctx, cfg, shouldRetry, func(attempt int) (struct{}, error) {
		return struct{}{}, fn(attempt)
	}, opts...)
	return err
}

// DoWithResult is Do for functions that return a value, such as opening a pool.
func DoWithResult[T any](ctx context.Context, cfg Config, shouldRetry func(error) bool, fn func(attempt int) (T, error), opts ...Option) (T, error) {
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}
	b := NewBackoff(cfg, opts...)

	var result T
	for {
		attempt, ok := b.Begin()
		if !ok {
			return result, errors.New("retry: backoff already terminal")
		}

		r, err := fn(attempt)
		result = r
		d := b.Record(err, err != nil && shouldRetry(err))
		if !d.Retry {
			return result, err
		}
		if werr := Sleep(ctx, d.Delay); werr != nil {
			return result, werr
		}
	}
}

// RetryableError is implemented by errors that declare their own retryability.
type RetryableError interface {
	error
	IsRetryable() bool
}

// IsRetryable reports whether err looks transient. Errors implementing
// RetryableError decide for themselves; others are matched against known
// connection failure messages.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var r RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"i/o timeout",
		"timed out",
		"too many connections",
		"the database system is starting up",
		"network is unreachable",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
