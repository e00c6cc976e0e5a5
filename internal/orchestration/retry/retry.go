// Package retry runs fallible operations with a bounded number of attempts.
//
// The delay before attempt n+1 is Delay * Multiplier^(n-1), capped at MaxDelay.
// A Multiplier of 0 or 1 gives a constant delay. There is no jitter: GUI
// automation timing is easier to reason about with a fixed schedule.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/zjrosen/conductor/internal/log"
)

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retries exhausted")

// ErrInvalidPolicy is returned for a policy that cannot run.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// Attempt describes a failed attempt that is about to be retried.
type Attempt struct {
	Operation string
	// Number is the 1-based attempt that just failed.
	Number int
	Err    error
	// Delay is the sleep before the next attempt.
	Delay time.Duration
}

// Policy configures Run.
type Policy struct {
	// Name labels the operation in logs and observer callbacks.
	Name        string
	MaxAttempts int
	Delay       time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	// IsRetryable decides whether an error is transient. Nil retries every error.
	IsRetryable func(error) bool
	// Observer is called before each sleep. A panicking observer is logged and ignored.
	Observer func(Attempt)
}

// DefaultPolicy returns three attempts with a constant 500ms delay.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Delay:       500 * time.Millisecond,
		Multiplier:  1,
		MaxDelay:    5 * time.Second,
	}
}

// Validate checks the policy for errors.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1, got %d", ErrInvalidPolicy, p.MaxAttempts)
	}
	if p.Delay < 0 {
		return fmt.Errorf("%w: negative delay %s", ErrInvalidPolicy, p.Delay)
	}
	if p.Multiplier < 0 {
		return fmt.Errorf("%w: negative multiplier %v", ErrInvalidPolicy, p.Multiplier)
	}
	return nil
}

// WithName returns a copy of the policy labelled name.
func (p Policy) WithName(name string) Policy {
	p.Name = name
	return p
}

func (p Policy) backOff() backoff.BackOff {
	if p.Multiplier <= 1 {
		return backoff.NewConstantBackOff(p.Delay)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Delay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	return b
}

func (p Policy) retryable(err error) bool {
	if p.IsRetryable == nil {
		return true
	}
	return p.IsRetryable(err)
}

func (p Policy) observe(a Attempt) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(log.CatRetry, "retry observer panicked", "operation", p.Name, "panic", r)
		}
	}()
	if p.Observer != nil {
		p.Observer(a)
	}
}

// Run executes op until it succeeds, returns a non-retryable error, or
// MaxAttempts is reached. Non-retryable errors are returned unchanged.
// Exhaustion returns an error matching both ErrExhausted and the last error.
// Cancelling ctx stops the loop with ctx.Err().
func Run[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.Validate(); err != nil {
		return zero, err
	}

	attempts := 0
	var lastErr error

	operation := func() (T, error) {
		attempts++
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !p.retryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	notify := func(err error, next time.Duration) {
		log.Debug(log.CatRetry, "attempt failed, retrying",
			"operation", p.Name,
			"attempt", attempts,
			"max_attempts", p.MaxAttempts,
			"delay", next,
			"error", err,
		)
		p.observe(Attempt{Operation: p.Name, Number: attempts, Err: lastErr, Delay: next})
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err == nil {
		return res, nil
	}

	switch {
	case ctx.Err() != nil:
		return res, ctx.Err()
	case lastErr == nil:
		return res, err
	case !p.retryable(lastErr):
		return res, lastErr
	default:
		name := p.Name
		if name == "" {
			name = "operation"
		}
		log.Warn(log.CatRetry, "retries exhausted",
			"operation", name,
			"attempts", attempts,
			"error", lastErr,
		)
		return res, fmt.Errorf("%w: %s failed after %d attempts: %w", ErrExhausted, name, attempts, lastErr)
	}
}

// Do is Run for operations without a result.
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	_, err := Run(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
