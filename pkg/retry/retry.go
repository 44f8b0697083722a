// Package retry runs operations with exponential backoff. Adapters use it when
// they open connections to external brokers during setup.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Policy controls the backoff schedule.
type Policy struct {
	Attempts int           // total attempts, values below 1 mean one attempt
	Initial  time.Duration // delay after the first failure
	Max      time.Duration // upper bound for a single delay
	Factor   float64       // growth per attempt
	Jitter   bool          // add up to 25% random delay
}

// Default is suitable for connecting to a broker at startup.
func Default() Policy {
	return Policy{
		Attempts: 5,
		Initial:  100 * time.Millisecond,
		Max:      5 * time.Second,
		Factor:   2.0,
		Jitter:   true,
	}
}

// Once runs the operation a single time.
func Once() Policy {
	return Policy{Attempts: 1}
}

func (p Policy) normalized() (Policy, error) {
	if p.Initial < 0 || p.Max < 0 || p.Factor < 0 {
		return p, errors.New("retry: negative policy values")
	}
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Initial == 0 {
		p.Initial = 100 * time.Millisecond
	}
	if p.Max == 0 {
		p.Max = 5 * time.Second
	}
	if p.Factor == 0 {
		p.Factor = 2.0
	}
	if p.Max < p.Initial {
		return p, errors.New("retry: Max must be >= Initial")
	}
	return p, nil
}

// Delay returns the wait before the given attempt (attempt 1 is the first retry).
func (p Policy) Delay(attempt int) time.Duration {
	d := p.Initial
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(d) * p.Factor)
		if next > p.Max || next <= 0 {
			return p.Max
		}
		d = next
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// Do calls fn until it succeeds, returns a permanent error, the attempts are
// used up or ctx is done.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p, err := p.normalized()
	if err != nil {
		return err
	}

	var last error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if IsPermanent(last) {
			return last
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
		if attempt == p.Attempts {
			break
		}

		wait := p.Delay(attempt)
		if p.Jitter && wait >= 4 {
			wait += rand.N(wait / 4)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("retry failed after %d attempts: %w", p.Attempts, last)
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
