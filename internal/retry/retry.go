// Package retry wraps calls to external services with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultInitialWait = time.Second
	DefaultMaxWait     = 30 * time.Second
)

// Policy configures a retry loop.
type Policy struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
	// Retryable reports whether err should be retried. Nil retries everything
	// except errors wrapped with Permanent.
	Retryable func(error) bool
}

// DefaultPolicy is three attempts spaced 1s, 2s apart with jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		InitialWait: DefaultInitialWait,
		MaxWait:     DefaultMaxWait,
		Jitter:      true,
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do runs fn until it succeeds, the attempt budget is spent, the error is not
// retryable, or ctx is done. The last error from fn is returned.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for functions that return a value.
func DoValue[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	policy = normalizePolicy(policy)

	var (
		value T
		err   error
	)
	wait := policy.InitialWait
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		value, err = fn(ctx)
		if err == nil {
			return value, nil
		}
		// Only the caller's context ends the loop early. A deadline inside fn,
		// such as an http.Client timeout, is an ordinary retryable failure.
		if ctx.Err() != nil {
			break
		}
		if !policy.shouldRetry(err) || attempt == policy.MaxAttempts-1 {
			break
		}

		sleep := wait
		if policy.Jitter {
			sleep = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}
		if sleep > policy.MaxWait {
			sleep = policy.MaxWait
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return value, err
		case <-timer.C:
		}

		wait *= 2
		if wait > policy.MaxWait {
			wait = policy.MaxWait
		}
	}
	return value, err
}

func (p Policy) shouldRetry(err error) bool {
	if IsPermanent(err) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}

func normalizePolicy(p Policy) Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitialWait < 0 {
		p.InitialWait = 0
	}
	if p.MaxWait <= 0 {
		p.MaxWait = DefaultMaxWait
	}
	if p.MaxWait < p.InitialWait {
		p.MaxWait = p.InitialWait
	}
	return p
}
