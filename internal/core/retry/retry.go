// Package retry layers retry/backoff policies over fallible operations.
// Policies are explicit higher-order functions applied at call sites,
// parameterized by attempt budget, retryable-error predicate and delay.
package retry

import (
	"context"
	"time"

	"github.com/trymwestin/solmate/internal/core/mux"
)

// Do invokes fn up to attempts times, at least once regardless of the
// budget, retrying when retryable(err) is true
// and sleeping delay between attempts (no sleep when delay is zero). The
// last error is returned once the budget is exhausted; non-retryable errors
// return immediately. The sleep is interruptible by ctx.
func Do(ctx context.Context, attempts int, delay time.Duration, retryable func(error) bool, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		if delay > 0 {
			if serr := sleep(ctx, delay); serr != nil {
				return serr
			}
		}
	}
	return err
}

// Result carries the outcome of probing an optional route.
type Result struct {
	// Data is the response payload; nil when Unsupported.
	Data []byte
	// Unsupported is true when the device's firmware rejected the route on
	// every attempt. Not an error: older firmware simply lacks some routes.
	Unsupported bool
}

const (
	probeAttempts = 2
	probeDelay    = time.Second
)

// ProbeUnsupported calls fn, retrying a server bad-request rejection once
// after a one-second delay. When the budget is exhausted the route is
// treated as unsupported by this firmware and a non-fatal Unsupported
// result is returned instead of the error. Any other failure propagates.
func ProbeUnsupported(ctx context.Context, fn func() ([]byte, error)) (Result, error) {
	for i := 0; i < probeAttempts; i++ {
		data, err := fn()
		if err == nil {
			return Result{Data: data}, nil
		}
		if !mux.IsBadRequest(err) {
			return Result{}, err
		}
		if i < probeAttempts-1 {
			if serr := sleep(ctx, probeDelay); serr != nil {
				return Result{}, serr
			}
		}
	}
	return Result{Unsupported: true}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
