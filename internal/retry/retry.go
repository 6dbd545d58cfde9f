// Package retry implements the exponential-backoff policy applied to
// adapter list calls. Only transient-classified errors are re-attempted;
// after exhaustion the last classified error is surfaced unchanged.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/inletworks/inlet/internal/errors"
)

// Spec describes one retry policy.
type Spec struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	Jitter      float64 // fraction of the delay, e.g. 0.2 for ±20%
}

// OnRetry is invoked before each re-attempt with the 1-based attempt number
// that failed, the error it failed with and the upcoming backoff delay.
type OnRetry func(attempt int, err error, delay time.Duration)

// Delay computes the backoff before attempt n+1, given that attempt n
// (1-based) failed. rng in [0,1) drives the jitter; injectable for tests.
func (s Spec) Delay(attempt int, rng float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(s.Initial)
	if base <= 0 {
		base = float64(time.Second)
	}
	multiplier := s.Multiplier
	if multiplier <= 1 {
		multiplier = 2
	}
	delay := base * math.Pow(multiplier, float64(attempt-1))
	if s.Max > 0 && delay > float64(s.Max) {
		delay = float64(s.Max)
	}
	if s.Jitter > 0 {
		j := s.Jitter
		if j > 1 {
			j = 1
		}
		delay = delay * (1 + (rng*2-1)*j)
	}
	return time.Duration(delay)
}

// Doer runs operations under a Spec. Sleep and rng are injectable so tests
// can run against a fake clock.
type Doer struct {
	Spec  Spec
	Sleep func(ctx context.Context, d time.Duration) error
	Rng   func() float64
}

// New builds a Doer with real sleeping and jitter disabled unless the spec
// asks for it.
func New(spec Spec) *Doer {
	return &Doer{Spec: spec, Sleep: sleepCtx, Rng: nil}
}

// Do invokes op until it succeeds, returns a non-retryable error, the
// context is cancelled, or MaxAttempts is reached. onRetry may be nil.
func (d *Doer) Do(ctx context.Context, op func(ctx context.Context) error, onRetry OnRetry) error {
	attempts := d.Spec.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := d.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.New(errors.CategoryCancelled, "retry", err)
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !errors.IsRetryable(lastErr) || attempt == attempts {
			return lastErr
		}

		rng := 0.5
		if d.Rng != nil {
			rng = d.Rng()
		} else if d.Spec.Jitter > 0 {
			rng = float64(time.Now().UnixNano()%1000) / 1000
		}
		delay := d.Spec.Delay(attempt, rng)
		if onRetry != nil {
			onRetry(attempt, lastErr, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return errors.New(errors.CategoryCancelled, "retry", err)
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
