// Package backoff computes how long a failed task waits before it is
// retried. Strategies are stateless and safe for concurrent use.
package backoff

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// Strategy returns the delay before retry attempt n, where n = 1 is the
// first retry after the initial failure.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Func adapts a function to Strategy.
type Func func(attempt int) time.Duration

// Delay implements Strategy.
func (f Func) Delay(attempt int) time.Duration { return f(attempt) }

// None retries immediately.
var None Strategy = Func(func(int) time.Duration { return 0 })

// Constant waits the same interval before every retry.
func Constant(interval time.Duration) Strategy {
	return Func(func(int) time.Duration { return interval })
}

// Linear waits initial*n, capped at max when max > 0.
func Linear(initial, max time.Duration) Strategy {
	return Func(func(n int) time.Duration {
		return capAt(initial*time.Duration(clampAttempt(n)), max)
	})
}

// Exponential waits initial*2^(n-1), capped at max when max > 0.
func Exponential(initial, max time.Duration) Strategy {
	return Func(func(n int) time.Duration { return exponential(initial, max, n) })
}

// Jitter waits a uniformly random duration in [0, Exponential(n)] so that
// retries of a burst of failures spread out.
func Jitter(initial, max time.Duration) Strategy {
	return Func(func(n int) time.Duration {
		d := exponential(initial, max, n)
		if d <= 0 {
			return 0
		}
		return time.Duration(rand.Int64N(int64(d) + 1)) //nolint:gosec // jitter
	})
}

// Default is Jitter between one second and one minute.
func Default() Strategy { return Jitter(time.Second, time.Minute) }

// Parse returns the strategy called name: "none", "constant", "linear",
// "exponential" or "jitter" (the empty name).
func Parse(name string, initial, max time.Duration) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none":
		return None, nil
	case "constant":
		return Constant(initial), nil
	case "linear":
		return Linear(initial, max), nil
	case "exponential":
		return Exponential(initial, max), nil
	case "jitter", "":
		return Jitter(initial, max), nil
	default:
		return nil, fmt.Errorf("backoff: unknown strategy %q", name)
	}
}

func exponential(initial, max time.Duration, n int) time.Duration {
	n = clampAttempt(n)
	d := initial
	for i := 1; i < n; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
		if d <= 0 { // overflow
			return max
		}
	}
	return capAt(d, max)
}

func capAt(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	return d
}

func clampAttempt(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
