// Package retry provides pluggable retry policies for job execution.
// A policy decides, from the attempt number and last error, how long to
// wait before the next attempt or whether to give up. Policies are
// stateless, safe for concurrent use, and built once at startup — the
// executor holds a single shared instance, never a per-job copy.
package retry

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/ordersync/conveyor"
)

// Policy computes the delay before a retry attempt.
type Policy interface {
	// Delay returns how long to wait before re-running a job whose
	// attempt-th execution just failed (attempt is 1-indexed: 1 is the
	// first execution). ok is false when the policy gives up.
	Delay(attempt int, lastErr error) (delay time.Duration, ok bool)

	// ShouldRetry reports whether the error is retriable at all under
	// this policy. Cancelled errors are never retriable; everything
	// else is, unless the policy itself never retries.
	ShouldRetry(err error) bool
}

// ──────────────────────────────────────────────────
// None
// ──────────────────────────────────────────────────

// None never retries.
type None struct{}

// NewNone creates a policy that always gives up.
func NewNone() *None { return &None{} }

// Delay always signals give-up.
func (*None) Delay(_ int, _ error) (time.Duration, bool) { return 0, false }

// ShouldRetry is always false.
func (*None) ShouldRetry(_ error) bool { return false }

// ──────────────────────────────────────────────────
// Fixed
// ──────────────────────────────────────────────────

// Fixed returns a constant delay until its attempt budget is exhausted.
type Fixed struct {
	Interval    time.Duration
	MaxAttempts int
}

// NewFixed creates a fixed-delay policy with the given budget.
func NewFixed(interval time.Duration, maxAttempts int) *Fixed {
	return &Fixed{Interval: interval, MaxAttempts: maxAttempts}
}

// Delay returns the fixed interval while attempt < MaxAttempts.
func (f *Fixed) Delay(attempt int, _ error) (time.Duration, bool) {
	if attempt >= f.MaxAttempts {
		return 0, false
	}
	return f.Interval, true
}

// ShouldRetry is false only for cancelled errors.
func (*Fixed) ShouldRetry(err error) bool { return !conveyor.IsCancelled(err) }

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential grows the delay geometrically with the attempt number and
// applies symmetric jitter.
//
// For attempt n > 1: delay = min(Max, Initial * Multiplier^(n-1)).
// Attempts 0 and 1 return Initial verbatim. Jitter perturbs the delay by
// a uniform value in ±(delay * Jitter) and floors the result at zero.
type Exponential struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// NewExponential creates an exponential policy. Non-positive multiplier
// falls back to 2.0.
func NewExponential(initial, maxDelay time.Duration, multiplier, jitter float64) *Exponential {
	if multiplier <= 0 {
		multiplier = 2.0
	}
	return &Exponential{Initial: initial, Max: maxDelay, Multiplier: multiplier, Jitter: jitter}
}

// Delay returns the attempt-indexed backoff delay. It never gives up on
// its own; the retry budget lives on the job.
func (e *Exponential) Delay(attempt int, _ error) (time.Duration, bool) {
	d := e.Initial
	if attempt > 1 {
		scaled := float64(e.Initial) * math.Pow(e.Multiplier, float64(attempt-1))
		d = time.Duration(scaled)
		if e.Max > 0 && d > e.Max {
			d = e.Max
		}
	}

	if e.Jitter > 0 {
		// Uniform in ±(d * Jitter), floored at zero.
		span := float64(d) * e.Jitter
		d += time.Duration((rand.Float64()*2 - 1) * span) //nolint:gosec // jitter intentionally uses non-crypto rand
		if d < 0 {
			d = 0
		}
	}

	return d, true
}

// ShouldRetry is false only for cancelled errors.
func (*Exponential) ShouldRetry(err error) bool { return !conveyor.IsCancelled(err) }

// ──────────────────────────────────────────────────
// PolicyFunc
// ──────────────────────────────────────────────────

// PolicyFunc adapts a caller-supplied delay function into a Policy.
// Build one at startup and share it by reference; the function must be
// safe for concurrent use.
type PolicyFunc func(attempt int, lastErr error) (time.Duration, bool)

// Delay calls the wrapped function.
func (f PolicyFunc) Delay(attempt int, lastErr error) (time.Duration, bool) {
	return f(attempt, lastErr)
}

// ShouldRetry is false only for cancelled errors.
func (PolicyFunc) ShouldRetry(err error) bool { return !conveyor.IsCancelled(err) }

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultPolicy returns the default retry policy: exponential with 1s
// initial delay, 1h cap, multiplier 2, and 10% jitter.
func DefaultPolicy() Policy {
	return NewExponential(1*time.Second, 1*time.Hour, 2.0, 0.1)
}
