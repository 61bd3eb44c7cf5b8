// Package retrypolicy computes backoff delays for retried steps. It never
// sleeps: callers — the executor and the task queue adapter — schedule the
// returned delay themselves.
package retrypolicy

import (
	"math/rand"
	"time"

	"github.com/jordigilh/kubernaut-workflow-engine/internal/apperrors"
)

// Policy holds the backoff parameters and retry eligibility for one
// registered handler.
type Policy struct {
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the computed delay before jitter is applied.
	MaxDelay time.Duration
	// Jitter enables uniform jitter in [0.5d, 1.5d] around the computed delay.
	Jitter bool
	// MaxRetries is the maximum number of retry attempts (not counting the
	// first attempt).
	MaxRetries int
	// RetryableTypes restricts retries to these ErrorTypes. A nil/empty set
	// means every non-fatal kind except validation and disabled.
	RetryableTypes []apperrors.ErrorType
}

// DefaultPolicy returns the engine-wide default: base 1s, max 60s (per
// spec.md §6.3's retry_backoff_max default), jitter on, 3 retries,
// retryable on every non-fatal kind except validation and disabled.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:  1 * time.Second,
		MaxDelay:   60 * time.Second,
		Jitter:     true,
		MaxRetries: 3,
	}
}

// NextDelay computes the delay before attempt (1-indexed: attempt=1 is the
// delay before the first retry, following the first failed attempt).
// d = min(base * 2^(attempt-1), max); if Jitter, sampled uniformly from
// [0.5d, 1.5d].
func (p Policy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := float64(p.BaseDelay)
	max := float64(p.MaxDelay)
	d := base * pow2(attempt-1)
	if d > max {
		d = max
	}

	if !p.Jitter {
		return time.Duration(d)
	}

	low := 0.5 * d
	high := 1.5 * d
	jittered := low + rand.Float64()*(high-low)
	return time.Duration(jittered)
}

func pow2(n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}

// ShouldRetry reports whether attempt should be retried given err: the
// attempt budget has not been exhausted and err's ErrorType (when err is an
// *apperrors.AppError) is retryable under this policy. A fatal AppError is
// never retried regardless of type. A plain error (no AppError) is treated
// as retryable unless RetryableTypes was set, in which case it's rejected
// (only typed errors can match an explicit allow-list).
func (p Policy) ShouldRetry(attempt int, err error) bool {
	if err == nil {
		return false
	}
	if attempt > p.MaxRetries {
		return false
	}

	ae, ok := err.(*apperrors.AppError)
	if !ok {
		return len(p.RetryableTypes) == 0
	}
	if ae.Fatal() {
		return false
	}
	if len(p.RetryableTypes) == 0 {
		return ae.Type != apperrors.ErrorTypeValidation && ae.Type != apperrors.ErrorTypeDisabled
	}
	for _, t := range p.RetryableTypes {
		if ae.Type == t {
			return true
		}
	}
	return false
}
