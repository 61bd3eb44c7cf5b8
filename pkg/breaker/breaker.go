// Package breaker wraps github.com/sony/gobreaker's generic circuit
// breaker in the engine's three-state contract: CLOSED, OPEN, HALF_OPEN,
// with a CircuitOpen failure surfaced through internal/apperrors when the
// circuit rejects a call outright.
package breaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/jordigilh/kubernaut-workflow-engine/internal/apperrors"
)

// State mirrors gobreaker's state as the engine's own vocabulary.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Config holds the parameters named in spec.md §4.2.
type Config struct {
	Name             string
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
	SuccessThreshold uint32
}

// DefaultConfig returns failure_threshold=5, recovery_timeout=60s,
// success_threshold=2, per spec.md §4.2.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 2,
	}
}

// Breaker wraps one outbound integration with a process-local circuit
// breaker. Each wrapped integration owns its own instance; no state is
// shared across workers.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// New constructs a Breaker from Config.
func New(cfg Config) *Breaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.SuccessThreshold,
		Interval:    0, // never reset CLOSED counts on a timer; only consecutive failures trip it
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker[any](settings), name: cfg.Name}
}

// Call runs op through the breaker. If the breaker is OPEN, op is never
// invoked and Call returns an *apperrors.AppError of ErrorTypeNetwork
// wrapping gobreaker.ErrOpenState, classified as transient per spec.md §7.
func (b *Breaker) Call(_ context.Context, op func() (any, error)) (any, error) {
	result, err := b.cb.Execute(op)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, apperrors.Wrapf(err, apperrors.ErrorTypeNetwork, "circuit %s open", b.name).WithDetails("CircuitOpen")
	}
	return result, err
}

// State reports the breaker's current state in the engine's vocabulary.
func (b *Breaker) State() State {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Name returns the breaker's configured name.
func (b *Breaker) Name() string {
	return b.name
}

// Counts exposes the underlying request/failure counters for observability.
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}
