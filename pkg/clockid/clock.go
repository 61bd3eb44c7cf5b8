// Package clockid provides the engine's injected time and identifier
// sources, so orchestrator/executor logic can be tested without real
// wall-clock delays or random IDs.
package clockid

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts wall-clock time so tests can control it.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

type realClock struct{}

// NewRealClock returns a Clock backed by the system wall clock.
func NewRealClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// FakeClock is a manually-advanced Clock for deterministic tests.
type FakeClock struct {
	now time.Time
}

// NewFakeClock returns a FakeClock fixed at the given instant.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	return c.now
}

func (c *FakeClock) Since(t time.Time) time.Duration {
	return c.now.Sub(t)
}

// Advance moves the fake clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// Set pins the fake clock to an explicit instant.
func (c *FakeClock) Set(now time.Time) {
	c.now = now
}

// IDGenerator mints identifiers for workflows, steps, and jobs.
type IDGenerator interface {
	NewID() string
}

type uuidGenerator struct{}

// NewUUIDGenerator returns an IDGenerator backed by google/uuid v4.
func NewUUIDGenerator() IDGenerator {
	return uuidGenerator{}
}

func (uuidGenerator) NewID() string {
	return uuid.New().String()
}

// SequentialIDGenerator mints predictable, incrementing IDs for tests.
type SequentialIDGenerator struct {
	prefix string
	next   int
}

// NewSequentialIDGenerator returns an IDGenerator that yields
// "<prefix>-1", "<prefix>-2", ... in call order.
func NewSequentialIDGenerator(prefix string) *SequentialIDGenerator {
	return &SequentialIDGenerator{prefix: prefix}
}

func (g *SequentialIDGenerator) NewID() string {
	g.next++
	return g.prefix + "-" + strconv.Itoa(g.next)
}
