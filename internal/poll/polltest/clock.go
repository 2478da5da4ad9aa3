// internal/poll/polltest/clock.go
// Package polltest provides a manual clock for driving poll cadence in tests.
package polltest

import (
	"slices"
	"sync"
	"time"
)

// Epoch is the instant every Clock starts at unless told otherwise.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Clock is a fake poll.Clock. Each call to After advances the clock by the
// requested duration and fires immediately, so a polling run completes without
// real sleeping while the observed timestamps match the requested cadence.
type Clock struct {
	mu     sync.Mutex
	start  time.Time
	now    time.Time
	sleeps []time.Duration
	hooks  []func(now time.Time)
}

// NewClock returns a Clock positioned at Epoch.
func NewClock() *Clock {
	return &Clock{start: Epoch, now: Epoch}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After advances the clock by d and returns an already-fired channel.
func (c *Clock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	now := c.advanceLocked(d)
	hooks := slices.Clone(c.hooks)
	c.mu.Unlock()

	for _, h := range hooks {
		h(now)
	}
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// Advance moves the clock forward without recording a sleep.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	now := c.advanceLocked(d)
	hooks := slices.Clone(c.hooks)
	c.mu.Unlock()

	for _, h := range hooks {
		h(now)
	}
}

func (c *Clock) advanceLocked(d time.Duration) time.Time {
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return c.now
}

// OnAdvance registers fn to run every time the clock moves.
func (c *Clock) OnAdvance(fn func(now time.Time)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// Elapsed returns the fake time passed since the clock was created.
func (c *Clock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.Sub(c.start)
}

// Sleeps returns every duration passed to After, in order.
func (c *Clock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// ResetSleeps forgets recorded sleeps.
func (c *Clock) ResetSleeps() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = nil
}
