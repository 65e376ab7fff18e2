// Package fake implements a simulated millisecond clock.
package fake

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/envirodiy/loggermodem/timing"
)

// Clock is a timing.Clock on a mock wall clock that only moves when Delay or Advance is called, so
// waits measured in seconds finish instantly in tests.
type Clock struct {
	mock    *clock.Mock
	counter timing.Clock

	mu      sync.Mutex
	delayed uint64
	hooks   []func(now uint32)
}

// NewClock returns a Clock whose counter starts at start.
func NewClock(start uint32) *Clock {
	mock := clock.NewMock()
	return &Clock{mock: mock, counter: timing.NewAt(mock, start)}
}

// Millis returns the current counter value.
func (c *Clock) Millis() uint32 {
	return c.counter.Millis()
}

// Delay advances the counter by ms and runs any registered hooks.
func (c *Clock) Delay(ms uint32) {
	c.mu.Lock()
	c.delayed += uint64(ms)
	c.mu.Unlock()
	c.Advance(ms)
}

// Advance moves the counter forward without counting it as a delay.
func (c *Clock) Advance(ms uint32) {
	c.mock.Add(time.Duration(ms) * time.Millisecond)
	now := c.Millis()

	c.mu.Lock()
	hooks := append([]func(uint32){}, c.hooks...)
	c.mu.Unlock()
	for _, hook := range hooks {
		hook(now)
	}
}

// Delayed returns the total milliseconds spent in Delay.
func (c *Clock) Delayed() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delayed
}

// OnAdvance registers a hook run with the new counter value every time the clock moves.
func (c *Clock) OnAdvance(hook func(now uint32)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}
