// Package timing provides the free-running millisecond counter that every bounded wait in the
// modem stack is measured against, and the polling primitive built on it.
package timing

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Clock is a monotonic millisecond counter that wraps at 2^32 together with a busy delay.
type Clock interface {
	// Millis returns the free-running counter. It wraps around after ~49.7 days.
	Millis() uint32
	// Delay blocks the caller for ms milliseconds.
	Delay(ms uint32)
}

type wallClock struct {
	clk   clock.Clock
	start time.Time
	base  uint32
}

// New returns a Clock counting milliseconds since its creation on top of clk.
func New(clk clock.Clock) Clock {
	return NewAt(clk, 0)
}

// NewAt is like New but the counter starts at base. Used to exercise wraparound.
func NewAt(clk clock.Clock, base uint32) Clock {
	return &wallClock{clk: clk, start: clk.Now(), base: base}
}

// NewSystem returns a Clock on the real system clock.
func NewSystem() Clock {
	return New(clock.New())
}

func (wc *wallClock) Millis() uint32 {
	//nolint:gosec
	return wc.base + uint32(wc.clk.Since(wc.start).Milliseconds())
}

func (wc *wallClock) Delay(ms uint32) {
	wc.clk.Sleep(time.Duration(ms) * time.Millisecond)
}

// Elapsed returns the milliseconds between start and now. Unsigned subtraction keeps the result
// correct across a counter wrap.
func Elapsed(start, now uint32) uint32 {
	return now - start
}

// Since returns the milliseconds elapsed on clk since start.
func Since(clk Clock, start uint32) uint32 {
	return Elapsed(start, clk.Millis())
}

// PollUntil evaluates cond every interval milliseconds until it returns true or timeout
// milliseconds have elapsed. It reports whether cond was satisfied. The last pause is shortened so
// the loop does not sleep past the deadline. The loop cannot be cancelled once started.
func PollUntil(clk Clock, timeout, interval uint32, cond func() bool) bool {
	start := clk.Millis()
	for elapsed := uint32(0); elapsed < timeout; {
		if cond() {
			return true
		}
		if elapsed = Since(clk, start); elapsed < timeout {
			clk.Delay(min(interval, timeout-elapsed))
			elapsed = Since(clk, start)
		}
	}
	return false
}
