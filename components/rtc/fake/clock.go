// Package fake implements an in-memory real-time clock.
package fake

import (
	"sync"

	"github.com/envirodiy/loggermodem/components/rtc"
)

var _ rtc.Clock = (*Clock)(nil)

// Clock is an rtc.Clock that keeps its epoch in memory and records every write.
type Clock struct {
	mu     sync.Mutex
	epoch  uint32
	writes []uint32

	ReadErr  error
	WriteErr error
}

// NewClock returns a clock reading epoch.
func NewClock(epoch uint32) *Clock {
	return &Clock{epoch: epoch}
}

// ReadEpoch returns the stored epoch.
func (c *Clock) ReadEpoch() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ReadErr != nil {
		return 0, c.ReadErr
	}
	return c.epoch, nil
}

// WriteEpoch stores and records epoch.
func (c *Clock) WriteEpoch(epoch uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.WriteErr != nil {
		return c.WriteErr
	}
	c.epoch = epoch
	c.writes = append(c.writes, epoch)
	return nil
}

// Tick moves the clock forward by seconds.
func (c *Clock) Tick(seconds uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch += seconds
}

// Writes returns every epoch written so far.
func (c *Clock) Writes() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint32{}, c.writes...)
}
