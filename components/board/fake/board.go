// Package fake implements a fake board whose pins read back what was written and whose inputs
// can be scripted to behave like an attached module.
package fake

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/envirodiy/loggermodem/components/board"
	"github.com/envirodiy/loggermodem/timing"
)

// A Write is one recorded level change on an output pin.
type Write struct {
	High bool
	At   uint32
}

// A GPIOPin is the recorded state of one fake pin.
type GPIOPin struct {
	Mode       board.PinMode
	Configured bool
	High       bool
	Writes     []Write
	Reads      int
}

// Board is a fake board.Board. A nil clock stamps every write at 0.
type Board struct {
	mu       sync.Mutex
	clk      timing.Clock
	pins     map[board.Pin]*GPIOPin
	inputs   map[board.Pin]func(now uint32) bool
	onWrite  map[board.Pin][]func(high bool, now uint32)
	failures map[board.Pin]error
}

// NewBoard returns a fake board stamping writes with clk.
func NewBoard(clk timing.Clock) *Board {
	return &Board{
		clk:      clk,
		pins:     map[board.Pin]*GPIOPin{},
		inputs:   map[board.Pin]func(uint32) bool{},
		onWrite:  map[board.Pin][]func(bool, uint32){},
		failures: map[board.Pin]error{},
	}
}

func (b *Board) now() uint32 {
	if b.clk == nil {
		return 0
	}
	return b.clk.Millis()
}

// expects the lock to be held.
func (b *Board) pin(pin board.Pin) (*GPIOPin, error) {
	if !pin.Assigned() {
		return nil, errors.Errorf("invalid pin %d", int(pin))
	}
	if err := b.failures[pin]; err != nil {
		return nil, err
	}
	p, ok := b.pins[pin]
	if !ok {
		p = &GPIOPin{}
		b.pins[pin] = p
	}
	return p, nil
}

// SetPinMode records the direction of a pin.
func (b *Board) SetPinMode(ctx context.Context, pin board.Pin, mode board.PinMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.pin(pin)
	if err != nil {
		return err
	}
	p.Mode = mode
	p.Configured = true
	return nil
}

// WritePin records the level and runs any hooks registered for the pin.
func (b *Board) WritePin(ctx context.Context, pin board.Pin, high bool) error {
	now := b.now()
	b.mu.Lock()
	p, err := b.pin(pin)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	p.High = high
	p.Writes = append(p.Writes, Write{High: high, At: now})
	hooks := append([]func(bool, uint32){}, b.onWrite[pin]...)
	b.mu.Unlock()

	for _, hook := range hooks {
		hook(high, now)
	}
	return nil
}

// ReadPin returns the scripted input for the pin if there is one, otherwise the last level set.
func (b *Board) ReadPin(ctx context.Context, pin board.Pin) (bool, error) {
	now := b.now()
	b.mu.Lock()
	p, err := b.pin(pin)
	if err != nil {
		b.mu.Unlock()
		return false, err
	}
	p.Reads++
	input, scripted := b.inputs[pin]
	high := p.High
	b.mu.Unlock()

	if scripted {
		return input(now), nil
	}
	return high, nil
}

// SetInput fixes the level an input pin reads.
func (b *Board) SetInput(pin board.Pin, high bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inputs, pin)
	if p, err := b.pin(pin); err == nil {
		p.High = high
	}
}

// SetInputFunc makes reads of pin return fn evaluated at the current clock value.
func (b *Board) SetInputFunc(pin board.Pin, fn func(now uint32) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inputs[pin] = fn
}

// OnWrite registers a hook run after every write to pin.
func (b *Board) OnWrite(pin board.Pin, hook func(high bool, now uint32)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onWrite[pin] = append(b.onWrite[pin], hook)
}

// FailPin makes every operation on pin return err. A nil err clears the failure.
func (b *Board) FailPin(pin board.Pin, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.failures, pin)
		return
	}
	b.failures[pin] = err
}

// Pin returns a copy of the recorded state of pin.
func (b *Board) Pin(pin board.Pin) GPIOPin {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pins[pin]
	if !ok {
		return GPIOPin{}
	}
	cp := *p
	cp.Writes = append([]Write{}, p.Writes...)
	return cp
}

// Writes returns the recorded writes of pin.
func (b *Board) Writes(pin board.Pin) []Write {
	return b.Pin(pin).Writes
}

// levelAt returns the level pin had latency milliseconds before now, or false before any write.
func (b *Board) levelAt(pin board.Pin, now, latency uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pins[pin]
	if !ok {
		return false
	}
	for i := len(p.Writes) - 1; i >= 0; i-- {
		if timing.Elapsed(p.Writes[i].At, now) >= latency {
			return p.Writes[i].High
		}
	}
	return false
}

// Mirror wires status to follow enable after latency milliseconds, like a module that is awake
// while its sleep line is held. With inverted set the status line reads the opposite level.
func (b *Board) Mirror(status, enable board.Pin, inverted bool, latency uint32) {
	b.SetInputFunc(status, func(now uint32) bool {
		return b.levelAt(enable, now, latency) != inverted
	})
}

// Toggle wires status to flip every time enable falls after being high for at least minHigh
// milliseconds, like a module with a momentary power key. It returns a func reporting the
// simulated module state.
func (b *Board) Toggle(status, enable board.Pin, initiallyOn bool, minHigh uint32) func() bool {
	var mu sync.Mutex
	on := initiallyOn
	var roseAt uint32
	high := false

	b.OnWrite(enable, func(level bool, now uint32) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case level && !high:
			roseAt = now
		case !level && high && timing.Elapsed(roseAt, now) >= minHigh:
			on = !on
		}
		high = level
	})
	state := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return on
	}
	b.SetInputFunc(status, func(uint32) bool { return state() })
	return state
}
