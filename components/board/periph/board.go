// Package periph implements a board on top of the periph.io host drivers, which cover the
// Raspberry Pi, Allwinner and generic sysfs GPIO controllers.
package periph

import (
	"context"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/envirodiy/loggermodem/components/board"
	"github.com/envirodiy/loggermodem/logging"
)

type periphPin struct {
	io      gpio.PinIO
	mode    board.PinMode
	hasMode bool
	pending gpio.Level
}

// Board resolves pin indices through the periph gpio registry.
type Board struct {
	mu     sync.Mutex
	lookup func(name string) gpio.PinIO
	pins   map[board.Pin]*periphPin
	logger logging.Logger
}

// NewBoard initializes the periph host drivers and returns a board using the global registry.
func NewBoard(logger logging.Logger) (*Board, error) {
	state, err := host.Init()
	if err != nil {
		return nil, errors.Wrap(err, "initializing periph host drivers")
	}
	for _, failure := range state.Failed {
		logger.Debugw("periph driver failed to load", "driver", failure.D.String(), "error", failure.Err)
	}
	return newBoard(gpioreg.ByName, logger), nil
}

func newBoard(lookup func(string) gpio.PinIO, logger logging.Logger) *Board {
	return &Board{lookup: lookup, pins: map[board.Pin]*periphPin{}, logger: logger}
}

// expects the lock to be held.
func (b *Board) pin(pin board.Pin) (*periphPin, error) {
	if p, ok := b.pins[pin]; ok {
		return p, nil
	}
	if !pin.Assigned() {
		return nil, errors.Errorf("invalid pin %d", int(pin))
	}
	io := b.lookup(strconv.Itoa(int(pin)))
	if io == nil {
		return nil, errors.Errorf("no global pin found for %q", pin.String())
	}
	p := &periphPin{io: io, pending: gpio.Low}
	b.pins[pin] = p
	return p, nil
}

// SetPinMode switches the pin direction. An output starts at the last level written to it.
func (b *Board) SetPinMode(ctx context.Context, pin board.Pin, mode board.PinMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.pin(pin)
	if err != nil {
		return err
	}
	p.mode = mode
	p.hasMode = true
	if mode == board.Output {
		return p.io.Out(p.pending)
	}
	return p.io.In(gpio.PullNoChange, gpio.NoEdge)
}

// WritePin drives the pin. Writes before the pin is an output are latched and applied when the
// mode is set.
func (b *Board) WritePin(ctx context.Context, pin board.Pin, high bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.pin(pin)
	if err != nil {
		return err
	}
	p.pending = gpio.Level(high)
	if !p.hasMode || p.mode != board.Output {
		return nil
	}
	return p.io.Out(p.pending)
}

// ReadPin samples the pin level.
func (b *Board) ReadPin(ctx context.Context, pin board.Pin) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.pin(pin)
	if err != nil {
		return false, err
	}
	return p.io.Read() == gpio.High, nil
}
