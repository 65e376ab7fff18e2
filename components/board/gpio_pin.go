package board

import (
	"context"

	"github.com/pkg/errors"
)

// A GPIOPin is a single pin of a board with its direction fixed when it was bound.
type GPIOPin interface {
	// Set sets the pin to either low or high.
	Set(ctx context.Context, high bool) error

	// Get gets the high/low state of the pin.
	Get(ctx context.Context) (bool, error)

	// Pin returns the index the handle is bound to.
	Pin() Pin
}

type boundPin struct {
	b    Board
	pin  Pin
	mode PinMode
}

// BindOutput configures pin as an output and returns a handle for it. The initial level is written
// before the mode is switched so the line never glitches to an undefined level.
func BindOutput(ctx context.Context, b Board, pin Pin, initialHigh bool) (GPIOPin, error) {
	if !pin.Assigned() {
		return nil, errors.New("cannot bind an unassigned pin")
	}
	if err := b.WritePin(ctx, pin, initialHigh); err != nil {
		return nil, errors.Wrapf(err, "writing initial level of pin %s", pin)
	}
	if err := b.SetPinMode(ctx, pin, Output); err != nil {
		return nil, errors.Wrapf(err, "setting pin %s to output", pin)
	}
	return &boundPin{b: b, pin: pin, mode: Output}, nil
}

// BindInput configures pin as an input and returns a handle for it.
func BindInput(ctx context.Context, b Board, pin Pin) (GPIOPin, error) {
	if !pin.Assigned() {
		return nil, errors.New("cannot bind an unassigned pin")
	}
	if err := b.SetPinMode(ctx, pin, Input); err != nil {
		return nil, errors.Wrapf(err, "setting pin %s to input", pin)
	}
	return &boundPin{b: b, pin: pin, mode: Input}, nil
}

func (bp *boundPin) Set(ctx context.Context, high bool) error {
	if bp.mode != Output {
		return errors.Errorf("pin %s is bound as an input", bp.pin)
	}
	return bp.b.WritePin(ctx, bp.pin, high)
}

func (bp *boundPin) Get(ctx context.Context) (bool, error) {
	return bp.b.ReadPin(ctx, bp.pin)
}

func (bp *boundPin) Pin() Pin {
	return bp.pin
}
