// Package board defines the digital I/O surface the modem power sequencers drive: numbered pins
// that can be configured as inputs or outputs, written and sampled.
package board

import (
	"context"
	"strconv"
)

// Pin is a logical pin index on a board. Negative values mean the pin is not wired.
type Pin int

// Unassigned marks a pin binding with no physical pin behind it.
const Unassigned Pin = -1

// Assigned reports whether the pin refers to a physical pin.
func (p Pin) Assigned() bool {
	return p >= 0
}

func (p Pin) String() string {
	if !p.Assigned() {
		return "unassigned"
	}
	return strconv.Itoa(int(p))
}

// PinMode is the direction of a pin.
type PinMode int

// The pin directions.
const (
	Input PinMode = iota
	Output
)

func (m PinMode) String() string {
	if m == Output {
		return "output"
	}
	return "input"
}

// A Board exposes the digital I/O primitives of the host platform.
type Board interface {
	// SetPinMode configures the direction of a pin.
	SetPinMode(ctx context.Context, pin Pin, mode PinMode) error

	// WritePin drives an output pin high or low.
	WritePin(ctx context.Context, pin Pin, high bool) error

	// ReadPin samples the level of a pin.
	ReadPin(ctx context.Context, pin Pin) (bool, error)
}
