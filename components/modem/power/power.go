// Package power brings a communication module into and out of its active state. Modules differ in
// how their sleep/enable line works, so each SleepStyle has its own Sequencer; all of them confirm
// a transition by polling the module's status line for a bounded time.
package power

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/envirodiy/loggermodem/components/board"
	"github.com/envirodiy/loggermodem/logging"
	"github.com/envirodiy/loggermodem/timing"
)

const (
	// ConfirmTimeoutMs bounds how long a transition is polled for.
	ConfirmTimeoutMs = 5000
	// ConfirmPollMs is the interval between status samples while confirming.
	ConfirmPollMs = 5

	pulseLeadMs = 200
	pulseHighMs = 2500
)

// ErrNotConfirmed is returned when the status line did not reach the requested state in time.
var ErrNotConfirmed = errors.New("module state change not confirmed")

// SleepStyle is the way a module's enable line controls it.
type SleepStyle int

// The supported styles.
const (
	// Held modules are awake while the enable line is held high.
	Held SleepStyle = iota
	// Pulsed modules toggle between awake and asleep on every pulse of the enable line.
	Pulsed
	// Reverse modules are awake while the enable line is held low.
	Reverse
	// AlwaysOn modules have no power control.
	AlwaysOn
)

var styleNames = map[SleepStyle]string{
	Held:     "held",
	Pulsed:   "pulsed",
	Reverse:  "reverse",
	AlwaysOn: "always_on",
}

func (s SleepStyle) String() string {
	if name, ok := styleNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseSleepStyle parses the config name of a style.
func ParseSleepStyle(name string) (SleepStyle, error) {
	normalized := strings.ReplaceAll(strings.ToLower(name), "-", "_")
	for style, styleName := range styleNames {
		if styleName == normalized {
			return style, nil
		}
	}
	return AlwaysOn, errors.Errorf("unknown sleep style %q", name)
}

// Pins binds the three control lines of a module. Any of them may be board.Unassigned.
type Pins struct {
	Power  board.Pin `json:"power"`
	Enable board.Pin `json:"enable"`
	Status board.Pin `json:"status"`
}

// NoPins is a binding with nothing wired.
var NoPins = Pins{Power: board.Unassigned, Enable: board.Unassigned, Status: board.Unassigned}

// A Sequencer powers a module up and down.
type Sequencer interface {
	// IsActive samples the status line. Without a status line the module is assumed active.
	IsActive(ctx context.Context) bool
	// Activate wakes the module and waits for the status line to confirm it.
	Activate(ctx context.Context) error
	// Deactivate puts the module to sleep, waits for confirmation and cuts rail power either way.
	Deactivate(ctx context.Context) error
	// Style reports the sleep style the sequencer implements.
	Style() SleepStyle
}

// New returns the Sequencer for style with its pins initialized. AlwaysOn ignores pins.
func New(
	ctx context.Context,
	style SleepStyle,
	pins Pins,
	b board.Board,
	clk timing.Clock,
	logger logging.Logger,
) (Sequencer, error) {
	if style == AlwaysOn {
		return &alwaysOn{}, nil
	}
	lines, err := bindLines(ctx, pins, b, clk, logger)
	if err != nil {
		return nil, err
	}
	switch style {
	case Held:
		return &held{lines}, nil
	case Pulsed:
		return &pulsed{lines}, nil
	case Reverse:
		return &reverse{lines}, nil
	default:
		return nil, errors.Errorf("unsupported sleep style %v", style)
	}
}
