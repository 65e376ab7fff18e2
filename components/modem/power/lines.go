package power

import (
	"context"

	"github.com/pkg/errors"

	"github.com/envirodiy/loggermodem/components/board"
	"github.com/envirodiy/loggermodem/logging"
	"github.com/envirodiy/loggermodem/timing"
)

// lines holds the bound control pins shared by every pin-driven style. A nil pin is not wired.
type lines struct {
	power  board.GPIOPin
	enable board.GPIOPin
	status board.GPIOPin

	clk    timing.Clock
	logger logging.Logger
}

// bindLines initializes the wired pins: outputs are written low before being switched to output
// mode, the status line becomes an input.
func bindLines(ctx context.Context, pins Pins, b board.Board, clk timing.Clock, logger logging.Logger) (*lines, error) {
	logger.Debugw("initializing module power control",
		"power", pins.Power.String(), "enable", pins.Enable.String(), "status", pins.Status.String())
	l := &lines{clk: clk, logger: logger}
	var err error
	if pins.Power.Assigned() {
		if l.power, err = board.BindOutput(ctx, b, pins.Power, false); err != nil {
			return nil, errors.Wrap(err, "binding power pin")
		}
	}
	if pins.Enable.Assigned() {
		if l.enable, err = board.BindOutput(ctx, b, pins.Enable, false); err != nil {
			return nil, errors.Wrap(err, "binding enable pin")
		}
	}
	if pins.Status.Assigned() {
		if l.status, err = board.BindInput(ctx, b, pins.Status); err != nil {
			return nil, errors.Wrap(err, "binding status pin")
		}
	}
	return l, nil
}

// sample reads the raw status level. ok is false when there is no status line or it failed.
func (l *lines) sample(ctx context.Context) (high, ok bool) {
	if l.status == nil {
		return false, false
	}
	high, err := l.status.Get(ctx)
	if err != nil {
		l.logger.Warnw("failed to read status pin", "pin", l.status.Pin().String(), "error", err)
		return false, false
	}
	return high, true
}

// powerOn switches the rail on if one is wired. Failures are logged; the rail is best effort.
func (l *lines) powerOn(ctx context.Context) {
	if l.power == nil {
		return
	}
	if err := l.power.Set(ctx, true); err != nil {
		l.logger.Warnw("failed to switch module power on", "error", err)
		return
	}
	l.logger.Debug("sending power to module")
}

func (l *lines) powerOff(ctx context.Context) {
	if l.power == nil {
		return
	}
	if err := l.power.Set(ctx, false); err != nil {
		l.logger.Warnw("failed to switch module power off", "error", err)
		return
	}
	l.logger.Debug("cutting module power")
}

func (l *lines) setEnable(ctx context.Context, high bool) error {
	if l.enable == nil {
		return nil
	}
	if err := l.enable.Set(ctx, high); err != nil {
		return errors.Wrapf(err, "driving enable pin %s", l.enable.Pin())
	}
	return nil
}

// pulse drives the enable line low, high and low again. It toggles pulsed modules.
func (l *lines) pulse(ctx context.Context) error {
	if l.enable == nil {
		return nil
	}
	l.logger.Debugw("pulsing enable pin", "pin", l.enable.Pin().String())
	if err := l.setEnable(ctx, false); err != nil {
		return err
	}
	l.clk.Delay(pulseLeadMs)
	if err := l.setEnable(ctx, true); err != nil {
		return err
	}
	l.clk.Delay(pulseHighMs)
	return l.setEnable(ctx, false)
}

// confirm polls isActive until it reports want or the confirmation window closes.
func (l *lines) confirm(ctx context.Context, isActive func(context.Context) bool, want bool) error {
	if timing.PollUntil(l.clk, ConfirmTimeoutMs, ConfirmPollMs, func() bool { return isActive(ctx) == want }) {
		if want {
			l.logger.Debug("module now on")
		} else {
			l.logger.Debug("module now off")
		}
		return nil
	}
	state := "off"
	if want {
		state = "on"
	}
	l.logger.Warnw("module did not confirm state change", "want", state, "timeout_ms", ConfirmTimeoutMs)
	return errors.Wrapf(ErrNotConfirmed, "waiting for module to turn %s", state)
}

// finishDeactivate confirms the module went to sleep, then cuts rail power whatever the outcome.
func (l *lines) finishDeactivate(ctx context.Context, isActive func(context.Context) bool, cause error) error {
	if cause != nil {
		l.powerOff(ctx)
		return cause
	}
	err := l.confirm(ctx, isActive, false)
	l.powerOff(ctx)
	return err
}
