package power

import (
	"context"
)

// held modules are awake while the enable line is high.
type held struct {
	*lines
}

func (h *held) Style() SleepStyle { return Held }

func (h *held) IsActive(ctx context.Context) bool {
	high, ok := h.sample(ctx)
	if !ok {
		return h.status == nil
	}
	return high
}

func (h *held) Activate(ctx context.Context) error {
	h.powerOn(ctx)
	if h.enable == nil {
		return nil
	}
	h.logger.Debugw("turning module on by setting enable pin high", "pin", h.enable.Pin().String())
	if err := h.setEnable(ctx, true); err != nil {
		return err
	}
	return h.confirm(ctx, h.IsActive, true)
}

func (h *held) Deactivate(ctx context.Context) error {
	if h.enable == nil {
		return nil
	}
	if !h.IsActive(ctx) {
		h.logger.Debug("module was not on")
	}
	return h.finishDeactivate(ctx, h.IsActive, h.setEnable(ctx, false))
}

// reverse modules are awake while the enable line is low, and their status line reads low when
// they are awake.
type reverse struct {
	*lines
}

func (r *reverse) Style() SleepStyle { return Reverse }

func (r *reverse) IsActive(ctx context.Context) bool {
	high, ok := r.sample(ctx)
	if !ok {
		return r.status == nil
	}
	return !high
}

func (r *reverse) Activate(ctx context.Context) error {
	r.powerOn(ctx)
	if r.enable != nil {
		r.logger.Debugw("turning module on by setting enable pin low", "pin", r.enable.Pin().String())
	}
	if err := r.setEnable(ctx, false); err != nil {
		return err
	}
	return r.confirm(ctx, r.IsActive, true)
}

func (r *reverse) Deactivate(ctx context.Context) error {
	if !r.IsActive(ctx) {
		r.logger.Debug("module was not on")
	}
	return r.finishDeactivate(ctx, r.IsActive, r.setEnable(ctx, true))
}

// pulsed modules flip state on every pulse, so the status line is checked before pulsing to
// avoid toggling the wrong way.
type pulsed struct {
	*lines
}

func (p *pulsed) Style() SleepStyle { return Pulsed }

func (p *pulsed) IsActive(ctx context.Context) bool {
	high, ok := p.sample(ctx)
	if !ok {
		return p.status == nil
	}
	return high
}

func (p *pulsed) Activate(ctx context.Context) error {
	p.powerOn(ctx)
	if !p.IsActive(ctx) {
		if err := p.pulse(ctx); err != nil {
			return err
		}
	}
	return p.confirm(ctx, p.IsActive, true)
}

func (p *pulsed) Deactivate(ctx context.Context) error {
	var err error
	if p.IsActive(ctx) {
		err = p.pulse(ctx)
	} else {
		p.logger.Debug("module was not on")
	}
	return p.finishDeactivate(ctx, p.IsActive, err)
}

// alwaysOn modules have no control lines.
type alwaysOn struct{}

func (a *alwaysOn) Style() SleepStyle { return AlwaysOn }

func (a *alwaysOn) IsActive(ctx context.Context) bool { return true }

func (a *alwaysOn) Activate(ctx context.Context) error { return nil }

func (a *alwaysOn) Deactivate(ctx context.Context) error { return nil }
