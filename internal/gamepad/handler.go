// Package gamepad applies validated input messages to a padrelay.GamepadSink.
package gamepad

import (
	"math"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/luciancaetano/padrelay"
	"github.com/luciancaetano/padrelay/internal/logger"
	"github.com/luciancaetano/padrelay/internal/protocol"
)

const (
	defaultDeadZone         = 0.1
	defaultTriggerThreshold = 0.1
	// forceEvery re-applies the full state periodically so a sink that missed
	// an update converges.
	forceEvery = 30
)

// Axis mapping keys.
const (
	AxisLeftStickX   = "left_stick_x"
	AxisLeftStickY   = "left_stick_y"
	AxisRightStickX  = "right_stick_x"
	AxisRightStickY  = "right_stick_y"
	AxisTriggerLeft  = "trigger_left"
	AxisTriggerRight = "trigger_right"
)

// Options tunes how raw input is translated.
type Options struct {
	// DeadZone zeroes stick values whose magnitude is at or below it.
	DeadZone float64
	// TriggerThreshold zeroes trigger values at or below it.
	TriggerThreshold float64
	// AxisMap maps the Axis* keys to indices into the axes array. When empty,
	// axes 0/1 drive the left stick, 2/3 the right stick and the triggers
	// array drives the triggers.
	AxisMap      map[string]int
	InvertLeftY  bool
	InvertRightY bool
}

// DefaultOptions returns the default dead zone and trigger threshold.
func DefaultOptions() Options {
	return Options{DeadZone: defaultDeadZone, TriggerThreshold: defaultTriggerThreshold}
}

// Handler translates input messages into sink calls and commits when
// something changed. It is safe for concurrent use.
type Handler struct {
	sink padrelay.GamepadSink
	opts Options
	log  *zap.Logger

	mu          sync.Mutex
	lastButtons []bool
	lastAxes    []float64
	lastTrig    []float64
	counter     int
}

// NewHandler returns a Handler driving sink.
func NewHandler(sink padrelay.GamepadSink, opts Options, log *zap.Logger) *Handler {
	if opts.DeadZone < 0 {
		opts.DeadZone = 0
	}
	if opts.TriggerThreshold < 0 {
		opts.TriggerThreshold = 0
	}
	return &Handler{sink: sink, opts: opts, log: logger.OrNop(log)}
}

// Process applies one input message. Out-of-range values are clamped.
func (h *Handler) Process(in *protocol.Input) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.counter++
	force := h.counter%forceEvery == 0

	buttonsChanged := force || !slices.Equal(in.Buttons, h.lastButtons)
	if buttonsChanged {
		h.applyButtons(in.Buttons)
		h.lastButtons = slices.Clone(in.Buttons)
	}

	axesChanged := force || !slices.Equal(in.Axes, h.lastAxes) || !slices.Equal(in.Triggers, h.lastTrig)
	if axesChanged {
		if len(h.opts.AxisMap) > 0 {
			h.applyMappedAxes(in.Axes)
		} else {
			h.applyAxes(in.Axes, in.Triggers)
		}
		h.lastAxes = slices.Clone(in.Axes)
		h.lastTrig = slices.Clone(in.Triggers)
	}

	if !buttonsChanged && !axesChanged {
		return nil
	}
	return h.sink.Commit()
}

// Reset forgets the last applied state and returns the sink to neutral.
func (h *Handler) Reset() error {
	h.mu.Lock()
	h.lastButtons = nil
	h.lastAxes = nil
	h.lastTrig = nil
	h.counter = 0
	h.mu.Unlock()

	return h.sink.ResetToNeutral()
}

func (h *Handler) applyButtons(buttons []bool) {
	for i, pressed := range buttons {
		b, ok := h.sink.ButtonFor(i)
		if !ok {
			continue
		}
		if pressed {
			h.sink.PressButton(b)
		} else {
			h.sink.ReleaseButton(b)
		}
	}
}

func (h *Handler) applyAxes(axes, triggers []float64) {
	if len(axes) >= 2 {
		h.sink.SetLeftStick(h.stick(axes[0]), h.stickY(axes[1], h.opts.InvertLeftY))
	}
	if len(axes) >= 4 {
		h.sink.SetRightStick(h.stick(axes[2]), h.stickY(axes[3], h.opts.InvertRightY))
	}
	if len(triggers) >= 2 {
		h.sink.SetLeftTrigger(h.trigger(triggers[0]))
		h.sink.SetRightTrigger(h.trigger(triggers[1]))
	}
}

func (h *Handler) applyMappedAxes(axes []float64) {
	m := h.opts.AxisMap
	if x, y, ok := pair(m, axes, AxisLeftStickX, AxisLeftStickY); ok {
		h.sink.SetLeftStick(h.stick(x), h.stickY(y, h.opts.InvertLeftY))
	}
	if x, y, ok := pair(m, axes, AxisRightStickX, AxisRightStickY); ok {
		h.sink.SetRightStick(h.stick(x), h.stickY(y, h.opts.InvertRightY))
	}
	// Mapped triggers come from a raw [-1, 1] axis.
	if v, ok := lookup(m, axes, AxisTriggerLeft); ok {
		h.sink.SetLeftTrigger(h.trigger((v + 1) / 2))
	}
	if v, ok := lookup(m, axes, AxisTriggerRight); ok {
		h.sink.SetRightTrigger(h.trigger((v + 1) / 2))
	}
}

func (h *Handler) stick(v float64) float64 {
	v = clamp(v, -1, 1)
	if math.Abs(v) <= h.opts.DeadZone {
		return 0
	}
	return v
}

func (h *Handler) stickY(v float64, invert bool) float64 {
	v = h.stick(v)
	if invert {
		return -v
	}
	return v
}

func (h *Handler) trigger(v float64) float64 {
	v = clamp(v, 0, 1)
	if v <= h.opts.TriggerThreshold {
		return 0
	}
	return v
}

// clamp bounds v to [lo, hi]. Only every few stream messages are validated,
// so the sink must never see out-of-range values. NaN maps to 0.
func clamp(v, lo, hi float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}

func lookup(m map[string]int, axes []float64, key string) (float64, bool) {
	i, ok := m[key]
	if !ok || i < 0 || i >= len(axes) {
		return 0, false
	}
	return axes[i], true
}

func pair(m map[string]int, axes []float64, kx, ky string) (x, y float64, ok bool) {
	x, okx := lookup(m, axes, kx)
	y, oky := lookup(m, axes, ky)
	return x, y, okx && oky
}
