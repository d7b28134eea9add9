package gamepad

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/luciancaetano/padrelay"
	"github.com/luciancaetano/padrelay/internal/logger"
)

// State is the externally visible state of a virtual pad.
type State struct {
	Pressed      []padrelay.Button
	LeftX        float64
	LeftY        float64
	RightX       float64
	RightY       float64
	LeftTrigger  float64
	RightTrigger float64
}

type padState struct {
	pressed map[padrelay.Button]bool
	lx, ly  float64
	rx, ry  float64
	lt, rt  float64
}

func newPadState() padState {
	return padState{pressed: make(map[padrelay.Button]bool)}
}

func (s padState) clone() padState {
	out := s
	out.pressed = make(map[padrelay.Button]bool, len(s.pressed))
	for b := range s.pressed {
		out.pressed[b] = true
	}
	return out
}

// VirtualPad is an in-memory GamepadSink. Staged changes become visible
// through State on Commit. It stands in for an OS level device driver and
// logs every commit at debug level.
type VirtualPad struct {
	kind    Kind
	buttons map[int]padrelay.Button
	log     *zap.Logger

	mu        sync.Mutex
	staged    padState
	committed padState
	commits   int
	resets    int
}

// NewVirtualPad returns a pad of the given kind. A nil or empty buttonMap
// selects DefaultButtonMap(kind).
func NewVirtualPad(kind Kind, buttonMap map[int]padrelay.Button, log *zap.Logger) *VirtualPad {
	if len(buttonMap) == 0 {
		buttonMap = DefaultButtonMap(kind)
	}
	p := &VirtualPad{
		kind:      kind,
		buttons:   buttonMap,
		log:       logger.OrNop(log),
		staged:    newPadState(),
		committed: newPadState(),
	}
	p.log.Info("virtual gamepad initialized", zap.String("type", string(kind)), zap.Int("buttons", len(buttonMap)))
	return p
}

func (p *VirtualPad) PressButton(b padrelay.Button) {
	p.mu.Lock()
	p.staged.pressed[b] = true
	p.mu.Unlock()
}

func (p *VirtualPad) ReleaseButton(b padrelay.Button) {
	p.mu.Lock()
	delete(p.staged.pressed, b)
	p.mu.Unlock()
}

func (p *VirtualPad) SetLeftStick(x, y float64) {
	p.mu.Lock()
	p.staged.lx, p.staged.ly = x, y
	p.mu.Unlock()
}

func (p *VirtualPad) SetRightStick(x, y float64) {
	p.mu.Lock()
	p.staged.rx, p.staged.ry = x, y
	p.mu.Unlock()
}

func (p *VirtualPad) SetLeftTrigger(v float64) {
	p.mu.Lock()
	p.staged.lt = v
	p.mu.Unlock()
}

func (p *VirtualPad) SetRightTrigger(v float64) {
	p.mu.Lock()
	p.staged.rt = v
	p.mu.Unlock()
}

func (p *VirtualPad) Commit() error {
	p.mu.Lock()
	p.committed = p.staged.clone()
	p.commits++
	st := p.stateLocked()
	p.mu.Unlock()

	p.log.Debug("gamepad commit",
		zap.Int("pressed", len(st.Pressed)),
		zap.Float64("lx", st.LeftX), zap.Float64("ly", st.LeftY),
		zap.Float64("rx", st.RightX), zap.Float64("ry", st.RightY),
		zap.Float64("lt", st.LeftTrigger), zap.Float64("rt", st.RightTrigger))
	return nil
}

func (p *VirtualPad) ResetToNeutral() error {
	p.mu.Lock()
	p.staged = newPadState()
	p.committed = newPadState()
	p.resets++
	p.mu.Unlock()

	p.log.Info("gamepad state reset to neutral")
	return nil
}

func (p *VirtualPad) ButtonFor(index int) (padrelay.Button, bool) {
	b, ok := p.buttons[index]
	return b, ok
}

// Kind returns the controller model.
func (p *VirtualPad) Kind() Kind {
	return p.kind
}

// State returns the last committed state.
func (p *VirtualPad) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

// Commits returns the number of Commit calls.
func (p *VirtualPad) Commits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.commits
}

// Resets returns the number of ResetToNeutral calls.
func (p *VirtualPad) Resets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets
}

func (p *VirtualPad) stateLocked() State {
	c := p.committed
	st := State{
		LeftX: c.lx, LeftY: c.ly,
		RightX: c.rx, RightY: c.ry,
		LeftTrigger: c.lt, RightTrigger: c.rt,
	}
	for b := range c.pressed {
		st.Pressed = append(st.Pressed, b)
	}
	sort.Slice(st.Pressed, func(i, j int) bool { return st.Pressed[i] < st.Pressed[j] })
	return st
}

var _ padrelay.GamepadSink = (*VirtualPad)(nil)
