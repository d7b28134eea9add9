// Package input reads a physical controller through the joystick driver.
package input

import (
	"errors"
	"fmt"
	"sync"

	"github.com/0xcafed00d/joystick"
	"go.uber.org/zap"

	"github.com/luciancaetano/padrelay"
	"github.com/luciancaetano/padrelay/internal/logger"
)

const (
	axisMax = 32767
	// Hat directions are reported on axes 6 and 7; past half travel counts
	// as pressed.
	hatThreshold = axisMax / 2
	maxButtons   = 32
)

// ErrNoController is returned by FindFirst when no device can be opened.
var ErrNoController = errors.New("no gamepad detected")

// Joystick is a padrelay.InputSource backed by a joystick device.
type Joystick struct {
	dev joystick.Joystick
	log *zap.Logger

	mu     sync.Mutex
	closed bool
}

// OpenJoystick opens the device with the given index.
func OpenJoystick(index int, log *zap.Logger) (*Joystick, error) {
	dev, err := joystick.Open(index)
	if err != nil {
		return nil, fmt.Errorf("open joystick %d: %w", index, err)
	}
	return newJoystick(dev, log), nil
}

// FindFirst opens the first device among indices [0, maxIndex).
func FindFirst(maxIndex int, log *zap.Logger) (*Joystick, error) {
	for i := 0; i < maxIndex; i++ {
		dev, err := joystick.Open(i)
		if err != nil {
			continue
		}
		return newJoystick(dev, log), nil
	}
	return nil, ErrNoController
}

func newJoystick(dev joystick.Joystick, log *zap.Logger) *Joystick {
	j := &Joystick{dev: dev, log: logger.OrNop(log)}
	j.log.Info("gamepad initialized",
		zap.String("name", dev.Name()),
		zap.Int("axes", dev.AxisCount()),
		zap.Int("buttons", dev.ButtonCount()))
	return j
}

// Poll reads the device. It returns false after Close or on a read error.
func (j *Joystick) Poll() (padrelay.Snapshot, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return padrelay.Snapshot{}, false
	}
	st, err := j.dev.Read()
	if err != nil {
		j.log.Warn("error polling gamepad", zap.Error(err))
		return padrelay.Snapshot{}, false
	}
	return snapshot(st, j.dev.AxisCount(), j.dev.ButtonCount()), true
}

// Close releases the device. Later calls are no-ops.
func (j *Joystick) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	j.dev.Close()
	return nil
}

func snapshot(st joystick.State, axisCount, buttonCount int) padrelay.Snapshot {
	if buttonCount > maxButtons {
		buttonCount = maxButtons
	}
	if axisCount > len(st.AxisData) {
		axisCount = len(st.AxisData)
	}

	s := padrelay.Snapshot{
		Buttons: make([]bool, buttonCount),
		Axes:    make([]float64, axisCount),
		Hats:    [][2]int{},
	}
	for i := range s.Buttons {
		s.Buttons[i] = st.Buttons&(1<<uint(i)) != 0
	}
	for i := range s.Axes {
		s.Axes[i] = normalize(st.AxisData[i])
	}

	// Xbox style layout: triggers on axes 2 and 5, resting at -1.
	if axisCount > 5 {
		s.Triggers = []float64{(s.Axes[2] + 1) / 2, (s.Axes[5] + 1) / 2}
	}
	if axisCount >= 8 {
		// The driver reports up as negative; hats use up as positive.
		s.Hats = append(s.Hats, [2]int{direction(st.AxisData[6]), -direction(st.AxisData[7])})
	}
	return s
}

func normalize(v int) float64 {
	f := float64(v) / axisMax
	switch {
	case f > 1:
		return 1
	case f < -1:
		return -1
	}
	return f
}

func direction(v int) int {
	switch {
	case v > hatThreshold:
		return 1
	case v < -hatThreshold:
		return -1
	}
	return 0
}

var _ padrelay.InputSource = (*Joystick)(nil)
