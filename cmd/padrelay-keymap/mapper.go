package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/luciancaetano/padrelay"
	"github.com/luciancaetano/padrelay/internal/config"
	"github.com/luciancaetano/padrelay/internal/gamepad"
)

// axisThreshold is the travel an axis must show to count as moved.
const axisThreshold = 0.3

var axisPrompts = []struct {
	key    string
	prompt string
}{
	{gamepad.AxisLeftStickX, "Push the left stick right and hold it."},
	{gamepad.AxisLeftStickY, "Push the left stick up and hold it."},
	{gamepad.AxisRightStickX, "Push the right stick right and hold it."},
	{gamepad.AxisRightStickY, "Push the right stick up and hold it."},
	{gamepad.AxisTriggerLeft, "Pull the left trigger all the way and hold it."},
	{gamepad.AxisTriggerRight, "Pull the right trigger all the way and hold it."},
}

// mapper walks the user through every virtual button and axis and records
// which physical control they used for it.
type mapper struct {
	src   padrelay.InputSource
	out   io.Writer
	lines <-chan string

	poll          time.Duration
	buttonTimeout time.Duration
	axisTime      time.Duration
	settle        time.Duration
}

// readLines feeds the lines of r into a channel that is closed at EOF.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string, 1)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}

func (m *mapper) run(ctx context.Context, kind gamepad.Kind) (config.Gamepad, error) {
	buttons, err := m.mapButtons(ctx, kind)
	if err != nil {
		return config.Gamepad{}, err
	}
	g := config.Gamepad{Type: string(kind), ButtonMap: buttons}
	if err := m.mapAxes(ctx, &g); err != nil {
		return config.Gamepad{}, err
	}
	return g, nil
}

func (m *mapper) mapButtons(ctx context.Context, kind gamepad.Kind) (map[string]string, error) {
	names := gamepad.DefaultButtonMap(kind)
	order := make([]int, 0, len(names))
	for i := range names {
		order = append(order, i)
	}
	slices.Sort(order)

	m.printf("Mapping %d buttons for %s. Press each one when asked.\n", len(order), kind)
	out := make(map[string]string, len(order))
	for _, i := range order {
		m.drain()
		base := m.read()
		m.printf("Press %s (Enter to skip)\n", names[i])

		got, err := m.waitButton(ctx, base)
		if err != nil {
			return nil, err
		}
		key := strconv.Itoa(got)
		switch _, used := out[key]; {
		case got < 0:
			m.printf("  skipped\n")
		case used:
			m.printf("  button %d is already mapped, skipped\n", got)
		default:
			out[key] = string(names[i])
			m.printf("  %s -> button %d\n", names[i], got)
		}
		if err := m.waitRelease(ctx); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// waitButton returns the first button pressed that was up in base, or -1
// when the user skips or nothing is pressed in time.
func (m *mapper) waitButton(ctx context.Context, base padrelay.Snapshot) (int, error) {
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()
	timeout := time.NewTimer(m.buttonTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case _, ok := <-m.lines:
			if !ok {
				m.lines = nil
				continue
			}
			return -1, nil
		case <-timeout.C:
			return -1, nil
		case <-ticker.C:
			snap, ok := m.src.Poll()
			if !ok {
				continue
			}
			for i, pressed := range snap.Buttons {
				if pressed && (i >= len(base.Buttons) || !base.Buttons[i]) {
					return i, nil
				}
			}
			if !slices.Equal(snap.Hats, base.Hats) {
				m.printf("  that is a D-pad hat, which cannot be mapped to a button\n")
				return -1, nil
			}
		}
	}
}

// waitRelease returns once no button is held, or after buttonTimeout.
func (m *mapper) waitRelease(ctx context.Context) error {
	deadline := time.Now().Add(m.buttonTimeout)
	for time.Now().Before(deadline) {
		snap, ok := m.src.Poll()
		if ok && !slices.Contains(snap.Buttons, true) {
			return nil
		}
		if err := sleep(ctx, m.poll); err != nil {
			return err
		}
	}
	return nil
}

func (m *mapper) mapAxes(ctx context.Context, g *config.Gamepad) error {
	m.printf("Mapping axes.\n")
	g.AxisMap = make(map[string]int, len(axisPrompts))
	used := make(map[int]bool, len(axisPrompts))
	for _, a := range axisPrompts {
		m.printf("Release all controls.\n")
		if err := sleep(ctx, m.settle); err != nil {
			return err
		}
		base := m.read()
		m.printf("[%s] %s\n", a.key, a.prompt)

		axis, delta, err := m.detectAxis(ctx, base, used)
		if err != nil {
			return err
		}
		if axis < 0 {
			m.printf("  no axis moved, skipped\n")
			continue
		}
		used[axis] = true
		g.AxisMap[a.key] = axis
		m.printf("  %s -> axis %d\n", a.key, axis)

		// The virtual pad reads positive Y as up.
		switch a.key {
		case gamepad.AxisLeftStickY:
			g.InvertLeftY = delta < 0
		case gamepad.AxisRightStickY:
			g.InvertRightY = delta < 0
		}
	}
	return nil
}

// detectAxis watches the axes not in used for axisTime and returns the one
// that moved furthest from base, with its signed travel. It returns -1 when
// no axis passed axisThreshold.
func (m *mapper) detectAxis(ctx context.Context, base padrelay.Snapshot, used map[int]bool) (int, float64, error) {
	best, bestDelta := -1, 0.0
	deadline := time.Now().Add(m.axisTime)
	for time.Now().Before(deadline) {
		if snap, ok := m.src.Poll(); ok {
			for i, v := range snap.Axes {
				if used[i] || i >= len(base.Axes) {
					continue
				}
				d := v - base.Axes[i]
				if math.Abs(d) > math.Abs(bestDelta) {
					best, bestDelta = i, d
				}
			}
		}
		if err := sleep(ctx, m.poll); err != nil {
			return -1, 0, err
		}
	}
	if math.Abs(bestDelta) < axisThreshold {
		return -1, 0, nil
	}
	return best, bestDelta, nil
}

func (m *mapper) read() padrelay.Snapshot {
	snap, _ := m.src.Poll()
	return snap
}

// drain drops Enter presses typed ahead of the next prompt.
func (m *mapper) drain() {
	for {
		select {
		case _, ok := <-m.lines:
			if !ok {
				m.lines = nil
				return
			}
		default:
			return
		}
	}
}

func (m *mapper) printf(format string, args ...any) {
	fmt.Fprintf(m.out, format, args...)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
