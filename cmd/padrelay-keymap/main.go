// Command padrelay-keymap records which physical buttons and axes of a
// controller match the virtual gamepad and saves them to the server config.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/luciancaetano/padrelay/internal/config"
	"github.com/luciancaetano/padrelay/internal/gamepad"
	"github.com/luciancaetano/padrelay/internal/input"
	"github.com/luciancaetano/padrelay/internal/logger"
)

const maxJoystickScan = 8

func main() {
	fs := flag.NewFlagSet("padrelay-keymap", flag.ExitOnError)
	output := fs.String("output", "padrelay-server.yaml", "server config file to write the mapping into")
	index := fs.Int("joystick", -1, "joystick index, -1 picks the first one found")
	kindName := fs.String("gamepad", string(gamepad.KindXbox360), "virtual gamepad: xbox360 or ds4")
	poll := fs.Duration("poll", 10*time.Millisecond, "controller poll interval")
	buttonTimeout := fs.Duration("button-timeout", 5*time.Second, "how long to wait for each button")
	axisTime := fs.Duration("axis-time", 2*time.Second, "how long to watch each axis")
	logLevel := fs.String("log-level", "warn", "debug, info, warn or error")
	_ = fs.Parse(os.Args[1:])

	kind, err := gamepad.ParseKind(*kindName)
	if err != nil {
		fatalf("%v", err)
	}
	log, err := logger.New(*logLevel)
	if err != nil {
		fatalf("logger: %v", err)
	}
	defer func() { _ = log.Sync() }()

	src, err := openJoystick(*index, log)
	if err != nil {
		fatalf("%v", err)
	}
	defer src.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := &mapper{
		src:           src,
		out:           os.Stdout,
		lines:         readLines(os.Stdin),
		poll:          *poll,
		buttonTimeout: *buttonTimeout,
		axisTime:      *axisTime,
		settle:        time.Second,
	}
	g, err := m.run(ctx, kind)
	if err != nil {
		log.Error("mapping aborted", zap.Error(err))
		return
	}

	printSummary(os.Stdout, g)
	m.drain()
	if !confirm(ctx, m, *output) {
		fmt.Println("Mapping discarded.")
		return
	}
	if err := config.SaveGamepad(*output, g); err != nil {
		fatalf("save mapping: %v", err)
	}
	fmt.Printf("Saved. Start the server with: padrelay-server -config %s\n", *output)
}

func openJoystick(index int, log *zap.Logger) (*input.Joystick, error) {
	if index < 0 {
		return input.FindFirst(maxJoystickScan, log)
	}
	return input.OpenJoystick(index, log)
}

func printSummary(w io.Writer, g config.Gamepad) {
	fmt.Fprintf(w, "\nGamepad type: %s\n", g.Type)
	keys := make([]string, 0, len(g.ButtonMap))
	for k := range g.ButtonMap {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) < len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		fmt.Fprintf(w, "  button %s -> %s\n", k, g.ButtonMap[k])
	}
	for _, a := range axisPrompts {
		if i, ok := g.AxisMap[a.key]; ok {
			fmt.Fprintf(w, "  axis %d -> %s\n", i, a.key)
		}
	}
	fmt.Fprintf(w, "  invert_left_y: %t, invert_right_y: %t\n", g.InvertLeftY, g.InvertRightY)
}

// confirm asks before writing path. An empty answer or closed input is a yes.
func confirm(ctx context.Context, m *mapper, path string) bool {
	m.printf("Save to %s? [Y/n] ", path)
	if m.lines == nil {
		m.printf("\n")
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case line, ok := <-m.lines:
		if !ok {
			return true
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "" || answer == "y" || answer == "yes"
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
