package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/luciancaetano/padrelay"
	"github.com/luciancaetano/padrelay/internal/protocol"
)

type fakeSource struct {
	mu     sync.Mutex
	snap   padrelay.Snapshot
	polls  atomic.Int64
	closed atomic.Int32
	// idle makes Poll report no new state.
	idle atomic.Bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{snap: padrelay.Snapshot{
		Buttons: []bool{true, false, false},
		Axes:    []float64{0.5, -0.5, 0, 0},
		Hats:    [][2]int{{0, 1}},
	}}
}

func (f *fakeSource) Poll() (padrelay.Snapshot, bool) {
	f.polls.Add(1)
	if f.idle.Load() {
		return padrelay.Snapshot{}, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, true
}

func (f *fakeSource) Close() error {
	f.closed.Add(1)
	return nil
}

func TestAdvance(t *testing.T) {
	t.Parallel()

	base := time.Unix(1000, 0)
	interval := 10 * time.Millisecond

	tests := []struct {
		name      string
		now       time.Time
		wantNext  time.Time
		wantSleep time.Duration
	}{
		{
			name:      "on time",
			now:       base.Add(2 * time.Millisecond),
			wantNext:  base.Add(interval),
			wantSleep: 8 * time.Millisecond,
		},
		{
			name:      "slightly late keeps schedule",
			now:       base.Add(25 * time.Millisecond),
			wantNext:  base.Add(interval),
			wantSleep: 0,
		},
		{
			name:      "exactly three intervals behind keeps schedule",
			now:       base.Add(40 * time.Millisecond),
			wantNext:  base.Add(interval),
			wantSleep: 0,
		},
		{
			name:      "far behind resyncs to now",
			now:       base.Add(100 * time.Millisecond),
			wantNext:  base.Add(100 * time.Millisecond),
			wantSleep: 0,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next, sleep := advance(base, tt.now, interval)
			if !next.Equal(tt.wantNext) {
				t.Errorf("next = %v, want %v", next.Sub(base), tt.wantNext.Sub(base))
			}
			if sleep != tt.wantSleep {
				t.Errorf("sleep = %v, want %v", sleep, tt.wantSleep)
			}
		})
	}
}

func TestNormalizeConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      Config
		wantAddr string
		wantErr  bool
	}{
		{name: "defaults", cfg: Config{}, wantAddr: "127.0.0.1:9999"},
		{name: "host only", cfg: Config{ServerAddr: "pad.local"}, wantAddr: "pad.local:9999"},
		{name: "ipv6 literal", cfg: Config{ServerAddr: "::1"}, wantAddr: "[::1]:9999"},
		{name: "host and port", cfg: Config{ServerAddr: "10.0.0.2:7000"}, wantAddr: "10.0.0.2:7000"},
		{name: "unknown transport", cfg: Config{Transport: "carrier-pigeon"}, wantErr: true},
		{name: "update rate too high", cfg: Config{UpdateRate: 5000}, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := normalizeConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalizeConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if cfg.ServerAddr != tt.wantAddr {
				t.Errorf("ServerAddr = %q, want %q", cfg.ServerAddr, tt.wantAddr)
			}
			if cfg.UpdateRate != 60 || cfg.TimestampEvery != 10 {
				t.Errorf("rates = %d/%d", cfg.UpdateRate, cfg.TimestampEvery)
			}
			if cfg.ParamsTimeout != 200*time.Millisecond || cfg.ReconnectDelay != padrelay.ReconnectDelay {
				t.Errorf("timeouts = %s/%s", cfg.ParamsTimeout, cfg.ReconnectDelay)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	want := map[State]string{
		StateDisconnected:   "disconnected",
		StateConnecting:     "connecting",
		StateAuthenticating: "authenticating",
		StateStreaming:      "streaming",
		State(42):           "State(42)",
	}
	for s, w := range want {
		if got := s.String(); got != w {
			t.Errorf("State(%d).String() = %q, want %q", int32(s), got, w)
		}
	}
}

func TestNewRejectsNilSource(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}, nil); err == nil {
		t.Error("New() with nil source succeeded")
	}
}

func TestShutdownBeforeRun(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	c, err := New(Config{}, src)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if src.closed.Load() != 1 {
		t.Errorf("source closed %d times, want 1", src.closed.Load())
	}
	if err := c.Run(context.Background()); err != nil {
		t.Errorf("Run() after Shutdown error = %v", err)
	}
	if src.closed.Load() != 1 {
		t.Errorf("source closed %d times, want 1", src.closed.Load())
	}
}

func TestRunTwice(t *testing.T) {
	t.Parallel()

	c, err := New(Config{ServerAddr: "127.0.0.1:1", ReconnectDelay: 10 * time.Millisecond}, newFakeSource())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for c.sessions.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := c.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestPumpStampsEveryTenthFromFirst(t *testing.T) {
	t.Parallel()

	c, err := New(Config{ServerAddr: "127.0.0.1", Password: "x", UpdateRate: 1000}, newFakeSource())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var stamped []bool
	err = c.pump(ctx, func(in *protocol.Input) error {
		stamped = append(stamped, in.Timestamp != "")
		if len(stamped) == 21 {
			cancel()
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("pump() error = %v", err)
	}

	for i, got := range stamped[:21] {
		if want := i%10 == 0; got != want {
			t.Errorf("message %d stamped = %v, want %v", i, got, want)
		}
	}
}
