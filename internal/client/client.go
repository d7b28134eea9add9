// Package client streams a padrelay.InputSource to a padrelay server.
//
// A Client runs sessions back to back: connect, authenticate, stream until
// something goes wrong, wait ReconnectDelay, repeat. Only Shutdown or
// cancelling the Run context ends the loop.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/luciancaetano/padrelay"
	"github.com/luciancaetano/padrelay/internal/auth"
	"github.com/luciancaetano/padrelay/internal/metrics"
	"github.com/luciancaetano/padrelay/internal/protocol"
	"github.com/luciancaetano/padrelay/internal/shutdown"
)

// maxLag is how many intervals the send loop may fall behind before it
// gives up on the missed sends.
const maxLag = 3

var (
	// ErrAuthFailed is returned when the server refuses the credentials.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrRejected is returned when the server answers the handshake with an
	// error message, for example because another client is connected.
	ErrRejected = errors.New("rejected by server")
	// ErrHeartbeatTimeout is returned when a heartbeat is not acknowledged
	// within AckTimeout.
	ErrHeartbeatTimeout = errors.New("heartbeat not acknowledged")
	// ErrUnexpectedMessage is returned for an out-of-order handshake message.
	ErrUnexpectedMessage = errors.New("unexpected message")
	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("client already running")
)

// State is the session phase of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateStreaming:
		return "streaming"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Client polls an input source and relays it to one server.
type Client struct {
	cfg   Config
	log   *zap.Logger
	src   padrelay.InputSource
	auth  *auth.Authenticator
	coord *shutdown.Coordinator

	state   atomic.Int32
	started atomic.Bool
	done    chan struct{}
	srcOnce sync.Once

	sent     metrics.Counter
	acked    metrics.Counter
	sessions metrics.Counter
}

// New validates cfg and returns a Client reading from src. The client owns
// src and closes it on shutdown.
func New(cfg Config, src padrelay.InputSource) (*Client, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil input source", errInvalidConfig)
	}
	cfg, err := normalizeConfig(cfg)
	if err != nil {
		return nil, err
	}
	a, err := auth.New(cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("client credentials: %w", err)
	}
	return &Client{
		cfg:   cfg,
		log:   cfg.Logger,
		src:   src,
		auth:  a,
		coord: shutdown.New(),
		done:  make(chan struct{}),
	}, nil
}

// Run connects and keeps reconnecting until ctx is cancelled or Shutdown is
// called. It releases the input source before returning.
func (c *Client) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)
	defer c.closeSource()
	if c.coord.Stopping() {
		return nil
	}

	ctx, cancel := c.coord.Context(ctx)
	defer cancel()

	for {
		err := c.RunSession(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warn("session ended, reconnecting",
			zap.Error(err), zap.Duration("delay", c.cfg.ReconnectDelay))

		select {
		case <-time.After(c.cfg.ReconnectDelay):
		case <-ctx.Done():
			return nil
		}
	}
}

// RunSession runs a single session and returns why it ended. It returns nil
// when ctx is cancelled.
func (c *Client) RunSession(ctx context.Context) error {
	defer c.setState(StateDisconnected)
	c.sessions.Inc()

	var err error
	if c.cfg.Transport == padrelay.TransportUDP {
		err = c.runDatagram(ctx)
	} else {
		err = c.runStream(ctx)
	}
	if ctx.Err() != nil || c.coord.Stopping() {
		return nil
	}
	return err
}

// Shutdown stops the session loop, waits for Run to return and releases the
// input source.
func (c *Client) Shutdown(ctx context.Context) error {
	err := c.coord.Stop(ctx)
	if !c.started.Load() {
		c.closeSource()
		return err
	}
	select {
	case <-c.done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

// State returns the current session phase.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Sent returns the number of input messages sent.
func (c *Client) Sent() int64 {
	return c.sent.Load()
}

// Acked returns the number of acknowledged heartbeats.
func (c *Client) Acked() int64 {
	return c.acked.Load()
}

func (c *Client) setState(s State) {
	if old := State(c.state.Swap(int32(s))); old != s {
		c.log.Debug("client state", zap.Stringer("from", old), zap.Stringer("to", s))
	}
}

func (c *Client) closeSource() {
	c.srcOnce.Do(func() {
		if err := c.src.Close(); err != nil {
			c.log.Warn("close input source", zap.Error(err))
		}
	})
}

// pump polls the source at UpdateRate and hands every snapshot to send.
// after runs once per tick, following the send.
func (c *Client) pump(ctx context.Context, send func(*protocol.Input) error, after func() error) error {
	interval := time.Second / time.Duration(c.cfg.UpdateRate)
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	next := time.Now()
	seq := 0
	for {
		if snap, ok := c.src.Poll(); ok {
			in := protocol.NewInput(snap)
			// The first message of a session is stamped, then every Nth.
			if seq%c.cfg.TimestampEvery == 0 {
				in.Stamp(time.Now())
			}
			seq++
			if err := send(in); err != nil {
				return err
			}
			c.sent.Inc()
		}
		if after != nil {
			if err := after(); err != nil {
				return err
			}
		}

		var wait time.Duration
		next, wait = advance(next, time.Now(), interval)
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}

// advance returns the send instant following next and how long to sleep from
// now until it. A loop more than maxLag intervals late restarts its schedule
// at now instead of bursting to catch up.
func advance(next, now time.Time, interval time.Duration) (time.Time, time.Duration) {
	next = next.Add(interval)
	if now.Sub(next) > maxLag*interval {
		next = now
	}
	return next, max(next.Sub(now), 0)
}
