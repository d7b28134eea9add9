// Package server accepts padrelay clients and drives a padrelay.GamepadSink
// with their input.
//
// Stream transports (tcp, quic, ws) run one session per connection:
// rate check, challenge-response handshake, then a read loop that answers
// heartbeats and forwards input. The udp transport handles every datagram
// independently and authenticates each one by token.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luciancaetano/padrelay"
	"github.com/luciancaetano/padrelay/internal/auth"
	"github.com/luciancaetano/padrelay/internal/gamepad"
	"github.com/luciancaetano/padrelay/internal/shutdown"
	"github.com/luciancaetano/padrelay/internal/tracker"
	"github.com/luciancaetano/padrelay/internal/transport"
)

const stopTimeout = 5 * time.Second

var (
	// ErrServerAlreadyRunning is returned by Start on a running server.
	ErrServerAlreadyRunning = errors.New(padrelay.ErrServerAlreadyRunning)
	// ErrServerClosed is returned by Start after Stop.
	ErrServerClosed = errors.New(padrelay.ErrServerShuttingDown)
)

// Server relays authenticated client input into a gamepad sink.
type Server struct {
	cfg     Config
	log     *zap.Logger
	auth    *auth.Authenticator
	tracker *tracker.Tracker
	handler *gamepad.Handler
	coord   *shutdown.Coordinator
	metrics Metrics

	// ctx lives until Stop and bounds per-session work.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
	addr    net.Addr
	wg      sync.WaitGroup
}

// New validates cfg and returns a stopped Server driving sink.
func New(cfg Config, sink padrelay.GamepadSink) (*Server, error) {
	if sink == nil {
		return nil, fmt.Errorf("%w: nil gamepad sink", errInvalidConfig)
	}
	cfg, err := normalizeConfig(cfg)
	if err != nil {
		return nil, err
	}
	a, err := auth.New(cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("server credentials: %w", err)
	}

	coord := shutdown.New()
	ctx, cancel := coord.Context(context.Background())

	return &Server{
		cfg:  cfg,
		log:  cfg.Logger,
		auth: a,
		tracker: tracker.New(tracker.Config{
			MaxConnections: cfg.MaxConnections,
			Window:         cfg.RateWindow,
			MaxRequests:    cfg.MaxRequests,
			BlockDuration:  cfg.BlockDuration,
		}),
		handler: gamepad.NewHandler(sink, *cfg.Gamepad, cfg.Logger),
		coord:   coord,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start binds the listening socket and serves in the background. Bind errors
// are returned directly. Cancelling ctx stops the server.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.coord.Stopping() {
		return ErrServerClosed
	}
	if s.running {
		return ErrServerAlreadyRunning
	}

	if !s.auth.Configured() {
		s.log.Warn("running without authentication, any client can drive the gamepad",
			zap.String("transport", string(s.cfg.Transport)))
	}

	var err error
	if s.cfg.Transport == padrelay.TransportUDP {
		err = s.startUDP()
	} else {
		err = s.startStream(ctx)
	}
	if err != nil {
		return err
	}
	s.running = true

	s.startMetricsLogger(s.ctx)
	go func() {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			if err := s.Stop(stopCtx); err != nil {
				s.log.Warn("stop after context cancellation", zap.Error(err))
			}
		case <-s.coord.Done():
		}
	}()

	s.log.Info("server started",
		zap.String("addr", s.addr.String()),
		zap.String("transport", string(s.cfg.Transport)),
		zap.Bool("tls", s.cfg.TLS != nil || s.cfg.Transport == padrelay.TransportQUIC),
		zap.Int("max_connections", s.cfg.MaxConnections))
	return nil
}

func (s *Server) startStream(ctx context.Context) error {
	ln, err := transport.Listen(ctx, s.cfg.Transport, s.cfg.ListenAddr, s.cfg.TLS)
	if err != nil {
		return fmt.Errorf("listen %s %s: %w", s.cfg.Transport, s.cfg.ListenAddr, err)
	}

	s.wg.Add(1)
	if _, ok := s.coord.Track(ln); !ok {
		s.wg.Done()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.addr = ln.Addr()
	go s.acceptLoop(ln)
	return nil
}

func (s *Server) startUDP() error {
	pc, err := transport.ListenUDP(s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", s.cfg.ListenAddr, err)
	}

	s.wg.Add(1)
	if _, ok := s.coord.Track(pc); !ok {
		s.wg.Done()
		_ = pc.Close()
		return ErrServerClosed
	}
	s.addr = pc.LocalAddr()
	go s.serveUDP(pc)
	return nil
}

// Stop closes the listener and every open session, waits for the serving
// goroutines and returns the gamepad to neutral. It is safe to call more
// than once and before Start.
func (s *Server) Stop(ctx context.Context) error {
	err := s.coord.Stop(ctx)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}

	if rerr := s.handler.Reset(); rerr != nil {
		err = errors.Join(err, fmt.Errorf("reset gamepad: %w", rerr))
	}

	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()
	if wasRunning {
		s.log.Info("server stopped")
	}
	return err
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Metrics returns the live counters.
func (s *Server) Metrics() *Metrics {
	return &s.metrics
}

// ActiveSessions returns the number of authenticated stream sessions.
func (s *Server) ActiveSessions() int {
	return s.tracker.ActiveConnections()
}
