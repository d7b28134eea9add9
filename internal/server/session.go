package server

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/padrelay"
	"github.com/luciancaetano/padrelay/internal/protocol"
	"github.com/luciancaetano/padrelay/internal/transport"
)

const acceptRetryDelay = 50 * time.Millisecond

func (s *Server) acceptLoop(ln transport.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept(s.ctx)
		if err != nil {
			if s.coord.Stopping() || transport.IsClosed(err) || errors.Is(err, context.Canceled) {
				return
			}
			s.log.Warn("accept failed", zap.Error(err))
			select {
			case <-time.After(acceptRetryDelay):
			case <-s.coord.Done():
				return
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn runs one stream session from rate check to teardown.
func (s *Server) handleConn(conn transport.Conn) {
	defer s.wg.Done()

	addr := conn.RemoteAddr().String()
	log := s.log.With(zap.String("session", uuid.NewString()), zap.String("addr", addr))

	untrack, ok := s.coord.Track(conn)
	if !ok {
		_ = conn.Close()
		return
	}
	defer func() {
		untrack()
		_ = conn.Close()
	}()

	// Blocked hosts are turned away before they cost a TLS handshake.
	host := hostOf(conn.RemoteAddr())
	if s.tracker.IsBlocked(host) {
		s.metrics.RateLimited.Inc()
		return
	}
	if s.tracker.IsRateLimited(host) {
		s.metrics.RateLimited.Inc()
		log.Warn("too many connection attempts, blocking address",
			zap.String("host", host), zap.Duration("block", s.cfg.BlockDuration))
		return
	}

	hctx, cancel := context.WithTimeout(s.ctx, s.cfg.AuthTimeout)
	err := transport.Handshake(hctx, conn)
	cancel()
	if err != nil {
		log.Debug("tls handshake failed", zap.Error(err))
		return
	}

	if !s.tracker.CanConnect(addr) {
		s.reject(conn, log)
		return
	}
	if !s.authenticate(conn, log) {
		return
	}
	// A concurrent handshake may have taken the last slot meanwhile.
	if !s.tracker.Acquire(addr) {
		s.reject(conn, log)
		return
	}
	s.metrics.AuthSuccess.Inc()
	s.metrics.ActiveSessions.Inc()
	defer func() {
		// Reset before releasing the slot so the next session starts from
		// neutral and is never clobbered by this reset.
		if err := s.handler.Reset(); err != nil {
			log.Warn("reset gamepad", zap.Error(err))
		}
		s.tracker.Disconnect(addr)
		s.metrics.ActiveSessions.Dec()
	}()

	if err := transport.WriteMessage(conn, &protocol.AuthSuccess{}); err != nil {
		log.Debug("send auth_success", zap.Error(err))
		return
	}
	log.Info("client connected", zap.String("transport", string(s.cfg.Transport)))

	s.stream(conn, addr, log)
	log.Info("client disconnected")
}

// authenticate runs the challenge-response exchange. Open servers skip it.
func (s *Server) authenticate(conn transport.Conn, log *zap.Logger) bool {
	if !s.auth.Configured() {
		return true
	}

	challenge, err := s.auth.Challenge()
	if err != nil {
		log.Error("generate challenge", zap.Error(err))
		return false
	}
	err = transport.WriteMessage(conn, &protocol.AuthChallenge{
		Challenge:  challenge,
		Salt:       s.auth.Salt(),
		Iterations: s.auth.Iterations(),
	})
	if err != nil {
		log.Debug("send auth_challenge", zap.Error(err))
		return false
	}

	m, err := transport.ReadMessage(conn, s.cfg.AuthTimeout)
	switch {
	case err == nil:
	case errors.Is(err, protocol.ErrVersionMismatch):
		s.metrics.AuthFailures.Inc()
		log.Warn("protocol version mismatch during handshake")
		s.sendError(conn, padrelay.ErrProtocolVersionDiffer, log)
		return false
	case errors.Is(err, protocol.ErrMalformed),
		errors.Is(err, protocol.ErrUnknownType),
		errors.Is(err, protocol.ErrFieldType),
		errors.Is(err, protocol.ErrMessageTooLarge):
		s.metrics.AuthFailures.Inc()
		log.Warn("malformed auth response", zap.Error(err))
		s.sendError(conn, padrelay.ErrInvalidMessageFormat, log)
		return false
	default:
		s.metrics.AuthFailures.Inc()
		log.Info("no auth response", zap.Error(err))
		return false
	}

	resp, ok := m.(*protocol.AuthResponse)
	if !ok || resp.Response == "" {
		s.metrics.AuthFailures.Inc()
		log.Warn("unexpected handshake message", zap.String("type", string(m.Type())))
		s.sendError(conn, padrelay.ErrInvalidAuthResponse, log)
		return false
	}
	if !s.auth.Verify(challenge, resp.Response) {
		s.metrics.AuthFailures.Inc()
		log.Warn("authentication failed")
		if err := transport.WriteMessage(conn, &protocol.AuthFailed{Message: padrelay.ErrAuthenticationFailed}); err != nil {
			log.Debug("send auth_failed", zap.Error(err))
		}
		return false
	}
	return true
}

// stream reads messages until the peer leaves, goes quiet for a heartbeat
// interval or sends something unreadable.
func (s *Server) stream(conn transport.Conn, addr string, log *zap.Logger) {
	limiter := rate.NewLimiter(s.cfg.InboundRate, burstFor(s.cfg.InboundRate))
	inputs := 0

	for {
		m, err := transport.ReadMessage(conn, s.cfg.HeartbeatInterval)
		if err != nil {
			switch {
			case errors.Is(err, protocol.ErrVersionMismatch), errors.Is(err, protocol.ErrUnknownType):
				log.Debug("skipping message", zap.Error(err))
				continue
			case errors.Is(err, protocol.ErrFieldType):
				if errors.Is(err, protocol.ErrInvalidInput) {
					s.metrics.InvalidInputs.Inc()
				}
				log.Debug("skipping message with mistyped fields", zap.Error(err))
				continue
			case errors.Is(err, io.EOF), transport.IsClosed(err):
			case transport.IsTimeout(err):
				log.Info("client silent for a heartbeat interval", zap.Duration("timeout", s.cfg.HeartbeatInterval))
			default:
				log.Warn("closing session", zap.Error(err))
			}
			return
		}

		if !limiter.Allow() {
			time.Sleep(softCapDelay)
		}

		switch msg := m.(type) {
		case *protocol.Heartbeat:
			s.metrics.Heartbeats.Inc()
			s.tracker.Touch(addr)
			if err := transport.WriteMessage(conn, &protocol.HeartbeatAck{}); err != nil {
				log.Debug("send heartbeat_ack", zap.Error(err))
				return
			}
		case *protocol.Input:
			inputs++
			if inputs%s.cfg.ValidateEvery == 0 {
				if err := protocol.ValidateInput(msg); err != nil {
					s.metrics.InvalidInputs.Inc()
					log.Debug("dropping invalid input", zap.Error(err))
					continue
				}
			}
			s.forward(msg, log)
		default:
			log.Debug("ignoring message", zap.String("type", string(m.Type())))
		}
	}
}

func (s *Server) forward(in *protocol.Input, log *zap.Logger) {
	if err := s.handler.Process(in); err != nil {
		log.Warn("gamepad update failed", zap.Error(err))
		return
	}
	s.metrics.Inputs.Inc()
	s.metrics.LastInput.Mark(time.Now())
}

func (s *Server) reject(conn transport.Conn, log *zap.Logger) {
	s.metrics.Rejected.Inc()
	log.Info("rejecting connection, session limit reached",
		zap.Int("max_connections", s.cfg.MaxConnections))
	s.sendError(conn, padrelay.ErrAlreadyConnected, log)
}

func (s *Server) sendError(conn transport.Conn, message string, log *zap.Logger) {
	if err := transport.WriteMessage(conn, &protocol.Error{Message: message}); err != nil {
		log.Debug("send error", zap.Error(err))
	}
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func burstFor(limit rate.Limit) int {
	if limit == rate.Inf || limit > 1e6 {
		return 1
	}
	if b := int(limit); b > 0 {
		return b
	}
	return 1
}
