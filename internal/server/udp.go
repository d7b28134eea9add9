package server

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/luciancaetano/padrelay"
	"github.com/luciancaetano/padrelay/internal/protocol"
	"github.com/luciancaetano/padrelay/internal/transport"
)

// serveUDP handles datagrams one at a time. Once input stops arriving for
// UDPIdleReset the gamepad returns to neutral, since there is no connection
// whose close would trigger it.
func (s *Server) serveUDP(pc *net.UDPConn) {
	defer s.wg.Done()

	// One extra byte so an oversized datagram is seen as such.
	buf := make([]byte, padrelay.MaxMessageSize+1)
	var lastInput time.Time
	dirty := false

	for {
		var dl time.Time
		if dirty {
			dl = lastInput.Add(s.cfg.UDPIdleReset)
		}
		_ = pc.SetReadDeadline(dl)

		n, from, err := pc.ReadFromUDP(buf)
		if err != nil {
			if s.coord.Stopping() || transport.IsClosed(err) {
				return
			}
			if transport.IsTimeout(err) {
				if dirty && time.Since(lastInput) >= s.cfg.UDPIdleReset {
					s.log.Info("no udp input, resetting gamepad", zap.Duration("idle", s.cfg.UDPIdleReset))
					if err := s.handler.Reset(); err != nil {
						s.log.Warn("reset gamepad", zap.Error(err))
					}
					dirty = false
				}
				continue
			}
			s.log.Warn("udp read failed", zap.Error(err))
			continue
		}

		if s.handleDatagram(pc, from, buf[:n]) {
			lastInput = time.Now()
			dirty = true
		}
	}
}

// handleDatagram processes one datagram and reports whether it carried input
// that reached the gamepad.
func (s *Server) handleDatagram(pc *net.UDPConn, from *net.UDPAddr, data []byte) bool {
	addr := from.String()

	if s.tracker.IsBlocked(addr) {
		s.metrics.DroppedDatagrams.Inc()
		return false
	}
	if s.tracker.IsRateLimited(addr) {
		s.metrics.RateLimited.Inc()
		s.metrics.DroppedDatagrams.Inc()
		s.log.Warn("too many datagrams, blocking address",
			zap.String("addr", addr), zap.Duration("block", s.cfg.BlockDuration))
		return false
	}

	m, err := protocol.DecodeDatagram(data)
	if err != nil {
		s.metrics.DroppedDatagrams.Inc()
		s.log.Debug("dropping datagram", zap.String("addr", addr), zap.Error(err))
		return false
	}

	if _, ok := m.(*protocol.AuthParamsRequest); ok {
		// Only a hash-only server has parameters worth sharing. A server with
		// the plaintext keys tokens by it directly.
		if s.auth.Configured() && !s.auth.HasPlaintext() {
			s.reply(pc, from, &protocol.AuthParams{Salt: s.auth.Salt(), Iterations: s.auth.Iterations()})
		}
		return false
	}

	if !s.auth.AuthenticateUDP(datagramToken(m), time.Now()) {
		s.metrics.AuthFailures.Inc()
		s.metrics.DroppedDatagrams.Inc()
		s.log.Debug("dropping unauthenticated datagram", zap.String("addr", addr),
			zap.String("type", string(m.Type())))
		return false
	}

	switch msg := m.(type) {
	case *protocol.Heartbeat:
		s.metrics.Heartbeats.Inc()
		s.tracker.Touch(addr)
		s.reply(pc, from, &protocol.HeartbeatAck{})
	case *protocol.Input:
		if err := protocol.ValidateInput(msg); err != nil {
			s.metrics.InvalidInputs.Inc()
			s.log.Debug("dropping invalid input", zap.String("addr", addr), zap.Error(err))
			return false
		}
		s.forward(msg, s.log)
		return true
	default:
		s.metrics.DroppedDatagrams.Inc()
		s.log.Debug("ignoring datagram", zap.String("addr", addr), zap.String("type", string(m.Type())))
	}
	return false
}

func (s *Server) reply(pc *net.UDPConn, to *net.UDPAddr, m protocol.Message) {
	data, err := protocol.EncodeDatagram(m)
	if err != nil {
		s.log.Warn("encode datagram", zap.Error(err))
		return
	}
	if _, err := pc.WriteToUDP(data, to); err != nil {
		s.log.Debug("udp write failed", zap.String("addr", to.String()), zap.Error(err))
	}
}

func datagramToken(m protocol.Message) string {
	switch msg := m.(type) {
	case *protocol.Input:
		return msg.AuthToken
	case *protocol.Heartbeat:
		return msg.AuthToken
	}
	return ""
}
