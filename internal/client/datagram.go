package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luciancaetano/padrelay"
	"github.com/luciancaetano/padrelay/internal/protocol"
	"github.com/luciancaetano/padrelay/internal/transport"
)

func (c *Client) runDatagram(ctx context.Context) error {
	log := c.log.With(zap.String("session", uuid.NewString()), zap.String("server", c.cfg.ServerAddr))

	c.setState(StateConnecting)
	conn, err := transport.DialUDP(c.cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	untrack, ok := c.coord.Track(conn)
	if !ok {
		_ = conn.Close()
		return nil
	}
	defer func() {
		untrack()
		_ = conn.Close()
	}()

	c.fetchParams(conn, log)
	c.setState(StateStreaming)
	log.Info("streaming", zap.String("transport", string(c.cfg.Transport)))

	// Zero so the first heartbeat goes out with the first tick.
	var lastBeat time.Time
	err = c.pump(ctx, func(in *protocol.Input) error {
		in.AuthToken = c.auth.UDPToken(time.Now())
		return c.sendDatagram(conn, in)
	}, func() error {
		if time.Since(lastBeat) < c.cfg.HeartbeatInterval {
			return nil
		}
		lastBeat = time.Now()
		return c.udpHeartbeat(conn)
	})
	log.Info("stopped streaming", zap.Error(err))
	return err
}

// fetchParams asks a hash-only server for its key derivation parameters. A
// server that does not answer within ParamsTimeout holds the plaintext, and
// tokens keyed by the plaintext are what it expects.
func (c *Client) fetchParams(conn *net.UDPConn, log *zap.Logger) {
	if !c.auth.HasPlaintext() {
		return
	}
	if err := c.sendDatagram(conn, &protocol.AuthParamsRequest{}); err != nil {
		log.Debug("send auth_params_request", zap.Error(err))
		return
	}

	m, err := c.awaitDatagram(conn, c.cfg.ParamsTimeout, protocol.TypeAuthParams)
	if err != nil {
		log.Debug("no auth_params, keying tokens by the password", zap.Error(err))
		return
	}
	params := m.(*protocol.AuthParams)
	if err := c.auth.SetParameters(params.Salt, params.Iterations); err != nil {
		log.Warn("server sent unusable auth parameters", zap.Error(err))
		return
	}
	c.auth.DropPlaintext()
	log.Info("adopted server auth parameters", zap.Int("iterations", params.Iterations))
}

func (c *Client) udpHeartbeat(conn *net.UDPConn) error {
	if err := c.sendDatagram(conn, &protocol.Heartbeat{AuthToken: c.auth.UDPToken(time.Now())}); err != nil {
		return fmt.Errorf("send heartbeat: %w", err)
	}
	if _, err := c.awaitDatagram(conn, c.cfg.AckTimeout, protocol.TypeHeartbeatAck); err != nil {
		if transport.IsTimeout(err) {
			return ErrHeartbeatTimeout
		}
		return err
	}
	c.acked.Inc()
	return nil
}

// awaitDatagram reads until a message of type want arrives or timeout
// passes. Anything else is skipped.
func (c *Client) awaitDatagram(conn *net.UDPConn, timeout time.Duration, want protocol.MessageType) (protocol.Message, error) {
	buf := make([]byte, padrelay.MaxMessageSize+1)
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	for {
		n, err := conn.Read(buf)
		if err != nil {
			return nil, err
		}
		m, err := protocol.DecodeDatagram(buf[:n])
		if err != nil {
			c.log.Debug("dropping datagram", zap.Error(err))
			continue
		}
		if m.Type() == want {
			return m, nil
		}
	}
}

// sendDatagram drops messages too large for one datagram instead of failing
// the session.
func (c *Client) sendDatagram(conn *net.UDPConn, m protocol.Message) error {
	data, err := protocol.EncodeDatagram(m)
	if errors.Is(err, protocol.ErrMessageTooLarge) {
		c.log.Warn("dropping oversized datagram", zap.String("type", string(m.Type())), zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}
	_, err = conn.Write(data)
	return err
}
