package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luciancaetano/padrelay/internal/protocol"
	"github.com/luciancaetano/padrelay/internal/transport"
)

func (c *Client) runStream(ctx context.Context) error {
	log := c.log.With(zap.String("session", uuid.NewString()), zap.String("server", c.cfg.ServerAddr))

	c.setState(StateConnecting)
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, err := transport.Dial(dctx, c.cfg.Transport, c.cfg.ServerAddr, c.cfg.TLS)
	cancel()
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

	c.setState(StateAuthenticating)
	if err := c.handshake(conn); err != nil {
		return err
	}
	c.setState(StateStreaming)
	log.Info("connected", zap.String("transport", string(c.cfg.Transport)))

	sctx, stop := context.WithCancel(ctx)
	acks := make(chan struct{}, 1)
	errc := make(chan error, 3)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		errc <- c.readLoop(conn, acks)
	}()
	go func() {
		defer wg.Done()
		errc <- c.heartbeatLoop(sctx, conn, acks)
	}()
	go func() {
		defer wg.Done()
		errc <- c.pump(sctx, func(in *protocol.Input) error {
			return transport.WriteMessage(conn, in)
		}, nil)
	}()

	err = <-errc
	stop()
	// Unblocks the reader.
	_ = conn.Close()
	wg.Wait()

	if err == nil {
		err = ctx.Err()
	}
	log.Info("disconnected", zap.Error(err))
	return err
}

// handshake answers the server's challenge. An open server sends
// auth_success straight away.
func (c *Client) handshake(conn transport.Conn) error {
	m, err := transport.ReadMessage(conn, c.cfg.AuthTimeout)
	if err != nil {
		return fmt.Errorf("read challenge: %w", err)
	}

	var ch *protocol.AuthChallenge
	switch msg := m.(type) {
	case *protocol.AuthSuccess:
		return nil
	case *protocol.Error:
		return fmt.Errorf("%w: %s", ErrRejected, msg.Message)
	case *protocol.AuthChallenge:
		ch = msg
	default:
		return fmt.Errorf("%w: %s during handshake", ErrUnexpectedMessage, m.Type())
	}

	if ch.Salt != "" && ch.Iterations > 0 {
		if err := c.auth.SetParameters(ch.Salt, ch.Iterations); err != nil {
			return fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
	}
	if err := transport.WriteMessage(conn, &protocol.AuthResponse{Response: c.auth.Response(ch.Challenge)}); err != nil {
		return fmt.Errorf("send auth_response: %w", err)
	}

	m, err = transport.ReadMessage(conn, c.cfg.AuthTimeout)
	if err != nil {
		return fmt.Errorf("read verdict: %w", err)
	}
	switch msg := m.(type) {
	case *protocol.AuthSuccess:
		return nil
	case *protocol.AuthFailed:
		return fmt.Errorf("%w: %s", ErrAuthFailed, msg.Message)
	case *protocol.Error:
		return fmt.Errorf("%w: %s", ErrRejected, msg.Message)
	}
	return fmt.Errorf("%w: %s during handshake", ErrUnexpectedMessage, m.Type())
}

// readLoop consumes server messages until the connection ends.
func (c *Client) readLoop(conn transport.Conn, acks chan<- struct{}) error {
	for {
		m, err := transport.ReadMessage(conn, 0)
		if err != nil {
			if errors.Is(err, protocol.ErrVersionMismatch) || errors.Is(err, protocol.ErrUnknownType) ||
				errors.Is(err, protocol.ErrFieldType) {
				c.log.Debug("skipping server message", zap.Error(err))
				continue
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("server closed the connection: %w", err)
			}
			return err
		}

		switch msg := m.(type) {
		case *protocol.HeartbeatAck:
			select {
			case acks <- struct{}{}:
			default:
			}
		case *protocol.Error:
			return fmt.Errorf("%w: %s", ErrRejected, msg.Message)
		default:
			c.log.Debug("ignoring server message", zap.String("type", string(m.Type())))
		}
	}
}

// heartbeatLoop sends a heartbeat on entering Streaming and then every
// HeartbeatInterval, and fails when one is not acknowledged within
// AckTimeout. The first beat goes out at once because the server drops a
// session that stays silent for a full interval.
func (c *Client) heartbeatLoop(ctx context.Context, conn transport.Conn, acks <-chan struct{}) error {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		// Drop a stale ack left over from an earlier round.
		select {
		case <-acks:
		default:
		}
		if err := transport.WriteMessage(conn, &protocol.Heartbeat{}); err != nil {
			return fmt.Errorf("send heartbeat: %w", err)
		}

		timer := time.NewTimer(c.cfg.AckTimeout)
		select {
		case <-acks:
			timer.Stop()
			c.acked.Inc()
		case <-timer.C:
			return ErrHeartbeatTimeout
		case <-ctx.Done():
			timer.Stop()
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
