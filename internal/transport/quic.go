package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/luciancaetano/padrelay/internal/tlsconf"
)

// QUICALPN is the ALPN protocol negotiated by the quic transport.
const QUICALPN = "padrelay"

const (
	quicKeepAlive   = 15 * time.Second
	quicIdleTimeout = 60 * time.Second
)

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIncomingStreams:    1,
		MaxIncomingUniStreams: -1,
		KeepAlivePeriod:       quicKeepAlive,
		MaxIdleTimeout:        quicIdleTimeout,
	}
}

// quicListener hands out one bidirectional stream per QUIC connection. The
// server opens the stream and must write first, since the peer only learns
// about a stream once data arrives on it.
type quicListener struct {
	ln *quic.Listener
}

func listenQUIC(addr string, tlsConf *tls.Config) (*quicListener, error) {
	if tlsConf == nil {
		var err error
		if tlsConf, err = tlsconf.EphemeralServerConfig(); err != nil {
			return nil, fmt.Errorf("quic certificate: %w", err)
		}
	}
	ln, err := quic.ListenAddr(addr, tlsconf.WithALPN(tlsConf, QUICALPN), quicConfig())
	if err != nil {
		return nil, err
	}
	return &quicListener{ln: ln}, nil
}

func (l *quicListener) Accept(ctx context.Context) (Conn, error) {
	qc, err := l.ln.Accept(ctx)
	if err != nil {
		if errors.Is(err, quic.ErrServerClosed) {
			return nil, net.ErrClosed
		}
		return nil, err
	}
	stream, err := qc.OpenStreamSync(ctx)
	if err != nil {
		_ = qc.CloseWithError(0, "")
		return nil, err
	}
	return newQUICConn(qc, stream), nil
}

func (l *quicListener) Close() error   { return l.ln.Close() }
func (l *quicListener) Addr() net.Addr { return l.ln.Addr() }

func dialQUIC(ctx context.Context, addr string, tlsConf *tls.Config) (Conn, error) {
	if tlsConf == nil {
		tlsConf = &tls.Config{InsecureSkipVerify: true}
	}
	qc, err := quic.DialAddr(ctx, addr, tlsconf.WithALPN(tlsConfForHost(tlsConf, addr), QUICALPN), quicConfig())
	if err != nil {
		return nil, err
	}
	stream, err := qc.AcceptStream(ctx)
	if err != nil {
		_ = qc.CloseWithError(0, "")
		return nil, err
	}
	return newQUICConn(qc, stream), nil
}

func newQUICConn(qc quic.Connection, stream quic.Stream) *streamConn {
	return &streamConn{
		rwc:    stream,
		remote: qc.RemoteAddr(),
		mapErr: mapQUICError,
		onClose: func() error {
			return qc.CloseWithError(0, "")
		},
	}
}

// mapQUICError reports a peer's orderly connection close as io.EOF.
func mapQUICError(err error) error {
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && appErr.ErrorCode == 0 {
		return io.EOF
	}
	var idleErr *quic.IdleTimeoutError
	if errors.As(err, &idleErr) {
		return io.EOF
	}
	return err
}
