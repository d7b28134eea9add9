// Package transport carries framed protocol messages over TCP, TLS, QUIC and
// WebSocket behind one Conn interface, and sets up UDP sockets.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/luciancaetano/padrelay"
	"github.com/luciancaetano/padrelay/internal/protocol"
)

const (
	writeTimeout = 10 * time.Second
	bufferSize   = 64 * 1024
)

// Conn is one framed, bidirectional session carrier. Writes are safe for
// concurrent use; reads must come from a single goroutine.
type Conn interface {
	// ReadFrame returns the next message body. A zero timeout waits forever.
	// A clean close by the peer is reported as io.EOF.
	ReadFrame(timeout time.Duration) ([]byte, error)
	// WriteFrame sends one message body.
	WriteFrame(payload []byte) error
	// Close releases the carrier. It is safe to call more than once.
	Close() error
	// RemoteAddr returns the peer's address.
	RemoteAddr() net.Addr
}

// Listener accepts stream sessions.
type Listener interface {
	// Accept waits for the next session. Close unblocks it.
	Accept(ctx context.Context) (Conn, error)
	Close() error
	Addr() net.Addr
}

// ReadMessage reads and decodes one message from c.
func ReadMessage(c Conn, timeout time.Duration) (protocol.Message, error) {
	body, err := c.ReadFrame(timeout)
	if err != nil {
		return nil, err
	}
	return protocol.Unmarshal(body)
}

// WriteMessage encodes m and writes it to c.
func WriteMessage(c Conn, m protocol.Message) error {
	body, err := protocol.Marshal(m)
	if err != nil {
		return err
	}
	return c.WriteFrame(body)
}

// Listen opens a stream listener for t on addr. tlsConf enables TLS for tcp
// and ws; quic always uses TLS and generates an ephemeral certificate when
// tlsConf is nil.
func Listen(ctx context.Context, t padrelay.Transport, addr string, tlsConf *tls.Config) (Listener, error) {
	switch t {
	case padrelay.TransportTCP:
		return listenTCP(ctx, addr, tlsConf)
	case padrelay.TransportQUIC:
		return listenQUIC(addr, tlsConf)
	case padrelay.TransportWebSocket:
		return listenWebSocket(ctx, addr, tlsConf)
	}
	return nil, fmt.Errorf("%s: %q", padrelay.ErrUnsupportedTransport, t)
}

// Dial connects a stream session of type t to addr. A nil tlsConf disables
// TLS for tcp and ws, and skips certificate checks for quic.
func Dial(ctx context.Context, t padrelay.Transport, addr string, tlsConf *tls.Config) (Conn, error) {
	switch t {
	case padrelay.TransportTCP:
		return dialTCP(ctx, addr, tlsConf)
	case padrelay.TransportQUIC:
		return dialQUIC(ctx, addr, tlsConf)
	case padrelay.TransportWebSocket:
		return dialWebSocket(ctx, addr, tlsConf)
	}
	return nil, fmt.Errorf("%s: %q", padrelay.ErrUnsupportedTransport, t)
}

// IsTimeout reports whether err is a read or write deadline expiry.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsClosed reports whether err comes from using a closed carrier.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

func deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}
