package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/luciancaetano/padrelay/internal/protocol"
)

type deadlineRWC interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// streamConn frames messages with the 4-byte length prefix over a byte
// stream: a TCP or TLS connection, or a QUIC stream.
type streamConn struct {
	rwc    deadlineRWC
	remote net.Addr

	// mapErr translates carrier specific close errors; may be nil.
	mapErr func(error) error
	// onClose runs after rwc is closed; may be nil.
	onClose func() error

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *streamConn) ReadFrame(timeout time.Duration) ([]byte, error) {
	if err := c.rwc.SetReadDeadline(deadline(timeout)); err != nil {
		return nil, c.translate(err)
	}
	body, err := protocol.ReadFrame(c.rwc)
	if err != nil {
		return nil, c.translate(err)
	}
	return body, nil
}

func (c *streamConn) WriteFrame(payload []byte) error {
	frame, err := protocol.EncodeFrame(payload)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.rwc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return c.translate(err)
	}
	if _, err := c.rwc.Write(frame); err != nil {
		return c.translate(err)
	}
	return nil
}

func (c *streamConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rwc.Close()
		if c.onClose != nil {
			if err := c.onClose(); err != nil && c.closeErr == nil {
				c.closeErr = err
			}
		}
	})
	return c.closeErr
}

func (c *streamConn) RemoteAddr() net.Addr {
	return c.remote
}

func (c *streamConn) translate(err error) error {
	if c.mapErr != nil {
		return c.mapErr(err)
	}
	return err
}

// tcpListener accepts TCP connections, optionally wrapping them in TLS.
type tcpListener struct {
	ln      net.Listener
	tlsConf *tls.Config
}

func listenTCP(ctx context.Context, addr string, tlsConf *tls.Config) (*tcpListener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tcpListener{ln: ln, tlsConf: tlsConf}, nil
}

func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nc, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	TuneTCP(nc)

	var rwc deadlineRWC = nc
	if l.tlsConf != nil {
		rwc = tls.Server(nc, l.tlsConf)
	}
	return &streamConn{rwc: rwc, remote: nc.RemoteAddr()}, nil
}

func (l *tcpListener) Close() error   { return l.ln.Close() }
func (l *tcpListener) Addr() net.Addr { return l.ln.Addr() }

func dialTCP(ctx context.Context, addr string, tlsConf *tls.Config) (Conn, error) {
	d := &net.Dialer{}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	TuneTCP(nc)

	if tlsConf == nil {
		return &streamConn{rwc: nc, remote: nc.RemoteAddr()}, nil
	}

	tc := tls.Client(nc, tlsConfForHost(tlsConf, addr))
	if err := tc.HandshakeContext(ctx); err != nil {
		_ = nc.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return &streamConn{rwc: tc, remote: nc.RemoteAddr()}, nil
}

// Handshake completes a pending server-side TLS handshake on c. It is a no-op
// for carriers without one.
func Handshake(ctx context.Context, c Conn) error {
	sc, ok := c.(*streamConn)
	if !ok {
		return nil
	}
	tc, ok := sc.rwc.(*tls.Conn)
	if !ok {
		return nil
	}
	return tc.HandshakeContext(ctx)
}

// TuneTCP disables Nagle's algorithm and sets 64 KiB socket buffers. Errors
// are ignored; tuning is best effort.
func TuneTCP(c net.Conn) {
	if tc, ok := c.(*tls.Conn); ok {
		c = tc.NetConn()
	}
	tcp, ok := c.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tcp.SetNoDelay(true)
	_ = tcp.SetReadBuffer(bufferSize)
	_ = tcp.SetWriteBuffer(bufferSize)
}

func tlsConfForHost(cfg *tls.Config, addr string) *tls.Config {
	if cfg.ServerName != "" || cfg.InsecureSkipVerify {
		return cfg
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return cfg
	}
	out := cfg.Clone()
	out.ServerName = host
	return out
}

