package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/padrelay"
	"github.com/luciancaetano/padrelay/internal/protocol"
)

// WebSocketPath is the HTTP path the ws transport is served on.
const WebSocketPath = "/padrelay"

const (
	wsHandshakeTimeout = 10 * time.Second
	wsCloseTimeout     = time.Second
	wsAcceptBacklog    = 16
)

// wsConn carries one protocol message per WebSocket text message.
type wsConn struct {
	ws *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func newWSConn(ws *websocket.Conn) *wsConn {
	ws.SetReadLimit(padrelay.MaxMessageSize)
	return &wsConn{ws: ws}
}

func (c *wsConn) ReadFrame(timeout time.Duration) ([]byte, error) {
	if err := c.ws.SetReadDeadline(deadline(timeout)); err != nil {
		return nil, err
	}
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		switch {
		case errors.Is(err, websocket.ErrReadLimit):
			return nil, fmt.Errorf("%w: websocket message", protocol.ErrMessageTooLarge)
		case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure),
			errors.Is(err, io.ErrUnexpectedEOF):
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) WriteFrame(payload []byte) error {
	if len(payload) > padrelay.MaxMessageSize {
		return fmt.Errorf("%w: payload size %d", protocol.ErrMessageTooLarge, len(payload))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("%s: %w", padrelay.ErrConnectionClosed, net.ErrClosed)
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Close sends a close frame, then drops the connection.
func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseTimeout))
	return c.ws.Close()
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// wsListener serves WebSocketPath over HTTP and queues upgraded connections
// for Accept.
type wsListener struct {
	ln       net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	conns    chan *wsConn
	done     chan struct{}
	once     sync.Once
}

func listenWebSocket(ctx context.Context, addr string, tlsConf *tls.Config) (*wsListener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tlsConf != nil {
		ln = tls.NewListener(ln, tlsConf)
	}

	l := &wsListener{
		ln: ln,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Clients are native programs, not browsers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(chan *wsConn, wsAcceptBacklog),
		done:  make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(WebSocketPath, l.handleUpgrade)
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: wsHandshakeTimeout,
	}
	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.shutdown()
		}
	}()
	return l, nil
}

func (l *wsListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		return
	}
	TuneTCP(ws.UnderlyingConn())

	c := newWSConn(ws)
	select {
	case l.conns <- c:
	case <-l.done:
		_ = c.Close()
	}
}

func (l *wsListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *wsListener) Close() error {
	l.shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), wsCloseTimeout)
	defer cancel()
	err := l.server.Shutdown(ctx)

	// Drop upgraded connections nobody accepted.
	for {
		select {
		case c := <-l.conns:
			_ = c.Close()
		default:
			return err
		}
	}
}

func (l *wsListener) Addr() net.Addr { return l.ln.Addr() }

func (l *wsListener) shutdown() {
	l.once.Do(func() { close(l.done) })
}

func dialWebSocket(ctx context.Context, addr string, tlsConf *tls.Config) (Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: WebSocketPath}
	if tlsConf != nil {
		u.Scheme = "wss"
	}
	d := websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
		TLSClientConfig:  tlsConf,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	ws, _, err := d.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	TuneTCP(ws.UnderlyingConn())
	return newWSConn(ws), nil
}
