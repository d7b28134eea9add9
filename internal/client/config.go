package client

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/luciancaetano/padrelay"
)

const (
	defaultUpdateRate     = 60
	maxUpdateRate         = 1000
	defaultParamsTimeout  = 200 * time.Millisecond
	defaultTimestampEvery = 10
	defaultDialTimeout    = 10 * time.Second
)

var errInvalidConfig = errors.New("invalid client config")

// Config configures a Client. Zero fields take defaults.
type Config struct {
	// ServerAddr is host:port. A bare host gets the default port.
	ServerAddr string
	// Transport defaults to tcp.
	Transport padrelay.Transport
	// Password is a plaintext password or a pbkdf2_sha256$... hash string.
	Password string
	// TLS enables TLS for tcp and ws and configures quic. nil means no TLS
	// for tcp and ws, and no certificate checks for quic.
	TLS *tls.Config

	// UpdateRate is the number of input polls per second.
	UpdateRate int
	// TimestampEvery stamps every Nth input message with the send time.
	TimestampEvery int

	HeartbeatInterval time.Duration
	// AckTimeout bounds the wait for a heartbeat_ack.
	AckTimeout time.Duration
	// AuthTimeout bounds each wait during the stream handshake.
	AuthTimeout time.Duration
	// ParamsTimeout bounds the wait for auth_params at the start of a udp
	// session.
	ParamsTimeout time.Duration
	// ReconnectDelay is the pause between sessions.
	ReconnectDelay time.Duration
	DialTimeout    time.Duration

	Logger *zap.Logger
}

func normalizeConfig(cfg Config) (Config, error) {
	if cfg.Transport == "" {
		cfg.Transport = padrelay.TransportTCP
	}
	if !cfg.Transport.Valid() {
		return Config{}, fmt.Errorf("%w: %s: %q", errInvalidConfig, padrelay.ErrUnsupportedTransport, cfg.Transport)
	}
	addr, err := normalizeAddr(cfg.ServerAddr)
	if err != nil {
		return Config{}, fmt.Errorf("%w: server address: %v", errInvalidConfig, err)
	}
	cfg.ServerAddr = addr

	if cfg.UpdateRate <= 0 {
		cfg.UpdateRate = defaultUpdateRate
	}
	if cfg.UpdateRate > maxUpdateRate {
		return Config{}, fmt.Errorf("%w: update rate %d above %d", errInvalidConfig, cfg.UpdateRate, maxUpdateRate)
	}
	if cfg.TimestampEvery <= 0 {
		cfg.TimestampEvery = defaultTimestampEvery
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = padrelay.HeartbeatInterval
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = padrelay.HeartbeatAckTimeout
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = padrelay.AuthTimeout
	}
	if cfg.ParamsTimeout <= 0 {
		cfg.ParamsTimeout = defaultParamsTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = padrelay.ReconnectDelay
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg, nil
}

func normalizeAddr(addr string) (string, error) {
	if addr == "" {
		return net.JoinHostPort("127.0.0.1", strconv.Itoa(padrelay.DefaultPort)), nil
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr, nil
	}
	// A bare host, possibly an unbracketed IPv6 literal.
	if ip := net.ParseIP(addr); ip != nil || !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, strconv.Itoa(padrelay.DefaultPort)), nil
	}
	_, _, err := net.SplitHostPort(addr)
	return "", err
}

