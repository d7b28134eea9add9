package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/padrelay"
	"github.com/luciancaetano/padrelay/internal/gamepad"
)

const (
	defaultHost            = "127.0.0.1"
	defaultMaxConnections  = 1
	defaultRateWindow      = 60 * time.Second
	defaultMaxRequests     = 100
	defaultUDPMaxRequests  = 6000
	defaultBlockDuration   = 2 * time.Second
	defaultValidateEvery   = 10
	defaultInboundRate     = 1000
	defaultMetricsInterval = time.Minute

	softCapDelay = 10 * time.Millisecond
)

var errInvalidConfig = errors.New("invalid server config")

// Config configures a Server. Zero fields take defaults.
type Config struct {
	// ListenAddr is host:port. Defaults to 127.0.0.1:9999.
	ListenAddr string
	// Transport defaults to tcp.
	Transport padrelay.Transport
	// Password is a plaintext password or a pbkdf2_sha256$... hash string.
	// Empty runs the server without authentication.
	Password string
	// AllowOpen must be set to run a stream server without a password.
	AllowOpen bool
	// TLS enables TLS for tcp and ws. quic always uses TLS and generates a
	// certificate when TLS is nil.
	TLS *tls.Config

	// MaxConnections caps concurrently authenticated stream sessions.
	MaxConnections int
	// RateWindow, MaxRequests and BlockDuration set the per-address rate
	// limit. Stream transports count connection attempts, udp counts
	// datagrams. MaxRequests defaults to 100, or 6000 for udp.
	RateWindow    time.Duration
	MaxRequests   int
	BlockDuration time.Duration

	// HeartbeatInterval is the stream read timeout. A client that sends
	// nothing for this long is dropped.
	HeartbeatInterval time.Duration
	// AuthTimeout bounds the wait for auth_response.
	AuthTimeout time.Duration
	// ValidateEvery validates every Nth stream input message. udp validates
	// every datagram.
	ValidateEvery int
	// InboundRate is the per-session soft cap in messages per second. Above
	// it the session is slowed down, never rejected.
	InboundRate rate.Limit
	// UDPIdleReset returns the gamepad to neutral when no udp input arrived
	// for this long. Defaults to HeartbeatInterval plus the ack timeout.
	UDPIdleReset time.Duration

	// MetricsInterval sets how often metrics are logged. Negative disables.
	MetricsInterval time.Duration

	// Gamepad tunes input translation. nil uses gamepad.DefaultOptions.
	Gamepad *gamepad.Options
	Logger  *zap.Logger
}

func normalizeConfig(cfg Config) (Config, error) {
	if cfg.Transport == "" {
		cfg.Transport = padrelay.TransportTCP
	}
	if !cfg.Transport.Valid() {
		return Config{}, fmt.Errorf("%w: %s: %q", errInvalidConfig, padrelay.ErrUnsupportedTransport, cfg.Transport)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = net.JoinHostPort(defaultHost, strconv.Itoa(padrelay.DefaultPort))
	}
	if _, _, err := net.SplitHostPort(cfg.ListenAddr); err != nil {
		return Config{}, fmt.Errorf("%w: listen address: %v", errInvalidConfig, err)
	}
	if cfg.Password == "" && cfg.Transport.IsStream() && !cfg.AllowOpen {
		return Config{}, fmt.Errorf("%w: a password is required unless open access is allowed", errInvalidConfig)
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaultMaxConnections
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = defaultRateWindow
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = defaultMaxRequests
		if cfg.Transport == padrelay.TransportUDP {
			cfg.MaxRequests = defaultUDPMaxRequests
		}
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = defaultBlockDuration
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = padrelay.HeartbeatInterval
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = padrelay.AuthTimeout
	}
	if cfg.ValidateEvery <= 0 {
		cfg.ValidateEvery = defaultValidateEvery
	}
	if cfg.InboundRate <= 0 {
		cfg.InboundRate = defaultInboundRate
	}
	if cfg.UDPIdleReset <= 0 {
		cfg.UDPIdleReset = cfg.HeartbeatInterval + padrelay.HeartbeatAckTimeout
	}
	if cfg.MetricsInterval == 0 {
		cfg.MetricsInterval = defaultMetricsInterval
	}
	if cfg.Gamepad == nil {
		opts := gamepad.DefaultOptions()
		cfg.Gamepad = &opts
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg, nil
}
