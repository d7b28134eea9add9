package padrelay

import "time"

// Protocol constants shared by client and server.
const (
	// ProtocolVersion must be present on every message. There is no
	// negotiation: any other value is rejected.
	ProtocolVersion = "1.0"

	// MaxMessageSize caps a TCP frame body and a UDP datagram.
	MaxMessageSize = 4096

	// DefaultPort is used when no port is configured.
	DefaultPort = 9999

	// HeartbeatInterval is the client heartbeat cadence and the server's
	// streaming read timeout.
	HeartbeatInterval = 30 * time.Second

	// HeartbeatAckTimeout bounds the wait for a heartbeat_ack.
	HeartbeatAckTimeout = 5 * time.Second

	// AuthTimeout bounds each wait during the stream handshake.
	AuthTimeout = 5 * time.Second

	// ReconnectDelay is the fixed pause between client reconnect attempts.
	ReconnectDelay = 5 * time.Second
)

// Messages carried in error and auth_failed payloads.
const (
	ErrAlreadyConnected      = "Another client is already connected."
	ErrInvalidAuthResponse   = "Invalid authentication response"
	ErrAuthenticationFailed  = "Authentication failed"
	ErrServerShuttingDown    = "Server is shutting down"
	ErrServerAlreadyRunning  = "server already running"
	ErrConnectionClosed      = "connection is closed"
	ErrFailedToEncode        = "failed to encode message"
	ErrUnsupportedTransport  = "unsupported transport"
	ErrInvalidMessageFormat  = "Invalid message format"
	ErrProtocolVersionDiffer = "Protocol version mismatch"
)
