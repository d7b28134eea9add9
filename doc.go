// Package padrelay relays a physical gamepad on one machine to a virtual
// gamepad on another machine over the network.
//
// The root package holds the contracts shared by every part of the system:
// the InputSource polled by the client, the GamepadSink driven by the server,
// the Transport selector and the protocol constants. The session machinery
// lives in internal packages and is exposed through the relay package.
//
// # Architecture
//
// A client polls its InputSource at a fixed rate (60 Hz by default), turns
// each Snapshot into an "input" message and sends it to the server. The server
// authenticates the client, validates each message and applies it to its
// GamepadSink. Heartbeats flow in both directions through the same path so
// either side notices when the other one is gone.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/padrelay"
//	    "github.com/luciancaetano/padrelay/relay"
//	)
//
//	// Server
//	pad, _ := relay.NewVirtualPad("xbox360", nil, logger)
//	srv, err := relay.NewServer(relay.ServerConfig{
//	    ListenAddr: "0.0.0.0:9999",
//	    Transport:  padrelay.TransportTCP,
//	    Password:   "secret",
//	}, pad)
//	err = srv.Start(ctx)
//	defer srv.Stop(context.Background())
//
//	// Client
//	src, _ := relay.OpenJoystick(0, logger)
//	cli, err := relay.NewClient(relay.ClientConfig{
//	    ServerAddr: "192.168.1.10:9999",
//	    Transport:  padrelay.TransportTCP,
//	    Password:   "secret",
//	}, src)
//	err = cli.Run(ctx)
//
// # Protocol Format
//
// Every message is a UTF-8 JSON object carrying "type" and
// "protocol_version" ("1.0"). Stream transports frame each object as:
//
//	[4 bytes: body length (uint32, big-endian)][N bytes: JSON body]
//
// UDP sends one object per datagram. Bodies and datagrams are limited to
// 4096 bytes.
//
// # Transports
//
//   - tcp: length-prefixed frames over TCP, optionally wrapped in TLS
//   - quic: length-prefixed frames over a single QUIC stream (TLS 1.3)
//   - ws: one JSON object per WebSocket message
//   - udp: one JSON object per datagram, authenticated per message
//
// # Authentication
//
// Stream transports use an HMAC-SHA256 challenge-response keyed by a
// PBKDF2-SHA256 derived password hash. The server announces its salt and
// iteration count with the challenge so a client that only knows the
// plaintext password can derive the same key.
//
// UDP messages carry an HMAC-SHA256 token derived from the current 60 second
// window. The server also accepts the previous window to tolerate clock skew.
//
// # Rate Limiting
//
// The server counts requests per source address over a sliding window and
// blocks an address for a short period once it exceeds the limit. Only one
// authenticated session may stream into the virtual gamepad at a time by
// default.
package padrelay
