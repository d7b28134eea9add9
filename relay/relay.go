// Package relay is the public entry point for embedding a padrelay server or
// client in another program.
package relay

import (
	"go.uber.org/zap"

	"github.com/luciancaetano/padrelay"
	"github.com/luciancaetano/padrelay/internal/auth"
	"github.com/luciancaetano/padrelay/internal/client"
	"github.com/luciancaetano/padrelay/internal/gamepad"
	"github.com/luciancaetano/padrelay/internal/input"
	"github.com/luciancaetano/padrelay/internal/server"
)

type ServerConfig = server.Config
type ClientConfig = client.Config
type Server = server.Server
type Client = client.Client
type ClientState = client.State
type GamepadOptions = gamepad.Options
type VirtualPad = gamepad.VirtualPad
type Joystick = input.Joystick

// Client states.
const (
	StateDisconnected   = client.StateDisconnected
	StateConnecting     = client.StateConnecting
	StateAuthenticating = client.StateAuthenticating
	StateStreaming      = client.StateStreaming
)

var (
	ErrAuthFailed       = client.ErrAuthFailed
	ErrRejected         = client.ErrRejected
	ErrHeartbeatTimeout = client.ErrHeartbeatTimeout
)

// NewServer creates a server driving sink. Call Start to begin listening.
//
// Example:
//
//	pad, _ := relay.NewVirtualPad("xbox360", nil, logger)
//	srv, err := relay.NewServer(relay.ServerConfig{
//	    ListenAddr: "0.0.0.0:9999",
//	    Password:   "secret",
//	    Logger:     logger,
//	}, pad)
//	if err != nil {
//	    return err
//	}
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//	defer srv.Stop(context.Background())
func NewServer(cfg ServerConfig, sink padrelay.GamepadSink) (*Server, error) {
	return server.New(cfg, sink)
}

// NewClient creates a client reading from src. Call Run to start streaming.
func NewClient(cfg ClientConfig, src padrelay.InputSource) (*Client, error) {
	return client.New(cfg, src)
}

// NewVirtualPad returns an in-memory gamepad of the given kind ("xbox360" or
// "ds4"). A nil buttonMap selects the default layout.
func NewVirtualPad(kind string, buttonMap map[int]padrelay.Button, log *zap.Logger) (*VirtualPad, error) {
	k, err := gamepad.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	return gamepad.NewVirtualPad(k, buttonMap, log), nil
}

// DefaultGamepadOptions returns the default dead zone and trigger threshold.
func DefaultGamepadOptions() GamepadOptions {
	return gamepad.DefaultOptions()
}

// OpenJoystick opens the physical joystick at index.
func OpenJoystick(index int, log *zap.Logger) (*Joystick, error) {
	return input.OpenJoystick(index, log)
}

// FindJoystick opens the first joystick with an index below maxIndex.
func FindJoystick(maxIndex int, log *zap.Logger) (*Joystick, error) {
	return input.FindFirst(maxIndex, log)
}

// HashPassword returns a pbkdf2_sha256$... string suitable for
// ServerConfig.Password.
func HashPassword(password string) (string, error) {
	return auth.HashPassword(password, auth.DefaultIterations)
}
