// Package config loads server and client settings from a config file and
// PADRELAY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/luciancaetano/padrelay"
	"github.com/luciancaetano/padrelay/internal/auth"
)

// EnvPrefix prefixes every environment override, e.g. PADRELAY_PORT.
const EnvPrefix = "PADRELAY"

// Password variables take precedence over the config file. The hash variable
// wins when both are set.
const (
	EnvPassword     = EnvPrefix + "_PASSWORD"
	EnvPasswordHash = EnvPrefix + "_PASSWORD_HASH"
)

// Source says where a setting came from.
type Source string

const (
	SourceDefault  Source = "default"
	SourceFile     Source = "file"
	SourceEnv      Source = "env"
	SourceOverride Source = "override"
)

// TLS holds certificate settings.
type TLS struct {
	Enabled      bool   `mapstructure:"enabled"`
	CertFile     string `mapstructure:"cert_file"`
	KeyFile      string `mapstructure:"key_file"`
	AutoGenerate bool   `mapstructure:"auto_generate"`
	Verify       bool   `mapstructure:"verify"`
	CAFile       string `mapstructure:"ca_file"`
}

// RateLimit mirrors the tracker policy.
type RateLimit struct {
	Window         time.Duration `mapstructure:"window"`
	MaxRequests    int           `mapstructure:"max_requests"`
	BlockDuration  time.Duration `mapstructure:"block_duration"`
	MaxConnections int           `mapstructure:"max_connections"`
}

// Gamepad configures the virtual pad and input translation.
type Gamepad struct {
	Type             string            `mapstructure:"type"`
	DeadZone         float64           `mapstructure:"dead_zone"`
	TriggerThreshold float64           `mapstructure:"trigger_threshold"`
	InvertLeftY      bool              `mapstructure:"invert_left_y"`
	InvertRightY     bool              `mapstructure:"invert_right_y"`
	AxisMap          map[string]int    `mapstructure:"axis_mapping"`
	ButtonMap        map[string]string `mapstructure:"button_mapping"`
}

// Server is the padrelay-server configuration.
type Server struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	Transport         string        `mapstructure:"transport"`
	Password          string        `mapstructure:"password"`
	AllowOpen         bool          `mapstructure:"allow_open"`
	LogLevel          string        `mapstructure:"log_level"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	MetricsInterval   time.Duration `mapstructure:"metrics_interval"`
	TLS               TLS           `mapstructure:"tls"`
	RateLimit         RateLimit     `mapstructure:"rate_limit"`
	Gamepad           Gamepad       `mapstructure:"gamepad"`

	// PasswordSource records where Password came from.
	PasswordSource Source `mapstructure:"-"`
}

// Client is the padrelay-client configuration.
type Client struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	Transport         string        `mapstructure:"transport"`
	Password          string        `mapstructure:"password"`
	LogLevel          string        `mapstructure:"log_level"`
	Joystick          int           `mapstructure:"joystick"`
	UpdateRate        int           `mapstructure:"update_rate"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	TLS               TLS           `mapstructure:"tls"`

	PasswordSource Source `mapstructure:"-"`
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", padrelay.DefaultPort)
	v.SetDefault("transport", string(padrelay.TransportTCP))
	v.SetDefault("password", "")
	v.SetDefault("allow_open", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("heartbeat_interval", padrelay.HeartbeatInterval)
	v.SetDefault("metrics_interval", time.Minute)
	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("tls.auto_generate", true)
	v.SetDefault("rate_limit.window", 60*time.Second)
	// Zero lets the server pick 100 for stream transports, 6000 for udp.
	v.SetDefault("rate_limit.max_requests", 0)
	v.SetDefault("rate_limit.block_duration", 2*time.Second)
	v.SetDefault("rate_limit.max_connections", 1)
	v.SetDefault("gamepad.type", "xbox360")
	v.SetDefault("gamepad.dead_zone", 0.1)
	v.SetDefault("gamepad.trigger_threshold", 0.1)
	v.SetDefault("gamepad.invert_left_y", false)
	v.SetDefault("gamepad.invert_right_y", false)
}

func setClientDefaults(v *viper.Viper) {
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", padrelay.DefaultPort)
	v.SetDefault("transport", string(padrelay.TransportTCP))
	v.SetDefault("password", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("joystick", 0)
	v.SetDefault("update_rate", 60)
	v.SetDefault("heartbeat_interval", padrelay.HeartbeatInterval)
	v.SetDefault("reconnect_delay", padrelay.ReconnectDelay)
	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.verify", false)
	v.SetDefault("tls.ca_file", "")
}

// newViper reads path, if given, under env overrides and then applies
// overrides. Every key needs a default so AutomaticEnv can see it during
// Unmarshal.
func newViper(path string, defaults func(*viper.Viper), overrides map[string]any) (*viper.Viper, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	for k, val := range overrides {
		v.Set(k, val)
	}
	return v, nil
}

// resolvePassword applies the password precedence: override, then
// environment (hash variable first), then file.
func resolvePassword(v *viper.Viper, overrides map[string]any) (string, Source) {
	if _, ok := overrides["password"]; ok {
		return v.GetString("password"), SourceOverride
	}
	if h, ok := os.LookupEnv(EnvPasswordHash); ok && h != "" {
		return h, SourceEnv
	}
	if p, ok := os.LookupEnv(EnvPassword); ok && p != "" {
		return p, SourceEnv
	}
	if v.InConfig("password") {
		return v.GetString("password"), SourceFile
	}
	return "", SourceDefault
}

// LoadServer reads the server configuration from path, which may be empty.
// overrides maps config keys such as "port" or "tls.enabled" to values that
// win over the file and the environment.
func LoadServer(path string, overrides map[string]any) (*Server, error) {
	v, err := newViper(path, setServerDefaults, overrides)
	if err != nil {
		return nil, err
	}
	var c Server
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.Password, c.PasswordSource = resolvePassword(v, overrides)
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadClient reads the client configuration from path, which may be empty.
func LoadClient(path string, overrides map[string]any) (*Client, error) {
	v, err := newViper(path, setClientDefaults, overrides)
	if err != nil {
		return nil, err
	}
	var c Client
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.Password, c.PasswordSource = resolvePassword(v, overrides)
	if err := validateEndpoint(c.Transport, c.Port); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Server) validate() error {
	if err := validateEndpoint(c.Transport, c.Port); err != nil {
		return err
	}
	if c.Password == "" && padrelay.Transport(c.Transport).IsStream() && !c.AllowOpen {
		return errors.New("config: password is required for stream transports unless allow_open is set")
	}
	if c.Gamepad.DeadZone < 0 || c.Gamepad.DeadZone >= 1 {
		return fmt.Errorf("config: gamepad.dead_zone %v outside [0, 1)", c.Gamepad.DeadZone)
	}
	if c.Gamepad.TriggerThreshold < 0 || c.Gamepad.TriggerThreshold >= 1 {
		return fmt.Errorf("config: gamepad.trigger_threshold %v outside [0, 1)", c.Gamepad.TriggerThreshold)
	}
	if _, err := c.ButtonMap(); err != nil {
		return err
	}
	return nil
}

func validateEndpoint(transport string, port int) error {
	if !padrelay.Transport(transport).Valid() {
		return fmt.Errorf("config: %s: %q", padrelay.ErrUnsupportedTransport, transport)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("config: port %d out of range", port)
	}
	return nil
}

// Addr returns host:port.
func (c *Server) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Addr returns host:port.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ButtonMap converts gamepad.button_mapping to button indices. A nil map
// means the default layout for the gamepad type.
func (c *Server) ButtonMap() (map[int]padrelay.Button, error) {
	if len(c.Gamepad.ButtonMap) == 0 {
		return nil, nil
	}
	out := make(map[int]padrelay.Button, len(c.Gamepad.ButtonMap))
	for k, name := range c.Gamepad.ButtonMap {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 {
			return nil, fmt.Errorf("config: gamepad.button_mapping key %q is not a button index", k)
		}
		out[i] = padrelay.Button(name)
	}
	return out, nil
}

// MigratePassword replaces a plaintext password in the config file at path
// with its hash string. It only touches a password that was read from that
// file and is not hashed yet. Only the file's own settings are written back.
func MigratePassword(path string, c *Server) (bool, error) {
	if path == "" || c.PasswordSource != SourceFile || c.Password == "" || auth.IsHashString(c.Password) {
		return false, nil
	}

	hash, err := auth.HashPassword(c.Password, auth.DefaultIterations)
	if err != nil {
		return false, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return false, fmt.Errorf("failed to read config: %w", err)
	}
	v.Set("password", hash)
	if err := v.WriteConfig(); err != nil {
		return false, fmt.Errorf("failed to write config: %w", err)
	}

	c.Password = hash
	return true, nil
}

// SaveGamepad writes g into the gamepad section of the server config file at
// path. The file is created when missing; settings outside the written keys
// are kept.
func SaveGamepad(path string, g Gamepad) error {
	if path == "" {
		return errors.New("config: no output path")
	}

	v := viper.New()
	v.SetConfigFile(path)
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	v.Set("gamepad.type", g.Type)
	if len(g.ButtonMap) > 0 {
		v.Set("gamepad.button_mapping", g.ButtonMap)
	}
	if len(g.AxisMap) > 0 {
		v.Set("gamepad.axis_mapping", g.AxisMap)
	}
	v.Set("gamepad.invert_left_y", g.InvertLeftY)
	v.Set("gamepad.invert_right_y", g.InvertRightY)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
