package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/luciancaetano/padrelay"
	"github.com/luciancaetano/padrelay/internal/client"
	"github.com/luciancaetano/padrelay/internal/config"
	"github.com/luciancaetano/padrelay/internal/input"
	"github.com/luciancaetano/padrelay/internal/logger"
	"github.com/luciancaetano/padrelay/internal/tlsconf"
)

const (
	shutdownTimeout = 5 * time.Second
	// maxJoystickScan bounds the device search when no index is given.
	maxJoystickScan = 8
)

var flagKeys = map[string]string{
	"host":      "host",
	"port":      "port",
	"transport": "transport",
	"password":  "password",
	"log-level": "log_level",
	"joystick":  "joystick",
	"rate":      "update_rate",
	"tls":       "tls.enabled",
	"verify":    "tls.verify",
	"ca":        "tls.ca_file",
}

func main() {
	fs := flag.NewFlagSet("padrelay-client", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (yaml, toml or json)")
	fs.String("host", "127.0.0.1", "server host")
	fs.Int("port", padrelay.DefaultPort, "server port")
	fs.String("transport", string(padrelay.TransportTCP), "transport: tcp, udp, quic or ws")
	fs.String("password", "", "password or pbkdf2_sha256$... hash")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.Int("joystick", 0, "joystick index, -1 picks the first one found")
	fs.Int("rate", 60, "input updates per second")
	fs.Bool("tls", false, "enable TLS for tcp and ws")
	fs.Bool("verify", false, "verify the server certificate")
	fs.String("ca", "", "CA bundle used with -verify")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.LoadClient(*configPath, overrides(fs))
	if err != nil {
		fatalf("%v", err)
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fatalf("logger: %v", err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("client failed", zap.Error(err))
	}
}

func run(cfg *config.Client, log *zap.Logger) error {
	src, err := openJoystick(cfg.Joystick, log)
	if err != nil {
		return err
	}

	cliCfg, err := buildClient(cfg, log)
	if err != nil {
		_ = src.Close()
		return err
	}
	cli, err := client.New(cliCfg, src)
	if err != nil {
		_ = src.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("client starting",
		zap.String("server", cfg.Addr()),
		zap.String("transport", cfg.Transport),
		zap.Int("update_rate", cfg.UpdateRate))
	if err := cli.Run(ctx); err != nil {
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := cli.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("client stopped", zap.Int64("sent", cli.Sent()), zap.Int64("acked", cli.Acked()))
	return nil
}

func openJoystick(index int, log *zap.Logger) (*input.Joystick, error) {
	if index < 0 {
		return input.FindFirst(maxJoystickScan, log)
	}
	return input.OpenJoystick(index, log)
}

func buildClient(cfg *config.Client, log *zap.Logger) (client.Config, error) {
	var tlsConf *tls.Config
	// quic runs over TLS either way; without a config it skips verification.
	if cfg.TLS.Enabled || cfg.TLS.Verify {
		var err error
		tlsConf, err = tlsconf.ClientConfig(cfg.TLS.Verify, cfg.TLS.CAFile)
		if err != nil {
			return client.Config{}, fmt.Errorf("tls: %w", err)
		}
	}
	return client.Config{
		ServerAddr:        cfg.Addr(),
		Transport:         padrelay.Transport(cfg.Transport),
		Password:          cfg.Password,
		TLS:               tlsConf,
		UpdateRate:        cfg.UpdateRate,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ReconnectDelay:    cfg.ReconnectDelay,
		Logger:            log,
	}, nil
}

func overrides(fs *flag.FlagSet) map[string]any {
	out := make(map[string]any)
	fs.Visit(func(f *flag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		if g, ok := f.Value.(flag.Getter); ok {
			out[key] = g.Get()
		}
	})
	return out
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
