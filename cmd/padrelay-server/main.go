package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/luciancaetano/padrelay"
	"github.com/luciancaetano/padrelay/internal/auth"
	"github.com/luciancaetano/padrelay/internal/config"
	"github.com/luciancaetano/padrelay/internal/gamepad"
	"github.com/luciancaetano/padrelay/internal/logger"
	"github.com/luciancaetano/padrelay/internal/server"
	"github.com/luciancaetano/padrelay/internal/tlsconf"
)

const stopTimeout = 10 * time.Second

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"host":       "host",
	"port":       "port",
	"transport":  "transport",
	"password":   "password",
	"allow-open": "allow_open",
	"log-level":  "log_level",
	"tls":        "tls.enabled",
	"cert":       "tls.cert_file",
	"key":        "tls.key_file",
	"gamepad":    "gamepad.type",
}

func main() {
	fs := flag.NewFlagSet("padrelay-server", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (yaml, toml or json)")
	fs.String("host", "127.0.0.1", "listen host")
	fs.Int("port", padrelay.DefaultPort, "listen port")
	fs.String("transport", string(padrelay.TransportTCP), "transport: tcp, udp, quic or ws")
	fs.String("password", "", "password or pbkdf2_sha256$... hash")
	fs.Bool("allow-open", false, "allow a stream server without a password")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.Bool("tls", false, "enable TLS for tcp and ws")
	fs.String("cert", "", "TLS certificate file")
	fs.String("key", "", "TLS key file")
	fs.String("gamepad", "xbox360", "virtual gamepad type: xbox360 or ds4")
	hashPassword := fs.String("hash-password", "", "print the hash string for a password and exit")
	noMigrate := fs.Bool("no-migrate", false, "keep a plaintext password in the config file")
	_ = fs.Parse(os.Args[1:])

	if *hashPassword != "" {
		h, err := auth.HashPassword(*hashPassword, auth.DefaultIterations)
		if err != nil {
			fatalf("hash password: %v", err)
		}
		fmt.Println(h)
		return
	}

	cfg, err := config.LoadServer(*configPath, overrides(fs))
	if err != nil {
		fatalf("%v", err)
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fatalf("logger: %v", err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, *configPath, !*noMigrate, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Server, configPath string, migrate bool, log *zap.Logger) error {
	checkPassword(cfg.Password, log)
	if migrate {
		migrated, err := config.MigratePassword(configPath, cfg)
		if err != nil {
			log.Warn("could not hash the password in the config file", zap.Error(err))
		} else if migrated {
			log.Info("replaced the plaintext password in the config file with its hash", zap.String("path", configPath))
		}
	}

	srvCfg, pad, err := buildServer(cfg, log)
	if err != nil {
		return err
	}
	srv, err := server.New(srvCfg, pad)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return srv.Stop(stopCtx)
}

// overrides collects the flags given on the command line, keyed by config
// key, so they win over the file and the environment.
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

func buildServer(cfg *config.Server, log *zap.Logger) (server.Config, *gamepad.VirtualPad, error) {
	kind, err := gamepad.ParseKind(cfg.Gamepad.Type)
	if err != nil {
		return server.Config{}, nil, err
	}
	buttons, err := cfg.ButtonMap()
	if err != nil {
		return server.Config{}, nil, err
	}
	pad := gamepad.NewVirtualPad(kind, buttons, log)

	var tlsConf *tls.Config
	if cfg.TLS.Enabled {
		tlsConf, err = tlsconf.ServerConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.AutoGenerate)
		if err != nil {
			return server.Config{}, nil, fmt.Errorf("tls: %w", err)
		}
		logCertExpiry(cfg.TLS.CertFile, log)
	}

	opts := gamepad.Options{
		DeadZone:         cfg.Gamepad.DeadZone,
		TriggerThreshold: cfg.Gamepad.TriggerThreshold,
		AxisMap:          cfg.Gamepad.AxisMap,
		InvertLeftY:      cfg.Gamepad.InvertLeftY,
		InvertRightY:     cfg.Gamepad.InvertRightY,
	}
	return server.Config{
		ListenAddr:        cfg.Addr(),
		Transport:         padrelay.Transport(cfg.Transport),
		Password:          cfg.Password,
		AllowOpen:         cfg.AllowOpen,
		TLS:               tlsConf,
		MaxConnections:    cfg.RateLimit.MaxConnections,
		RateWindow:        cfg.RateLimit.Window,
		MaxRequests:       cfg.RateLimit.MaxRequests,
		BlockDuration:     cfg.RateLimit.BlockDuration,
		HeartbeatInterval: cfg.HeartbeatInterval,
		MetricsInterval:   cfg.MetricsInterval,
		Gamepad:           &opts,
		Logger:            log,
	}, pad, nil
}

// checkPassword logs how guessable a plaintext password is. Hash strings and
// open servers are skipped.
func checkPassword(password string, log *zap.Logger) {
	if password == "" || auth.IsHashString(password) {
		return
	}
	strength, score, advice := auth.CheckStrength(password)
	fields := []zap.Field{
		zap.Stringer("strength", strength),
		zap.Int("score", score),
		zap.Strings("advice", advice),
	}
	switch strength {
	case auth.VeryWeak:
		log.Error("password is very weak and easily guessed", fields...)
	case auth.Weak:
		log.Warn("password is weak", fields...)
	default:
		log.Info("password strength", fields[:2]...)
	}
}

func logCertExpiry(certPath string, log *zap.Logger) {
	if certPath == "" {
		certPath, _ = tlsconf.DefaultPaths()
	}
	notAfter, err := tlsconf.Expiry(certPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("read certificate expiry", zap.Error(err))
		}
		return
	}
	log.Info("tls certificate loaded", zap.String("path", certPath), zap.Time("not_after", notAfter))
	if time.Until(notAfter) < 30*24*time.Hour {
		log.Warn("tls certificate expires soon", zap.Time("not_after", notAfter))
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
