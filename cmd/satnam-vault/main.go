// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/blobstore"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/clock"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/config"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/origintoken"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/process"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/session"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/vault"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	var (
		configPath  string
		logLevel    string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("satnam-vault", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the custody config file (default: $"+config.EnvVar+")")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		version.Fprint(os.Stdout, "satnam-vault")
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := process.NewLogger(process.ParseLevel(logLevel)).With("component", "vault")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	vaultDaemon, err := newDaemon(cfg, clock.Real(), logger)
	if err != nil {
		return err
	}
	defer vaultDaemon.close()

	return vaultDaemon.serve(ctx)
}

// loadConfig loads from --config when given, otherwise from the
// environment variable, and validates the result.
func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// daemon owns the store, the vault server and its listener.
type daemon struct {
	store    blobstore.Store
	server   *vault.Server
	listener net.Listener
	logger   *slog.Logger
}

func newDaemon(cfg *config.Config, clk clock.Clock, logger *slog.Logger) (*daemon, error) {
	if len(cfg.Vault.Origins) == 0 {
		return nil, fmt.Errorf("vault.origins is empty; no origin could use the vault")
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}

	store, err := cfg.OpenStore(blobstore.Options{Clock: clk, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Store.Backend, err)
	}

	tokens, err := loadVerifier(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	server, err := vault.NewServer(vault.ServerConfig{
		Allowlist: cfg.Allowlist(),
		Tokens:    tokens,
		Store:     store,
		Manager: session.NewManager(session.Config{
			Clock:  clk,
			Logger: logger,
		}),
		Codec:         cfg.Codec(),
		SessionTTL:    cfg.Session.TTL.Std(),
		MaxSessionTTL: cfg.Session.MaxTTL.Std(),
		SessionOps:    cfg.Session.Ops,
		MaxSessionOps: cfg.Session.MaxOps,
		Clock:         clk,
		Logger:        logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	listener, err := vault.Listen(cfg.Vault.SocketPath)
	if err != nil {
		server.Manager().Close()
		store.Close()
		return nil, err
	}

	logger.Info("vault listening",
		"socket", cfg.Vault.SocketPath,
		"store", cfg.Store.Backend,
		"origins", len(cfg.Vault.Origins),
		"origin_tokens", tokens != nil,
	)
	return &daemon{store: store, server: server, listener: listener, logger: logger}, nil
}

// loadVerifier returns nil when origin tokens are not configured.
func loadVerifier(cfg *config.Config) (*origintoken.Verifier, error) {
	if cfg.Vault.TokenPublicKey == "" {
		return nil, nil
	}
	publicKey, err := origintoken.LoadPublicKey(cfg.Vault.TokenPublicKey)
	if err != nil {
		return nil, fmt.Errorf("loading origin token key: %w", err)
	}
	return &origintoken.Verifier{
		PublicKey: publicKey,
		Audience:  cfg.Vault.Audience,
		Blacklist: origintoken.NewBlacklist(),
	}, nil
}

func (d *daemon) serve(ctx context.Context) error {
	err := d.server.Serve(ctx, d.listener)
	d.logger.Info("vault shutting down")
	return err
}

// close destroys every live session and closes the store.
func (d *daemon) close() {
	if err := d.server.Manager().Close(); err != nil {
		d.logger.Error("closing session manager", "error", err)
	}
	d.server.Close()
	if err := d.store.Close(); err != nil {
		d.logger.Error("closing store", "error", err)
	}
}
