// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/blobstore"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/config"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/resolver"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/schema"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/session"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/signer"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/vault"
)

// dialVault connects to the configured vault socket as the configured
// client origin.
func dialVault(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*vault.Client, error) {
	if cfg.Vault.Origin == "" {
		return nil, fmt.Errorf("vault.origin is not configured")
	}
	var token []byte
	if cfg.Vault.TokenFile != "" {
		data, err := os.ReadFile(cfg.Vault.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("reading origin token: %w", err)
		}
		token = data
	}
	channel, err := vault.Dial(ctx, cfg.Vault.SocketPath)
	if err != nil {
		return nil, err
	}
	return vault.NewClient(channel, vault.ClientConfig{
		Origin:  cfg.Vault.Origin,
		Token:   token,
		Timeout: cfg.Vault.CallTimeout.Std(),
		Logger:  logger,
	}), nil
}

// resolution is an open resolver session plus everything that has to
// be torn down after it.
type resolution struct {
	result   *resolver.Result
	resolver *resolver.Resolver
	closers  []func()
}

func (r *resolution) close(ctx context.Context) {
	if r.resolver != nil {
		r.resolver.LockAll(ctx)
	}
	for index := len(r.closers) - 1; index >= 0; index-- {
		r.closers[index]()
	}
}

// resolveFlags are shared by sign and pubkey.
type resolveFlags struct {
	target       subjectFlags
	passwordPath string
	noVault      bool
}

func (f *resolveFlags) register(flagSet *pflag.FlagSet) {
	f.target.register(flagSet)
	flagSet.StringVar(&f.passwordPath, "password-file", "", "read the password from this file instead of prompting")
	flagSet.BoolVar(&f.noVault, "no-vault", false, "skip the vault and use the local store only")
}

// resolve builds the credential sources from config and resolves one
// session. The vault source is included when its socket answers.
func (cli *environment) resolve(ctx context.Context, cfg *config.Config, logger *slog.Logger, flags *resolveFlags, maxOps int) (*resolution, error) {
	subject, err := flags.target.subject()
	if err != nil {
		return nil, err
	}
	ownerSalt, err := flags.target.salt()
	if err != nil {
		return nil, err
	}

	opened := &resolution{}
	store, err := cfg.OpenStore(blobstore.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	opened.closers = append(opened.closers, func() { store.Close() })

	manager := session.NewManager(session.Config{Logger: logger})
	opened.closers = append(opened.closers, func() { manager.Close() })

	localRank, _ := cfg.Priority(schema.SourceLocalStore)
	sources := []resolver.CredentialSource{
		&resolver.LocalStoreSource{Store: store, Codec: cfg.Codec(), Manager: manager, Rank: localRank},
	}
	if vaultRank, ok := cfg.Priority(schema.SourceSandboxedVault); ok && !flags.noVault {
		client, err := dialVault(ctx, cfg, logger)
		if err != nil {
			logger.Debug("vault unavailable", "error", err)
		} else {
			opened.closers = append(opened.closers, func() { client.Close() })
			sources = append(sources, &resolver.VaultSource{Client: client, Rank: vaultRank})
		}
	}

	password, err := cli.readPassword(flags.passwordPath, "Password: ", false)
	if err != nil {
		opened.close(ctx)
		return nil, err
	}
	defer password.Close()

	opened.resolver = resolver.New(resolver.Config{
		ProbeTimeout: cfg.Resolver.ProbeTimeout.Std(),
		Logger:       logger,
	})
	opened.result, err = opened.resolver.Resolve(ctx, resolver.Request{
		OwnerID:   subject.OwnerID,
		Kind:      subject.Kind,
		Password:  append([]byte(nil), password.Bytes()...),
		OwnerSalt: ownerSalt,
		TTL:       cfg.Session.TTL.Std(),
		MaxOps:    maxOps,
	}, sources...)
	if err != nil {
		opened.close(ctx)
		return nil, err
	}
	logger.Info("credential resolved", "source", opened.result.Source, "failed_sources", len(opened.result.Attempts))
	return opened, nil
}

func runSign(cli *environment, ctx context.Context, args []string) error {
	var (
		common      commonFlags
		flags       resolveFlags
		message     string
		messageFile string
	)
	flagSet := pflag.NewFlagSet("sign", pflag.ContinueOnError)
	common.register(flagSet)
	flags.register(flagSet)
	flagSet.StringVar(&message, "message", "", "message to sign")
	flagSet.StringVar(&messageFile, "message-file", "", "read the message to sign from this file")
	if help, err := parse(flagSet, args); help || err != nil {
		return err
	}

	var payload []byte
	switch {
	case message != "" && messageFile != "":
		return fmt.Errorf("--message and --message-file are mutually exclusive")
	case messageFile != "":
		data, err := os.ReadFile(messageFile)
		if err != nil {
			return fmt.Errorf("reading message: %w", err)
		}
		payload = data
	case message != "":
		payload = []byte(message)
	default:
		return fmt.Errorf("--message or --message-file is required")
	}

	cfg, logger, err := common.load(cli, "sign")
	if err != nil {
		return err
	}
	opened, err := cli.resolve(ctx, cfg, logger, &flags, 1)
	if err != nil {
		return err
	}
	defer opened.close(ctx)

	signature, err := opened.result.Session.Sign(ctx, payload)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.stdout, "%s\n", hex.EncodeToString(signature))
	return nil
}

func runPubkey(cli *environment, ctx context.Context, args []string) error {
	var (
		common commonFlags
		flags  resolveFlags
	)
	flagSet := pflag.NewFlagSet("pubkey", pflag.ContinueOnError)
	common.register(flagSet)
	flags.register(flagSet)
	if help, err := parse(flagSet, args); help || err != nil {
		return err
	}

	cfg, logger, err := common.load(cli, "pubkey")
	if err != nil {
		return err
	}
	opened, err := cli.resolve(ctx, cfg, logger, &flags, 1)
	if err != nil {
		return err
	}
	defer opened.close(ctx)

	publicKey, err := opened.result.Session.PublicKey(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.stdout, "%s\t%s\t%s\n",
		hex.EncodeToString(publicKey), signer.Fingerprint(ed25519.PublicKey(publicKey)), opened.result.Source)
	return nil
}

func runPermissions(cli *environment, ctx context.Context, args []string) error {
	var common commonFlags
	flagSet := pflag.NewFlagSet("permissions", pflag.ContinueOnError)
	common.register(flagSet)
	if help, err := parse(flagSet, args); help || err != nil {
		return err
	}

	cfg, logger, err := common.load(cli, "permissions")
	if err != nil {
		return err
	}
	client, err := dialVault(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	permissions, err := client.Permissions(ctx)
	if err != nil {
		return err
	}
	operations := make([]string, len(permissions.Operations))
	for index, operation := range permissions.Operations {
		operations[index] = string(operation)
	}
	fmt.Fprintf(cli.stdout, "%s\t%s\n", permissions.Origin, strings.Join(operations, ","))
	return nil
}
