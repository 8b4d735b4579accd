// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/config"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/process"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli := &environment{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	if err := cli.run(ctx, os.Args[1:]); err != nil {
		stop()
		process.Fatal(err)
	}
}

// environment carries the process streams so tests can capture output.
type environment struct {
	stdin  *os.File
	stdout io.Writer
	stderr io.Writer
}

type command struct {
	summary string
	run     func(cli *environment, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"seal":         {"Encrypt a secret and store it", runSeal},
	"rotate":       {"Re-encrypt a stored secret under a new password", runRotate},
	"list":         {"List stored secrets", runList},
	"audit":        {"Print the rotation audit trail of a secret", runAudit},
	"sign":         {"Sign a message with a stored secret", runSign},
	"pubkey":       {"Print the public key of a stored secret", runPubkey},
	"export":       {"Write an age-sealed backup bundle of the store", runExport},
	"import":       {"Restore secrets from a backup bundle", runImport},
	"keygen":       {"Generate an age keypair for backup bundles", runKeygen},
	"token-keygen": {"Generate the origin token signing keypair", runTokenKeygen},
	"mint-token":   {"Mint an origin token for a vault client", runMintToken},
	"permissions":  {"Ask the vault which operations this origin may use", runPermissions},
}

var commandOrder = []string{
	"seal", "rotate", "list", "audit", "sign", "pubkey",
	"export", "import", "keygen", "token-keygen", "mint-token", "permissions",
}

func (cli *environment) run(ctx context.Context, args []string) error {
	if len(args) < 1 {
		cli.printUsage()
		return fmt.Errorf("subcommand required")
	}

	name := args[0]
	switch name {
	case "version", "--version":
		version.Fprint(cli.stdout, "satnam-custody")
		return nil
	case "-h", "--help", "help":
		cli.printUsage()
		return nil
	}

	subcommand, ok := commands[name]
	if !ok {
		cli.printUsage()
		return fmt.Errorf("unknown subcommand: %q", name)
	}
	return subcommand.run(cli, ctx, args[1:])
}

func (cli *environment) printUsage() {
	fmt.Fprintf(cli.stderr, "Usage: satnam-custody <subcommand> [flags]\n\nSubcommands:\n")
	for _, name := range commandOrder {
		fmt.Fprintf(cli.stderr, "  %-13s %s\n", name, commands[name].summary)
	}
	fmt.Fprintf(cli.stderr, "  %-13s %s\n", "version", "Print version information")
	fmt.Fprintf(cli.stderr, "\nRun 'satnam-custody <subcommand> --help' for subcommand flags.\n")
}

// commonFlags are accepted by every subcommand that touches the store
// or the vault.
type commonFlags struct {
	configPath string
	logLevel   string
}

func (c *commonFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.configPath, "config", "", "path to the custody config file (default: $"+config.EnvVar+")")
	flagSet.StringVar(&c.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
}

// load validates the config and builds the command logger.
func (c *commonFlags) load(cli *environment, command string) (*config.Config, *slog.Logger, error) {
	var (
		cfg *config.Config
		err error
	)
	if c.configPath != "" {
		cfg, err = config.LoadFile(c.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	options := &slog.HandlerOptions{Level: process.ParseLevel(c.logLevel)}
	logger := slog.New(slog.NewTextHandler(cli.stderr, options)).With("command", command)
	return cfg, logger, nil
}

// parse parses subcommand flags, mapping --help to a clean exit.
func parse(flagSet *pflag.FlagSet, args []string) (bool, error) {
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}
