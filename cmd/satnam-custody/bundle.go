// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"filippo.io/age"
	"github.com/spf13/pflag"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/blobstore"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/origintoken"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/sealed"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/secret"
)

func runExport(cli *environment, ctx context.Context, args []string) error {
	var (
		common         commonFlags
		outPath        string
		recipientKeys  []string
		passphrasePath string
		compression    string
	)
	flagSet := pflag.NewFlagSet("export", pflag.ContinueOnError)
	common.register(flagSet)
	flagSet.StringVar(&outPath, "out", "", "bundle file to write (required)")
	flagSet.StringArrayVar(&recipientKeys, "recipient", nil, "age public key to seal the bundle to (repeatable; default: bundle.recipients)")
	flagSet.StringVar(&passphrasePath, "passphrase-file", "", "seal the bundle with the passphrase in this file instead of recipients")
	flagSet.StringVar(&compression, "compression", "", "none, lz4, or zstd (default: bundle.compression)")
	if help, err := parse(flagSet, args); help || err != nil {
		return err
	}
	if outPath == "" {
		return fmt.Errorf("--out is required")
	}

	cfg, logger, err := common.load(cli, "export")
	if err != nil {
		return err
	}

	selected := cfg.Compression()
	if compression != "" {
		if selected, err = blobstore.ParseCompression(compression); err != nil {
			return err
		}
	}

	var recipients []age.Recipient
	if passphrasePath != "" {
		if len(recipientKeys) > 0 {
			return fmt.Errorf("--recipient and --passphrase-file are mutually exclusive")
		}
		passphrase, err := secret.ReadFromPath(passphrasePath)
		if err != nil {
			return err
		}
		defer passphrase.Close()
		recipient, err := sealed.PassphraseRecipient(passphrase, 0)
		if err != nil {
			return err
		}
		recipients = []age.Recipient{recipient}
	} else {
		if len(recipientKeys) == 0 {
			recipientKeys = cfg.Bundle.Recipients
		}
		if recipients, err = sealed.Recipients(recipientKeys); err != nil {
			return err
		}
	}

	store, err := cfg.OpenStore(blobstore.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer store.Close()

	bundle, err := blobstore.Export(ctx, store, blobstore.ExportOptions{
		Recipients:  recipients,
		Compression: selected,
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, bundle, 0o600); err != nil {
		return fmt.Errorf("writing bundle: %w", err)
	}

	subjects, err := store.List(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.stdout, "exported %d secrets to %s (%s)\n", len(subjects), outPath, selected)
	return nil
}

func runImport(cli *environment, ctx context.Context, args []string) error {
	var (
		common         commonFlags
		inPath         string
		identityPath   string
		passphrasePath string
	)
	flagSet := pflag.NewFlagSet("import", pflag.ContinueOnError)
	common.register(flagSet)
	flagSet.StringVar(&inPath, "in", "", "bundle file to read (required)")
	flagSet.StringVar(&identityPath, "identity", "", "file holding the age private key the bundle was sealed to")
	flagSet.StringVar(&passphrasePath, "passphrase-file", "", "file holding the bundle passphrase")
	if help, err := parse(flagSet, args); help || err != nil {
		return err
	}
	if inPath == "" {
		return fmt.Errorf("--in is required")
	}
	if (identityPath == "") == (passphrasePath == "") {
		return fmt.Errorf("exactly one of --identity and --passphrase-file is required")
	}

	var identity age.Identity
	if identityPath != "" {
		privateKey, err := secret.ReadFromPath(identityPath)
		if err != nil {
			return err
		}
		defer privateKey.Close()
		if identity, err = sealed.Identity(privateKey); err != nil {
			return err
		}
	} else {
		passphrase, err := secret.ReadFromPath(passphrasePath)
		if err != nil {
			return err
		}
		defer passphrase.Close()
		if identity, err = sealed.PassphraseIdentity(passphrase); err != nil {
			return err
		}
	}

	bundle, err := os.ReadFile(inPath)
	if err != nil {
		return fmt.Errorf("reading bundle: %w", err)
	}

	cfg, logger, err := common.load(cli, "import")
	if err != nil {
		return err
	}
	store, err := cfg.OpenStore(blobstore.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer store.Close()

	result, err := blobstore.Import(ctx, store, bundle, identity)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.stdout, "imported bundle from %s: %d written, %d replaced, %d unchanged\n",
		result.Bundle.ExportedAt.Format(time.RFC3339), result.Written, result.Replaced, result.Unchanged)
	return nil
}

// runKeygen generates an age keypair. The public key goes to stdout;
// the private key goes to --out, or to stderr when no file is given.
func runKeygen(cli *environment, ctx context.Context, args []string) error {
	var outPath string
	flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
	flagSet.StringVar(&outPath, "out", "", "write the private key to this file (mode 0600)")
	if help, err := parse(flagSet, args); help || err != nil {
		return err
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return err
	}
	defer keypair.Close()

	if outPath != "" {
		data := make([]byte, 0, keypair.PrivateKey.Len()+1)
		data = append(append(data, keypair.PrivateKey.Bytes()...), '\n')
		defer secret.Zero(data)
		if err := os.WriteFile(outPath, data, 0o600); err != nil {
			return fmt.Errorf("writing private key: %w", err)
		}
	} else {
		fmt.Fprintf(cli.stderr, "# Private key (keep this secret):\n%s\n", keypair.PrivateKey.String())
	}
	fmt.Fprintf(cli.stdout, "%s\n", keypair.PublicKey)
	return nil
}

func runTokenKeygen(cli *environment, ctx context.Context, args []string) error {
	var directory string
	flagSet := pflag.NewFlagSet("token-keygen", pflag.ContinueOnError)
	flagSet.StringVar(&directory, "dir", "", "directory to write the keypair into (required)")
	if help, err := parse(flagSet, args); help || err != nil {
		return err
	}
	if directory == "" {
		return fmt.Errorf("--dir is required")
	}
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return err
	}

	publicKey, privateKey, err := origintoken.GenerateKeypair()
	if err != nil {
		return err
	}
	defer secret.Zero(privateKey)
	if err := origintoken.SaveKeypair(directory, publicKey, privateKey); err != nil {
		return err
	}
	fmt.Fprintf(cli.stdout, "%s\n", origintoken.PublicKeyPath(directory))
	return nil
}

func runMintToken(cli *environment, ctx context.Context, args []string) error {
	var (
		common    commonFlags
		directory string
		origin    string
		audience  string
		ttl       time.Duration
		outPath   string
	)
	flagSet := pflag.NewFlagSet("mint-token", pflag.ContinueOnError)
	common.register(flagSet)
	flagSet.StringVar(&directory, "key-dir", "", "directory holding the token signing keypair (required)")
	flagSet.StringVar(&origin, "origin", "", "origin the token is minted for (default: vault.origin)")
	flagSet.StringVar(&audience, "audience", "", "audience (default: vault.audience)")
	flagSet.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	flagSet.StringVar(&outPath, "out", "", "token file to write (default: vault.token_file)")
	if help, err := parse(flagSet, args); help || err != nil {
		return err
	}
	if directory == "" {
		return fmt.Errorf("--key-dir is required")
	}

	cfg, _, err := common.load(cli, "mint-token")
	if err != nil {
		return err
	}
	if origin == "" {
		origin = cfg.Vault.Origin
	}
	if audience == "" {
		audience = cfg.Vault.Audience
	}
	if outPath == "" {
		outPath = cfg.Vault.TokenFile
	}
	if origin == "" || outPath == "" {
		return fmt.Errorf("an origin and an output file are required (flags or vault.origin / vault.token_file)")
	}

	privateKey, err := origintoken.LoadPrivateKey(directory)
	if err != nil {
		return err
	}
	defer secret.Zero(privateKey)

	tokenBytes, token, err := origintoken.Issue(privateKey, origin, audience, time.Now(), ttl)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, tokenBytes, 0o600); err != nil {
		return fmt.Errorf("writing token: %w", err)
	}
	fmt.Fprintf(cli.stdout, "minted %s for %s (audience %s, expires %s)\n",
		token.ID, token.Origin, token.Audience, time.Unix(token.ExpiresAt, 0).UTC().Format(time.RFC3339))
	return nil
}
