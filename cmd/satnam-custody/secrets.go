// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/blobstore"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/envelope"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/schema"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/secret"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/signer"
)

// subjectFlags name one stored secret.
type subjectFlags struct {
	owner     string
	kind      string
	ownerSalt string
}

func (s *subjectFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&s.owner, "owner", "", "owner ID the secret belongs to (required)")
	flagSet.StringVar(&s.kind, "kind", string(schema.KindSigningKey), "secret kind (signing_key, seed_phrase)")
	flagSet.StringVar(&s.ownerSalt, "owner-salt", "", "per-owner salt mixed into key derivation (required)")
}

func (s *subjectFlags) subject() (envelope.Subject, error) {
	kind, err := schema.ParseKind(s.kind)
	if err != nil {
		return envelope.Subject{}, err
	}
	subject := envelope.Subject{OwnerID: s.owner, Kind: kind}
	if err := subject.Validate(); err != nil {
		return envelope.Subject{}, fmt.Errorf("--owner and --kind: %w", err)
	}
	return subject, nil
}

func (s *subjectFlags) salt() ([]byte, error) {
	if s.ownerSalt == "" {
		return nil, fmt.Errorf("--owner-salt is required")
	}
	return []byte(s.ownerSalt), nil
}

// readPassword reads a password from path when set, otherwise prompts
// on stdin. With confirm, an interactive prompt is asked twice.
func (cli *environment) readPassword(path, prompt string, confirm bool) (*secret.Buffer, error) {
	if path != "" {
		return secret.ReadFromPath(path)
	}
	password, err := secret.ReadPassphrase(cli.stdin, prompt)
	if err != nil {
		return nil, err
	}
	if !confirm || !term.IsTerminal(int(cli.stdin.Fd())) {
		return password, nil
	}
	again, err := secret.ReadPassphrase(cli.stdin, "Repeat "+prompt)
	if err != nil {
		password.Close()
		return nil, err
	}
	defer again.Close()
	if !password.Equal(again.Bytes()) {
		password.Close()
		return nil, fmt.Errorf("passwords do not match")
	}
	return password, nil
}

// readPlaintext loads the secret to seal. Signing keys are read as a
// hex-encoded 32-byte seed; seed phrases are read as text.
func readPlaintext(kind schema.Kind, path string, generate bool) (*secret.Buffer, error) {
	if generate {
		if kind != schema.KindSigningKey {
			return nil, fmt.Errorf("--generate only applies to %s", schema.KindSigningKey)
		}
		return signer.GenerateSigningKey(nil)
	}
	if path == "" {
		return nil, fmt.Errorf("--from or --generate is required")
	}

	raw, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("reading secret: %w", err)
	}
	if kind != schema.KindSigningKey {
		return raw, nil
	}
	defer raw.Close()

	seed, err := secret.New(hex.DecodedLen(raw.Len()))
	if err != nil {
		return nil, err
	}
	if _, err := hex.Decode(seed.Bytes(), raw.Bytes()); err != nil {
		seed.Close()
		return nil, fmt.Errorf("signing key must be hex-encoded: %w", err)
	}
	return seed, nil
}

func runSeal(cli *environment, ctx context.Context, args []string) error {
	var (
		common       commonFlags
		target       subjectFlags
		fromPath     string
		generate     bool
		passwordPath string
		force        bool
	)
	flagSet := pflag.NewFlagSet("seal", pflag.ContinueOnError)
	common.register(flagSet)
	target.register(flagSet)
	flagSet.StringVar(&fromPath, "from", "", "read the secret from this file, or - for stdin")
	flagSet.BoolVar(&generate, "generate", false, "generate a fresh signing key instead of reading one")
	flagSet.StringVar(&passwordPath, "password-file", "", "read the password from this file instead of prompting")
	flagSet.BoolVar(&force, "force", false, "overwrite an existing secret without rotation")
	if help, err := parse(flagSet, args); help || err != nil {
		return err
	}

	subject, err := target.subject()
	if err != nil {
		return err
	}
	ownerSalt, err := target.salt()
	if err != nil {
		return err
	}
	cfg, logger, err := common.load(cli, "seal")
	if err != nil {
		return err
	}

	store, err := cfg.OpenStore(blobstore.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer store.Close()

	if !force {
		_, err := store.Read(ctx, subject)
		if err == nil {
			return fmt.Errorf("%s already exists; use rotate, or --force to overwrite", subject)
		}
		if !errors.Is(err, blobstore.ErrBlobNotFound) {
			return err
		}
	}

	plaintext, err := readPlaintext(subject.Kind, fromPath, generate)
	if err != nil {
		return err
	}
	defer plaintext.Close()

	publicKey, err := signer.PublicKey(subject.Kind, plaintext.Bytes())
	if err != nil {
		return err
	}

	password, err := cli.readPassword(passwordPath, "Password: ", true)
	if err != nil {
		return err
	}
	defer password.Close()

	blob, err := cfg.Codec().Encrypt(subject, plaintext.Bytes(), password.Bytes(), ownerSalt)
	if err != nil {
		return err
	}
	if err := store.Write(ctx, subject, blob); err != nil {
		return err
	}
	ref, err := blobstore.RefOf(blob)
	if err != nil {
		return err
	}

	fmt.Fprintf(cli.stdout, "sealed %s ref=%s fingerprint=%s\n", subject, ref.Short(), signer.Fingerprint(publicKey))
	return nil
}

func runRotate(cli *environment, ctx context.Context, args []string) error {
	var (
		common          commonFlags
		target          subjectFlags
		passwordPath    string
		newPasswordPath string
	)
	flagSet := pflag.NewFlagSet("rotate", pflag.ContinueOnError)
	common.register(flagSet)
	target.register(flagSet)
	flagSet.StringVar(&passwordPath, "password-file", "", "read the current password from this file")
	flagSet.StringVar(&newPasswordPath, "new-password-file", "", "read the new password from this file")
	if help, err := parse(flagSet, args); help || err != nil {
		return err
	}

	subject, err := target.subject()
	if err != nil {
		return err
	}
	ownerSalt, err := target.salt()
	if err != nil {
		return err
	}
	cfg, logger, err := common.load(cli, "rotate")
	if err != nil {
		return err
	}

	store, err := cfg.OpenStore(blobstore.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer store.Close()

	current, err := store.Read(ctx, subject)
	if err != nil {
		return err
	}

	password, err := cli.readPassword(passwordPath, "Current password: ", false)
	if err != nil {
		return err
	}
	plaintext, err := cfg.Codec().Decrypt(current, password.Bytes(), ownerSalt)
	password.Close()
	if err != nil {
		return err
	}
	defer plaintext.Close()

	newPassword, err := cli.readPassword(newPasswordPath, "New password: ", true)
	if err != nil {
		return err
	}
	defer newPassword.Close()

	replacement, err := cfg.Codec().Encrypt(subject, plaintext.Bytes(), newPassword.Bytes(), ownerSalt)
	if err != nil {
		return err
	}
	record, err := store.Rotate(ctx, subject, replacement, blobstore.ReasonRotation)
	if err != nil {
		return err
	}

	fmt.Fprintf(cli.stdout, "rotated %s %s -> %s\n", subject, record.OldRef.Short(), record.NewRef.Short())
	return nil
}

func runList(cli *environment, ctx context.Context, args []string) error {
	var common commonFlags
	flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
	common.register(flagSet)
	if help, err := parse(flagSet, args); help || err != nil {
		return err
	}

	cfg, logger, err := common.load(cli, "list")
	if err != nil {
		return err
	}
	store, err := cfg.OpenStore(blobstore.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer store.Close()

	subjects, err := store.List(ctx)
	if err != nil {
		return err
	}
	for _, subject := range subjects {
		fmt.Fprintf(cli.stdout, "%s\t%s\n", subject.OwnerID, subject.Kind)
	}
	return nil
}

func runAudit(cli *environment, ctx context.Context, args []string) error {
	var (
		common commonFlags
		target subjectFlags
	)
	flagSet := pflag.NewFlagSet("audit", pflag.ContinueOnError)
	common.register(flagSet)
	target.register(flagSet)
	if help, err := parse(flagSet, args); help || err != nil {
		return err
	}

	subject, err := target.subject()
	if err != nil {
		return err
	}
	cfg, logger, err := common.load(cli, "audit")
	if err != nil {
		return err
	}
	store, err := cfg.OpenStore(blobstore.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer store.Close()

	trail, err := store.AuditTrail(ctx, subject)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(cli.stdout)
	for _, record := range trail {
		if err := encoder.Encode(record); err != nil {
			return err
		}
	}
	return nil
}
