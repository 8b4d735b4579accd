// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/envelope"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/schema"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/secret"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/session"
)

var (
	// ErrRecoveryCancelled is returned by a RecoveryPrompt when the user
	// declines to authenticate.
	ErrRecoveryCancelled = errors.New("resolver: recovery cancelled")

	// ErrRecoveryNoBlob means the recovery service accepted the
	// credentials but handed back nothing to decrypt.
	ErrRecoveryNoBlob = errors.New("resolver: recovery returned no blob")
)

// RecoveryService is an external authentication service that, given an
// identifier and passphrase, returns exactly one encrypted blob that
// decrypts under that passphrase.
type RecoveryService interface {
	Ping(ctx context.Context) error
	Authenticate(ctx context.Context, identifier string, passphrase []byte, subject envelope.Subject) (*envelope.EncryptedBlob, error)
}

// RecoveryPrompt collects the supplementary credentials for recovery.
// The source zeroes the returned passphrase.
type RecoveryPrompt func(ctx context.Context, subject envelope.Subject) (identifier string, passphrase []byte, err error)

// RecoverySource acquires a secret through a RecoveryService. The
// recovered blob is decrypted with the recovery passphrase, not the
// request password.
type RecoverySource struct {
	Service RecoveryService
	Prompt  RecoveryPrompt
	Codec   *envelope.Codec
	Manager *session.Manager

	Rank int
}

func (s *RecoverySource) Type() schema.SourceType { return schema.SourceRecoveryService }
func (s *RecoverySource) Priority() int           { return s.Rank }

func (s *RecoverySource) Probe(ctx context.Context) error {
	return s.Service.Ping(ctx)
}

func (s *RecoverySource) Acquire(ctx context.Context, request Request) (Session, error) {
	if s.Prompt == nil {
		return nil, fmt.Errorf("resolver: recovery source has no prompt")
	}
	subject := request.Subject()
	identifier, passphrase, err := s.Prompt(ctx, subject)
	defer secret.Zero(passphrase)
	if err != nil {
		return nil, err
	}

	blob, err := s.Service.Authenticate(ctx, identifier, passphrase, subject)
	if err != nil {
		return nil, fmt.Errorf("resolver: recovery authentication: %w", err)
	}
	if blob == nil {
		return nil, ErrRecoveryNoBlob
	}
	if blob.Subject() != subject {
		return nil, fmt.Errorf("resolver: recovery returned a blob for %s, want %s", blob.Subject(), subject)
	}

	codec := s.Codec
	if codec == nil {
		codec = &envelope.Codec{}
	}
	return openLocal(s.Manager, codec, blob, passphrase, request, schema.SourceRecoveryService)
}
