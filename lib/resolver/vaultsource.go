// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"
	"slices"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/schema"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/session"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/vault"
)

// VaultSource acquires a session held inside a sandboxed vault. The
// secret never enters this process; the returned Session forwards
// every operation over the vault client.
type VaultSource struct {
	Client *vault.Client

	Rank int
}

func (s *VaultSource) Type() schema.SourceType { return schema.SourceSandboxedVault }
func (s *VaultSource) Priority() int           { return s.Rank }

// Probe asks the vault for this origin's permissions and requires
// unlock and sign among them.
func (s *VaultSource) Probe(ctx context.Context) error {
	permissions, err := s.Client.Permissions(ctx)
	if err != nil {
		return err
	}
	for _, required := range []vault.RequestType{vault.RequestUnlock, vault.RequestSign} {
		if !slices.Contains(permissions.Operations, required) {
			return fmt.Errorf("resolver: vault does not grant %s to origin %q: %w", required, permissions.Origin, vault.ErrPermissionDenied)
		}
	}
	return nil
}

func (s *VaultSource) Acquire(ctx context.Context, request Request) (Session, error) {
	unlocked, err := s.Client.Unlock(ctx, vault.UnlockRequest{
		OwnerID:   request.OwnerID,
		Kind:      request.Kind,
		Password:  bytes.Clone(request.Password),
		OwnerSalt: request.OwnerSalt,
		TTL:       request.TTL,
		MaxOps:    request.MaxOps,
	})
	if err != nil {
		return nil, err
	}
	return &vaultSession{
		client: s.Client,
		id:     unlocked.SessionID,
	}, nil
}

// vaultSession is a session living inside the vault.
type vaultSession struct {
	client *vault.Client
	id     session.ID
}

func (s *vaultSession) ID() session.ID            { return s.id }
func (s *vaultSession) Source() schema.SourceType { return schema.SourceSandboxedVault }

func (s *vaultSession) Info(ctx context.Context) (session.Info, error) {
	status, err := s.client.Status(ctx, s.id)
	if err != nil {
		return session.Info{}, err
	}
	return session.Info{
		ID:        s.id,
		Kind:      status.Kind,
		OwnerID:   status.OwnerID,
		ExpiresAt: status.ExpiresAt,
		MaxOps:    status.MaxOps,
		OpCount:   status.OpCount,
		State:     status.State,
		SourceTag: schema.SourceSandboxedVault,
	}, nil
}

func (s *vaultSession) Sign(ctx context.Context, message []byte) ([]byte, error) {
	signed, err := s.client.Sign(ctx, s.id, message)
	if err != nil {
		return nil, err
	}
	return signed.Signature, nil
}

func (s *vaultSession) PublicKey(ctx context.Context) (ed25519.PublicKey, error) {
	response, err := s.client.PublicKey(ctx, s.id)
	if err != nil {
		return nil, err
	}
	return ed25519.PublicKey(response.PublicKey), nil
}

func (s *vaultSession) Lock(ctx context.Context) error {
	_, err := s.client.Lock(ctx, s.id)
	return err
}
