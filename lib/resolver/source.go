// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/envelope"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/schema"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/session"
)

// Request describes the secret to resolve and the credentials the
// caller supplies for it.
type Request struct {
	OwnerID string
	Kind    schema.Kind

	// Password unlocks blobs in the local store and the vault.
	// Resolve zeroes it before returning.
	Password []byte

	// OwnerSalt is the per-owner salt mixed into key derivation.
	OwnerSalt []byte

	// TTL and MaxOps bound the resulting session. Zero means the
	// source's defaults.
	TTL    time.Duration
	MaxOps int
}

// Subject returns the owner and kind being resolved.
func (r Request) Subject() envelope.Subject {
	return envelope.Subject{OwnerID: r.OwnerID, Kind: r.Kind}
}

// CredentialSource is one place a secret can come from.
//
// Probe reports whether the source is reachable at all and must return
// promptly when ctx is cancelled; the resolver bounds it with a short
// timeout. Acquire performs the source-specific unlock and returns a
// live session.
type CredentialSource interface {
	Type() schema.SourceType

	// Priority orders sources: lower values are tried first. Sources
	// with equal priority are tried in the order given to Resolve.
	Priority() int

	Probe(ctx context.Context) error
	Acquire(ctx context.Context, request Request) (Session, error)
}

// Session is the caller's handle on a resolved secret. It exposes
// derived results only; the secret stays with whichever context
// decrypted it.
type Session interface {
	ID() session.ID
	Source() schema.SourceType
	Info(ctx context.Context) (session.Info, error)
	Sign(ctx context.Context, message []byte) ([]byte, error)
	PublicKey(ctx context.Context) (ed25519.PublicKey, error)
	Lock(ctx context.Context) error
}
