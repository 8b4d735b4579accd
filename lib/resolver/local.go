// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/envelope"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/schema"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/secret"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/session"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/signer"
)

// Default bounds for sessions created in this process.
const (
	DefaultSessionTTL = 5 * time.Minute
	DefaultSessionOps = 10
)

// openLocal decrypts blob and hands the plaintext to manager as a new
// session tagged with source. The plaintext never outlives this call
// outside the manager.
func openLocal(manager *session.Manager, codec *envelope.Codec, blob *envelope.EncryptedBlob, password []byte, request Request, source schema.SourceType) (*localSession, error) {
	plaintext, err := codec.Decrypt(blob, password, request.OwnerSalt)
	if err != nil {
		return nil, err
	}
	defer plaintext.Close()

	publicKey, err := signer.PublicKey(request.Kind, plaintext.Bytes())
	if err != nil {
		return nil, fmt.Errorf("resolver: deriving public key: %w", err)
	}

	ttl := request.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	maxOps := request.MaxOps
	if maxOps <= 0 {
		maxOps = DefaultSessionOps
	}
	id, err := manager.Create(plaintext.Bytes(), session.Params{
		OwnerID:   request.OwnerID,
		Kind:      request.Kind,
		TTL:       ttl,
		MaxOps:    maxOps,
		SourceTag: source,
	})
	if err != nil {
		return nil, err
	}
	return &localSession{
		manager:   manager,
		id:        id,
		kind:      request.Kind,
		source:    source,
		publicKey: publicKey,
	}, nil
}

// localSession is a session held by a Manager in this process.
type localSession struct {
	manager   *session.Manager
	id        session.ID
	kind      schema.Kind
	source    schema.SourceType
	publicKey ed25519.PublicKey
}

func (s *localSession) ID() session.ID            { return s.id }
func (s *localSession) Source() schema.SourceType { return s.source }

func (s *localSession) Info(context.Context) (session.Info, error) {
	return s.manager.Info(s.id)
}

func (s *localSession) Sign(ctx context.Context, message []byte) ([]byte, error) {
	var signature []byte
	err := s.manager.Use(ctx, s.id, func(secretBytes []byte) error {
		var signErr error
		signature, signErr = signer.Sign(s.kind, secretBytes, message)
		return signErr
	})
	if err != nil {
		return nil, err
	}
	return signature, nil
}

// PublicKey does not consume an operation: the key is derived once at
// unlock.
func (s *localSession) PublicKey(context.Context) (ed25519.PublicKey, error) {
	if _, err := s.manager.Check(s.id); err != nil {
		return nil, err
	}
	return bytes.Clone(s.publicKey), nil
}

func (s *localSession) Lock(context.Context) error {
	return s.manager.Lock(s.id)
}

// LocalStoreSource unlocks secrets from an EncryptedSecretStore with
// the caller's password.
type LocalStoreSource struct {
	Store   storeReader
	Codec   *envelope.Codec
	Manager *session.Manager

	// Rank is returned by Priority.
	Rank int
}

// storeReader is the part of blobstore.Store the local source needs.
type storeReader interface {
	Read(ctx context.Context, subject envelope.Subject) (*envelope.EncryptedBlob, error)
	List(ctx context.Context) ([]envelope.Subject, error)
}

func (s *LocalStoreSource) Type() schema.SourceType { return schema.SourceLocalStore }
func (s *LocalStoreSource) Priority() int           { return s.Rank }

// Probe checks that the store answers.
func (s *LocalStoreSource) Probe(ctx context.Context) error {
	_, err := s.Store.List(ctx)
	return err
}

func (s *LocalStoreSource) Acquire(ctx context.Context, request Request) (Session, error) {
	blob, err := s.Store.Read(ctx, request.Subject())
	if err != nil {
		return nil, err
	}
	password := bytes.Clone(request.Password)
	defer secret.Zero(password)
	return openLocal(s.Manager, s.codec(), blob, password, request, schema.SourceLocalStore)
}

func (s *LocalStoreSource) codec() *envelope.Codec {
	if s.Codec == nil {
		return &envelope.Codec{}
	}
	return s.Codec
}
