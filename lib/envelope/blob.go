// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"bytes"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/schema"
)

// BlobVersion is the format version recorded in every EncryptedBlob.
// It is part of the AEAD additional data, so changing it on a stored
// blob causes authentication failure.
const BlobVersion byte = 0x01

// SaltSize is the size of the fresh per-secret KDF salt.
const SaltSize = 16

// Subject names the secret an EncryptedBlob belongs to. Owner and kind
// are bound into the ciphertext: a blob moved to another owner or
// relabeled as another kind does not decrypt.
type Subject struct {
	OwnerID string
	Kind    schema.Kind
}

// Validate checks that the subject names a known kind and a non-empty
// owner.
func (s Subject) Validate() error {
	if s.OwnerID == "" {
		return fmt.Errorf("envelope: owner ID is empty")
	}
	if !s.Kind.IsKnown() {
		return fmt.Errorf("envelope: unknown secret kind %q", s.Kind)
	}
	return nil
}

func (s Subject) String() string {
	return s.OwnerID + "/" + string(s.Kind)
}

// EncryptedBlob is the persisted form of a secret. It is immutable
// once written: rotation stores a new blob rather than modifying an
// existing one. Nothing in an EncryptedBlob is secret on its own, but
// the ciphertext is still never logged or sent in a vault response.
type EncryptedBlob struct {
	Version    byte        `cbor:"version"`
	Ciphertext []byte      `cbor:"ciphertext"`
	Nonce      []byte      `cbor:"iv"`
	KDFSalt    []byte      `cbor:"kdf_salt"`
	KDFParams  KDFParams   `cbor:"kdf_params"`
	OwnerID    string      `cbor:"owner_id"`
	Kind       schema.Kind `cbor:"kind"`
}

// Subject returns the owner and kind the blob claims to belong to.
func (b *EncryptedBlob) Subject() Subject {
	return Subject{OwnerID: b.OwnerID, Kind: b.Kind}
}

// Clone returns a deep copy. Stores hand out clones so callers cannot
// mutate a stored blob through a shared slice.
func (b *EncryptedBlob) Clone() *EncryptedBlob {
	if b == nil {
		return nil
	}
	clone := *b
	clone.Ciphertext = bytes.Clone(b.Ciphertext)
	clone.Nonce = bytes.Clone(b.Nonce)
	clone.KDFSalt = bytes.Clone(b.KDFSalt)
	return &clone
}

// Equal reports whether two blobs are identical in every field.
func (b *EncryptedBlob) Equal(other *EncryptedBlob) bool {
	if b == nil || other == nil {
		return b == other
	}
	return b.Version == other.Version &&
		b.KDFParams == other.KDFParams &&
		b.OwnerID == other.OwnerID &&
		b.Kind == other.Kind &&
		bytes.Equal(b.Ciphertext, other.Ciphertext) &&
		bytes.Equal(b.Nonce, other.Nonce) &&
		bytes.Equal(b.KDFSalt, other.KDFSalt)
}

// Validate performs structural checks only. A blob that passes may
// still fail to decrypt.
func (b *EncryptedBlob) Validate() error {
	if b == nil {
		return fmt.Errorf("envelope: blob is nil")
	}
	if b.Version != BlobVersion {
		return fmt.Errorf("envelope: blob version %d is not supported (expected %d)", b.Version, BlobVersion)
	}
	if err := b.Subject().Validate(); err != nil {
		return err
	}
	if len(b.Nonce) != chacha20poly1305.NonceSizeX {
		return fmt.Errorf("envelope: nonce is %d bytes, expected %d", len(b.Nonce), chacha20poly1305.NonceSizeX)
	}
	if len(b.KDFSalt) != SaltSize {
		return fmt.Errorf("envelope: KDF salt is %d bytes, expected %d", len(b.KDFSalt), SaltSize)
	}
	if len(b.Ciphertext) <= chacha20poly1305.Overhead {
		return fmt.Errorf("envelope: ciphertext is %d bytes, shorter than the authentication tag", len(b.Ciphertext))
	}
	return nil
}
