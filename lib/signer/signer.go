// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/schema"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/secret"
)

// seedPhraseContext is the BLAKE3 key-derivation context for turning
// a seed phrase into an ed25519 seed. Changing it changes every
// seed-phrase identity.
const seedPhraseContext = "satnam custody 2026-01-01 seed phrase to ed25519 seed v1"

// fingerprintDomain separates public key fingerprints from any other
// BLAKE3 hash of the same bytes.
var fingerprintDomain = []byte("satnam.custody.fingerprint.v1")

// Sign signs message with the identity held in secretBytes. secretBytes
// is read, not retained; intermediate key material is zeroed.
func Sign(kind schema.Kind, secretBytes, message []byte) ([]byte, error) {
	privateKey, err := privateKey(kind, secretBytes)
	if err != nil {
		return nil, err
	}
	defer secret.Zero(privateKey)
	return ed25519.Sign(privateKey, message), nil
}

// PublicKey returns the ed25519 public key of the identity held in
// secretBytes.
func PublicKey(kind schema.Kind, secretBytes []byte) (ed25519.PublicKey, error) {
	privateKey, err := privateKey(kind, secretBytes)
	if err != nil {
		return nil, err
	}
	defer secret.Zero(privateKey)
	return bytes.Clone(privateKey.Public().(ed25519.PublicKey)), nil
}

// Verify reports whether signature is a valid signature of message by
// publicKey.
func Verify(publicKey ed25519.PublicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(publicKey, message, signature)
}

// Fingerprint returns a short display identifier for a public key:
// the first 10 bytes of its domain-separated BLAKE3 hash in hex.
func Fingerprint(publicKey ed25519.PublicKey) string {
	hasher := blake3.New()
	hasher.Write(fingerprintDomain)
	hasher.Write(publicKey)
	digest := hasher.Sum(nil)
	return hex.EncodeToString(digest[:10])
}

// GenerateSigningKey returns a fresh signing_key secret: 32 random
// bytes used as an ed25519 seed. The caller owns the returned buffer.
func GenerateSigningKey(random io.Reader) (*secret.Buffer, error) {
	if random == nil {
		random = rand.Reader
	}
	buffer, err := secret.New(ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(random, buffer.Bytes()); err != nil {
		buffer.Close()
		return nil, fmt.Errorf("signer: generating signing key: %w", err)
	}
	return buffer, nil
}

// privateKey expands the secret into an ed25519 private key on the
// heap. The caller must zero the result.
func privateKey(kind schema.Kind, secretBytes []byte) (ed25519.PrivateKey, error) {
	switch kind {
	case schema.KindSigningKey:
		if len(secretBytes) != ed25519.SeedSize {
			return nil, fmt.Errorf("signer: signing key is %d bytes, expected %d", len(secretBytes), ed25519.SeedSize)
		}
		return ed25519.NewKeyFromSeed(secretBytes), nil

	case schema.KindSeedPhrase:
		words := bytes.Fields(secretBytes)
		if len(words) == 0 {
			return nil, fmt.Errorf("signer: seed phrase is empty")
		}
		// Whitespace is normalized so a phrase re-entered with different
		// spacing yields the same identity.
		normalized := bytes.Join(words, []byte{' '})
		defer secret.Zero(normalized)

		var seed [ed25519.SeedSize]byte
		defer secret.Zero(seed[:])
		blake3.DeriveKey(seedPhraseContext, normalized, seed[:])
		return ed25519.NewKeyFromSeed(seed[:]), nil

	default:
		return nil, fmt.Errorf("signer: unknown secret kind %q", kind)
	}
}
