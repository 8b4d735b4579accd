// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package origintoken

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
)

const (
	privateKeyFile = "origin-signing-key"
	publicKeyFile  = "origin-signing-key.pub"
)

// GenerateKeypair creates a new Ed25519 keypair for token signing.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("origintoken: generating Ed25519 keypair: %w", err)
	}
	return public, private, nil
}

// SaveKeypair writes the keypair into directory. The private key file
// is 0600; the public key file is 0644.
func SaveKeypair(directory string, public ed25519.PublicKey, private ed25519.PrivateKey) error {
	if err := os.WriteFile(filepath.Join(directory, privateKeyFile), private, 0600); err != nil {
		return fmt.Errorf("origintoken: writing private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(directory, publicKeyFile), public, 0644); err != nil {
		return fmt.Errorf("origintoken: writing public key: %w", err)
	}
	return nil
}

// LoadPrivateKey loads the private key written by SaveKeypair.
func LoadPrivateKey(directory string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(filepath.Join(directory, privateKeyFile))
	if err != nil {
		return nil, fmt.Errorf("origintoken: reading private key: %w", err)
	}
	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("origintoken: private key has %d bytes, want %d", len(data), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(data), nil
}

// LoadPublicKey reads a raw Ed25519 public key from path.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("origintoken: reading public key: %w", err)
	}
	if len(data) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("origintoken: public key %s has %d bytes, want %d", path, len(data), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(data), nil
}

// PublicKeyPath returns where SaveKeypair puts the public key.
func PublicKeyPath(directory string) string {
	return filepath.Join(directory, publicKeyFile)
}
