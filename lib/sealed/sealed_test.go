// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"strings"
	"testing"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/secret"
)

func generate(t *testing.T) *Keypair {
	t.Helper()
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	t.Cleanup(func() { keypair.Close() })
	return keypair
}

func passphrase(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromBytes([]byte(value))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func TestGenerateKeypair(t *testing.T) {
	keypair := generate(t)
	if !strings.HasPrefix(keypair.PrivateKey.String(), "AGE-SECRET-KEY-1") {
		t.Error("private key does not have the AGE-SECRET-KEY-1 prefix")
	}
	if !strings.HasPrefix(keypair.PublicKey, "age1") {
		t.Errorf("PublicKey = %q, want prefix age1", keypair.PublicKey)
	}

	other := generate(t)
	if keypair.PublicKey == other.PublicKey {
		t.Error("two generated keypairs have identical public keys")
	}

	if err := keypair.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := keypair.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestSealOpen_MultipleRecipients(t *testing.T) {
	first := generate(t)
	second := generate(t)

	recipients, err := Recipients([]string{first.PublicKey, second.PublicKey})
	if err != nil {
		t.Fatalf("Recipients: %v", err)
	}
	plaintext := []byte("bundle contents")
	ciphertext, err := Seal(plaintext, recipients...)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Fatal("ciphertext contains the plaintext")
	}

	for index, keypair := range []*Keypair{first, second} {
		identity, err := Identity(keypair.PrivateKey)
		if err != nil {
			t.Fatalf("Identity: %v", err)
		}
		opened, err := Open(ciphertext, identity)
		if err != nil {
			t.Fatalf("Open with recipient %d: %v", index, err)
		}
		if !bytes.Equal(opened, plaintext) {
			t.Errorf("recipient %d opened %q, want %q", index, opened, plaintext)
		}
	}
}

func TestOpen_WrongKey(t *testing.T) {
	owner := generate(t)
	stranger := generate(t)

	recipients, err := Recipients([]string{owner.PublicKey})
	if err != nil {
		t.Fatalf("Recipients: %v", err)
	}
	ciphertext, err := Seal([]byte("x"), recipients...)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	identity, err := Identity(stranger.PrivateKey)
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if _, err := Open(ciphertext, identity); err == nil {
		t.Fatal("Open succeeded with the wrong key")
	}
}

func TestSealOpen_Passphrase(t *testing.T) {
	recipient, err := PassphraseRecipient(passphrase(t, "backup passphrase"), 10)
	if err != nil {
		t.Fatalf("PassphraseRecipient: %v", err)
	}
	ciphertext, err := Seal([]byte("passphrase bundle"), recipient)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	identity, err := PassphraseIdentity(passphrase(t, "backup passphrase"))
	if err != nil {
		t.Fatalf("PassphraseIdentity: %v", err)
	}
	opened, err := Open(ciphertext, identity)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(opened) != "passphrase bundle" {
		t.Errorf("Open = %q", opened)
	}

	wrong, err := PassphraseIdentity(passphrase(t, "not the passphrase"))
	if err != nil {
		t.Fatalf("PassphraseIdentity: %v", err)
	}
	if _, err := Open(ciphertext, wrong); err == nil {
		t.Fatal("Open succeeded with the wrong passphrase")
	}
}

func TestInvalidInputs(t *testing.T) {
	if _, err := Recipients(nil); err == nil {
		t.Error("Recipients(nil) succeeded")
	}
	if _, err := Recipients([]string{"not-a-key"}); err == nil {
		t.Error("Recipients accepted an invalid key")
	}
	if _, err := Identity(passphrase(t, "AGE-SECRET-KEY-1INVALID")); err == nil {
		t.Error("Identity accepted an invalid key")
	}
	if _, err := Seal([]byte("x")); err == nil {
		t.Error("Seal with no recipients succeeded")
	}
	if _, err := Open([]byte("x")); err == nil {
		t.Error("Open with no identities succeeded")
	}
}
