// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package origintoken

import (
	"crypto/ed25519"
	"errors"
	"testing"
	"time"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testKeypair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	public, private, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	return public, private
}

func TestIssueAndVerify(t *testing.T) {
	public, private := testKeypair(t)

	raw, issued, err := Issue(private, "wallet-ui", "vault-main", epoch, 5*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(raw) <= signatureSize {
		t.Fatalf("token too short: %d bytes", len(raw))
	}
	if len(issued.ID) != 32 {
		t.Errorf("ID length = %d, want 32 hex characters", len(issued.ID))
	}

	verified, err := VerifyAt(public, raw, epoch.Add(time.Minute))
	if err != nil {
		t.Fatalf("VerifyAt: %v", err)
	}
	if verified.Origin != "wallet-ui" || verified.Audience != "vault-main" {
		t.Errorf("verified = %+v", verified)
	}
	if verified.ID != issued.ID {
		t.Errorf("ID = %q, want %q", verified.ID, issued.ID)
	}
	if verified.ExpiresAt != epoch.Add(5*time.Minute).Unix() {
		t.Errorf("ExpiresAt = %d", verified.ExpiresAt)
	}
}

func TestIssue_Validation(t *testing.T) {
	_, private := testKeypair(t)
	if _, _, err := Issue(private, "", "vault", epoch, time.Minute); err == nil {
		t.Error("Issue accepted an empty origin")
	}
	if _, _, err := Issue(private, "ui", "", epoch, time.Minute); err == nil {
		t.Error("Issue accepted an empty audience")
	}
	if _, _, err := Issue(private, "ui", "vault", epoch, 0); err == nil {
		t.Error("Issue accepted a zero ttl")
	}
}

func TestVerifyAt_Failures(t *testing.T) {
	public, private := testKeypair(t)
	otherPublic, _ := testKeypair(t)

	raw, _, err := Issue(private, "wallet-ui", "vault-main", epoch, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tampered := append([]byte(nil), raw...)
	tampered[0] ^= 0xff

	tests := []struct {
		name      string
		publicKey ed25519.PublicKey
		token     []byte
		now       time.Time
		want      error
	}{
		{"too short", public, raw[:signatureSize], epoch, ErrTokenTooShort},
		{"tampered payload", public, tampered, epoch, ErrInvalidSignature},
		{"wrong key", otherPublic, raw, epoch, ErrInvalidSignature},
		{"expired at deadline", public, raw, epoch.Add(time.Minute), ErrTokenExpired},
		{"expired later", public, raw, epoch.Add(time.Hour), ErrTokenExpired},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := VerifyAt(test.publicKey, test.token, test.now)
			if !errors.Is(err, test.want) {
				t.Fatalf("VerifyAt error = %v, want %v", err, test.want)
			}
		})
	}
}

func TestVerifier_VerifyOrigin(t *testing.T) {
	public, private := testKeypair(t)
	blacklist := NewBlacklist()
	verifier := &Verifier{PublicKey: public, Audience: "vault-main", Blacklist: blacklist}

	raw, token, err := Issue(private, "wallet-ui", "vault-main", epoch, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	otherAudience, _, err := Issue(private, "wallet-ui", "vault-backup", epoch, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := verifier.VerifyOrigin(raw, "wallet-ui", epoch); err != nil {
		t.Fatalf("VerifyOrigin: %v", err)
	}
	if _, err := verifier.VerifyOrigin(raw, "intruder", epoch); !errors.Is(err, ErrOriginMismatch) {
		t.Errorf("declared origin mismatch: error = %v, want ErrOriginMismatch", err)
	}
	if _, err := verifier.VerifyOrigin(otherAudience, "wallet-ui", epoch); !errors.Is(err, ErrAudienceMismatch) {
		t.Errorf("audience mismatch: error = %v, want ErrAudienceMismatch", err)
	}

	blacklist.RevokeToken(token)
	if _, err := verifier.VerifyOrigin(raw, "wallet-ui", epoch); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("revoked token: error = %v, want ErrTokenRevoked", err)
	}
}

func TestKeypairSaveLoad(t *testing.T) {
	directory := t.TempDir()
	public, private := testKeypair(t)

	if err := SaveKeypair(directory, public, private); err != nil {
		t.Fatalf("SaveKeypair: %v", err)
	}
	loadedPrivate, err := LoadPrivateKey(directory)
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}
	if !loadedPrivate.Equal(private) {
		t.Error("loaded private key differs")
	}
	loadedPublic, err := LoadPublicKey(PublicKeyPath(directory))
	if err != nil {
		t.Fatalf("LoadPublicKey: %v", err)
	}
	if !loadedPublic.Equal(public) {
		t.Error("loaded public key differs")
	}
	if _, err := LoadPublicKey(PublicKeyPath(t.TempDir())); err == nil {
		t.Error("LoadPublicKey succeeded on a missing file")
	}
}
