// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"bytes"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/schema"
)

// testParams keeps argon2id cheap so tests run in milliseconds.
var testParams = KDFParams{
	Algorithm: AlgorithmArgon2id,
	Time:      1,
	MemoryKiB: 64,
	Threads:   1,
	KeyLen:    KeySize,
}

func testCodec() *Codec {
	return &Codec{Params: testParams}
}

var (
	testSubject   = Subject{OwnerID: "npub1alice", Kind: schema.KindSigningKey}
	testPassword  = []byte("correct horse battery staple")
	testOwnerSalt = []byte("owner-salt-alice")
)

func TestRoundTrip(t *testing.T) {
	codec := testCodec()
	cases := []struct {
		name      string
		subject   Subject
		plaintext []byte
		ownerSalt []byte
	}{
		{"signing key", testSubject, bytes.Repeat([]byte{0x42}, 32), testOwnerSalt},
		{"seed phrase", Subject{OwnerID: "npub1alice", Kind: schema.KindSeedPhrase},
			[]byte("abandon ability able about above absent absorb abstract absurd abuse access accident"), testOwnerSalt},
		{"single byte", testSubject, []byte{0}, testOwnerSalt},
		{"empty owner salt", testSubject, []byte("secret"), nil},
	}
	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			blob, err := codec.Encrypt(test.subject, test.plaintext, testPassword, test.ownerSalt)
			if err != nil {
				t.Fatalf("Encrypt: %v", err)
			}
			if bytes.Contains(blob.Ciphertext, test.plaintext) && len(test.plaintext) > 4 {
				t.Fatal("ciphertext contains the plaintext")
			}

			buffer, err := codec.Decrypt(blob, testPassword, test.ownerSalt)
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			defer buffer.Close()
			if !buffer.Equal(test.plaintext) {
				t.Errorf("Decrypt returned different bytes than were encrypted")
			}
		})
	}
}

func TestEncryptFreshSaltAndNonce(t *testing.T) {
	codec := testCodec()
	plaintext := []byte("same secret")
	first, err := codec.Encrypt(testSubject, plaintext, testPassword, testOwnerSalt)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	second, err := codec.Encrypt(testSubject, plaintext, testPassword, testOwnerSalt)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Equal(first.KDFSalt, second.KDFSalt) {
		t.Error("two encryptions reused a KDF salt")
	}
	if bytes.Equal(first.Nonce, second.Nonce) {
		t.Error("two encryptions reused a nonce")
	}
	if bytes.Equal(first.Ciphertext, second.Ciphertext) {
		t.Error("two encryptions produced identical ciphertext")
	}
	if first.KDFParams != testParams {
		t.Errorf("blob records KDF params %+v, want %+v", first.KDFParams, testParams)
	}
}

func TestEncryptRejectsInvalidInput(t *testing.T) {
	codec := testCodec()
	cases := []struct {
		name      string
		subject   Subject
		plaintext []byte
		password  []byte
	}{
		{"empty owner", Subject{Kind: schema.KindSigningKey}, []byte("x"), testPassword},
		{"unknown kind", Subject{OwnerID: "o", Kind: "api_key"}, []byte("x"), testPassword},
		{"empty plaintext", testSubject, nil, testPassword},
		{"empty password", testSubject, []byte("x"), nil},
	}
	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			if _, err := codec.Encrypt(test.subject, test.plaintext, test.password, testOwnerSalt); err == nil {
				t.Fatal("Encrypt succeeded, want error")
			}
		})
	}
}

func TestEncryptRejectsOversizedParams(t *testing.T) {
	codec := &Codec{
		Params:    KDFParams{Algorithm: AlgorithmArgon2id, Time: 100, MemoryKiB: 64, Threads: 1, KeyLen: KeySize},
		MaxParams: DefaultMaxKDFParams(),
	}
	if _, err := codec.Encrypt(testSubject, []byte("x"), testPassword, testOwnerSalt); err == nil {
		t.Fatal("Encrypt accepted KDF params above the maximum")
	}
}

// Every way a blob can fail to open yields the same sentinel, and
// nothing more specific.
func TestDecryptFailuresAreIndistinguishable(t *testing.T) {
	codec := testCodec()
	plaintext := bytes.Repeat([]byte{0x07}, 32)
	blob, err := codec.Encrypt(testSubject, plaintext, testPassword, testOwnerSalt)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	cases := []struct {
		name      string
		mutate    func(*EncryptedBlob)
		password  []byte
		ownerSalt []byte
	}{
		{"wrong password", nil, []byte("wrong password"), testOwnerSalt},
		{"wrong owner salt", nil, testPassword, []byte("owner-salt-mallory")},
		{"flipped ciphertext bit", func(b *EncryptedBlob) { b.Ciphertext[0] ^= 0x01 }, testPassword, testOwnerSalt},
		{"flipped tag bit", func(b *EncryptedBlob) { b.Ciphertext[len(b.Ciphertext)-1] ^= 0x80 }, testPassword, testOwnerSalt},
		{"truncated ciphertext", func(b *EncryptedBlob) { b.Ciphertext = b.Ciphertext[:len(b.Ciphertext)-1] }, testPassword, testOwnerSalt},
		{"flipped nonce bit", func(b *EncryptedBlob) { b.Nonce[3] ^= 0x10 }, testPassword, testOwnerSalt},
		{"flipped salt bit", func(b *EncryptedBlob) { b.KDFSalt[0] ^= 0x01 }, testPassword, testOwnerSalt},
		{"owner swapped", func(b *EncryptedBlob) { b.OwnerID = "npub1mallory" }, testPassword, testOwnerSalt},
		{"kind relabeled", func(b *EncryptedBlob) { b.Kind = schema.KindSeedPhrase }, testPassword, testOwnerSalt},
		{"unknown version", func(b *EncryptedBlob) { b.Version = 9 }, testPassword, testOwnerSalt},
		{"short nonce", func(b *EncryptedBlob) { b.Nonce = b.Nonce[:12] }, testPassword, testOwnerSalt},
		{"unknown algorithm", func(b *EncryptedBlob) { b.KDFParams.Algorithm = "scrypt" }, testPassword, testOwnerSalt},
		{"excessive memory", func(b *EncryptedBlob) { b.KDFParams.MemoryKiB = 1 << 31 }, testPassword, testOwnerSalt},
		{"changed time cost", func(b *EncryptedBlob) { b.KDFParams.Time = 2 }, testPassword, testOwnerSalt},
	}
	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			tampered := blob.Clone()
			if test.mutate != nil {
				test.mutate(tampered)
			}
			buffer, err := codec.Decrypt(tampered, test.password, test.ownerSalt)
			if buffer != nil {
				buffer.Close()
				t.Fatal("Decrypt returned a buffer for an invalid blob")
			}
			if err != ErrDecryptionFailed {
				t.Fatalf("Decrypt error = %v (%T), want exactly ErrDecryptionFailed", err, err)
			}
		})
	}

	t.Run("nil blob", func(t *testing.T) {
		if _, err := codec.Decrypt(nil, testPassword, testOwnerSalt); !errors.Is(err, ErrDecryptionFailed) {
			t.Fatalf("Decrypt(nil) error = %v, want ErrDecryptionFailed", err)
		}
	})
}

func TestDecryptTimingEnvelope(t *testing.T) {
	if testing.Short() {
		t.Skip("timing measurement skipped in short mode")
	}

	// Large enough that key derivation dominates each call.
	codec := &Codec{Params: KDFParams{Algorithm: AlgorithmArgon2id, Time: 1, MemoryKiB: 4096, Threads: 1, KeyLen: KeySize}}
	blob, err := codec.Encrypt(testSubject, []byte("timing secret"), testPassword, testOwnerSalt)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	tampered := blob.Clone()
	tampered.Ciphertext[0] ^= 0xff
	malformed := blob.Clone()
	malformed.Nonce = nil

	measure := func(target *EncryptedBlob, password []byte) time.Duration {
		const rounds = 15
		samples := make([]time.Duration, 0, rounds)
		for range rounds {
			start := time.Now()
			if _, err := codec.Decrypt(target, password, testOwnerSalt); !errors.Is(err, ErrDecryptionFailed) {
				t.Fatalf("Decrypt error = %v, want ErrDecryptionFailed", err)
			}
			samples = append(samples, time.Since(start))
		}
		slices.Sort(samples)
		return samples[rounds/2]
	}

	medians := []time.Duration{
		measure(blob, []byte("wrong password")),
		measure(tampered, testPassword),
		measure(malformed, testPassword),
	}
	fastest, slowest := slices.Min(medians), slices.Max(medians)
	if slowest > 3*fastest {
		t.Errorf("failure paths differ in timing: medians %v", medians)
	}
}

func TestMalformedBlobBurnsItsOwnParams(t *testing.T) {
	// The blob was sealed under older, costlier parameters than the
	// codec now uses for new blobs.
	sealedParams := testParams
	sealedParams.Time = 3
	sealedParams.MemoryKiB = 256
	blob, err := (&Codec{Params: sealedParams}).Encrypt(testSubject, []byte("secret"), testPassword, testOwnerSalt)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	codec := testCodec()
	limit := codec.maxParams()

	malformed := blob.Clone()
	malformed.Nonce = nil
	if got := codec.burnParams(malformed, limit); got != sealedParams {
		t.Errorf("burn params for malformed blob = %+v, want its recorded %+v", got, sealedParams)
	}

	oversized := blob.Clone()
	oversized.KDFParams.MemoryKiB = limit.MemoryKiB * 2
	if got := codec.burnParams(oversized, limit); got != testParams {
		t.Errorf("burn params for out-of-limit blob = %+v, want codec %+v", got, testParams)
	}
	if got := codec.burnParams(nil, limit); got != testParams {
		t.Errorf("burn params for nil blob = %+v, want codec %+v", got, testParams)
	}
}

func TestBlobCloneIsDeep(t *testing.T) {
	blob, err := testCodec().Encrypt(testSubject, []byte("x"), testPassword, testOwnerSalt)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	clone := blob.Clone()
	if !clone.Equal(blob) {
		t.Fatal("clone differs from original")
	}
	clone.Ciphertext[0] ^= 1
	clone.Nonce[0] ^= 1
	clone.KDFSalt[0] ^= 1
	if clone.Equal(blob) {
		t.Fatal("mutating the clone changed the original")
	}
}
