// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/secret"
)

// AlgorithmArgon2id is the only supported KDF algorithm.
const AlgorithmArgon2id = "argon2id"

// KeySize is the derived key length: one XChaCha20-Poly1305 key.
const KeySize = chacha20poly1305.KeySize

// kdfDomain separates envelope key derivation from any other use of
// the same password. Changing it invalidates every stored blob.
var kdfDomain = []byte("satnam.custody.envelope.kdf.v1")

// KDFParams are the argon2id cost parameters recorded in each blob, so
// a blob sealed under older parameters still decrypts after the
// defaults change.
type KDFParams struct {
	Algorithm string `cbor:"algorithm" yaml:"algorithm"`
	Time      uint32 `cbor:"time" yaml:"time"`
	MemoryKiB uint32 `cbor:"memory_kib" yaml:"memory_kib"`
	Threads   uint8  `cbor:"threads" yaml:"threads"`
	KeyLen    uint32 `cbor:"key_len" yaml:"key_len"`
}

// DefaultKDFParams returns the parameters used for new blobs: four
// passes over 128 MiB with four lanes.
func DefaultKDFParams() KDFParams {
	return KDFParams{
		Algorithm: AlgorithmArgon2id,
		Time:      4,
		MemoryKiB: 128 * 1024,
		Threads:   4,
		KeyLen:    KeySize,
	}
}

// DefaultMaxKDFParams bounds the parameters a blob may request on
// decrypt. A crafted blob asking for terabytes of memory is rejected
// instead of exhausting the host.
func DefaultMaxKDFParams() KDFParams {
	return KDFParams{
		Algorithm: AlgorithmArgon2id,
		Time:      16,
		MemoryKiB: 1024 * 1024,
		Threads:   16,
		KeyLen:    KeySize,
	}
}

// Validate checks that the parameters are usable and within limit.
func (p KDFParams) Validate(limit KDFParams) error {
	if p.Algorithm != AlgorithmArgon2id {
		return fmt.Errorf("envelope: unsupported KDF algorithm %q", p.Algorithm)
	}
	if p.KeyLen != KeySize {
		return fmt.Errorf("envelope: KDF key length %d, expected %d", p.KeyLen, KeySize)
	}
	if p.Time == 0 || p.Threads == 0 {
		return fmt.Errorf("envelope: KDF time and threads must be positive")
	}
	// argon2 requires at least 8 KiB per lane.
	if p.MemoryKiB < 8*uint32(p.Threads) {
		return fmt.Errorf("envelope: KDF memory %d KiB is below the minimum for %d threads", p.MemoryKiB, p.Threads)
	}
	if p.Time > limit.Time || p.MemoryKiB > limit.MemoryKiB || p.Threads > limit.Threads {
		return fmt.Errorf("envelope: KDF parameters exceed the configured maximum")
	}
	return nil
}

// deriveKey runs argon2id over the password with a salt that binds the
// owner salt and the per-secret salt together. Both salts are length
// framed so no two (ownerSalt, kdfSalt) pairs produce the same input.
// The returned buffer must be closed by the caller.
func deriveKey(password, ownerSalt, kdfSalt []byte, params KDFParams) (*secret.Buffer, error) {
	salt := make([]byte, 0, len(kdfDomain)+8+len(ownerSalt)+len(kdfSalt))
	salt = append(salt, kdfDomain...)
	salt = binary.BigEndian.AppendUint32(salt, uint32(len(ownerSalt)))
	salt = append(salt, ownerSalt...)
	salt = binary.BigEndian.AppendUint32(salt, uint32(len(kdfSalt)))
	salt = append(salt, kdfSalt...)

	derived := argon2.IDKey(password, salt, params.Time, params.MemoryKiB, params.Threads, params.KeyLen)
	// NewFromBytes zeroes the heap copy.
	return secret.NewFromBytes(derived)
}
