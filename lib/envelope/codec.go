// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/secret"
)

// ErrDecryptionFailed is the only error Decrypt returns for a blob it
// cannot open. Wrong password, wrong owner salt, tampered ciphertext,
// a relabeled owner or kind, and a malformed blob are deliberately
// indistinguishable.
var ErrDecryptionFailed = errors.New("envelope: decryption failed")

// Codec seals secrets into EncryptedBlobs and opens them again. The
// zero value is ready to use with the default KDF parameters.
//
// A Codec holds no key material between calls and is safe for
// concurrent use.
type Codec struct {
	// Params are the KDF parameters recorded in newly sealed blobs.
	// Zero means DefaultKDFParams.
	Params KDFParams

	// MaxParams bounds the parameters a blob may request on decrypt.
	// Zero means DefaultMaxKDFParams.
	MaxParams KDFParams

	// Rand supplies salts and nonces. Nil means crypto/rand.
	Rand io.Reader
}

func (c *Codec) params() KDFParams {
	if c.Params == (KDFParams{}) {
		return DefaultKDFParams()
	}
	return c.Params
}

func (c *Codec) maxParams() KDFParams {
	if c.MaxParams == (KDFParams{}) {
		return DefaultMaxKDFParams()
	}
	return c.MaxParams
}

func (c *Codec) random() io.Reader {
	if c.Rand == nil {
		return rand.Reader
	}
	return c.Rand
}

// Encrypt seals plaintext for subject under a key derived from
// password and ownerSalt. Every call draws a fresh KDF salt and nonce,
// so sealing the same secret twice produces unrelated blobs.
//
// Encrypt does not modify or retain plaintext or password; the derived
// key is wiped before returning.
func (c *Codec) Encrypt(subject Subject, plaintext, password, ownerSalt []byte) (*EncryptedBlob, error) {
	if err := subject.Validate(); err != nil {
		return nil, err
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("envelope: plaintext is empty")
	}
	if len(password) == 0 {
		return nil, fmt.Errorf("envelope: password is empty")
	}
	params := c.params()
	if err := params.Validate(c.maxParams()); err != nil {
		return nil, err
	}

	kdfSalt := make([]byte, SaltSize)
	if _, err := io.ReadFull(c.random(), kdfSalt); err != nil {
		return nil, fmt.Errorf("envelope: generating KDF salt: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(c.random(), nonce); err != nil {
		return nil, fmt.Errorf("envelope: generating nonce: %w", err)
	}

	key, err := deriveKey(password, ownerSalt, kdfSalt, params)
	if err != nil {
		return nil, fmt.Errorf("envelope: deriving key: %w", err)
	}
	defer key.Close()

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("envelope: creating XChaCha20-Poly1305 cipher: %w", err)
	}

	blob := &EncryptedBlob{
		Version:   BlobVersion,
		Nonce:     nonce,
		KDFSalt:   kdfSalt,
		KDFParams: params,
		OwnerID:   subject.OwnerID,
		Kind:      subject.Kind,
	}
	blob.Ciphertext = aead.Seal(nil, nonce, plaintext, buildAAD(blob))
	return blob, nil
}

// Decrypt opens blob with password and ownerSalt and returns the
// plaintext in a protected buffer owned by the caller.
//
// Every failure returns ErrDecryptionFailed after a full key
// derivation, so neither the error nor the elapsed time reveals
// whether the password or the blob was at fault.
func (c *Codec) Decrypt(blob *EncryptedBlob, password, ownerSalt []byte) (*secret.Buffer, error) {
	limit := c.maxParams()
	if blob.Validate() != nil || blob.KDFParams.Validate(limit) != nil {
		c.burn(password, ownerSalt, c.burnParams(blob, limit))
		return nil, ErrDecryptionFailed
	}

	key, err := deriveKey(password, ownerSalt, blob.KDFSalt, blob.KDFParams)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	defer key.Close()

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := aead.Open(nil, blob.Nonce, blob.Ciphertext, buildAAD(blob))
	if err != nil || len(plaintext) == 0 {
		return nil, ErrDecryptionFailed
	}

	// NewFromBytes zeroes the heap plaintext.
	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return buffer, nil
}

// burnParams picks the cost of the dummy derivation for a rejected
// blob: its own recorded parameters when they are within limit, so a
// malformed blob costs what a wrong password on it would, and the
// codec's parameters otherwise.
func (c *Codec) burnParams(blob *EncryptedBlob, limit KDFParams) KDFParams {
	if blob != nil && blob.KDFParams.Validate(limit) == nil {
		return blob.KDFParams
	}
	return c.params()
}

// burn performs a key derivation at params and discards the result.
func (c *Codec) burn(password, ownerSalt []byte, params KDFParams) {
	var salt [SaltSize]byte
	key, err := deriveKey(password, ownerSalt, salt[:], params)
	if err == nil {
		key.Close()
	}
}

// buildAAD binds the format version, owner, and kind to the
// ciphertext:
//
//	[version: 1] [len(owner): 4] [owner] [kind]
func buildAAD(blob *EncryptedBlob) []byte {
	aad := make([]byte, 0, 1+4+len(blob.OwnerID)+len(blob.Kind))
	aad = append(aad, blob.Version)
	aad = binary.BigEndian.AppendUint32(aad, uint32(len(blob.OwnerID)))
	aad = append(aad, blob.OwnerID...)
	aad = append(aad, blob.Kind...)
	return aad
}
