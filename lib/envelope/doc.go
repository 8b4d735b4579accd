// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

// Package envelope implements password-based envelope encryption of
// custody secrets.
//
// [Codec.Encrypt] derives a key with argon2id from the password, a
// caller-supplied owner salt, and a fresh per-secret salt, then seals
// the secret with XChaCha20-Poly1305 under a fresh random nonce. The
// owner ID, secret kind, and format version are authenticated as
// additional data. The result is an [EncryptedBlob] that records
// everything needed to decrypt except the password and owner salt.
//
// [Codec.Decrypt] reverses this and returns the plaintext in a
// [secret.Buffer]. It has exactly one failure mode,
// [ErrDecryptionFailed], and pays a full key derivation on every
// path, so callers learn nothing about why a blob did not open.
//
// Derived keys live only in secret.Buffers and are wiped before either
// method returns. The codec retains nothing between calls.
package envelope
