// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed wraps filippo.io/age for export bundles: x25519
// keypairs for escrow, scrypt passphrase recipients for
// passphrase-only backups, and whole-file [Seal] / [Open] in the
// binary age format.
//
// Private keys and passphrases are taken from and returned in
// [secret.Buffer] values.
package sealed
