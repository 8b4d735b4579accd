// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

// Package signer derives ed25519 identities from custody secrets and
// produces the only outputs a secret is allowed to yield: signatures,
// public keys, and public key fingerprints.
//
// A signing_key secret is a 32-byte ed25519 seed. A seed_phrase secret
// is whitespace-normalized and fed to BLAKE3 in key-derivation mode
// under a fixed context string to obtain the seed. Expanded private
// keys exist only for the duration of a call and are zeroed before
// it returns.
package signer
