// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

// Package origintoken implements Ed25519-signed origin tokens for the
// vault boundary.
//
// A vault accepts requests from a small, fixed set of origins. The
// declared origin string alone is enough for an allowlist, but when the
// vault socket is reachable from more than one context the controlling
// context also mints a token per origin. The vault verifies the token
// signature, expiry, audience and revocation state, and requires the
// token's origin to equal the origin declared in the request.
//
// # Wire format
//
// A token is raw bytes: CBOR-encoded payload followed by a 64-byte
// Ed25519 signature over the payload bytes.
//
//	[CBOR payload bytes] [64-byte Ed25519 signature]
//
// The split point is always len(token) - 64.
//
// # Revocation
//
// Tokens carry a random ID. A [Blacklist] holds revoked IDs until the
// token's own expiry passes, after which the entry is dropped because
// the token is rejected on expiry anyway.
package origintoken
