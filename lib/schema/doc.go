// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the small vocabulary shared by every custody
// package: the secret [Kind] (signing key or seed phrase) and the
// credential [SourceType] that produced a session.
//
// Both are self-describing strings that serialize directly to CBOR and
// YAML. [Kind] validates itself on decode, so blobs and vault requests
// naming an unknown kind are rejected before they reach any
// cryptographic code.
//
// This package depends on no other packages in this module.
package schema
