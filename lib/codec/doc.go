// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the shared CBOR configuration.
//
// CBOR is used for every internal format: the vault request/response
// envelopes, stored encrypted blobs (file and SQLite backends), audit
// records, origin tokens, and export bundles. The encoder uses Core
// Deterministic Encoding (RFC 8949 §4.2), so the same logical value
// always produces identical bytes; blob references are BLAKE3 digests
// of this encoding.
//
// For buffer-oriented operations (blobs, tokens):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (vault channels):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(io.LimitReader(conn, limit))
//
// Types that only ever travel as CBOR use `cbor` struct tags. Types that
// are also printed as JSON by the CLI use `json` tags, which
// fxamacker/cbor reads as a fallback.
package codec
