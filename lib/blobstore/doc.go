// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

// Package blobstore persists encrypted secret blobs keyed by owner and
// secret kind.
//
// A [Store] treats blobs as opaque. It never decrypts, holds no keys,
// and computes only [Ref] values: BLAKE3 digests of a blob's
// deterministic CBOR encoding, used to link an old blob to its
// replacement in an [AuditRecord] without recording either blob.
//
// Three backends implement Store with identical semantics:
//
//   - [MemoryStore]: in-process map, for tests and ephemeral vaults.
//   - [FileStore]: one CBOR file per subject, replaced by atomic
//     rename, serialized across processes with flock.
//   - [SQLiteStore]: a SQLite database via lib/sqlitepool, with each
//     replacement and its audit row committed in one transaction.
//
// [Export] and [Import] move a whole store between machines as an
// age-encrypted, optionally compressed (zstd or lz4) bundle.
package blobstore
