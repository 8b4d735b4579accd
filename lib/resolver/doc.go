// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

// Package resolver produces a single live session for an owner's secret
// from an ordered list of credential sources.
//
// Three sources are provided:
//
//   - [VaultSource] unlocks the secret inside a sandboxed vault and
//     returns a session that forwards operations over the vault client.
//   - [LocalStoreSource] decrypts a blob from an encrypted store into a
//     session.Manager in this process.
//   - [RecoverySource] authenticates against an external recovery
//     service with supplementary credentials and decrypts the blob it
//     returns.
//
// [Resolver.Resolve] sorts sources by priority (stable, so equal
// priorities keep their given order), then for each source runs Probe
// under a clock-driven timeout and, if the probe succeeds, Acquire. The
// first acquired session is returned; probe and acquisition failures
// fall through to the next source. If every source fails the error
// matches ErrAllSourcesUnavailable.
//
// Resolution does not write a secret recovered from one source back
// into another.
package resolver
