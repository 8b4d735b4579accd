// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides the only in-memory home for plaintext secret
// material: signing keys, seed phrases, passwords and derived keys.
//
// [Buffer] allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock, and marks it excluded from core
// dumps via madvise(MADV_DONTDUMP). On Close the contents are
// overwritten with random bytes, zeroed, unlocked, and unmapped.
//
// Constructors:
//
//   - [New] -- zero-filled buffer of a given size
//   - [NewFromBytes] -- copies into protected memory, zeros the source
//   - [ReadFrom] / [ReadFromPath] -- reads a trimmed value from a reader
//     or file ("-" for stdin)
//   - [ReadPassphrase] -- no-echo terminal prompt
//
// [Wipe] and [Zero] scrub heap slices that briefly held secret bytes
// (AEAD output, KDF output, decoded request fields).
//
// Depends on golang.org/x/sys/unix and golang.org/x/term.
package secret
