// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

// Satnam-custody is the operator CLI for the encrypted secret store.
// It seals and rotates secrets, prints audit trails, signs through the
// credential resolver (vault first, then the local store), exports and
// imports age-sealed backup bundles, and manages the origin tokens the
// vault daemon checks.
//
// Subcommands: seal, rotate, list, audit, sign, pubkey, export,
// import, keygen, token-keygen, mint-token, permissions, version.
package main
