// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

// Satnam-vault is the sandboxed vault daemon. It opens the configured
// encrypted blob store, listens on a unix socket restricted to its
// user, and answers unlock, sign, get_public_key, status, lock and
// get_permissions requests from allowlisted origins. Decrypted secrets
// never leave the process; replies carry session handles, signatures
// and public keys only.
package main
