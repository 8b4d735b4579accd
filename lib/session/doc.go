// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

// Package session manages time- and count-bounded access to decrypted
// secrets.
//
// A [Manager] owns one protected buffer per session. Callers never
// receive the buffer; they pass an operation to [Manager.Use], which
// runs it against the secret and returns only what the operation
// returns. The lifecycle is an explicit state machine:
//
//	Created --Use--> Active --+--> Exhausted  (MaxOps reached)
//	                          +--> Expired    (TTL elapsed)
//	                          +--> Destroyed  (Lock, Destroy, replaced, Close)
//
// Terminal states are irreversible. Entering one overwrites and frees
// the buffer immediately, or as soon as an in-flight operation
// returns. Expiry is driven by the injected [clock.Clock] and also
// checked on every Use.
//
// Only one operation may run against a session at a time; a second
// concurrent Use fails with [ErrConcurrentAccessDenied] rather than
// waiting. At most one session is live per (owner, kind).
//
// Managers are constructed explicitly and passed to their users; there
// is no package-level instance.
package session
