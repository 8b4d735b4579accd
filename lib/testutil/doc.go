// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [SocketDir] creates a short temporary directory for Unix domain
// sockets, whose paths are limited to 108 bytes.
//
// [RequireReceive], [RequireSend], and [RequireClosed] bound channel
// waits with a wall-clock safety valve so a broken test fails instead
// of hanging. Behavior under test uses clock.Fake; these are the only
// real timeouts in the test suite.
//
// [UniqueID] generates distinct owner IDs and request IDs.
//
// This package imports nothing from the module.
package testutil
