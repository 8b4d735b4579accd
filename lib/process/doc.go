// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for the custody
// daemon and CLI. These functions centralize the raw I/O that happens
// before or after the structured logger exists:
//
//   - Fatal error reporting to stderr when the logger may not be
//     initialized (pre-logger).
//   - Process exit after an unrecoverable error in main(), honoring
//     [ExitError] codes.
//   - Construction of the process-wide slog logger.
package process
