// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the custody
// binaries.
//
// Four package-level variables are injected at build time via
// -ldflags -X, for example:
//
//	go build -ldflags "-X github.com/OV1-Kenobi/satnam-pub-sub009/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// They default to "unknown" / "0.1.0-dev" in development builds and
// test runs. [Info] formats them for --version; [Full] adds the Go
// version and platform.
package version
