// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the custody
// daemon and CLI.
//
// Configuration is loaded from a single file specified by either the
// SATNAM_CUSTODY_CONFIG environment variable (via [Load]) or a
// --config flag (via [LoadFile]). There is no discovery and no
// automatic file search. Files with a .json or .jsonc extension are
// accepted; comments and trailing commas are stripped first.
//
// The file may carry development, staging and production sections
// that override base values when [Config].Environment matches.
// Production defaults are stricter: sessions are capped at fifteen
// minutes and one hundred operations, and the memory store is refused.
//
// Durations are Go duration strings ("5m", "1500ms"). Path fields
// expand ${HOME}, ${SATNAM_STATE} and ${VAR:-default}.
//
// Key exports:
//
//   - [Config] -- master struct with Store, KDF, Session, Vault, Resolver, Bundle
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.Validate] -- reports every problem at once via errors.Join
package config
