// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "fmt"

// SourceType names a credential source. Sessions carry the type of the
// source that produced them as their source tag.
// Values are self-describing strings that serialize directly to CBOR
// and YAML.
type SourceType string

const (
	// SourceSandboxedVault is an isolated vault process that holds the
	// decrypted secret itself and only answers with derived results.
	SourceSandboxedVault SourceType = "sandboxed_vault"

	// SourceLocalStore is the local encrypted blob store, decrypted in
	// the calling process.
	SourceLocalStore SourceType = "local_store"

	// SourceRecoveryService is a remote recovery flow that yields an
	// encrypted blob after supplementary authentication.
	SourceRecoveryService SourceType = "recovery_service"
)

// IsKnown reports whether s is one of the defined SourceType values.
func (s SourceType) IsKnown() bool {
	switch s {
	case SourceSandboxedVault, SourceLocalStore, SourceRecoveryService:
		return true
	}
	return false
}

// ParseSourceType converts a string into a SourceType, rejecting
// unknown values.
func ParseSourceType(value string) (SourceType, error) {
	source := SourceType(value)
	if !source.IsKnown() {
		return "", fmt.Errorf("unknown credential source type %q", value)
	}
	return source, nil
}

func (s SourceType) String() string { return string(s) }
