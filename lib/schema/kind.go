// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "fmt"

// Kind identifies which secret a blob, session, or vault request refers
// to. The two kinds are independent: a seed phrase is not derived from
// the signing key or vice versa, and each has its own encrypted blob and
// its own live session.
type Kind string

const (
	// KindSigningKey is a 32-byte ed25519 private key seed.
	KindSigningKey Kind = "signing_key"

	// KindSeedPhrase is a mnemonic seed phrase stored as its UTF-8
	// bytes. Signing with a seed-phrase session derives an ed25519 seed
	// from the phrase.
	KindSeedPhrase Kind = "seed_phrase"
)

// IsKnown reports whether k is one of the defined Kind values.
func (k Kind) IsKnown() bool {
	switch k {
	case KindSigningKey, KindSeedPhrase:
		return true
	}
	return false
}

// ParseKind converts a string into a Kind, rejecting unknown values.
func ParseKind(value string) (Kind, error) {
	kind := Kind(value)
	if !kind.IsKnown() {
		return "", fmt.Errorf("unknown secret kind %q (expected %q or %q)", value, KindSigningKey, KindSeedPhrase)
	}
	return kind, nil
}

// UnmarshalText validates the kind on decode, so a stored blob or wire
// request naming an unknown kind fails at the decoding layer.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k), nil
}

func (k Kind) String() string { return string(k) }
