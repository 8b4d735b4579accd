// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package origintoken

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/codec"
)

const signatureSize = ed25519.SignatureSize

// Token is the CBOR-encoded payload of an origin token.
type Token struct {
	// Origin is the caller identity the token vouches for. It must
	// match the origin declared in each request that carries it.
	Origin string `cbor:"1,keyasint"`

	// Audience names the vault instance the token is scoped to.
	Audience string `cbor:"2,keyasint"`

	// ID is a unique token identifier (hex string), used for
	// revocation via the Blacklist.
	ID string `cbor:"3,keyasint"`

	// IssuedAt and ExpiresAt are Unix timestamps in seconds.
	IssuedAt  int64 `cbor:"4,keyasint"`
	ExpiresAt int64 `cbor:"5,keyasint"`
}

// Errors returned by Verify and related functions.
var (
	ErrTokenTooShort    = errors.New("origintoken: token too short for signature")
	ErrInvalidSignature = errors.New("origintoken: invalid Ed25519 signature")
	ErrTokenExpired     = errors.New("origintoken: token has expired")
	ErrAudienceMismatch = errors.New("origintoken: audience does not match")
	ErrOriginMismatch   = errors.New("origintoken: origin does not match")
	ErrTokenRevoked     = errors.New("origintoken: token has been revoked")
)

// NewID returns a random 16-byte token identifier in hex.
func NewID() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("origintoken: generating token ID: %w", err)
	}
	return hex.EncodeToString(raw[:]), nil
}

// Issue builds and mints a token for origin scoped to audience, valid
// from now for ttl.
func Issue(privateKey ed25519.PrivateKey, origin, audience string, now time.Time, ttl time.Duration) ([]byte, *Token, error) {
	if origin == "" || audience == "" {
		return nil, nil, fmt.Errorf("origintoken: origin and audience are required")
	}
	if ttl <= 0 {
		return nil, nil, fmt.Errorf("origintoken: ttl must be positive, got %s", ttl)
	}
	id, err := NewID()
	if err != nil {
		return nil, nil, err
	}
	token := &Token{
		Origin:    origin,
		Audience:  audience,
		ID:        id,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	raw, err := Mint(privateKey, token)
	if err != nil {
		return nil, nil, err
	}
	return raw, token, nil
}

// Mint signs a Token and returns the wire bytes: CBOR payload followed
// by the 64-byte Ed25519 signature.
func Mint(privateKey ed25519.PrivateKey, token *Token) ([]byte, error) {
	payload, err := codec.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("origintoken: encoding token payload: %w", err)
	}

	signature := ed25519.Sign(privateKey, payload)

	result := make([]byte, len(payload)+signatureSize)
	copy(result, payload)
	copy(result[len(payload):], signature)
	return result, nil
}

// VerifyAt splits the token bytes, verifies the signature, decodes the
// payload and checks expiry against now.
func VerifyAt(publicKey ed25519.PublicKey, tokenBytes []byte, now time.Time) (*Token, error) {
	if len(tokenBytes) <= signatureSize {
		return nil, ErrTokenTooShort
	}

	splitPoint := len(tokenBytes) - signatureSize
	payload := tokenBytes[:splitPoint]
	signature := tokenBytes[splitPoint:]

	if !ed25519.Verify(publicKey, payload, signature) {
		return nil, ErrInvalidSignature
	}

	var token Token
	if err := codec.Unmarshal(payload, &token); err != nil {
		return nil, fmt.Errorf("origintoken: decoding token payload: %w", err)
	}

	if now.Unix() >= token.ExpiresAt {
		return nil, ErrTokenExpired
	}
	return &token, nil
}

// Verifier bundles the checks a vault runs on every request token.
type Verifier struct {
	PublicKey ed25519.PublicKey
	Audience  string

	// Blacklist is optional.
	Blacklist *Blacklist
}

// VerifyOrigin checks signature, expiry, audience, revocation, and that
// the token was minted for origin.
func (v *Verifier) VerifyOrigin(tokenBytes []byte, origin string, now time.Time) (*Token, error) {
	token, err := VerifyAt(v.PublicKey, tokenBytes, now)
	if err != nil {
		return nil, err
	}
	if token.Audience != v.Audience {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrAudienceMismatch, token.Audience, v.Audience)
	}
	if token.Origin != origin {
		return nil, fmt.Errorf("%w: token for %q, request from %q", ErrOriginMismatch, token.Origin, origin)
	}
	if v.Blacklist != nil && v.Blacklist.IsRevoked(token.ID) {
		return nil, ErrTokenRevoked
	}
	return token, nil
}
