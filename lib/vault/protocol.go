// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"fmt"
	"time"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/codec"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/schema"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/session"
)

// RequestType discriminates request envelopes.
type RequestType string

const (
	RequestUnlock         RequestType = "unlock"
	RequestSign           RequestType = "sign"
	RequestGetPublicKey   RequestType = "get_public_key"
	RequestStatus         RequestType = "status"
	RequestLock           RequestType = "lock"
	RequestGetPermissions RequestType = "get_permissions"
)

// AllRequestTypes lists every request type in wire order.
var AllRequestTypes = []RequestType{
	RequestUnlock,
	RequestSign,
	RequestGetPublicKey,
	RequestStatus,
	RequestLock,
	RequestGetPermissions,
}

// IsKnown reports whether t is a defined request type.
func (t RequestType) IsKnown() bool {
	for _, known := range AllRequestTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseRequestType converts a name into a RequestType.
func ParseRequestType(name string) (RequestType, error) {
	t := RequestType(name)
	if !t.IsKnown() {
		return "", fmt.Errorf("vault: unknown request type %q", name)
	}
	return t, nil
}

// ResponseType discriminates response envelopes.
type ResponseType string

const (
	ResponseUnlocked    ResponseType = "unlocked"
	ResponseSigned      ResponseType = "signed"
	ResponsePublicKey   ResponseType = "public_key"
	ResponseStatus      ResponseType = "status"
	ResponseLocked      ResponseType = "locked"
	ResponsePermissions ResponseType = "permissions"
	ResponseError       ResponseType = "error"
)

// expectedResponse maps each request to the only success response it
// may receive.
var expectedResponse = map[RequestType]ResponseType{
	RequestUnlock:         ResponseUnlocked,
	RequestSign:           ResponseSigned,
	RequestGetPublicKey:   ResponsePublicKey,
	RequestStatus:         ResponseStatus,
	RequestLock:           ResponseLocked,
	RequestGetPermissions: ResponsePermissions,
}

// Request is the envelope a client sends to the vault.
type Request struct {
	Type      RequestType `cbor:"type"`
	RequestID string      `cbor:"request_id"`

	// Origin is the caller's declared identity, checked against the
	// vault's allowlist before anything else.
	Origin string `cbor:"origin"`

	// Token is an optional origin token (see lib/origintoken).
	Token []byte `cbor:"token,omitempty"`

	Payload codec.RawMessage `cbor:"payload,omitempty"`
}

// Response is the envelope the vault sends back. Exactly one of
// Payload and Error is set.
type Response struct {
	Type      ResponseType     `cbor:"type"`
	RequestID string           `cbor:"request_id"`
	Payload   codec.RawMessage `cbor:"payload,omitempty"`
	Error     *WireError       `cbor:"error,omitempty"`
}

// WireError is the error body of a Response. Message is a fixed string
// per Code and never carries internal state.
type WireError struct {
	Code    ErrorCode `cbor:"code"`
	Message string    `cbor:"message"`
}

// Request payloads.

// UnlockRequest asks the vault to decrypt a stored secret into a new
// session. The password is zeroed by the vault after use.
type UnlockRequest struct {
	OwnerID   string      `cbor:"owner_id"`
	Kind      schema.Kind `cbor:"kind"`
	Password  []byte      `cbor:"password"`
	OwnerSalt []byte      `cbor:"owner_salt"`

	// TTL and MaxOps request session bounds. Zero means the vault's
	// defaults; values above the vault's limits are clamped.
	TTL    time.Duration `cbor:"ttl,omitempty"`
	MaxOps int           `cbor:"max_ops,omitempty"`
}

// SignRequest asks for a signature over Message.
type SignRequest struct {
	SessionID session.ID `cbor:"session_id"`
	Message   []byte     `cbor:"message"`
}

// SessionRequest addresses an existing session. It is the payload of
// get_public_key, status and lock.
type SessionRequest struct {
	SessionID session.ID `cbor:"session_id"`
}

// Response payloads. These types form a closed set: each implements
// ResponsePayload through an unexported method, and the server can
// only reply with a ResponsePayload. None of them has a field able to
// hold secret material.

// ResponsePayload is implemented only by the payload types in this
// file.
type ResponsePayload interface {
	responseType() ResponseType
}

// UnlockedPayload reports a successful unlock.
type UnlockedPayload struct {
	Unlocked    bool        `cbor:"unlocked"`
	SessionID   session.ID  `cbor:"session_id"`
	OwnerID     string      `cbor:"owner_id"`
	Kind        schema.Kind `cbor:"kind"`
	ExpiresAt   time.Time   `cbor:"expires_at"`
	MaxOps      int         `cbor:"max_ops"`
	PublicKey   []byte      `cbor:"public_key"`
	Fingerprint string      `cbor:"fingerprint"`
}

// SignedPayload carries a signature.
type SignedPayload struct {
	SessionID    session.ID `cbor:"session_id"`
	Signature    []byte     `cbor:"signature"`
	RemainingOps int        `cbor:"remaining_ops"`
}

// PublicKeyPayload carries the public half of a session's key.
type PublicKeyPayload struct {
	SessionID   session.ID `cbor:"session_id"`
	PublicKey   []byte     `cbor:"public_key"`
	Fingerprint string     `cbor:"fingerprint"`
}

// StatusPayload describes a session.
type StatusPayload struct {
	SessionID    session.ID    `cbor:"session_id"`
	Unlocked     bool          `cbor:"unlocked"`
	OwnerID      string        `cbor:"owner_id"`
	Kind         schema.Kind   `cbor:"kind"`
	State        session.State `cbor:"state"`
	OpCount      int           `cbor:"op_count"`
	MaxOps       int           `cbor:"max_ops"`
	RemainingOps int           `cbor:"remaining_ops"`
	ExpiresAt    time.Time     `cbor:"expires_at"`
}

// LockedPayload confirms a lock.
type LockedPayload struct {
	SessionID session.ID `cbor:"session_id"`
	Locked    bool       `cbor:"locked"`
}

// PermissionsPayload lists what the calling origin may do.
type PermissionsPayload struct {
	Origin     string        `cbor:"origin"`
	Operations []RequestType `cbor:"operations"`
}

func (UnlockedPayload) responseType() ResponseType    { return ResponseUnlocked }
func (SignedPayload) responseType() ResponseType      { return ResponseSigned }
func (PublicKeyPayload) responseType() ResponseType   { return ResponsePublicKey }
func (StatusPayload) responseType() ResponseType      { return ResponseStatus }
func (LockedPayload) responseType() ResponseType      { return ResponseLocked }
func (PermissionsPayload) responseType() ResponseType { return ResponsePermissions }

// newResponse encodes payload into a success envelope.
func newResponse(requestID string, payload ResponsePayload) (Response, error) {
	data, err := codec.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("vault: encoding %s payload: %w", payload.responseType(), err)
	}
	return Response{
		Type:      payload.responseType(),
		RequestID: requestID,
		Payload:   data,
	}, nil
}

// newErrorResponse builds an error envelope with the fixed message for
// code.
func newErrorResponse(requestID string, code ErrorCode) Response {
	return Response{
		Type:      ResponseError,
		RequestID: requestID,
		Error:     &WireError{Code: code, Message: code.Message()},
	}
}
