// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"errors"
	"fmt"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/blobstore"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/envelope"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/session"
)

var (
	// ErrOriginRejected is returned when the caller's origin is not on
	// the vault's allowlist or its origin token does not verify.
	ErrOriginRejected = errors.New("vault: origin rejected")

	// ErrPermissionDenied is returned when the origin is allowed but
	// the requested operation is not.
	ErrPermissionDenied = errors.New("vault: operation not permitted")

	// ErrTimeout is returned by the client when no response arrives
	// within the call timeout.
	ErrTimeout = errors.New("vault: request timed out")

	// ErrClientClosed is returned for calls pending when the client or
	// its channel closes, and for calls made afterwards.
	ErrClientClosed = errors.New("vault: client closed")

	// ErrBadRequest is returned for malformed payloads.
	ErrBadRequest = errors.New("vault: malformed request")

	// ErrInternal covers failures the vault does not describe further.
	ErrInternal = errors.New("vault: internal error")

	// ErrUnexpectedResponse is returned when a response type does not
	// match the request.
	ErrUnexpectedResponse = errors.New("vault: unexpected response type")
)

// ErrorCode is the machine-readable error kind on the wire.
type ErrorCode string

const (
	CodeOriginRejected         ErrorCode = "origin_rejected"
	CodePermissionDenied       ErrorCode = "permission_denied"
	CodeBadRequest             ErrorCode = "bad_request"
	CodeSessionNotFound        ErrorCode = "session_not_found"
	CodeSessionExpired         ErrorCode = "session_expired"
	CodeSessionExhausted       ErrorCode = "session_exhausted"
	CodeSessionDestroyed       ErrorCode = "session_destroyed"
	CodeConcurrentAccessDenied ErrorCode = "concurrent_access_denied"
	CodeDecryptionFailed       ErrorCode = "decryption_failed"
	CodeSecretNotFound         ErrorCode = "secret_not_found"
	CodeInternal               ErrorCode = "internal"
)

// codeErrors pairs each code with its sentinel. Order matters for
// codeFor: the first sentinel matched by errors.Is wins.
var codeErrors = []struct {
	code ErrorCode
	err  error
}{
	{CodeOriginRejected, ErrOriginRejected},
	{CodePermissionDenied, ErrPermissionDenied},
	{CodeBadRequest, ErrBadRequest},
	{CodeSessionNotFound, session.ErrSessionNotFound},
	{CodeSessionExpired, session.ErrSessionExpired},
	{CodeSessionExhausted, session.ErrSessionExhausted},
	{CodeSessionDestroyed, session.ErrSessionDestroyed},
	{CodeConcurrentAccessDenied, session.ErrConcurrentAccessDenied},
	{CodeDecryptionFailed, envelope.ErrDecryptionFailed},
	{CodeSecretNotFound, blobstore.ErrBlobNotFound},
	{CodeInternal, ErrInternal},
}

// Sentinel returns the error a code stands for, or nil for an unknown
// code.
func (c ErrorCode) Sentinel() error {
	for _, pair := range codeErrors {
		if pair.code == c {
			return pair.err
		}
	}
	return nil
}

// Message returns the fixed human-readable text for c.
func (c ErrorCode) Message() string {
	if sentinel := c.Sentinel(); sentinel != nil {
		return sentinel.Error()
	}
	return string(c)
}

// codeFor maps a server-side error to its wire code. Anything
// unrecognized is internal.
func codeFor(err error) ErrorCode {
	for _, pair := range codeErrors {
		if errors.Is(err, pair.err) {
			return pair.code
		}
	}
	return CodeInternal
}

// RemoteError is a vault error received over the wire. It unwraps to
// the sentinel for its code, so errors.Is(err, session.ErrSessionExpired)
// holds on the client side too.
type RemoteError struct {
	Request RequestType
	Code    ErrorCode
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("vault %s: %s (%s)", e.Request, e.Message, e.Code)
}

func (e *RemoteError) Unwrap() error {
	return e.Code.Sentinel()
}
