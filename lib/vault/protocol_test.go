// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"bytes"
	"context"
	"crypto/rand"
	"reflect"
	"testing"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/codec"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/envelope"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/schema"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/testutil"
)

// responsePayloadTypes is the closed set of reply payloads.
var responsePayloadTypes = []ResponsePayload{
	UnlockedPayload{},
	SignedPayload{},
	PublicKeyPayload{},
	StatusPayload{},
	LockedPayload{},
	PermissionsPayload{},
}

func TestResponsePayloadsHaveNoOpaqueFields(t *testing.T) {
	for _, payload := range responsePayloadTypes {
		checkFieldTypes(t, reflect.TypeOf(payload), reflect.TypeOf(payload).Name())
	}
}

// checkFieldTypes fails on any interface, pointer, or func field: only
// plain data can appear in a reply.
func checkFieldTypes(t *testing.T, typ reflect.Type, path string) {
	t.Helper()
	switch typ.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Map:
		t.Errorf("%s has kind %s", path, typ.Kind())
	case reflect.Slice, reflect.Array:
		checkFieldTypes(t, typ.Elem(), path+"[]")
	case reflect.Struct:
		if typ.PkgPath() == "time" {
			return
		}
		for index := range typ.NumField() {
			field := typ.Field(index)
			checkFieldTypes(t, field.Type, path+"."+field.Name)
		}
	}
}

func TestResponseTypes(t *testing.T) {
	seen := make(map[ResponseType]bool)
	for _, payload := range responsePayloadTypes {
		responseType := payload.responseType()
		if seen[responseType] {
			t.Errorf("response type %q used twice", responseType)
		}
		seen[responseType] = true
	}
	for _, requestType := range AllRequestTypes {
		if !seen[expectedResponse[requestType]] {
			t.Errorf("request %q has no response payload", requestType)
		}
	}
}

// Random secrets pushed through every reply path never appear in the
// encoded responses, in whole or as an 8-byte window.
func TestResponsesNeverContainSecretBytes(t *testing.T) {
	iterations := 24
	if testing.Short() {
		iterations = 4
	}
	f := newServerFixture(t, map[string][]RequestType{testOrigin: allOperations()})
	ctx := context.Background()

	for iteration := range iterations {
		kind := schema.KindSigningKey
		secretBytes := make([]byte, 32)
		if iteration%2 == 1 {
			kind = schema.KindSeedPhrase
			secretBytes = make([]byte, 48)
		}
		if _, err := rand.Read(secretBytes); err != nil {
			t.Fatalf("rand: %v", err)
		}
		subject := envelope.Subject{OwnerID: testutil.UniqueID("npub"), Kind: kind}
		storeSecret(t, f.store, f.codec, subject, secretBytes)

		var encoded [][]byte
		handle := func(request Request) Response {
			request.Origin = testOrigin
			request.RequestID = testutil.UniqueID("req")
			response := f.server.Handle(ctx, request)
			data, err := codec.Marshal(response)
			if err != nil {
				t.Fatalf("Marshal response: %v", err)
			}
			encoded = append(encoded, data)
			return response
		}

		unlockResponse := handle(Request{Type: RequestUnlock, Payload: encodePayload(t, UnlockRequest{
			OwnerID:   subject.OwnerID,
			Kind:      kind,
			Password:  bytes.Clone(testPassword),
			OwnerSalt: testOwnerSalt,
		})})
		if unlockResponse.Error != nil {
			t.Fatalf("unlock: %+v", unlockResponse.Error)
		}
		var unlocked UnlockedPayload
		if err := codec.Unmarshal(unlockResponse.Payload, &unlocked); err != nil {
			t.Fatalf("decoding unlock: %v", err)
		}
		id := unlocked.SessionID

		message := make([]byte, 64)
		rand.Read(message)
		handle(Request{Type: RequestSign, Payload: encodePayload(t, SignRequest{SessionID: id, Message: message})})
		handle(Request{Type: RequestGetPublicKey, Payload: encodePayload(t, SessionRequest{SessionID: id})})
		handle(Request{Type: RequestStatus, Payload: encodePayload(t, SessionRequest{SessionID: id})})
		handle(Request{Type: RequestGetPermissions})
		handle(Request{Type: RequestLock, Payload: encodePayload(t, SessionRequest{SessionID: id})})
		handle(Request{Type: RequestSign, Payload: encodePayload(t, SignRequest{SessionID: id, Message: message})})

		for index, data := range encoded {
			for start := 0; start+8 <= len(secretBytes); start++ {
				if bytes.Contains(data, secretBytes[start:start+8]) {
					t.Fatalf("iteration %d response %d contains secret bytes at offset %d", iteration, index, start)
				}
			}
		}
	}
}
