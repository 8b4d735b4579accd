// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/blobstore"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/clock"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/envelope"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/schema"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/testutil"
)

var epoch = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

// testKDF keeps argon2id cheap.
var testKDF = envelope.KDFParams{
	Algorithm: envelope.AlgorithmArgon2id,
	Time:      1,
	MemoryKiB: 64,
	Threads:   1,
	KeyLen:    envelope.KeySize,
}

var (
	testPassword  = []byte("correct horse battery staple")
	testOwnerSalt = []byte("owner-salt-0001")
)

// seedPattern is the signing key stored in every fixture. Tests search
// response bytes for it.
var seedPattern = bytes.Repeat([]byte{0x5A}, 32)

const testOrigin = "wallet-ui"

// allOperations grants every request type.
func allOperations() []RequestType {
	return append([]RequestType(nil), AllRequestTypes...)
}

type fixture struct {
	server  *Server
	store   blobstore.Store
	codec   *envelope.Codec
	clock   *clock.FakeClock
	subject envelope.Subject
}

func newServerFixture(t *testing.T, allowlist map[string][]RequestType) *fixture {
	t.Helper()
	fakeClock := clock.Fake(epoch)
	store := blobstore.NewMemoryStore(blobstore.Options{Clock: fakeClock})
	codec := &envelope.Codec{Params: testKDF}
	subject := envelope.Subject{OwnerID: testutil.UniqueID("npub"), Kind: schema.KindSigningKey}

	storeSecret(t, store, codec, subject, seedPattern)

	server, err := NewServer(ServerConfig{
		Allowlist: allowlist,
		Store:     store,
		Codec:     codec,
		Clock:     fakeClock,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { server.Close() })
	return &fixture{server: server, store: store, codec: codec, clock: fakeClock, subject: subject}
}

func storeSecret(t *testing.T, store blobstore.Store, codec *envelope.Codec, subject envelope.Subject, plaintext []byte) {
	t.Helper()
	blob, err := codec.Encrypt(subject, bytes.Clone(plaintext), testPassword, testOwnerSalt)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if err := store.Write(context.Background(), subject, blob); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

// connect serves the fixture's server over an in-process pipe and
// returns a client declaring origin.
func (f *fixture) connect(t *testing.T, origin string) *Client {
	t.Helper()
	clientChannel, serverChannel := Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := f.server.ServeChannel(ctx, serverChannel); err != nil {
			t.Errorf("ServeChannel: %v", err)
		}
	}()

	client := NewClient(clientChannel, ClientConfig{Origin: origin, Clock: f.clock})
	t.Cleanup(func() {
		client.Close()
		cancel()
		testutil.RequireClosed(t, served, 5*time.Second, "server channel loop did not stop")
	})
	return client
}

func (f *fixture) unlockRequest() UnlockRequest {
	return UnlockRequest{
		OwnerID:   f.subject.OwnerID,
		Kind:      f.subject.Kind,
		Password:  bytes.Clone(testPassword),
		OwnerSalt: testOwnerSalt,
	}
}
