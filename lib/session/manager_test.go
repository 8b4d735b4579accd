// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/clock"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/schema"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/secret"
)

var epoch = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

// sentinel is the secret pattern tests look for after destruction.
var sentinel = bytes.Repeat([]byte{0xA5}, 32)

// heapBuffer is a Buffer on the Go heap so tests can inspect its bytes
// after Close.
type heapBuffer struct {
	data   []byte
	closed bool
}

func (b *heapBuffer) Bytes() []byte { return b.data }

func (b *heapBuffer) Close() error {
	if !b.closed {
		secret.Wipe(b.data)
		b.closed = true
	}
	return nil
}

// recordingAllocator keeps every buffer it hands out.
type recordingAllocator struct {
	mu      sync.Mutex
	buffers []*heapBuffer
}

func (r *recordingAllocator) allocate(source []byte) (Buffer, error) {
	buffer := &heapBuffer{data: bytes.Clone(source)}
	secret.Zero(source)
	r.mu.Lock()
	r.buffers = append(r.buffers, buffer)
	r.mu.Unlock()
	return buffer, nil
}

func (r *recordingAllocator) last(t *testing.T) *heapBuffer {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buffers) == 0 {
		t.Fatal("no buffer allocated")
	}
	return r.buffers[len(r.buffers)-1]
}

func assertWiped(t *testing.T, buffer *heapBuffer) {
	t.Helper()
	if !buffer.closed {
		t.Fatal("buffer was not closed")
	}
	if bytes.Contains(buffer.data, sentinel[:4]) {
		t.Fatal("sentinel pattern still present after destruction")
	}
	for _, b := range buffer.data {
		if b != 0 {
			t.Fatal("buffer not zeroed after destruction")
		}
	}
}

type fixture struct {
	manager   *Manager
	clock     *clock.FakeClock
	allocator *recordingAllocator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	allocator := &recordingAllocator{}
	fakeClock := clock.Fake(epoch)
	manager := NewManager(Config{Clock: fakeClock, Allocate: allocator.allocate})
	t.Cleanup(func() { manager.Close() })
	return &fixture{manager: manager, clock: fakeClock, allocator: allocator}
}

func signingParams(ttl time.Duration, maxOps int) Params {
	return Params{
		OwnerID:   "npub1alice",
		Kind:      schema.KindSigningKey,
		TTL:       ttl,
		MaxOps:    maxOps,
		SourceTag: schema.SourceLocalStore,
	}
}

func (f *fixture) create(t *testing.T, params Params) ID {
	t.Helper()
	id, err := f.manager.Create(bytes.Clone(sentinel), params)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return id
}

func noop([]byte) error { return nil }

func TestCreateZeroesCallerBuffer(t *testing.T) {
	f := newFixture(t)
	callerCopy := bytes.Clone(sentinel)
	if _, err := f.manager.Create(callerCopy, signingParams(time.Minute, 1)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !bytes.Equal(callerCopy, make([]byte, len(sentinel))) {
		t.Fatal("caller's secret bytes were not wiped by Create")
	}
	if !bytes.Equal(f.allocator.last(t).data, sentinel) {
		t.Fatal("session buffer does not hold the secret")
	}
}

func TestOperationBudget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, signingParams(60*time.Second, 2))
	buffer := f.allocator.last(t)

	for call := 1; call <= 2; call++ {
		err := f.manager.Use(ctx, id, func(secretBytes []byte) error {
			if !bytes.Equal(secretBytes, sentinel) {
				t.Errorf("call %d: operation saw the wrong secret", call)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Use call %d: %v", call, err)
		}
	}

	// The second call was the last permitted one: the buffer is gone
	// before Use returned.
	assertWiped(t, buffer)

	info, err := f.manager.Info(id)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.State != StateExhausted || info.OpCount != 2 || info.RemainingOps() != 0 {
		t.Errorf("Info = %+v, want exhausted after 2 ops", info)
	}

	called := false
	err = f.manager.Use(ctx, id, func([]byte) error { called = true; return nil })
	if !errors.Is(err, ErrSessionExhausted) {
		t.Fatalf("third Use error = %v, want ErrSessionExhausted", err)
	}
	if called {
		t.Fatal("operation ran on an exhausted session")
	}
}

func TestExpiry(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, signingParams(5*time.Millisecond, 100))
	buffer := f.allocator.last(t)

	f.clock.Advance(50 * time.Millisecond)

	err := f.manager.Use(context.Background(), id, noop)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Use error = %v, want ErrSessionExpired", err)
	}
	info, err := f.manager.Info(id)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.OpCount != 0 || info.State != StateExpired {
		t.Errorf("Info = %+v, want expired with 0 ops", info)
	}
	assertWiped(t, buffer)
	if _, live := f.manager.Live("npub1alice", schema.KindSigningKey); live {
		t.Error("expired session is still live")
	}
}

func TestExpiryCheckedAtUse(t *testing.T) {
	// A clock whose timers never fire: Use must still honor the
	// deadline on its own.
	stalled := &stalledClock{FakeClock: clock.Fake(epoch)}
	allocator := &recordingAllocator{}
	manager := NewManager(Config{Clock: stalled, Allocate: allocator.allocate})
	defer manager.Close()

	id, err := manager.Create(bytes.Clone(sentinel), signingParams(5*time.Millisecond, 100))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	stalled.now = epoch.Add(50 * time.Millisecond)

	if err := manager.Use(context.Background(), id, noop); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Use error = %v, want ErrSessionExpired", err)
	}
	assertWiped(t, allocator.last(t))
}

type stalledClock struct {
	*clock.FakeClock
	now time.Time
}

func (c *stalledClock) Now() time.Time {
	if c.now.IsZero() {
		return c.FakeClock.Now()
	}
	return c.now
}

func TestConcurrentUseRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, signingParams(time.Minute, 10))

	entered := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- f.manager.Use(ctx, id, func([]byte) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	if err := f.manager.Use(ctx, id, noop); !errors.Is(err, ErrConcurrentAccessDenied) {
		t.Fatalf("concurrent Use error = %v, want ErrConcurrentAccessDenied", err)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first Use: %v", err)
	}

	// The rejected call did not consume budget.
	info, _ := f.manager.Info(id)
	if info.OpCount != 1 {
		t.Errorf("OpCount = %d, want 1", info.OpCount)
	}
	if err := f.manager.Use(ctx, id, noop); err != nil {
		t.Fatalf("Use after the first completed: %v", err)
	}
}

func TestLockDuringUseDefersRelease(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, signingParams(time.Minute, 10))
	buffer := f.allocator.last(t)

	err := f.manager.Use(context.Background(), id, func(secretBytes []byte) error {
		if err := f.manager.Lock(id); err != nil {
			t.Errorf("Lock: %v", err)
		}
		info, _ := f.manager.Info(id)
		if info.State != StateDestroyed {
			t.Errorf("state during op after Lock = %v, want destroyed", info.State)
		}
		if !bytes.Equal(secretBytes, sentinel) {
			t.Error("buffer destroyed while the operation was still running")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Use: %v", err)
	}
	assertWiped(t, buffer)

	if err := f.manager.Use(context.Background(), id, noop); !errors.Is(err, ErrSessionDestroyed) {
		t.Fatalf("Use after Lock error = %v, want ErrSessionDestroyed", err)
	}
}

func TestOneLiveSessionPerSubject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.create(t, signingParams(time.Minute, 10))
	firstBuffer := f.allocator.last(t)
	seedParams := signingParams(time.Minute, 10)
	seedParams.Kind = schema.KindSeedPhrase
	seed := f.create(t, seedParams)

	second := f.create(t, signingParams(time.Minute, 10))

	assertWiped(t, firstBuffer)
	if err := f.manager.Use(ctx, first, noop); !errors.Is(err, ErrSessionDestroyed) {
		t.Fatalf("Use of replaced session error = %v, want ErrSessionDestroyed", err)
	}
	if err := f.manager.Use(ctx, second, noop); err != nil {
		t.Fatalf("Use of replacement: %v", err)
	}
	if err := f.manager.Use(ctx, seed, noop); err != nil {
		t.Fatalf("Use of other kind: %v", err)
	}

	live, ok := f.manager.Live("npub1alice", schema.KindSigningKey)
	if !ok || live != second {
		t.Errorf("Live = %q, %v, want %q", live, ok, second)
	}
	if sessions := f.manager.Sessions(); len(sessions) != 2 {
		t.Errorf("Sessions() has %d entries, want 2", len(sessions))
	}
}

func TestLockAndDestroyIdempotent(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, signingParams(time.Minute, 10))

	for range 2 {
		if err := f.manager.Lock(id); err != nil {
			t.Fatalf("Lock: %v", err)
		}
		if err := f.manager.Destroy(id); err != nil {
			t.Fatalf("Destroy: %v", err)
		}
	}
	if err := f.manager.Lock("no-such-session"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Lock of unknown ID error = %v, want ErrSessionNotFound", err)
	}
	if err := f.manager.Use(context.Background(), "no-such-session", noop); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Use of unknown ID error = %v, want ErrSessionNotFound", err)
	}
}

// churn ends maxTombstones+1 further sessions so every earlier
// tombstone ages out.
func (f *fixture) churn(t *testing.T) {
	t.Helper()
	params := signingParams(time.Minute, 10)
	params.OwnerID = "npub1churn"
	for range maxTombstones + 1 {
		if err := f.manager.Lock(f.create(t, params)); err != nil {
			t.Fatalf("Lock: %v", err)
		}
	}
}

func TestTerminalStateOutlivesTombstone(t *testing.T) {
	f := newFixture(t)
	locked := f.create(t, signingParams(time.Minute, 10))
	if err := f.manager.Lock(locked); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	exhaustedParams := signingParams(time.Minute, 1)
	exhaustedParams.Kind = schema.KindSeedPhrase
	exhausted := f.create(t, exhaustedParams)
	if err := f.manager.Use(context.Background(), exhausted, noop); err != nil {
		t.Fatalf("Use: %v", err)
	}

	f.churn(t)

	if _, tracked := f.manager.sessions[locked]; tracked {
		t.Fatal("aged-out tombstone still holds its full record")
	}
	if err := f.manager.Lock(locked); err != nil {
		t.Errorf("Lock of aged-out session: %v, want nil", err)
	}
	if err := f.manager.Destroy(locked); err != nil {
		t.Errorf("Destroy of aged-out session: %v, want nil", err)
	}
	if err := f.manager.Use(context.Background(), locked, noop); !errors.Is(err, ErrSessionDestroyed) {
		t.Errorf("Use of aged-out locked session = %v, want ErrSessionDestroyed", err)
	}
	if err := f.manager.Use(context.Background(), exhausted, noop); !errors.Is(err, ErrSessionExhausted) {
		t.Errorf("Use of aged-out exhausted session = %v, want ErrSessionExhausted", err)
	}
	info, err := f.manager.Check(exhausted)
	if !errors.Is(err, ErrSessionExhausted) || info.State != StateExhausted {
		t.Errorf("Check = %+v, %v; want exhausted", info, err)
	}
	if info.Kind != schema.KindSeedPhrase || info.OwnerID != exhaustedParams.OwnerID || info.OpCount != 1 {
		t.Errorf("aged-out Info lost its metadata: %+v", info)
	}
}

func TestTombstoneAgesOutDuringUse(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, signingParams(time.Minute, 10))
	buffer := f.allocator.last(t)

	err := f.manager.Use(context.Background(), id, func([]byte) error {
		if err := f.manager.Lock(id); err != nil {
			t.Errorf("Lock: %v", err)
		}
		f.churn(t)
		return nil
	})
	if err != nil {
		t.Fatalf("Use: %v", err)
	}
	assertWiped(t, buffer)

	if _, tracked := f.manager.sessions[id]; tracked {
		t.Error("record evicted during its operation was never released")
	}
	if err := f.manager.Use(context.Background(), id, noop); !errors.Is(err, ErrSessionDestroyed) {
		t.Errorf("Use after eviction = %v, want ErrSessionDestroyed", err)
	}
}

func TestTerminalStateIsFinal(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, signingParams(time.Minute, 1))
	if err := f.manager.Use(context.Background(), id, noop); err != nil {
		t.Fatalf("Use: %v", err)
	}
	// Neither Lock nor the TTL timer may rewrite an exhausted session.
	f.manager.Lock(id)
	f.clock.Advance(time.Hour)
	info, _ := f.manager.Info(id)
	if info.State != StateExhausted {
		t.Fatalf("state = %v, want exhausted", info.State)
	}
}

func TestOperationErrorCountsAgainstBudget(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, signingParams(time.Minute, 1))
	failure := errors.New("signing failed")

	if err := f.manager.Use(context.Background(), id, func([]byte) error { return failure }); !errors.Is(err, failure) {
		t.Fatalf("Use error = %v, want %v", err, failure)
	}
	assertWiped(t, f.allocator.last(t))
	if err := f.manager.Use(context.Background(), id, noop); !errors.Is(err, ErrSessionExhausted) {
		t.Fatalf("Use error = %v, want ErrSessionExhausted", err)
	}
}

func TestOperationPanicReleasesSession(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, signingParams(time.Minute, 5))

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("panic did not propagate")
			}
		}()
		f.manager.Use(context.Background(), id, func([]byte) error { panic("boom") })
	}()

	if err := f.manager.Use(context.Background(), id, noop); err != nil {
		t.Fatalf("Use after a panicking operation: %v", err)
	}
}

func TestCancelledContext(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, signingParams(time.Minute, 5))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.manager.Use(ctx, id, noop); !errors.Is(err, context.Canceled) {
		t.Fatalf("Use error = %v, want context.Canceled", err)
	}
	info, _ := f.manager.Info(id)
	if info.OpCount != 0 {
		t.Errorf("cancelled Use consumed budget: OpCount = %d", info.OpCount)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name   string
		params Params
	}{
		{"empty owner", Params{Kind: schema.KindSigningKey, TTL: time.Minute, MaxOps: 1}},
		{"unknown kind", Params{OwnerID: "o", Kind: "pin", TTL: time.Minute, MaxOps: 1}},
		{"zero ttl", Params{OwnerID: "o", Kind: schema.KindSigningKey, MaxOps: 1}},
		{"zero max ops", Params{OwnerID: "o", Kind: schema.KindSigningKey, TTL: time.Minute}},
	}
	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			callerCopy := bytes.Clone(sentinel)
			if _, err := f.manager.Create(callerCopy, test.params); err == nil {
				t.Fatal("Create succeeded, want error")
			}
			if bytes.Contains(callerCopy, sentinel[:4]) {
				t.Fatal("caller bytes not wiped on a rejected Create")
			}
		})
	}
}

func TestCloseDestroysEverything(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, signingParams(time.Minute, 5))
	buffer := f.allocator.last(t)

	if err := f.manager.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	assertWiped(t, buffer)
	if err := f.manager.Use(context.Background(), id, noop); !errors.Is(err, ErrSessionDestroyed) {
		t.Fatalf("Use after Close error = %v, want ErrSessionDestroyed", err)
	}

	callerCopy := bytes.Clone(sentinel)
	if _, err := f.manager.Create(callerCopy, signingParams(time.Minute, 1)); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("Create after Close error = %v, want ErrManagerClosed", err)
	}
	if bytes.Contains(callerCopy, sentinel[:4]) {
		t.Fatal("caller bytes not wiped when the manager is closed")
	}
}

func TestSecretAllocator(t *testing.T) {
	manager := NewManager(Config{Clock: clock.Fake(epoch)})
	defer manager.Close()

	id, err := manager.Create(bytes.Clone(sentinel), signingParams(time.Minute, 1))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	err = manager.Use(context.Background(), id, func(secretBytes []byte) error {
		if !bytes.Equal(secretBytes, sentinel) {
			t.Error("mmap-backed buffer returned the wrong bytes")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Use: %v", err)
	}
}

func TestStateText(t *testing.T) {
	for state := StateCreated; state <= StateDestroyed; state++ {
		text, _ := state.MarshalText()
		var parsed State
		if err := parsed.UnmarshalText(text); err != nil || parsed != state {
			t.Errorf("state %v round trip = %v, %v", state, parsed, err)
		}
	}
}

func TestCheck(t *testing.T) {
	stalled := &stalledClock{FakeClock: clock.Fake(epoch)}
	allocator := &recordingAllocator{}
	manager := NewManager(Config{Clock: stalled, Allocate: allocator.allocate})
	defer manager.Close()

	id, err := manager.Create(bytes.Clone(sentinel), signingParams(time.Second, 3))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	info, err := manager.Check(id)
	if err != nil {
		t.Fatalf("Check on live session: %v", err)
	}
	if info.State != StateCreated || info.RemainingOps() != 3 {
		t.Errorf("Check info = %+v", info)
	}

	stalled.now = epoch.Add(time.Second)
	if _, err := manager.Check(id); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("Check past deadline = %v, want ErrSessionExpired", err)
	}
	assertWiped(t, allocator.last(t))

	if _, err := manager.Check("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Check unknown = %v, want ErrSessionNotFound", err)
	}
	if StateActive.Err() != nil || StateDestroyed.Err() != ErrSessionDestroyed {
		t.Error("State.Err mapping is wrong")
	}
}
