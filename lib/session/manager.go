// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/clock"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/schema"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/secret"
)

// maxTombstones bounds how many terminal sessions keep a full record.
// Older ones shrink to their final Info in Manager.ended.
const maxTombstones = 1024

// Buffer is the manager's view of the memory holding a session's
// secret. Close must overwrite the bytes before releasing them.
// *secret.Buffer is the production implementation.
type Buffer interface {
	Bytes() []byte
	Close() error
}

// Allocator copies source into a new Buffer and zeroes source.
type Allocator func(source []byte) (Buffer, error)

// SecretAllocator allocates mmap-backed, mlock'd secret.Buffers.
func SecretAllocator(source []byte) (Buffer, error) {
	buffer, err := secret.NewFromBytes(source)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}

// Config configures a Manager.
type Config struct {
	// Clock drives expiry. Nil means the real clock.
	Clock clock.Clock

	// Logger receives lifecycle events. Nil discards.
	Logger *slog.Logger

	// Allocate provides secret storage. Nil means SecretAllocator.
	Allocate Allocator
}

type subjectKey struct {
	ownerID string
	kind    schema.Kind
}

type entry struct {
	info   Info
	buffer Buffer
	timer  *clock.Timer

	// inUse is set while an operation runs against buffer.
	inUse bool

	// releasePending is set when the session became terminal while an
	// operation was in flight. The buffer is destroyed when the
	// operation returns.
	releasePending bool

	// evicted is set when the tombstone aged out while an operation
	// was still in flight. finishUse moves the record to Manager.ended.
	evicted bool
}

// Manager owns the decrypted secrets of all its sessions. Each
// session's buffer is reachable only through Use and is destroyed on
// expiry, budget exhaustion, Lock, Destroy, replacement, or Close,
// whichever comes first.
//
// At most one live session exists per (owner, kind): creating a new
// one destroys the previous one first.
//
// Manager is safe for concurrent use.
type Manager struct {
	clock    clock.Clock
	logger   *slog.Logger
	allocate Allocator

	mu         sync.Mutex
	closed     bool
	sessions   map[ID]*entry
	live       map[subjectKey]ID
	tombstones []ID

	// ended holds the final Info of sessions whose tombstone aged
	// out, so Lock stays idempotent and Use keeps reporting the
	// precise terminal error for every ID this manager issued.
	ended map[ID]Info
}

// NewManager creates a Manager.
func NewManager(config Config) *Manager {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Allocate == nil {
		config.Allocate = SecretAllocator
	}
	return &Manager{
		clock:    config.Clock,
		logger:   config.Logger,
		allocate: config.Allocate,
		sessions: make(map[ID]*entry),
		live:     make(map[subjectKey]ID),
		ended:    make(map[ID]Info),
	}
}

// Create starts a session holding secretBytes. The manager takes
// ownership: secretBytes is copied into protected memory and zeroed
// before Create returns, on success and on every error path.
//
// Any live session for the same owner and kind is destroyed first.
func (m *Manager) Create(secretBytes []byte, params Params) (ID, error) {
	defer secret.Zero(secretBytes)

	if err := params.validate(); err != nil {
		return "", err
	}
	if len(secretBytes) == 0 {
		return "", fmt.Errorf("session: secret is empty")
	}

	buffer, err := m.allocate(secretBytes)
	if err != nil {
		return "", fmt.Errorf("session: allocating secret buffer: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		buffer.Close()
		return "", ErrManagerClosed
	}

	key := subjectKey{ownerID: params.OwnerID, kind: params.Kind}
	if previous, exists := m.live[key]; exists {
		m.terminateLocked(m.sessions[previous], StateDestroyed, "replaced")
	}

	id := ID(uuid.NewString())
	now := m.clock.Now()
	record := &entry{
		info: Info{
			ID:        id,
			Kind:      params.Kind,
			OwnerID:   params.OwnerID,
			CreatedAt: now,
			ExpiresAt: now.Add(params.TTL),
			MaxOps:    params.MaxOps,
			State:     StateCreated,
			SourceTag: params.SourceTag,
		},
		buffer: buffer,
	}
	m.sessions[id] = record
	m.live[key] = id
	record.timer = m.clock.AfterFunc(params.TTL, func() { m.expire(id) })

	m.logger.Info("session created",
		"session", id,
		"owner", params.OwnerID,
		"kind", params.Kind,
		"source", params.SourceTag,
		"ttl", params.TTL,
		"max_ops", params.MaxOps,
	)
	return id, nil
}

// Use runs op against the session's secret. op receives a slice that
// aliases the protected buffer; it must not retain the slice or copy
// the bytes anywhere that outlives the call.
//
// Use fails with ErrSessionExpired once the TTL has elapsed, with
// ErrSessionExhausted once MaxOps operations have run, and with
// ErrConcurrentAccessDenied while another operation is in flight.
// Otherwise it counts the operation, runs op, and if that was the last
// permitted operation destroys the buffer before returning. The
// operation counts against the budget even if op returns an error.
func (m *Manager) Use(ctx context.Context, id ID, op func(secret []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	record, exists := m.sessions[id]
	if !exists {
		final, ended := m.ended[id]
		m.mu.Unlock()
		if ended {
			return final.State.terminalError()
		}
		return ErrSessionNotFound
	}
	if record.info.State.Terminal() {
		m.mu.Unlock()
		return record.info.State.terminalError()
	}
	if !m.clock.Now().Before(record.info.ExpiresAt) {
		m.terminateLocked(record, StateExpired, "expired")
		m.mu.Unlock()
		return ErrSessionExpired
	}
	if record.info.OpCount >= record.info.MaxOps {
		m.terminateLocked(record, StateExhausted, "exhausted")
		m.mu.Unlock()
		return ErrSessionExhausted
	}
	if record.inUse {
		m.mu.Unlock()
		return ErrConcurrentAccessDenied
	}
	record.inUse = true
	record.info.OpCount++
	record.info.State = StateActive
	data := record.buffer.Bytes()
	m.mu.Unlock()

	defer m.finishUse(record)
	return op(data)
}

// finishUse runs after every operation, including one that panicked.
func (m *Manager) finishUse(record *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record.inUse = false
	if !record.info.State.Terminal() && record.info.OpCount >= record.info.MaxOps {
		m.terminateLocked(record, StateExhausted, "exhausted")
		return
	}
	if record.releasePending {
		record.releasePending = false
		m.releaseLocked(record)
	}
	if record.evicted {
		m.forgetLocked(record)
	}
}

// Lock destroys the session's secret. Idempotent: locking a session
// that is already terminal succeeds without changing its state.
func (m *Manager) Lock(id ID) error {
	return m.end(id, "locked")
}

// Destroy is Lock under the name used for owner-initiated teardown.
func (m *Manager) Destroy(id ID) error {
	return m.end(id, "destroyed")
}

func (m *Manager) end(id ID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, exists := m.sessions[id]
	if !exists {
		if _, ended := m.ended[id]; ended {
			return nil
		}
		return ErrSessionNotFound
	}
	m.terminateLocked(record, StateDestroyed, reason)
	return nil
}

// Info returns a snapshot of the session's metadata.
func (m *Manager) Info(id ID) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, exists := m.sessions[id]
	if !exists {
		if final, ended := m.ended[id]; ended {
			return final, nil
		}
		return Info{}, ErrSessionNotFound
	}
	return record.info, nil
}

// Check returns a snapshot of a live session, or the error Use would
// report for it. A session past its deadline is expired here even if
// its timer has not fired yet.
func (m *Manager) Check(id ID) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, exists := m.sessions[id]
	if !exists {
		if final, ended := m.ended[id]; ended {
			return final, final.State.Err()
		}
		return Info{}, ErrSessionNotFound
	}
	if !record.info.State.Terminal() && !m.clock.Now().Before(record.info.ExpiresAt) {
		m.terminateLocked(record, StateExpired, "expired")
	}
	return record.info, record.info.State.Err()
}

// Live returns the ID of the live session for owner and kind, if any.
func (m *Manager) Live(ownerID string, kind schema.Kind) (ID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, exists := m.live[subjectKey{ownerID: ownerID, kind: kind}]
	return id, exists
}

// Sessions returns snapshots of all live sessions sorted by creation
// time.
func (m *Manager) Sessions() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]Info, 0, len(m.live))
	for _, id := range m.live {
		infos = append(infos, m.sessions[id].info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Close destroys every live session and rejects further Creates.
// Buffers of sessions with an operation in flight are destroyed when
// that operation returns. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, id := range m.live {
		m.terminateLocked(m.sessions[id], StateDestroyed, "teardown")
	}
	return nil
}

// expire is the TTL timer callback.
func (m *Manager) expire(id ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, exists := m.sessions[id]
	if !exists || record.info.State.Terminal() {
		return
	}
	m.terminateLocked(record, StateExpired, "expired")
}

// terminateLocked moves record into a terminal state and releases its
// buffer, or defers the release if an operation is in flight. No-op
// for sessions that are already terminal. Caller holds m.mu.
func (m *Manager) terminateLocked(record *entry, state State, reason string) {
	if record.info.State.Terminal() {
		return
	}
	record.info.State = state
	if record.timer != nil {
		record.timer.Stop()
		record.timer = nil
	}

	key := subjectKey{ownerID: record.info.OwnerID, kind: record.info.Kind}
	if m.live[key] == record.info.ID {
		delete(m.live, key)
	}
	m.rememberTombstoneLocked(record.info.ID)

	if record.inUse {
		record.releasePending = true
	} else {
		m.releaseLocked(record)
	}

	m.logger.Info("session ended",
		"session", record.info.ID,
		"owner", record.info.OwnerID,
		"kind", record.info.Kind,
		"source", record.info.SourceTag,
		"state", state,
		"reason", reason,
		"op_count", record.info.OpCount,
	)
}

// releaseLocked overwrites and frees the buffer. Caller holds m.mu.
func (m *Manager) releaseLocked(record *entry) {
	if record.buffer == nil {
		return
	}
	if err := record.buffer.Close(); err != nil {
		m.logger.Error("releasing session buffer",
			"session", record.info.ID,
			"error", err,
		)
	}
	record.buffer = nil
}

// rememberTombstoneLocked records a terminal session and shrinks the
// oldest tombstones beyond maxTombstones. Caller holds m.mu.
func (m *Manager) rememberTombstoneLocked(id ID) {
	m.tombstones = append(m.tombstones, id)
	for len(m.tombstones) > maxTombstones {
		oldest := m.tombstones[0]
		m.tombstones = m.tombstones[1:]
		record, exists := m.sessions[oldest]
		if !exists {
			continue
		}
		if record.inUse {
			record.evicted = true
			continue
		}
		m.forgetLocked(record)
	}
}

// forgetLocked drops a terminal record, keeping only its final Info.
// Caller holds m.mu.
func (m *Manager) forgetLocked(record *entry) {
	delete(m.sessions, record.info.ID)
	m.ended[record.info.ID] = record.info
}
