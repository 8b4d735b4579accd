// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/schema"
)

var (
	// ErrSessionNotFound is returned for an ID the manager never issued
	// or has forgotten.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrSessionExpired is returned once a session's TTL has elapsed,
	// regardless of how many operations remain.
	ErrSessionExpired = errors.New("session: expired")

	// ErrSessionExhausted is returned once a session has performed its
	// maximum number of operations.
	ErrSessionExhausted = errors.New("session: operation budget exhausted")

	// ErrSessionDestroyed is returned after a session was locked,
	// destroyed, replaced by a newer session for the same owner and
	// kind, or torn down with its manager.
	ErrSessionDestroyed = errors.New("session: destroyed")

	// ErrConcurrentAccessDenied is returned when Use is called on a
	// session that already has an operation in flight.
	ErrConcurrentAccessDenied = errors.New("session: concurrent access denied")

	// ErrManagerClosed is returned by Create after Close.
	ErrManagerClosed = errors.New("session: manager is closed")
)

// ID identifies a session. IDs are random UUIDs and carry no
// information about the secret.
type ID string

// State is a session's lifecycle state. Exhausted, Expired, and
// Destroyed are terminal: once entered, the secret buffer is gone and
// the state never changes again.
type State int

const (
	// StateCreated: the secret is held but no operation has run yet.
	StateCreated State = iota
	// StateActive: at least one operation has run.
	StateActive
	// StateExhausted: the operation budget was used up.
	StateExhausted
	// StateExpired: the TTL elapsed.
	StateExpired
	// StateDestroyed: locked, destroyed, replaced, or torn down.
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateExhausted:
		return "exhausted"
	case StateExpired:
		return "expired"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler so states serialize by
// name in vault status responses and CLI output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for candidate := StateCreated; candidate <= StateDestroyed; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("session: unknown state %q", text)
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateExhausted || s == StateExpired || s == StateDestroyed
}

// Err returns the error Use reports for a terminal state, and nil for
// a live one.
func (s State) Err() error {
	if !s.Terminal() {
		return nil
	}
	return s.terminalError()
}

// terminalError maps a terminal state to the error Use reports for it.
func (s State) terminalError() error {
	switch s {
	case StateExhausted:
		return ErrSessionExhausted
	case StateExpired:
		return ErrSessionExpired
	default:
		return ErrSessionDestroyed
	}
}

// Params describe a session to create.
type Params struct {
	OwnerID string
	Kind    schema.Kind

	// TTL bounds the session's lifetime from creation.
	TTL time.Duration

	// MaxOps bounds the number of Use calls.
	MaxOps int

	// SourceTag records which credential source produced the secret.
	SourceTag schema.SourceType
}

func (p Params) validate() error {
	if p.OwnerID == "" {
		return fmt.Errorf("session: owner ID is empty")
	}
	if !p.Kind.IsKnown() {
		return fmt.Errorf("session: unknown secret kind %q", p.Kind)
	}
	if p.TTL <= 0 {
		return fmt.Errorf("session: TTL must be positive, got %s", p.TTL)
	}
	if p.MaxOps <= 0 {
		return fmt.Errorf("session: max operations must be positive, got %d", p.MaxOps)
	}
	return nil
}

// Info is a snapshot of a session's metadata. It never contains
// secret material.
type Info struct {
	ID        ID                `cbor:"id" json:"id"`
	Kind      schema.Kind       `cbor:"kind" json:"kind"`
	OwnerID   string            `cbor:"owner_id" json:"owner_id"`
	CreatedAt time.Time         `cbor:"created_at" json:"created_at"`
	ExpiresAt time.Time         `cbor:"expires_at" json:"expires_at"`
	MaxOps    int               `cbor:"max_ops" json:"max_ops"`
	OpCount   int               `cbor:"op_count" json:"op_count"`
	State     State             `cbor:"state" json:"state"`
	SourceTag schema.SourceType `cbor:"source_tag" json:"source_tag"`
}

// RemainingOps returns how many more Use calls the session allows.
func (i Info) RemainingOps() int {
	if i.State.Terminal() {
		return 0
	}
	return max(i.MaxOps-i.OpCount, 0)
}
