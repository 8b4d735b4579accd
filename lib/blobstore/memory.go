// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/clock"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/envelope"
)

// MemoryStore is a Store held entirely in process memory. It backs
// tests and the vault daemon's ephemeral mode.
type MemoryStore struct {
	clock  clock.Clock
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	slots  map[envelope.Subject]*memorySlot
}

type memorySlot struct {
	blob  *envelope.EncryptedBlob
	ref   Ref
	audit []AuditRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(options Options) *MemoryStore {
	options = options.withDefaults()
	return &MemoryStore{
		clock:  options.Clock,
		logger: options.Logger,
		slots:  make(map[envelope.Subject]*memorySlot),
	}
}

func (s *MemoryStore) Write(ctx context.Context, subject envelope.Subject, blob *envelope.EncryptedBlob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ref, err := checkBlob(subject, blob)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	slot, exists := s.slots[subject]
	if !exists {
		s.slots[subject] = &memorySlot{blob: blob.Clone(), ref: ref}
		s.logger.Info("blob written", "owner", subject.OwnerID, "kind", subject.Kind, "ref", ref.Short())
		return nil
	}
	if slot.ref == ref {
		return nil
	}

	record := newAuditRecord(subject, slot.ref, ref, s.clock.Now(), ReasonOverwrite)
	slot.blob = blob.Clone()
	slot.ref = ref
	slot.audit = append(slot.audit, record)
	s.logger.Info("blob overwritten",
		"owner", subject.OwnerID,
		"kind", subject.Kind,
		"old_ref", record.OldRef.Short(),
		"new_ref", record.NewRef.Short(),
	)
	return nil
}

func (s *MemoryStore) Read(ctx context.Context, subject envelope.Subject) (*envelope.EncryptedBlob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	slot, exists := s.slots[subject]
	if !exists {
		return nil, ErrBlobNotFound
	}
	return slot.blob.Clone(), nil
}

func (s *MemoryStore) Rotate(ctx context.Context, subject envelope.Subject, blob *envelope.EncryptedBlob, reason string) (AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return AuditRecord{}, err
	}
	ref, err := checkBlob(subject, blob)
	if err != nil {
		return AuditRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return AuditRecord{}, ErrClosed
	}
	slot, exists := s.slots[subject]
	if !exists {
		return AuditRecord{}, ErrBlobNotFound
	}
	if slot.ref == ref {
		return AuditRecord{}, ErrUnchanged
	}

	record := newAuditRecord(subject, slot.ref, ref, s.clock.Now(), rotationReason(reason))
	slot.blob = blob.Clone()
	slot.ref = ref
	slot.audit = append(slot.audit, record)
	s.logger.Info("blob rotated",
		"owner", subject.OwnerID,
		"kind", subject.Kind,
		"reason", record.Reason,
		"old_ref", record.OldRef.Short(),
		"new_ref", record.NewRef.Short(),
	)
	return record, nil
}

func (s *MemoryStore) AuditTrail(ctx context.Context, subject envelope.Subject) ([]AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	slot, exists := s.slots[subject]
	if !exists {
		return nil, ErrBlobNotFound
	}
	return slices.Clone(slot.audit), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]envelope.Subject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	subjects := make([]envelope.Subject, 0, len(s.slots))
	for subject := range s.slots {
		subjects = append(subjects, subject)
	}
	sortSubjects(subjects)
	return subjects, nil
}

// Close drops every stored blob. Idempotent.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.slots = nil
	return nil
}
