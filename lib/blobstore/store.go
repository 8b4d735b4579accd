// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/clock"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/codec"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/envelope"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/schema"
)

var (
	// ErrBlobNotFound is returned when no blob is stored for a subject.
	ErrBlobNotFound = errors.New("blobstore: blob not found")

	// ErrSubjectMismatch is returned when a blob's own owner or kind
	// disagrees with the subject it is being stored under.
	ErrSubjectMismatch = errors.New("blobstore: blob owner or kind does not match subject")

	// ErrUnchanged is returned by Rotate when the replacement is
	// identical to the stored blob.
	ErrUnchanged = errors.New("blobstore: replacement blob is identical to the stored blob")

	// ErrClosed is returned by every method after Close.
	ErrClosed = errors.New("blobstore: store is closed")
)

// Audit reasons recorded by the store itself. Callers of Rotate supply
// their own reason; an empty reason is recorded as ReasonRotation.
const (
	ReasonOverwrite = "overwrite"
	ReasonRotation  = "rotation"
	ReasonImport    = "import"
)

// Ref identifies a stored blob without revealing anything about it: the
// lowercase hex BLAKE3 digest of the blob's deterministic CBOR
// encoding.
type Ref string

// RefOf computes the reference for blob.
func RefOf(blob *envelope.EncryptedBlob) (Ref, error) {
	data, err := codec.Marshal(blob)
	if err != nil {
		return "", fmt.Errorf("blobstore: encoding blob: %w", err)
	}
	digest := blake3.Sum256(data)
	return Ref(hex.EncodeToString(digest[:])), nil
}

// Short returns the first 12 hex characters, for log lines.
func (r Ref) Short() string {
	if len(r) <= 12 {
		return string(r)
	}
	return string(r[:12])
}

// AuditRecord links a replaced blob to its replacement. It carries
// references only; neither ciphertext nor plaintext is recorded.
type AuditRecord struct {
	OwnerID   string      `cbor:"owner_id" json:"owner_id"`
	Kind      schema.Kind `cbor:"kind" json:"kind"`
	OldRef    Ref         `cbor:"old_ref" json:"old_ref"`
	NewRef    Ref         `cbor:"new_ref" json:"new_ref"`
	RotatedAt time.Time   `cbor:"rotated_at" json:"rotated_at"`
	Reason    string      `cbor:"reason" json:"reason"`
}

// Store persists encrypted blobs keyed by (owner, kind). A store never
// decrypts and holds no key material; it only compares and hashes
// opaque blobs.
//
// Implementations return copies: mutating a blob returned by Read does
// not affect the stored blob, and mutating a blob after Write does not
// either.
type Store interface {
	// Write stores blob for subject. Writing a blob identical to the
	// stored one is a no-op. Replacing a different blob appends an
	// audit record with reason ReasonOverwrite.
	Write(ctx context.Context, subject envelope.Subject, blob *envelope.EncryptedBlob) error

	// Read returns the stored blob or ErrBlobNotFound.
	Read(ctx context.Context, subject envelope.Subject) (*envelope.EncryptedBlob, error)

	// Rotate atomically replaces the stored blob and appends an audit
	// record. Fails with ErrBlobNotFound when nothing is stored.
	Rotate(ctx context.Context, subject envelope.Subject, blob *envelope.EncryptedBlob, reason string) (AuditRecord, error)

	// AuditTrail returns the subject's audit records, oldest first.
	AuditTrail(ctx context.Context, subject envelope.Subject) ([]AuditRecord, error)

	// List returns every subject with a stored blob, sorted by owner
	// then kind.
	List(ctx context.Context) ([]envelope.Subject, error)

	Close() error
}

// Options configures any store backend.
type Options struct {
	// Clock timestamps audit records. Nil means the real clock.
	Clock clock.Clock

	// Logger receives write and rotation events (subject and refs
	// only). Nil discards.
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// checkBlob validates blob structurally and confirms it belongs to
// subject, then returns its reference.
func checkBlob(subject envelope.Subject, blob *envelope.EncryptedBlob) (Ref, error) {
	if err := subject.Validate(); err != nil {
		return "", err
	}
	if err := blob.Validate(); err != nil {
		return "", fmt.Errorf("blobstore: %w", err)
	}
	if blob.Subject() != subject {
		return "", fmt.Errorf("%w: blob is for %s, stored under %s", ErrSubjectMismatch, blob.Subject(), subject)
	}
	return RefOf(blob)
}

func rotationReason(reason string) string {
	if reason == "" {
		return ReasonRotation
	}
	return reason
}

func newAuditRecord(subject envelope.Subject, oldRef, newRef Ref, at time.Time, reason string) AuditRecord {
	return AuditRecord{
		OwnerID:   subject.OwnerID,
		Kind:      subject.Kind,
		OldRef:    oldRef,
		NewRef:    newRef,
		RotatedAt: at.UTC(),
		Reason:    reason,
	}
}

func sortSubjects(subjects []envelope.Subject) {
	slices.SortFunc(subjects, func(a, b envelope.Subject) int {
		if order := strings.Compare(a.OwnerID, b.OwnerID); order != 0 {
			return order
		}
		return strings.Compare(string(a.Kind), string(b.Kind))
	})
}
