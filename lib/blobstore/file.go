// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/clock"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/codec"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/envelope"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/schema"
)

const (
	recordExtension = ".cbor"
	lockFilename    = ".lock"
)

// FileStore keeps one CBOR file per subject in a directory. Each file
// holds the current blob and the subject's audit trail, so a rotation
// is a single atomic rename.
//
// An flock on a lock file in the directory serializes mutations across
// processes sharing the directory; readers take a shared lock.
type FileStore struct {
	directory string
	clock     clock.Clock
	logger    *slog.Logger

	mu   sync.Mutex
	lock *os.File
}

type fileRecord struct {
	Blob  *envelope.EncryptedBlob `cbor:"blob"`
	Ref   Ref                     `cbor:"ref"`
	Audit []AuditRecord           `cbor:"audit,omitempty"`
}

// NewFileStore opens (creating if necessary) a file store rooted at
// directory. The directory is created with mode 0700 and record files
// with 0600.
func NewFileStore(directory string, options Options) (*FileStore, error) {
	options = options.withDefaults()
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return nil, fmt.Errorf("blobstore: creating %s: %w", directory, err)
	}
	lock, err := os.OpenFile(filepath.Join(directory, lockFilename), os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("blobstore: opening lock file: %w", err)
	}
	return &FileStore{
		directory: directory,
		clock:     options.Clock,
		logger:    options.Logger,
		lock:      lock,
	}, nil
}

// Directory returns the store's root directory.
func (s *FileStore) Directory() string { return s.directory }

func (s *FileStore) Write(ctx context.Context, subject envelope.Subject, blob *envelope.EncryptedBlob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ref, err := checkBlob(subject, blob)
	if err != nil {
		return err
	}

	return s.withLock(unix.LOCK_EX, func() error {
		record, err := s.readRecord(subject)
		if err != nil {
			return err
		}
		if record == nil {
			if err := s.writeRecord(subject, &fileRecord{Blob: blob, Ref: ref}); err != nil {
				return err
			}
			s.logger.Info("blob written", "owner", subject.OwnerID, "kind", subject.Kind, "ref", ref.Short())
			return nil
		}
		if record.Ref == ref {
			return nil
		}

		audit := newAuditRecord(subject, record.Ref, ref, s.clock.Now(), ReasonOverwrite)
		record.Blob = blob
		record.Ref = ref
		record.Audit = append(record.Audit, audit)
		if err := s.writeRecord(subject, record); err != nil {
			return err
		}
		s.logger.Info("blob overwritten",
			"owner", subject.OwnerID,
			"kind", subject.Kind,
			"old_ref", audit.OldRef.Short(),
			"new_ref", audit.NewRef.Short(),
		)
		return nil
	})
}

func (s *FileStore) Read(ctx context.Context, subject envelope.Subject) (*envelope.EncryptedBlob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var blob *envelope.EncryptedBlob
	err := s.withLock(unix.LOCK_SH, func() error {
		record, err := s.readRecord(subject)
		if err != nil {
			return err
		}
		if record == nil {
			return ErrBlobNotFound
		}
		blob = record.Blob
		return nil
	})
	return blob, err
}

func (s *FileStore) Rotate(ctx context.Context, subject envelope.Subject, blob *envelope.EncryptedBlob, reason string) (AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return AuditRecord{}, err
	}
	ref, err := checkBlob(subject, blob)
	if err != nil {
		return AuditRecord{}, err
	}

	var audit AuditRecord
	err = s.withLock(unix.LOCK_EX, func() error {
		record, err := s.readRecord(subject)
		if err != nil {
			return err
		}
		if record == nil {
			return ErrBlobNotFound
		}
		if record.Ref == ref {
			return ErrUnchanged
		}

		audit = newAuditRecord(subject, record.Ref, ref, s.clock.Now(), rotationReason(reason))
		record.Blob = blob
		record.Ref = ref
		record.Audit = append(record.Audit, audit)
		return s.writeRecord(subject, record)
	})
	if err != nil {
		return AuditRecord{}, err
	}
	s.logger.Info("blob rotated",
		"owner", subject.OwnerID,
		"kind", subject.Kind,
		"reason", audit.Reason,
		"old_ref", audit.OldRef.Short(),
		"new_ref", audit.NewRef.Short(),
	)
	return audit, nil
}

func (s *FileStore) AuditTrail(ctx context.Context, subject envelope.Subject) ([]AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var trail []AuditRecord
	err := s.withLock(unix.LOCK_SH, func() error {
		record, err := s.readRecord(subject)
		if err != nil {
			return err
		}
		if record == nil {
			return ErrBlobNotFound
		}
		trail = record.Audit
		return nil
	})
	return trail, err
}

func (s *FileStore) List(ctx context.Context) ([]envelope.Subject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var subjects []envelope.Subject
	err := s.withLock(unix.LOCK_SH, func() error {
		entries, err := os.ReadDir(s.directory)
		if err != nil {
			return fmt.Errorf("blobstore: listing %s: %w", s.directory, err)
		}
		for _, entry := range entries {
			subject, ok := parseRecordFilename(entry.Name())
			if !ok || !entry.Type().IsRegular() {
				continue
			}
			subjects = append(subjects, subject)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortSubjects(subjects)
	return subjects, nil
}

// Close releases the lock file. Stored records are untouched.
// Idempotent.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil {
		return nil
	}
	err := s.lock.Close()
	s.lock = nil
	return err
}

func (s *FileStore) withLock(how int, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil {
		return ErrClosed
	}
	descriptor := int(s.lock.Fd())
	if err := unix.Flock(descriptor, how); err != nil {
		return fmt.Errorf("blobstore: locking %s: %w", s.directory, err)
	}
	defer unix.Flock(descriptor, unix.LOCK_UN)
	return fn()
}

// recordFilename encodes the owner as hex so arbitrary owner IDs map
// to safe filenames.
func recordFilename(subject envelope.Subject) string {
	return hex.EncodeToString([]byte(subject.OwnerID)) + "." + string(subject.Kind) + recordExtension
}

func parseRecordFilename(name string) (envelope.Subject, bool) {
	base, found := strings.CutSuffix(name, recordExtension)
	if !found {
		return envelope.Subject{}, false
	}
	ownerHex, kindName, found := strings.Cut(base, ".")
	if !found {
		return envelope.Subject{}, false
	}
	owner, err := hex.DecodeString(ownerHex)
	if err != nil || len(owner) == 0 {
		return envelope.Subject{}, false
	}
	kind, err := schema.ParseKind(kindName)
	if err != nil {
		return envelope.Subject{}, false
	}
	return envelope.Subject{OwnerID: string(owner), Kind: kind}, true
}

// readRecord returns nil, nil when no record exists for subject.
func (s *FileStore) readRecord(subject envelope.Subject) (*fileRecord, error) {
	path := filepath.Join(s.directory, recordFilename(subject))
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("blobstore: reading %s: %w", path, err)
	}
	var record fileRecord
	if err := codec.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("blobstore: decoding %s: %w", path, err)
	}
	if record.Blob == nil || record.Blob.Subject() != subject {
		return nil, fmt.Errorf("blobstore: %s: %w", path, ErrSubjectMismatch)
	}
	return &record, nil
}

// writeRecord replaces the subject's record via write, fsync, rename,
// and a directory fsync.
func (s *FileStore) writeRecord(subject envelope.Subject, record *fileRecord) error {
	data, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("blobstore: encoding record: %w", err)
	}

	path := filepath.Join(s.directory, recordFilename(subject))
	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("blobstore: creating temporary record: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("blobstore: writing temporary record: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("blobstore: syncing temporary record: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("blobstore: closing temporary record: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("blobstore: renaming record into place: %w", err)
	}

	directory, err := os.Open(s.directory)
	if err == nil {
		directory.Sync()
		directory.Close()
	}
	return nil
}
