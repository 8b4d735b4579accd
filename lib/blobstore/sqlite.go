// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/clock"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/codec"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/envelope"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/schema"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/sqlitepool"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS blobs (
	owner_id   TEXT    NOT NULL,
	kind       TEXT    NOT NULL,
	ref        TEXT    NOT NULL,
	blob       BLOB    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (owner_id, kind)
);

CREATE TABLE IF NOT EXISTS audit (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_id   TEXT    NOT NULL,
	kind       TEXT    NOT NULL,
	old_ref    TEXT    NOT NULL,
	new_ref    TEXT    NOT NULL,
	rotated_at INTEGER NOT NULL,
	reason     TEXT    NOT NULL,
	FOREIGN KEY (owner_id, kind) REFERENCES blobs (owner_id, kind)
);

CREATE INDEX IF NOT EXISTS audit_subject ON audit (owner_id, kind, id);
`

// SQLiteStore keeps blobs and audit records in a SQLite database.
// Blobs are stored as their CBOR encoding. Overwrites and rotations
// run in a single IMMEDIATE transaction, so the blob replacement and
// its audit row commit together.
type SQLiteStore struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
	closed atomic.Bool
}

// SQLiteConfig configures OpenSQLiteStore.
type SQLiteConfig struct {
	// Path is the database file. Its parent directory must exist.
	Path string

	// PoolSize is passed to sqlitepool. Zero uses its default.
	PoolSize int

	Options
}

// OpenSQLiteStore opens or creates a SQLite blob store.
func OpenSQLiteStore(config SQLiteConfig) (*SQLiteStore, error) {
	options := config.Options.withDefaults()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     config.Path,
		PoolSize: config.PoolSize,
		Logger:   options.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, sqliteSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: %w", err)
	}
	return &SQLiteStore{
		pool:   pool,
		clock:  options.Clock,
		logger: options.Logger,
	}, nil
}

func (s *SQLiteStore) Write(ctx context.Context, subject envelope.Subject, blob *envelope.EncryptedBlob) error {
	ref, err := checkBlob(subject, blob)
	if err != nil {
		return err
	}
	encoded, err := codec.Marshal(blob)
	if err != nil {
		return fmt.Errorf("blobstore: encoding blob: %w", err)
	}

	var audit *AuditRecord
	err = s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		endTransaction, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return fmt.Errorf("blobstore: begin transaction: %w", err)
		}
		defer endTransaction(&err)

		oldRef, found, err := selectRef(conn, subject)
		if err != nil {
			return err
		}
		if found && oldRef == ref {
			return nil
		}

		now := s.clock.Now()
		if err := upsertBlob(conn, subject, ref, encoded, now); err != nil {
			return err
		}
		if found {
			record := newAuditRecord(subject, oldRef, ref, now, ReasonOverwrite)
			if err := insertAudit(conn, record); err != nil {
				return err
			}
			audit = &record
		}
		return nil
	})
	if err != nil {
		return err
	}
	if audit != nil {
		s.logger.Info("blob overwritten",
			"owner", subject.OwnerID,
			"kind", subject.Kind,
			"old_ref", audit.OldRef.Short(),
			"new_ref", audit.NewRef.Short(),
		)
	}
	return nil
}

func (s *SQLiteStore) Read(ctx context.Context, subject envelope.Subject) (*envelope.EncryptedBlob, error) {
	var blob *envelope.EncryptedBlob
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT blob FROM blobs WHERE owner_id = ? AND kind = ?`,
			&sqlitex.ExecOptions{
				Args: []any{subject.OwnerID, string(subject.Kind)},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					data := make([]byte, stmt.ColumnLen(0))
					stmt.ColumnBytes(0, data)
					var decoded envelope.EncryptedBlob
					if err := codec.Unmarshal(data, &decoded); err != nil {
						return fmt.Errorf("blobstore: decoding stored blob for %s: %w", subject, err)
					}
					blob = &decoded
					return nil
				},
			})
	})
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, ErrBlobNotFound
	}
	return blob, nil
}

func (s *SQLiteStore) Rotate(ctx context.Context, subject envelope.Subject, blob *envelope.EncryptedBlob, reason string) (AuditRecord, error) {
	ref, err := checkBlob(subject, blob)
	if err != nil {
		return AuditRecord{}, err
	}
	encoded, err := codec.Marshal(blob)
	if err != nil {
		return AuditRecord{}, fmt.Errorf("blobstore: encoding blob: %w", err)
	}

	var record AuditRecord
	err = s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		endTransaction, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return fmt.Errorf("blobstore: begin transaction: %w", err)
		}
		defer endTransaction(&err)

		oldRef, found, err := selectRef(conn, subject)
		if err != nil {
			return err
		}
		if !found {
			return ErrBlobNotFound
		}
		if oldRef == ref {
			return ErrUnchanged
		}

		now := s.clock.Now()
		record = newAuditRecord(subject, oldRef, ref, now, rotationReason(reason))
		if err := upsertBlob(conn, subject, ref, encoded, now); err != nil {
			return err
		}
		return insertAudit(conn, record)
	})
	if err != nil {
		return AuditRecord{}, err
	}
	s.logger.Info("blob rotated",
		"owner", subject.OwnerID,
		"kind", subject.Kind,
		"reason", record.Reason,
		"old_ref", record.OldRef.Short(),
		"new_ref", record.NewRef.Short(),
	)
	return record, nil
}

func (s *SQLiteStore) AuditTrail(ctx context.Context, subject envelope.Subject) ([]AuditRecord, error) {
	var trail []AuditRecord
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		_, found, err := selectRef(conn, subject)
		if err != nil {
			return err
		}
		if !found {
			return ErrBlobNotFound
		}
		return sqlitex.Execute(conn,
			`SELECT old_ref, new_ref, rotated_at, reason FROM audit
			 WHERE owner_id = ? AND kind = ? ORDER BY id`,
			&sqlitex.ExecOptions{
				Args: []any{subject.OwnerID, string(subject.Kind)},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					trail = append(trail, AuditRecord{
						OwnerID:   subject.OwnerID,
						Kind:      subject.Kind,
						OldRef:    Ref(stmt.ColumnText(0)),
						NewRef:    Ref(stmt.ColumnText(1)),
						RotatedAt: time.Unix(0, stmt.ColumnInt64(2)).UTC(),
						Reason:    stmt.ColumnText(3),
					})
					return nil
				},
			})
	})
	if err != nil {
		return nil, err
	}
	return trail, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]envelope.Subject, error) {
	var subjects []envelope.Subject
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT owner_id, kind FROM blobs ORDER BY owner_id, kind`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					kind, err := schema.ParseKind(stmt.ColumnText(1))
					if err != nil {
						return fmt.Errorf("blobstore: stored row: %w", err)
					}
					subjects = append(subjects, envelope.Subject{OwnerID: stmt.ColumnText(0), Kind: kind})
					return nil
				},
			})
	})
	if err != nil {
		return nil, err
	}
	return subjects, nil
}

// Close closes the connection pool. Idempotent.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.pool.Close()
}

func (s *SQLiteStore) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.pool.With(ctx, fn)
}

func selectRef(conn *sqlite.Conn, subject envelope.Subject) (Ref, bool, error) {
	var ref Ref
	found := false
	err := sqlitex.Execute(conn,
		`SELECT ref FROM blobs WHERE owner_id = ? AND kind = ?`,
		&sqlitex.ExecOptions{
			Args: []any{subject.OwnerID, string(subject.Kind)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				ref = Ref(stmt.ColumnText(0))
				found = true
				return nil
			},
		})
	if err != nil {
		return "", false, fmt.Errorf("blobstore: selecting ref for %s: %w", subject, err)
	}
	return ref, found, nil
}

func upsertBlob(conn *sqlite.Conn, subject envelope.Subject, ref Ref, encoded []byte, now time.Time) error {
	err := sqlitex.Execute(conn,
		`INSERT INTO blobs (owner_id, kind, ref, blob, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (owner_id, kind) DO UPDATE SET
			ref = excluded.ref, blob = excluded.blob, updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{
			Args: []any{subject.OwnerID, string(subject.Kind), string(ref), encoded, now.UnixNano()},
		})
	if err != nil {
		return fmt.Errorf("blobstore: storing blob for %s: %w", subject, err)
	}
	return nil
}

func insertAudit(conn *sqlite.Conn, record AuditRecord) error {
	err := sqlitex.Execute(conn,
		`INSERT INTO audit (owner_id, kind, old_ref, new_ref, rotated_at, reason) VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{record.OwnerID, string(record.Kind), string(record.OldRef), string(record.NewRef),
				record.RotatedAt.UnixNano(), record.Reason},
		})
	if err != nil {
		return fmt.Errorf("blobstore: recording audit entry: %w", err)
	}
	return nil
}
