// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/sqlitepool"
)

func readPragma(t *testing.T, conn *sqlite.Conn, pragma string) string {
	t.Helper()
	var value string
	err := sqlitex.Execute(conn, "PRAGMA "+pragma, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("PRAGMA %s: %v", pragma, err)
	}
	return value
}

func TestPragmasApplied(t *testing.T) {
	pool := openTestPool(t, nil)

	err := pool.With(context.Background(), func(conn *sqlite.Conn) error {
		want := map[string]string{
			"journal_mode":  "wal",
			"synchronous":   "2", // FULL
			"foreign_keys":  "1",
			"secure_delete": "1",
		}
		for pragma, expected := range want {
			if got := readPragma(t, conn, pragma); got != expected {
				t.Errorf("%s = %q, want %q", pragma, got, expected)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
}

func TestOnConnect(t *testing.T) {
	var called bool
	pool := openTestPool(t, func(conn *sqlite.Conn) error {
		called = true
		return sqlitex.ExecuteScript(conn, `
			CREATE TABLE IF NOT EXISTS blobs (
				id INTEGER PRIMARY KEY,
				data BLOB NOT NULL
			);
		`, nil)
	})

	err := pool.With(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "INSERT INTO blobs (data) VALUES (?)", &sqlitex.ExecOptions{
			Args: []any{[]byte{1, 2, 3}},
		})
	})
	if err != nil {
		t.Fatalf("INSERT: %v", err)
	}
	if !called {
		t.Error("OnConnect was not called")
	}
}

func TestWithPropagatesError(t *testing.T) {
	pool := openTestPool(t, nil)
	sentinel := errors.New("callback failed")
	err := pool.With(context.Background(), func(*sqlite.Conn) error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("With error = %v, want %v", err, sentinel)
	}

	// The connection went back to the pool despite the error.
	if err := pool.With(context.Background(), func(*sqlite.Conn) error { return nil }); err != nil {
		t.Fatalf("second With: %v", err)
	}
}

func TestEmptyPathRejected(t *testing.T) {
	if _, err := sqlitepool.Open(sqlitepool.Config{}); err == nil {
		t.Fatal("expected error for empty Path")
	}
}

func TestContextCancellation(t *testing.T) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(t.TempDir(), "cancel.db"),
		PoolSize: 1,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}

	// The only connection is held, so a cancelled Take must fail.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Take(ctx); err == nil {
		t.Fatal("expected error from cancelled context")
	}

	pool.Put(conn)
}

// openTestPool creates a pool backed by a temporary database file,
// closed when the test completes.
func openTestPool(t *testing.T, onConnect func(*sqlite.Conn) error) *sqlitepool.Pool {
	t.Helper()

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:      filepath.Join(t.TempDir(), "test.db"),
		PoolSize:  2,
		OnConnect: onConnect,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	if pool.Path() == "" {
		t.Fatal("Path() is empty")
	}
	return pool
}
