// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"bytes"
	"context"
	"testing"
	"time"

	"filippo.io/age"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/clock"
)

func populatedStore(t *testing.T) *MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore(Options{Clock: clock.Fake(epoch)})
	t.Cleanup(func() { store.Close() })
	if err := store.Write(ctx, aliceSigning, testBlob(aliceSigning, 1)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := store.Rotate(ctx, aliceSigning, testBlob(aliceSigning, 2), "scheduled"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if err := store.Write(ctx, aliceSeed, testBlob(aliceSeed, 7)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return store
}

func TestExportImportRoundTrip(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(compression.String(), func(t *testing.T) {
			ctx := context.Background()
			source := populatedStore(t)

			identity, err := age.GenerateX25519Identity()
			if err != nil {
				t.Fatalf("GenerateX25519Identity: %v", err)
			}
			sealedBundle, err := Export(ctx, source, ExportOptions{
				Recipients:  []age.Recipient{identity.Recipient()},
				Compression: compression,
				Clock:       clock.Fake(epoch.Add(time.Hour)),
			})
			if err != nil {
				t.Fatalf("Export: %v", err)
			}
			if bytes.Contains(sealedBundle, []byte("npub1alice")) {
				t.Fatal("sealed bundle exposes an owner ID")
			}

			destination := NewMemoryStore(Options{})
			defer destination.Close()
			result, err := Import(ctx, destination, sealedBundle, identity)
			if err != nil {
				t.Fatalf("Import: %v", err)
			}
			if result.Written != 2 || result.Replaced != 0 || result.Unchanged != 0 {
				t.Errorf("Import result = %+v, want 2 written", result)
			}
			if !result.Bundle.ExportedAt.Equal(epoch.Add(time.Hour)) {
				t.Errorf("ExportedAt = %v", result.Bundle.ExportedAt)
			}
			if len(result.Bundle.Entries) != 2 {
				t.Fatalf("bundle has %d entries, want 2", len(result.Bundle.Entries))
			}
			for _, entry := range result.Bundle.Entries {
				if entry.Blob.Subject() == aliceSigning && len(entry.Audit) != 1 {
					t.Errorf("signing key audit trail has %d records in the bundle, want 1", len(entry.Audit))
				}
			}

			imported, err := destination.Read(ctx, aliceSigning)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if !imported.Equal(testBlob(aliceSigning, 2)) {
				t.Fatal("imported blob differs from the exported one")
			}

			// A second import is a no-op.
			again, err := Import(ctx, destination, sealedBundle, identity)
			if err != nil {
				t.Fatalf("second Import: %v", err)
			}
			if again.Unchanged != 2 || again.Written != 0 || again.Replaced != 0 {
				t.Errorf("second Import result = %+v, want 2 unchanged", again)
			}
		})
	}
}

func TestImportReplacesDifferingBlobWithAudit(t *testing.T) {
	ctx := context.Background()
	source := populatedStore(t)
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("GenerateX25519Identity: %v", err)
	}
	sealedBundle, err := Export(ctx, source, ExportOptions{Recipients: []age.Recipient{identity.Recipient()}})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	destination := NewMemoryStore(Options{})
	defer destination.Close()
	if err := destination.Write(ctx, aliceSigning, testBlob(aliceSigning, 9)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	result, err := Import(ctx, destination, sealedBundle, identity)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if result.Replaced != 1 || result.Written != 1 {
		t.Fatalf("Import result = %+v, want 1 replaced and 1 written", result)
	}
	trail, err := destination.AuditTrail(ctx, aliceSigning)
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if len(trail) != 1 || trail[0].Reason != ReasonImport {
		t.Fatalf("audit trail = %+v, want one %q record", trail, ReasonImport)
	}
}

func TestImportWrongIdentity(t *testing.T) {
	ctx := context.Background()
	owner, _ := age.GenerateX25519Identity()
	stranger, _ := age.GenerateX25519Identity()
	sealedBundle, err := Export(ctx, populatedStore(t), ExportOptions{Recipients: []age.Recipient{owner.Recipient()}})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	destination := NewMemoryStore(Options{})
	defer destination.Close()
	if _, err := Import(ctx, destination, sealedBundle, stranger); err == nil {
		t.Fatal("Import succeeded with the wrong identity")
	}
	if subjects, _ := destination.List(ctx); len(subjects) != 0 {
		t.Fatalf("failed import stored %d subjects", len(subjects))
	}
}

func TestExportRequiresRecipient(t *testing.T) {
	if _, err := Export(context.Background(), populatedStore(t), ExportOptions{}); err == nil {
		t.Fatal("Export without recipients succeeded")
	}
}

func TestCompressFrame(t *testing.T) {
	compressible := bytes.Repeat([]byte("satnam custody bundle "), 200)
	random := []byte{0x8f, 0x12, 0xe4, 0x07}

	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		for _, data := range [][]byte{compressible, random} {
			frame, err := compressFrame(data, compression)
			if err != nil {
				t.Fatalf("compressFrame(%s): %v", compression, err)
			}
			if len(data) == len(compressible) && compression != CompressionNone && len(frame) >= len(data) {
				t.Errorf("%s did not shrink compressible input", compression)
			}
			if len(data) == len(random) && Compression(frame[0]) != CompressionNone {
				t.Errorf("%s kept its tag for incompressible input", compression)
			}
			decoded, err := decompressFrame(frame)
			if err != nil {
				t.Fatalf("decompressFrame(%s): %v", compression, err)
			}
			if !bytes.Equal(decoded, data) {
				t.Fatalf("%s round trip mismatch", compression)
			}
		}
	}

	if _, err := decompressFrame([]byte{byte(CompressionZstd), 0, 0}); err == nil {
		t.Error("decompressFrame accepted a truncated header")
	}
	if _, err := decompressFrame([]byte{9, 0, 0, 0, 1, 0}); err == nil {
		t.Error("decompressFrame accepted an unknown tag")
	}
}

func TestParseCompression(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		parsed, err := ParseCompression(compression.String())
		if err != nil || parsed != compression {
			t.Errorf("ParseCompression(%q) = %v, %v", compression, parsed, err)
		}
	}
	if parsed, err := ParseCompression(""); err != nil || parsed != CompressionZstd {
		t.Errorf("ParseCompression(\"\") = %v, %v, want zstd", parsed, err)
	}
	if _, err := ParseCompression("gzip"); err == nil {
		t.Error("ParseCompression accepted gzip")
	}
}
