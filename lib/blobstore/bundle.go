// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"filippo.io/age"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/clock"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/codec"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/envelope"
	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/sealed"
)

// BundleVersion is the current bundle format version.
const BundleVersion = 1

// Bundle is a portable copy of a store: every blob with its audit
// trail. Blobs remain password-encrypted inside the bundle; the age
// layer around the bundle additionally hides which owners and kinds it
// contains.
type Bundle struct {
	Version    int           `cbor:"version"`
	ExportedAt time.Time     `cbor:"exported_at"`
	Entries    []BundleEntry `cbor:"entries"`
}

// BundleEntry is one subject's blob and audit trail.
type BundleEntry struct {
	Blob  *envelope.EncryptedBlob `cbor:"blob"`
	Audit []AuditRecord           `cbor:"audit,omitempty"`
}

// ExportOptions configures Export.
type ExportOptions struct {
	// Recipients receive the bundle. At least one is required. A
	// passphrase recipient must be the only one.
	Recipients []age.Recipient

	Compression Compression

	// Clock stamps ExportedAt. Nil means the real clock.
	Clock clock.Clock
}

// Export reads every blob and audit trail from store and returns them
// as a sealed bundle.
func Export(ctx context.Context, store Store, options ExportOptions) ([]byte, error) {
	if len(options.Recipients) == 0 {
		return nil, fmt.Errorf("blobstore: export requires at least one recipient")
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}

	subjects, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	bundle := Bundle{
		Version:    BundleVersion,
		ExportedAt: options.Clock.Now().UTC(),
		Entries:    make([]BundleEntry, 0, len(subjects)),
	}
	for _, subject := range subjects {
		blob, err := store.Read(ctx, subject)
		if err != nil {
			return nil, fmt.Errorf("blobstore: exporting %s: %w", subject, err)
		}
		trail, err := store.AuditTrail(ctx, subject)
		if err != nil {
			return nil, fmt.Errorf("blobstore: exporting audit trail of %s: %w", subject, err)
		}
		bundle.Entries = append(bundle.Entries, BundleEntry{Blob: blob, Audit: trail})
	}

	encoded, err := codec.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("blobstore: encoding bundle: %w", err)
	}
	frame, err := compressFrame(encoded, options.Compression)
	if err != nil {
		return nil, err
	}
	sealedBundle, err := sealed.Seal(frame, options.Recipients...)
	if err != nil {
		return nil, fmt.Errorf("blobstore: sealing bundle: %w", err)
	}
	return sealedBundle, nil
}

// OpenBundle decrypts and decodes a sealed bundle without importing
// it.
func OpenBundle(sealedBundle []byte, identities ...age.Identity) (*Bundle, error) {
	frame, err := sealed.Open(sealedBundle, identities...)
	if err != nil {
		return nil, fmt.Errorf("blobstore: opening bundle: %w", err)
	}
	encoded, err := decompressFrame(frame)
	if err != nil {
		return nil, err
	}
	var bundle Bundle
	if err := codec.Unmarshal(encoded, &bundle); err != nil {
		return nil, fmt.Errorf("blobstore: decoding bundle: %w", err)
	}
	if bundle.Version != BundleVersion {
		return nil, fmt.Errorf("blobstore: bundle version %d is not supported (expected %d)", bundle.Version, BundleVersion)
	}
	return &bundle, nil
}

// ImportResult summarizes an Import.
type ImportResult struct {
	// Written counts subjects that had no blob before the import.
	Written int

	// Replaced counts subjects whose blob differed and was rotated
	// with reason ReasonImport.
	Replaced int

	// Unchanged counts subjects already holding the identical blob.
	Unchanged int

	Bundle *Bundle
}

// Import opens a sealed bundle and stores every blob it contains.
// Existing identical blobs are left alone; differing blobs are
// rotated so the replacement is audited. The bundle's own audit
// trails are returned in the result but not replayed into store.
func Import(ctx context.Context, store Store, sealedBundle []byte, identities ...age.Identity) (ImportResult, error) {
	bundle, err := OpenBundle(sealedBundle, identities...)
	if err != nil {
		return ImportResult{}, err
	}

	result := ImportResult{Bundle: bundle}
	for _, entry := range bundle.Entries {
		if entry.Blob == nil {
			return result, fmt.Errorf("blobstore: bundle entry without a blob")
		}
		subject := entry.Blob.Subject()
		existing, err := store.Read(ctx, subject)
		switch {
		case errors.Is(err, ErrBlobNotFound):
			if err := store.Write(ctx, subject, entry.Blob); err != nil {
				return result, fmt.Errorf("blobstore: importing %s: %w", subject, err)
			}
			result.Written++
		case err != nil:
			return result, fmt.Errorf("blobstore: importing %s: %w", subject, err)
		case existing.Equal(entry.Blob):
			result.Unchanged++
		default:
			if _, err := store.Rotate(ctx, subject, entry.Blob, ReasonImport); err != nil {
				return result, fmt.Errorf("blobstore: importing %s: %w", subject, err)
			}
			result.Replaced++
		}
	}
	return result, nil
}
