// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"

	"github.com/OV1-Kenobi/satnam-pub-sub009/lib/blobstore"
)

// OpenStore opens the configured blob store. The caller closes it.
func (c *Config) OpenStore(options blobstore.Options) (blobstore.Store, error) {
	switch c.Store.Backend {
	case BackendMemory:
		return blobstore.NewMemoryStore(options), nil
	case BackendFile:
		return blobstore.NewFileStore(c.Store.Path, options)
	case BackendSQLite:
		return blobstore.OpenSQLiteStore(blobstore.SQLiteConfig{
			Path:     c.Store.Path,
			PoolSize: c.Store.PoolSize,
			Options:  options,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
}
