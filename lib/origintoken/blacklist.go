// Copyright 2026 The Satnam Authors
// SPDX-License-Identifier: Apache-2.0

package origintoken

import (
	"sync"
	"time"
)

// Blacklist is a thread-safe in-memory set of revoked token IDs. Each
// entry remembers the token's natural expiry so Cleanup can drop it
// once the token would be rejected anyway.
type Blacklist struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

// NewBlacklist creates an empty blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{entries: make(map[string]time.Time)}
}

// Revoke adds a token ID. tokenExpiresAt is the token's own expiry.
func (b *Blacklist) Revoke(tokenID string, tokenExpiresAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[tokenID] = tokenExpiresAt
}

// RevokeToken revokes a decoded token.
func (b *Blacklist) RevokeToken(token *Token) {
	b.Revoke(token.ID, time.Unix(token.ExpiresAt, 0))
}

// IsRevoked reports whether tokenID has been revoked.
func (b *Blacklist) IsRevoked(tokenID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.entries[tokenID]
	return exists
}

// Cleanup removes entries whose token expiry has passed and returns the
// number removed.
func (b *Blacklist) Cleanup(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for tokenID, expiresAt := range b.entries {
		if !now.Before(expiresAt) {
			delete(b.entries, tokenID)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries.
func (b *Blacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
