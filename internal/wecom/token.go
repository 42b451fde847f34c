package wecom

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// tokenEntry caches one issued credential with its absolute expiry.
type tokenEntry struct {
	token  string
	expiry time.Time
}

// fetchTokenFunc obtains a fresh credential and its validity window from
// the upstream credential endpoint.
type fetchTokenFunc func(ctx context.Context) (token string, validity time.Duration, err error)

// TokenCache caches access tokens keyed by corp id. Entries are never
// persisted; a restart rebuilds them on first use. Concurrent misses for
// the same key are coalesced into a single upstream call.
type TokenCache struct {
	entries map[string]tokenEntry
	margin  time.Duration
	mu      sync.RWMutex
	group   singleflight.Group
	now     func() time.Time
}

// NewTokenCache creates a token cache. margin is subtracted from the
// reported validity so a token is refreshed before the platform rejects it
// (5 minutes for the nominal 2-hour validity leaves 115 minutes of use).
func NewTokenCache(margin time.Duration) *TokenCache {
	if margin <= 0 {
		margin = 5 * time.Minute
	}
	return &TokenCache{
		entries: make(map[string]tokenEntry),
		margin:  margin,
		now:     time.Now,
	}
}

// Get returns a live cached token for key, or calls fetch and caches the
// result.
func (tc *TokenCache) Get(ctx context.Context, key string, fetch fetchTokenFunc) (string, error) {
	tc.mu.RLock()
	entry, ok := tc.entries[key]
	tc.mu.RUnlock()
	if ok && tc.now().Before(entry.expiry) {
		return entry.token, nil
	}

	value, err, _ := tc.group.Do(key, func() (interface{}, error) {
		// Another caller may have refreshed while this one waited on
		// the flight lock.
		tc.mu.RLock()
		entry, ok := tc.entries[key]
		tc.mu.RUnlock()
		if ok && tc.now().Before(entry.expiry) {
			return entry.token, nil
		}

		token, validity, err := fetch(ctx)
		if err != nil {
			return "", err
		}
		tc.mu.Lock()
		tc.entries[key] = tokenEntry{
			token:  token,
			expiry: tc.now().Add(validity - tc.margin),
		}
		tc.mu.Unlock()
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// Invalidate drops the cached token for key.
func (tc *TokenCache) Invalidate(key string) {
	tc.mu.Lock()
	delete(tc.entries, key)
	tc.mu.Unlock()
}

// InvalidateAll drops every cached token.
func (tc *TokenCache) InvalidateAll() {
	tc.mu.Lock()
	tc.entries = make(map[string]tokenEntry)
	tc.mu.Unlock()
}

// Size returns the number of cached tokens.
func (tc *TokenCache) Size() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return len(tc.entries)
}
