package auth

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	identity Identity
	expires  time.Time
}

// MemoryCache is a process-local TTL cache of validated sessions.
type MemoryCache struct {
	now func() time.Time

	mu        sync.RWMutex
	items     map[string]cacheEntry
	bySession map[string]map[string]struct{}
	revoked   map[string]time.Time
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		now:       time.Now,
		items:     make(map[string]cacheEntry),
		bySession: make(map[string]map[string]struct{}),
		revoked:   make(map[string]time.Time),
	}
}

// Get returns the cached identity for a digest when it has not expired.
func (c *MemoryCache) Get(_ context.Context, hash string) (Identity, bool, error) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.items[hash]
	c.mu.RUnlock()
	if !ok || !now.Before(entry.expires) {
		return Identity{}, false, nil
	}
	return entry.identity, true, nil
}

// Set stores identity under hash for ttl. Revoked sessions are not stored.
func (c *MemoryCache) Set(_ context.Context, hash string, identity Identity, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.gcLocked(now)
	if until, ok := c.revoked[identity.SessionID]; ok && now.Before(until) {
		return nil
	}
	c.items[hash] = cacheEntry{identity: identity, expires: now.Add(ttl)}
	hashes, ok := c.bySession[identity.SessionID]
	if !ok {
		hashes = make(map[string]struct{})
		c.bySession[identity.SessionID] = hashes
	}
	hashes[hash] = struct{}{}
	return nil
}

// Invalidate drops every cached digest of the session and marks it revoked
// for ttl.
func (c *MemoryCache) Invalidate(_ context.Context, sessionID string, ttl time.Duration) error {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.gcLocked(now)
	if ttl > 0 {
		c.revoked[sessionID] = now.Add(ttl)
	}
	for hash := range c.bySession[sessionID] {
		delete(c.items, hash)
	}
	delete(c.bySession, sessionID)
	return nil
}

// Len reports the number of cached digests, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *MemoryCache) gcLocked(now time.Time) {
	for sessionID, until := range c.revoked {
		if !now.Before(until) {
			delete(c.revoked, sessionID)
		}
	}
	for hash, entry := range c.items {
		if now.Before(entry.expires) {
			continue
		}
		delete(c.items, hash)
		if hashes, ok := c.bySession[entry.identity.SessionID]; ok {
			delete(hashes, hash)
			if len(hashes) == 0 {
				delete(c.bySession, entry.identity.SessionID)
			}
		}
	}
}
