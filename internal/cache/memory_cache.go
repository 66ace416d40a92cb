package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"pasal/backend/internal/domain"
)

// DefaultMemoryTTL applies to entries stored without an explicit lifetime.
const DefaultMemoryTTL = 5 * time.Minute

// MemoryCache serves as both the history cache and the token deny-list when
// Redis is not configured. Expired entries are never returned and are
// dropped by go-cache's janitor every sweep interval.
type MemoryCache struct {
	items *gocache.Cache
}

// NewMemoryCache starts a janitor that drops expired entries every sweep
// interval. A non-positive sweep disables the janitor; Sweep can still be
// called directly.
func NewMemoryCache(sweep time.Duration) *MemoryCache {
	if sweep <= 0 {
		sweep = -1
	}
	return &MemoryCache{items: gocache.New(DefaultMemoryTTL, sweep)}
}

// Sweep removes expired entries and returns how many were dropped.
func (c *MemoryCache) Sweep() int {
	before := c.items.ItemCount()
	c.items.DeleteExpired()
	return before - c.items.ItemCount()
}

// Len counts stored entries, including expired ones not yet swept.
func (c *MemoryCache) Len() int {
	return c.items.ItemCount()
}

// Close drops every entry. The janitor stops once the cache is unreachable.
func (c *MemoryCache) Close() error {
	c.items.Flush()
	return nil
}

func (c *MemoryCache) store(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.items.Set(key, value, ttl)
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]domain.ItemTransaction, bool, error) {
	value, ok := c.items.Get(key)
	if !ok {
		return nil, false, nil
	}
	rows, ok := value.([]domain.ItemTransaction)
	if !ok {
		return nil, false, nil
	}
	return append([]domain.ItemTransaction(nil), rows...), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []domain.ItemTransaction, ttl time.Duration) error {
	c.store(key, append([]domain.ItemTransaction(nil), value...), ttl)
	return nil
}

func (c *MemoryCache) Revoke(_ context.Context, tokenID string, until time.Time) error {
	c.store(revokedKey(tokenID), true, time.Until(until))
	return nil
}

func (c *MemoryCache) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	_, ok := c.items.Get(revokedKey(tokenID))
	return ok, nil
}

func revokedKey(tokenID string) string {
	return "revoked:" + tokenID
}
