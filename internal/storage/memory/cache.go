package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fleetinfo/portal/internal/portal"
)

type cacheKey struct {
	rule, region int64
	hash         string
}

// ContentCache is an in-process portal.ContentCache.
type ContentCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]portal.CacheEntry
}

// NewContentCache constructs an empty cache.
func NewContentCache() *ContentCache {
	return &ContentCache{entries: make(map[cacheKey]portal.CacheEntry)}
}

// Lookup returns the entry when it has not expired at now.
func (c *ContentCache) Lookup(_ context.Context, ruleID, regionID int64, hash string, now time.Time) (portal.CacheEntry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[cacheKey{ruleID, regionID, hash}]
	if !ok || !e.ExpiresAt.After(now) {
		return portal.CacheEntry{}, false, nil
	}
	return e, true, nil
}

// Put inserts or replaces an entry.
func (c *ContentCache) Put(_ context.Context, e portal.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{e.RuleID, e.RegionID, e.KeywordHash}] = e
	return nil
}

// InvalidateRule drops all entries for ruleID.
func (c *ContentCache) InvalidateRule(_ context.Context, ruleID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.rule == ruleID {
			delete(c.entries, k)
		}
	}
	return nil
}

// InvalidateRuleRegion drops entries for one (rule, region) pair.
func (c *ContentCache) InvalidateRuleRegion(_ context.Context, ruleID, regionID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.rule == ruleID && k.region == regionID {
			delete(c.entries, k)
		}
	}
	return nil
}
