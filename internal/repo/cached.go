package repo

import (
	"context"
	"log/slog"
	"time"
)

// DocumentCache is the subset of the Redis cache the cached store needs.
type DocumentCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	PutMany(ctx context.Context, entries map[string]any) error
	Delete(ctx context.Context, keys ...string) error
}

// CachedStore serves Load from the cache and writes through on save. The
// wrapped store stays the source of truth for version checks.
type CachedStore struct {
	Store
	cache  DocumentCache
	logger *slog.Logger
	now    func() time.Time
}

// NewCached wraps inner with a read-through cache.
func NewCached(inner Store, cache DocumentCache, logger *slog.Logger) *CachedStore {
	return &CachedStore{
		Store:  inner,
		cache:  cache,
		logger: logger.With("component", "repo_cache"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func recordKey(name string) string {
	return "record:" + name
}

// Load returns the cached record when present, otherwise loads and caches it.
func (c *CachedStore) Load(ctx context.Context, name string) (*Record, error) {
	var rec Record
	hit, err := c.cache.Get(ctx, recordKey(name), &rec)
	if err != nil {
		c.logger.Warn("cache read failed", "name", name, "error", err)
	} else if hit {
		return &rec, nil
	}

	loaded, err := c.Store.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := c.cache.PutMany(ctx, map[string]any{recordKey(name): loaded}); err != nil {
		c.logger.Warn("cache fill failed", "name", name, "error", err)
	}
	return loaded, nil
}

// SaveRecords persists through the wrapped store and refreshes the cache.
// On failure the cached entries are dropped so the next Load re-reads.
func (c *CachedStore) SaveRecords(ctx context.Context, records ...Record) error {
	if err := c.Store.SaveRecords(ctx, records...); err != nil {
		keys := make([]string, 0, len(records))
		for _, rec := range records {
			keys = append(keys, recordKey(rec.Name))
		}
		if derr := c.cache.Delete(ctx, keys...); derr != nil {
			c.logger.Warn("cache invalidation failed", "error", derr)
		}
		return err
	}

	now := c.now()
	entries := make(map[string]any, len(records))
	for _, rec := range records {
		entries[recordKey(rec.Name)] = Record{Name: rec.Name, Payload: rec.Payload, Version: rec.Version + 1, UpdatedAt: now}
	}
	if err := c.cache.PutMany(ctx, entries); err != nil {
		c.logger.Warn("cache write failed", "records", len(records), "error", err)
	}
	return nil
}
