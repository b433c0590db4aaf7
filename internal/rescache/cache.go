// Package rescache memoizes resolved symbol tables per integration, keyed
// by version tag, with an optional persistent layer underneath.
package rescache

import (
	"fmt"
	"log/slog"
	"sync"

	"splashguard/internal/errors"
	"splashguard/internal/symtab"
)

// BuildFunc builds a fresh table. It is only called on a cache miss.
type BuildFunc func() (*symtab.ResolvedTable, error)

// Store is a persistent table store. storage.TableStore implements it.
type Store interface {
	Load(integrationID string, version symtab.VersionTag, digest string) (symtab.Record, bool, error)
	Save(rec symtab.Record, digest string) (string, error)
	Delete(integrationID string) error
}

// Options configures a Cache.
type Options struct {
	// Store is consulted on a memory miss and written after a build. Optional.
	Store Store
	// Digest identifies the loaded code; a persisted table is reused only
	// for the same digest.
	Digest string
	// Mandatory keys are re-validated when restoring a persisted table.
	Mandatory []symtab.LogicalKey
}

// Stats counts cache activity.
type Stats struct {
	Hits        int `json:"hits"`
	StoreHits   int `json:"storeHits"`
	Builds      int `json:"builds"`
	Failures    int `json:"failures"`
	StoreErrors int `json:"storeErrors"`
}

// Cache holds at most one table per integration. Failed builds are never
// cached. It is safe for concurrent use; builds run under the lock so an
// integration is never built twice concurrently.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*symtab.ResolvedTable
	opts    Options
	stats   Stats
	logger  *slog.Logger
}

// New creates an empty cache.
func New(opts Options, logger *slog.Logger) *Cache {
	return &Cache{
		entries: map[string]*symtab.ResolvedTable{},
		opts:    opts,
		logger:  logger,
	}
}

// GetOrBuild returns the table for integrationID if one is cached under
// version. Otherwise it builds one, caches it (replacing any entry of a
// different version) and returns it. A build failure is returned as is and
// leaves the cache untouched.
func (c *Cache) GetOrBuild(integrationID string, version symtab.VersionTag, build BuildFunc) (*symtab.ResolvedTable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.entries[integrationID]; ok {
		if t.Version() == version {
			c.stats.Hits++
			c.logger.Debug("Resolution cache hit",
				"integration", integrationID,
				"version", int(version),
			)
			return t, nil
		}
		c.logger.Info("Resolution cache version mismatch",
			"integration", integrationID,
			"cached_version", int(t.Version()),
			"version", int(version),
		)
	}

	if t := c.loadPersisted(integrationID, version); t != nil {
		c.stats.StoreHits++
		c.entries[integrationID] = t
		return t, nil
	}

	t, err := build()
	if err != nil {
		c.stats.Failures++
		return nil, err
	}
	if t == nil {
		c.stats.Failures++
		return nil, errors.New(errors.InternalError, "builder returned no table", nil)
	}
	if t.IntegrationID() != integrationID || t.Version() != version {
		c.stats.Failures++
		return nil, errors.New(errors.InternalError,
			fmt.Sprintf("builder returned table %s v%d, want %s v%d", t.IntegrationID(), t.Version(), integrationID, version), nil)
	}

	c.stats.Builds++
	c.entries[integrationID] = t
	c.persist(t)
	return t, nil
}

// Peek returns the cached table for integrationID without building.
func (c *Cache) Peek(integrationID string) (*symtab.ResolvedTable, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.entries[integrationID]
	return t, ok
}

// Invalidate drops the cached table for integrationID from memory and from
// the store.
func (c *Cache) Invalidate(integrationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, integrationID)
	if c.opts.Store == nil {
		return
	}
	if err := c.opts.Store.Delete(integrationID); err != nil {
		c.stats.StoreErrors++
		c.logger.Warn("Failed to delete persisted table",
			"integration", integrationID,
			"error", err.Error(),
		)
	}
}

// Stats returns a copy of the activity counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Cache) loadPersisted(integrationID string, version symtab.VersionTag) *symtab.ResolvedTable {
	if c.opts.Store == nil {
		return nil
	}
	rec, ok, err := c.opts.Store.Load(integrationID, version, c.opts.Digest)
	if err != nil {
		c.stats.StoreErrors++
		c.logger.Warn("Persisted table unavailable",
			"integration", integrationID,
			"error", errors.New(errors.StoreUnavailable, "load failed", err).Error(),
		)
		return nil
	}
	if !ok {
		return nil
	}
	t, err := symtab.Restore(rec, c.opts.Mandatory)
	if err != nil {
		c.logger.Warn("Discarding invalid persisted table",
			"integration", integrationID,
			"error", err.Error(),
		)
		return nil
	}
	if t.IntegrationID() != integrationID || t.Version() != version {
		return nil
	}
	c.logger.Debug("Restored persisted table",
		"integration", integrationID,
		"version", int(version),
		"entries", t.Len(),
	)
	return t
}

func (c *Cache) persist(t *symtab.ResolvedTable) {
	if c.opts.Store == nil {
		return
	}
	buildID, err := c.opts.Store.Save(t.Record(), c.opts.Digest)
	if err != nil {
		c.stats.StoreErrors++
		c.logger.Warn("Failed to persist table",
			"integration", t.IntegrationID(),
			"error", errors.New(errors.StoreUnavailable, "save failed", err).Error(),
		)
		return
	}
	c.logger.Debug("Persisted table",
		"integration", t.IntegrationID(),
		"build_id", buildID,
	)
}
