package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
)

// Cache provides thread-safe in-memory caching with TTL. The engine uses
// it to hold the backend's best-effort trip snapshots and computed routes
// between refresh cycles.
type Cache struct {
	entries map[string]*Entry
	mutex   sync.RWMutex
}

// Entry represents a cached item with metadata
type Entry struct {
	Key             string        `json:"key"`
	Data            []byte        `json:"data"`
	CreatedAt       time.Time     `json:"created_at"`
	ExpiresAt       time.Time     `json:"expires_at"`
	RefreshInterval time.Duration `json:"refresh_interval"`
	Source          string        `json:"source"`
}

// New creates a new in-memory cache
func New() *Cache {
	return &Cache{
		entries: make(map[string]*Entry),
	}
}

// Set stores data in cache with TTL based on refresh interval
func (c *Cache) Set(key string, data interface{}, refreshInterval time.Duration, source string) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data for cache: %w", err)
	}

	now := time.Now()
	entry := &Entry{
		Key:             key,
		Data:            jsonData,
		CreatedAt:       now,
		ExpiresAt:       now.Add(refreshInterval),
		RefreshInterval: refreshInterval,
		Source:          source,
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[key] = entry
	return nil
}

// Get retrieves data from cache if not stale
func (c *Cache) Get(key string, result interface{}) (bool, error) {
	c.mutex.RLock()
	entry, exists := c.entries[key]
	c.mutex.RUnlock()

	if !exists {
		return false, nil
	}

	if c.IsStale(key) {
		return false, nil
	}

	if err := json.Unmarshal(entry.Data, result); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached data: %w", err)
	}

	return true, nil
}

// IsStale checks if cache entry is stale (past expiration)
func (c *Cache) IsStale(key string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.entries[key]
	if !exists {
		return true
	}

	return time.Now().After(entry.ExpiresAt)
}

// IsVeryStale checks if cache entry is very stale (2x refresh interval).
// Stale-but-not-very-stale entries are still served while a refresh is
// failing.
func (c *Cache) IsVeryStale(key string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.entries[key]
	if !exists {
		return true
	}

	veryStaleThreshold := entry.CreatedAt.Add(entry.RefreshInterval * 2)
	return time.Now().After(veryStaleThreshold)
}

// GetWithMetadata retrieves data and cache metadata. Metadata is returned
// even for stale entries; the caller decides how to handle staleness.
func (c *Cache) GetWithMetadata(key string, result interface{}) (*Entry, bool, error) {
	c.mutex.RLock()
	entry, exists := c.entries[key]
	c.mutex.RUnlock()

	if !exists {
		return nil, false, nil
	}

	if result != nil {
		if err := json.Unmarshal(entry.Data, result); err != nil {
			return entry, exists, fmt.Errorf("failed to unmarshal cached data: %w", err)
		}
	}

	return entry, exists, nil
}

// Delete removes an entry from cache
func (c *Cache) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.entries, key)
}

// Clear removes all entries from cache
func (c *Cache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries = make(map[string]*Entry)
}

// Stats returns cache statistics
func (c *Cache) Stats() Stats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	now := time.Now()
	stats := Stats{
		TotalEntries: len(c.entries),
	}

	for _, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			stats.StaleEntries++
		} else {
			stats.FreshEntries++
		}

		if stats.OldestEntry.IsZero() || entry.CreatedAt.Before(stats.OldestEntry) {
			stats.OldestEntry = entry.CreatedAt
		}
		if entry.CreatedAt.After(stats.NewestEntry) {
			stats.NewestEntry = entry.CreatedAt
		}
	}

	return stats
}

// CleanupStale removes all stale entries from cache
func (c *Cache) CleanupStale() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	var removed int

	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			removed++
		}
	}

	return removed
}

// StartPeriodicCleanup starts a goroutine that periodically cleans up stale entries
func (c *Cache) StartPeriodicCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				err, _ := errors.ParseStack(debug.Stack())
				skipFrames := 3
				numFrames := 5
				logging.Errorw(ctx, "Cache cleanup: recovered from panic",
					"error", r, "error.stack_trace", err.MinimalStack(skipFrames, numFrames))
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.CleanupStale()
			}
		}
	}()
}

// Stats provides cache usage statistics
type Stats struct {
	TotalEntries int       `json:"total_entries"`
	FreshEntries int       `json:"fresh_entries"`
	StaleEntries int       `json:"stale_entries"`
	OldestEntry  time.Time `json:"oldest_entry,omitempty"`
	NewestEntry  time.Time `json:"newest_entry,omitempty"`
}

// Trip reconciliation helpers. The controller refreshes these entries
// non-blockingly on every sample cycle and serves the cached copy to the
// UI between refreshes.

// SetTripSnapshot caches the backend's computed trip snapshot by journey id
func (c *Cache) SetTripSnapshot(journeyID string, snapshot interface{}, ttl time.Duration) error {
	return c.Set("trip_snapshot:"+journeyID, snapshot, ttl, "trip_snapshot")
}

// GetTripSnapshot retrieves a cached trip snapshot by journey id. Stale
// entries are still served until they turn very stale, so the UI keeps its
// last-known figures while a refresh is failing.
func (c *Cache) GetTripSnapshot(journeyID string, result interface{}) (bool, error) {
	return c.getStaleTolerant("trip_snapshot:"+journeyID, result)
}

// SetRoute caches the backend's computed route by journey id
func (c *Cache) SetRoute(journeyID string, route interface{}, ttl time.Duration) error {
	return c.Set("route:"+journeyID, route, ttl, "route")
}

// GetRoute retrieves a cached route by journey id, with the same
// stale-tolerant read semantics as GetTripSnapshot.
func (c *Cache) GetRoute(journeyID string, result interface{}) (bool, error) {
	return c.getStaleTolerant("route:"+journeyID, result)
}

// getStaleTolerant reads fresh entries through Get and falls back to a
// stale-but-not-very-stale entry via GetWithMetadata.
func (c *Cache) getStaleTolerant(key string, result interface{}) (bool, error) {
	if found, err := c.Get(key, result); err != nil || found {
		return found, err
	}
	if c.IsVeryStale(key) {
		return false, nil
	}
	_, found, err := c.GetWithMetadata(key, result)
	return found, err
}
