// Package cache provides caching for decoded snapshots and query results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mcds-view/server/internal/data/mcds"
)

// Config contains cache configuration.
type Config struct {
	ResponseSizeMB    int
	ResponseTTL       time.Duration
	SnapshotCacheSize int
}

// Manager manages the response and snapshot caches. Responses are serialized
// JSON bodies; snapshots are fully decoded models kept hot across requests.
type Manager struct {
	responses *bigcache.BigCache
	snapshots *lru.Cache[string, *mcds.Snapshot]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	responseConfig := bigcache.Config{
		Shards:             1024,
		LifeWindow:         cfg.ResponseTTL,
		CleanWindow:        cfg.ResponseTTL / 2,
		MaxEntriesInWindow: 100000,
		MaxEntrySize:       1024 * 1024, // 1MB per serialized response
		HardMaxCacheSize:   cfg.ResponseSizeMB,
		Verbose:            false,
	}

	responses, err := bigcache.New(context.Background(), responseConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create response cache: %w", err)
	}

	snapshots, err := lru.New[string, *mcds.Snapshot](cfg.SnapshotCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot cache: %w", err)
	}

	return &Manager{
		responses: responses,
		snapshots: snapshots,
	}, nil
}

// GetResponse retrieves a serialized response from cache.
func (m *Manager) GetResponse(key string) ([]byte, bool) {
	data, err := m.responses.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetResponse stores a serialized response in cache.
func (m *Manager) SetResponse(key string, data []byte) error {
	return m.responses.Set(key, data)
}

// GetSnapshot retrieves a decoded snapshot from cache.
func (m *Manager) GetSnapshot(key string) (*mcds.Snapshot, bool) {
	return m.snapshots.Get(key)
}

// SetSnapshot stores a decoded snapshot in cache.
func (m *Manager) SetSnapshot(key string, s *mcds.Snapshot) {
	m.snapshots.Add(key, s)
}

// SnapshotKey generates a cache key for a decoded snapshot.
func SnapshotKey(dataset, step string) string {
	return fmt.Sprintf("snap:%s/%s", dataset, step)
}

// ResponseKey generates a cache key for a query response.
func ResponseKey(dataset, step, query string, params map[string]string) string {
	base := fmt.Sprintf("resp:%s/%s:%s", dataset, step, query)
	if len(params) == 0 {
		return base
	}

	// Hash parameters in sorted order so the key is stable
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	h.Write([]byte(base))
	for _, k := range keys {
		h.Write([]byte(fmt.Sprintf("%s=%s", k, params[k])))
	}
	return base + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"response_cache_len": m.responses.Len(),
		"response_cache_cap": m.responses.Capacity(),
		"snapshot_cache_len": m.snapshots.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.responses.Close()
}
