// Package datasetcache is the dataset-level layer of the two-layer
// cache: a small LRU of per-simulation resources (catalog scans, open
// dataset handles) that are expensive to rebuild but cheap to hold.
package datasetcache

import (
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ckhsu/vvmviz/internal/observability"
)

type Cache[V any] struct {
	lru    *lru.Cache[string, V]
	logger *slog.Logger
}

// New builds a cache holding at most size values. Evicted values that
// implement Close are closed.
func New[V any](size int, logger *slog.Logger) (*Cache[V], error) {
	if logger == nil {
		logger = slog.Default()
	}
	inner, err := lru.NewWithEvict[string, V](size, func(key string, v V) {
		if closer, ok := any(v).(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				logger.Warn("closing evicted dataset handle", "key", key, "err", err)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return &Cache[V]{lru: inner, logger: logger}, nil
}

// GetOrOpen returns the cached value for key, opening and inserting it
// on a miss. Two concurrent misses for the same key may both run open;
// the later insert wins. That duplicates a cheap scan, never corrupts
// state, and keeps this layer lock-free above the LRU's own mutex.
func (c *Cache[V]) GetOrOpen(key string, open func() (V, error)) (V, error) {
	if v, ok := c.lru.Get(key); ok {
		observability.IncDatasetHit()
		return v, nil
	}
	observability.IncDatasetMiss()
	v, err := open()
	if err != nil {
		var zero V
		return zero, err
	}
	c.lru.Add(key, v)
	return v, nil
}

func (c *Cache[V]) Len() int { return c.lru.Len() }

// Purge drops everything, closing values that implement Close. Called
// when the active dataset changes.
func (c *Cache[V]) Purge() { c.lru.Purge() }
