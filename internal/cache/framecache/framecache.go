// Package framecache is the bounded in-memory store for processed
// frames: strict least-recently-used eviction ordered by a global
// access sequence, with pinned entries exempt while a reader holds
// them.
package framecache

import (
	"container/list"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ckhsu/vvmviz/internal/frame"
	"github.com/ckhsu/vvmviz/internal/observability"
)

// Entry owns one processed slice plus the bookkeeping the cache needs:
// the last-access sequence number and a size estimate. Entries are
// returned pinned from Get/Put lookups; callers must Release them.
type Entry struct {
	c     *Cache
	key   frame.SliceKey
	slice *frame.Slice
	seq   uint64
	size  int64
	pins  int
	elem  *list.Element
}

func (e *Entry) Key() frame.SliceKey { return e.key }
func (e *Entry) Slice() *frame.Slice { return e.slice }
func (e *Entry) Seq() uint64         { return e.seq }
func (e *Entry) SizeEstimate() int64 { return e.size }

// Release drops the caller's pin. Once an entry is unpinned the cache
// retries any eviction it had to defer while the entry was in use.
func (e *Entry) Release() {
	c := e.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.pins > 0 {
		e.pins--
	}
	if e.pins == 0 && len(c.entries) > c.maxEntries {
		c.evictLocked()
	}
}

// Cache is the frame-level layer of the two-layer cache. All
// structural mutation happens under one mutex; slice payloads are
// immutable after insertion and are read without the lock.
type Cache struct {
	mu         sync.Mutex
	maxEntries int
	logger     *slog.Logger

	entries map[frame.SliceKey]*Entry
	order   *list.List // front = eviction candidate, back = most recent
	seq     uint64
	bytes   int64
}

func New(maxEntries int, logger *slog.Logger) (*Cache, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("framecache: max entries must be positive, got %d", maxEntries)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		maxEntries: maxEntries,
		logger:     logger,
		entries:    make(map[frame.SliceKey]*Entry),
		order:      list.New(),
	}, nil
}

// Get returns the pinned entry for key, bumping its access sequence.
// The caller must Release the entry when done with the slice.
func (c *Cache) Get(key frame.SliceKey) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.seq++
	e.seq = c.seq
	c.order.MoveToBack(e.elem)
	e.pins++
	return e, true
}

// Contains reports presence without touching recency. Used by the
// prefetch scheduler so probing candidates does not distort the LRU
// order.
func (c *Cache) Contains(key frame.SliceKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Put inserts or replaces the entry for key and evicts until the cache
// is back under budget. An entry larger than the whole budget is still
// inserted; it just becomes the first candidate under the next
// pressure.
func (c *Cache) Put(key frame.SliceKey, s *frame.Slice, sizeEstimate int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	if old, ok := c.entries[key]; ok {
		// Replace by removal: the old entry keeps its payload for any
		// pinned readers, the fresh entry takes over the key. Mutating
		// the shared entry would race with unlocked Slice() reads.
		c.removeLocked(old)
	}
	e := &Entry{c: c, key: key, slice: s, seq: c.seq, size: sizeEstimate}
	e.elem = c.order.PushBack(e)
	c.entries[key] = e
	c.bytes += sizeEstimate

	c.evictLocked()
	observability.SetFrameCacheSize(len(c.entries), c.bytes)
}

// evictLocked removes least-recently-used unpinned entries until the
// entry budget holds. If only pinned entries remain above budget the
// overshoot is recorded and retried on the next Release.
func (c *Cache) evictLocked() {
	evicted := 0
	el := c.order.Front()
	for len(c.entries) > c.maxEntries && el != nil {
		next := el.Next()
		e := el.Value.(*Entry)
		if e.pins == 0 {
			c.removeLocked(e)
			evicted++
		}
		el = next
	}
	if evicted > 0 {
		observability.AddEvictions(evicted)
	}
	if len(c.entries) > c.maxEntries {
		observability.IncCapacityViolation()
		c.logger.Warn("frame cache over budget, all excess entries pinned",
			"entries", len(c.entries), "budget", c.maxEntries)
	}
}

func (c *Cache) removeLocked(e *Entry) {
	c.order.Remove(e.elem)
	e.elem = nil
	delete(c.entries, e.key)
	c.bytes -= e.size
}

// InvalidateAll drops every entry. Readers holding pinned entries keep
// their slice references; the memory is reclaimed once they release.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[frame.SliceKey]*Entry)
	c.order.Init()
	c.bytes = 0
	observability.SetFrameCacheSize(0, 0)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// Audit verifies the cache invariants. A non-nil result means a bug:
// production callers log and carry on, tests fail hard.
func (c *Cache) Audit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.order.Len() != len(c.entries) {
		return fmt.Errorf("%w: order list has %d elements, map has %d",
			frame.ErrCapacityViolation, c.order.Len(), len(c.entries))
	}
	var sum int64
	unpinned := 0
	var prevSeq uint64
	first := true
	for el := c.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*Entry)
		sum += e.size
		if e.pins == 0 {
			unpinned++
		}
		// Recency must be non-decreasing from front to back.
		if !first && e.seq < prevSeq {
			return errors.New("framecache: LRU order out of sync with sequence numbers")
		}
		prevSeq = e.seq
		first = false
	}
	if sum != c.bytes {
		return fmt.Errorf("framecache: byte accounting drifted: tracked %d, actual %d", c.bytes, sum)
	}
	if len(c.entries) > c.maxEntries && unpinned > 0 {
		return fmt.Errorf("%w: %d entries with budget %d and %d evictable",
			frame.ErrCapacityViolation, len(c.entries), c.maxEntries, unpinned)
	}
	return nil
}
