package cache

import (
	"container/list"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/objectfs/tiercache/pkg/errors"
	"github.com/objectfs/tiercache/pkg/types"
)

// Eviction reasons reported to the eviction hook.
const (
	EvictCapacity = "capacity"
	EvictExpired  = "expired"
)

// LRUCache implements a thread-safe, bounded LRU cache whose entries
// expire after the preset's MaxAge.
type LRUCache[T any] struct {
	mu        sync.Mutex
	preset    Preset
	items     map[string]*list.Element
	evictList *list.List

	now     func() time.Time
	logger  *slog.Logger
	onEvict func(reason string, n int)

	// Statistics
	stats types.CacheStats
}

// lruItem is the value stored in each list element
type lruItem[T any] struct {
	key   string
	entry Entry[T]
}

// LRUOption customises an LRUCache.
type LRUOption func(*lruOptions)

type lruOptions struct {
	now     func() time.Time
	logger  *slog.Logger
	onEvict func(reason string, n int)
}

// WithClock replaces time.Now as the cache's time source.
func WithClock(now func() time.Time) LRUOption {
	return func(o *lruOptions) { o.now = now }
}

// WithLogger sets the logger used for invariant reports.
func WithLogger(logger *slog.Logger) LRUOption {
	return func(o *lruOptions) { o.logger = logger }
}

// WithEvictionHook registers a callback invoked, under the cache lock,
// whenever entries are removed by capacity pressure or expiry.
func WithEvictionHook(fn func(reason string, n int)) LRUOption {
	return func(o *lruOptions) { o.onEvict = fn }
}

// NewLRUCache creates a new LRU cache bounded by preset.MaxEntries.
func NewLRUCache[T any](preset Preset, opts ...LRUOption) *LRUCache[T] {
	o := lruOptions{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if preset.MaxEntries <= 0 {
		preset.MaxEntries = 1
	}

	return &LRUCache[T]{
		preset:    preset,
		items:     make(map[string]*list.Element, preset.MaxEntries),
		evictList: list.New(),
		now:       o.now,
		logger:    o.logger,
		onEvict:   o.onEvict,
		stats: types.CacheStats{
			Capacity: int64(preset.MaxEntries),
		},
	}
}

// Get returns the value for key and whether it is stale. Expired entries
// are removed and reported as absent. A hit marks the key most recently used.
func (c *LRUCache[T]) Get(key string) (value T, stale bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.items[key]
	if !exists {
		c.stats.Misses++
		c.updateHitRate()
		return value, false, false
	}

	now := c.now()
	item := elem.Value.(*lruItem[T])
	if item.entry.Expired(now) {
		c.removeElement(elem)
		c.stats.Expirations++
		c.stats.Misses++
		c.updateHitRate()
		c.evicted(EvictExpired, 1)
		return value, false, false
	}

	c.evictList.MoveToFront(elem)
	c.stats.Hits++
	c.updateHitRate()
	return item.entry.Value, item.entry.Stale(now), true
}

// Peek returns the live entry for key without touching recency or stats.
func (c *LRUCache[T]) Peek(key string) (Entry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.items[key]
	if !exists {
		return Entry[T]{}, false
	}
	entry := elem.Value.(*lruItem[T]).entry
	if entry.Expired(c.now()) {
		return Entry[T]{}, false
	}
	return entry, true
}

// Set stores value under key with a fresh entry built from the preset.
func (c *LRUCache[T]) Set(key string, value T) {
	c.SetEntry(key, NewEntry(value, c.now(), c.preset))
}

// SetEntry stores a prebuilt entry, keeping its timestamps. When the cache
// is full the least recently used key is evicted first, even if key itself
// is already present.
func (c *LRUCache[T]) SetEntry(key string, entry Entry[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.evictList.Len() >= c.preset.MaxEntries {
		c.evictOldest()
	}

	if elem, exists := c.items[key]; exists {
		elem.Value = &lruItem[T]{key: key, entry: entry}
		c.evictList.MoveToFront(elem)
	} else {
		c.items[key] = c.evictList.PushFront(&lruItem[T]{key: key, entry: entry})
	}

	c.checkCapacity()
}

// Delete removes key, reporting whether it was present.
func (c *LRUCache[T]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.items[key]
	if !exists {
		return false
	}
	c.removeElement(elem)
	return true
}

// Has reports whether a live entry exists. Like Get it refreshes recency
// and drops an expired entry.
func (c *LRUCache[T]) Has(key string) bool {
	_, _, ok := c.Get(key)
	return ok
}

// Len returns the number of stored entries, including expired ones not
// yet swept.
func (c *LRUCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Keys returns all keys from most to least recently used.
func (c *LRUCache[T]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.evictList.Len())
	for elem := c.evictList.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*lruItem[T]).key)
	}
	return keys
}

// Clear removes every entry and returns how many were dropped.
func (c *LRUCache[T]) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.evictList.Len()
	c.items = make(map[string]*list.Element, c.preset.MaxEntries)
	c.evictList.Init()
	c.stats.Size = 0
	return n
}

// Cleanup removes every expired entry and returns the count.
func (c *LRUCache[T]) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for elem := c.evictList.Back(); elem != nil; {
		prev := elem.Prev()
		if elem.Value.(*lruItem[T]).entry.Expired(now) {
			c.removeElement(elem)
			removed++
		}
		elem = prev
	}
	c.stats.Expirations += uint64(removed)
	c.evicted(EvictExpired, removed)
	return removed
}

// Preset returns the policy the cache was built with.
func (c *LRUCache[T]) Preset() Preset {
	return c.preset
}

// Stats returns cache statistics
func (c *LRUCache[T]) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = int64(c.evictList.Len())
	stats.Utilization = float64(stats.Size) / float64(stats.Capacity)
	return stats
}

func (c *LRUCache[T]) removeElement(elem *list.Element) {
	item := elem.Value.(*lruItem[T])
	c.evictList.Remove(elem)
	delete(c.items, item.key)
}

func (c *LRUCache[T]) evictOldest() {
	elem := c.evictList.Back()
	if elem == nil {
		return
	}
	c.removeElement(elem)
	c.stats.Evictions++
	c.evicted(EvictCapacity, 1)
}

func (c *LRUCache[T]) evicted(reason string, n int) {
	if c.onEvict != nil && n > 0 {
		c.onEvict(reason, n)
	}
}

func (c *LRUCache[T]) updateHitRate() {
	total := c.stats.Hits + c.stats.Misses
	if total > 0 {
		c.stats.HitRate = float64(c.stats.Hits) / float64(total)
	}
}

// checkCapacity verifies that the map and list agree and the bound holds.
func (c *LRUCache[T]) checkCapacity() {
	size := c.evictList.Len()
	if size <= c.preset.MaxEntries && size == len(c.items) {
		return
	}
	err := errors.NewError(errors.ErrCodeCapacityViolation,
		fmt.Sprintf("lru holds %d entries (%d indexed), capacity %d", size, len(c.items), c.preset.MaxEntries)).
		WithComponent("lru")
	capacityViolation(c.logger, err)
}
