package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/objectfs/tiercache/internal/metrics"
	"github.com/objectfs/tiercache/pkg/errors"
	"github.com/objectfs/tiercache/pkg/retry"
	"github.com/objectfs/tiercache/pkg/types"
)

// DefaultKeyPrefix namespaces persistent records on a shared medium.
const DefaultKeyPrefix = "tiercache"

// PersistentCache stores JSON encoded entries on a durable medium. It
// never returns medium failures to callers: reads degrade to misses and
// writes are dropped after one cleanup-and-retry.
type PersistentCache[T any] struct {
	medium     types.Medium
	namespace  string
	prefix     string
	preset     Preset
	maxEntries int

	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Collector

	mu    sync.Mutex
	stats types.CacheStats
}

// PersistentConfig holds the optional settings of a PersistentCache.
type PersistentConfig struct {
	// KeyPrefix precedes the namespace in every record key
	KeyPrefix string `yaml:"key_prefix"`
	// MaxEntries bounds the records kept for the namespace (0 = unbounded).
	// The bound is enforced by Cleanup, oldest records first.
	MaxEntries int `yaml:"max_entries"`

	Logger  *slog.Logger       `yaml:"-"`
	Metrics *metrics.Collector `yaml:"-"`
	Now     func() time.Time   `yaml:"-"`
}

// NewPersistentCache creates a persistent tier for one namespace.
func NewPersistentCache[T any](medium types.Medium, namespace string, preset Preset, config PersistentConfig) *PersistentCache[T] {
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultKeyPrefix
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &PersistentCache[T]{
		medium:     medium,
		namespace:  namespace,
		prefix:     config.KeyPrefix + ":" + namespace + ":",
		preset:     preset,
		maxEntries: config.MaxEntries,
		now:        config.Now,
		logger:     config.Logger.With("tier", "persistent", "namespace", namespace),
		metrics:    config.Metrics,
		stats: types.CacheStats{
			Capacity: int64(config.MaxEntries),
		},
	}
}

// Get returns the value for key and whether it is stale.
func (c *PersistentCache[T]) Get(ctx context.Context, key string) (value T, stale bool, ok bool) {
	entry, ok := c.GetEntry(ctx, key)
	if !ok {
		return value, false, false
	}
	return entry.Value, entry.Stale(c.now()), true
}

// GetEntry returns the live entry stored for key. Corrupt and expired
// records are deleted and reported as absent.
func (c *PersistentCache[T]) GetEntry(ctx context.Context, key string) (Entry[T], bool) {
	entry, err := c.load(ctx, c.recordKey(key))
	if err != nil {
		if !errors.IsCode(err, errors.ErrCodeRecordNotFound) {
			c.logger.Warn("persistent read failed", "key", key, "error", err)
			c.metrics.RecordPersistFailure(c.namespace, "get")
		}
		if purgeable(err) {
			c.remove(ctx, key)
		}
		c.miss()
		return Entry[T]{}, false
	}

	if entry.Expired(c.now()) {
		c.remove(ctx, key)
		c.mu.Lock()
		c.stats.Expirations++
		c.mu.Unlock()
		c.miss()
		return Entry[T]{}, false
	}

	c.mu.Lock()
	c.stats.Hits++
	c.updateHitRate()
	c.mu.Unlock()
	return entry, true
}

// Set writes value under key with a fresh entry built from the preset.
func (c *PersistentCache[T]) Set(ctx context.Context, key string, value T) {
	c.SetEntry(ctx, key, NewEntry(value, c.now(), c.preset))
}

// SetEntry writes a prebuilt entry. A failed write triggers one cleanup
// pass and one retry; if that fails too the write is dropped.
func (c *PersistentCache[T]) SetEntry(ctx context.Context, key string, entry Entry[T]) {
	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("persistent write skipped", "key", key,
			"error", errors.NewError(errors.ErrCodeSerialization, "encode entry").
				WithComponent("persistent").WithKey(c.namespace, key).WithCause(err))
		c.metrics.RecordPersistFailure(c.namespace, "encode")
		return
	}

	recordKey := c.recordKey(key)
	retryer := retry.New(retry.PersistWriteConfig(func(ctx context.Context, attempt int, err error) error {
		if errors.IsCode(err, errors.ErrCodeMediumUnavailable) {
			return err
		}
		freed := c.Cleanup(ctx)
		c.logger.Debug("persistent write failed, retrying after cleanup",
			"key", key, "freed", freed, "error", err)
		return nil
	}))

	err = retryer.Do(ctx, func(ctx context.Context) error {
		if err := c.medium.Put(ctx, recordKey, data); err != nil {
			if errors.IsCode(err, errors.ErrCodeQuotaExceeded) || errors.IsCode(err, errors.ErrCodeMediumUnavailable) {
				return err
			}
			return errors.NewError(errors.ErrCodePersistenceWrite, "write record").
				WithComponent("persistent").
				WithOperation("set").
				WithKey(c.namespace, key).
				WithCause(err)
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("persistent write dropped", "key", key, "error", err)
		c.metrics.RecordPersistFailure(c.namespace, "set")
	}
}

// Delete removes the record for key.
func (c *PersistentCache[T]) Delete(ctx context.Context, key string) {
	c.remove(ctx, key)
}

// Keys lists the keys stored for this namespace.
func (c *PersistentCache[T]) Keys(ctx context.Context) ([]string, error) {
	recordKeys, err := c.medium.List(ctx, c.prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(recordKeys))
	for _, recordKey := range recordKeys {
		keys = append(keys, strings.TrimPrefix(recordKey, c.prefix))
	}
	return keys, nil
}

// Clear removes every record of the namespace and returns how many were
// deleted. Listing failures are logged and reported as zero.
func (c *PersistentCache[T]) Clear(ctx context.Context) int {
	keys, err := c.Keys(ctx)
	if err != nil {
		c.logger.Warn("persistent clear failed", "error", err)
		c.metrics.RecordPersistFailure(c.namespace, "clear")
		return 0
	}

	removed := 0
	for _, key := range keys {
		if c.remove(ctx, key) {
			removed++
		}
	}
	return removed
}

// Cleanup deletes expired and corrupt records, then trims the namespace
// to MaxEntries by dropping the oldest records. Mediums that buffer their
// metadata are flushed afterwards. It returns the number of records removed.
func (c *PersistentCache[T]) Cleanup(ctx context.Context) int {
	keys, err := c.Keys(ctx)
	if err != nil {
		c.logger.Warn("persistent cleanup failed", "error", err)
		c.metrics.RecordPersistFailure(c.namespace, "cleanup")
		return 0
	}

	type survivor struct {
		key     string
		created time.Time
	}

	now := c.now()
	expired := 0
	removed := 0
	survivors := make([]survivor, 0, len(keys))
	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		entry, err := c.load(ctx, c.recordKey(key))
		switch {
		case err == nil && entry.Expired(now):
			if c.remove(ctx, key) {
				expired++
				removed++
			}
		case err == nil:
			survivors = append(survivors, survivor{key: key, created: entry.CreatedAt})
		case purgeable(err):
			if c.remove(ctx, key) {
				removed++
			}
		}
	}

	trimmed := 0
	if c.maxEntries > 0 && len(survivors) > c.maxEntries {
		sort.Slice(survivors, func(i, j int) bool {
			return survivors[i].created.Before(survivors[j].created)
		})
		for _, s := range survivors[:len(survivors)-c.maxEntries] {
			if c.remove(ctx, s.key) {
				trimmed++
				removed++
			}
		}
	}

	c.mu.Lock()
	c.stats.Expirations += uint64(expired)
	c.stats.Evictions += uint64(trimmed)
	c.stats.Size = int64(len(survivors) - trimmed)
	c.mu.Unlock()

	c.metrics.RecordEviction(c.namespace, "persistent", EvictExpired, expired)
	c.metrics.RecordEviction(c.namespace, "persistent", EvictCapacity, trimmed)

	if f, ok := c.medium.(types.Flusher); ok {
		if err := f.Flush(ctx); err != nil {
			c.logger.Warn("persistent flush failed", "error", err)
			c.metrics.RecordPersistFailure(c.namespace, "flush")
		}
	}
	return removed
}

// Stats returns persistent tier statistics. Size reflects the last Cleanup.
func (c *PersistentCache[T]) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	if stats.Capacity > 0 {
		stats.Utilization = float64(stats.Size) / float64(stats.Capacity)
	}
	return stats
}

func (c *PersistentCache[T]) recordKey(key string) string {
	return c.prefix + key
}

// load reads and decodes one record.
func (c *PersistentCache[T]) load(ctx context.Context, recordKey string) (Entry[T], error) {
	var entry Entry[T]

	data, err := c.medium.Get(ctx, recordKey)
	if err != nil {
		return entry, err
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return entry, errors.NewError(errors.ErrCodeSerialization, "decode record").
			WithComponent("persistent").
			WithContext("record", recordKey).
			WithCause(err)
	}
	if !entry.consistent() {
		return entry, errors.NewError(errors.ErrCodeSerialization,
			fmt.Sprintf("record timestamps out of order (created %s, stale %s, expires %s)",
				entry.CreatedAt.Format(time.RFC3339Nano),
				entry.StaleAt.Format(time.RFC3339Nano),
				entry.ExpiresAt.Format(time.RFC3339Nano))).
			WithComponent("persistent").
			WithContext("record", recordKey)
	}
	return entry, nil
}

// remove deletes a record, reporting whether the medium accepted it.
func (c *PersistentCache[T]) remove(ctx context.Context, key string) bool {
	if err := c.medium.Delete(ctx, c.recordKey(key)); err != nil {
		c.logger.Warn("persistent delete failed", "key", key, "error", err)
		c.metrics.RecordPersistFailure(c.namespace, "delete")
		return false
	}
	return true
}

func (c *PersistentCache[T]) miss() {
	c.mu.Lock()
	c.stats.Misses++
	c.updateHitRate()
	c.mu.Unlock()
}

func (c *PersistentCache[T]) updateHitRate() {
	total := c.stats.Hits + c.stats.Misses
	if total > 0 {
		c.stats.HitRate = float64(c.stats.Hits) / float64(total)
	}
}

// purgeable reports whether a read error means the record itself is bad.
func purgeable(err error) bool {
	return errors.IsCode(err, errors.ErrCodeSerialization) ||
		errors.IsCode(err, errors.ErrCodeChecksumMismatch)
}
