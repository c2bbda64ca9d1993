package cache

import (
	"context"
	stderr "errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"
	"golang.org/x/sync/errgroup"

	"github.com/objectfs/tiercache/internal/metrics"
	"github.com/objectfs/tiercache/pkg/errors"
	"github.com/objectfs/tiercache/pkg/types"
)

// DefaultSweepInterval is how often expired entries are swept from both tiers.
const DefaultSweepInterval = 60 * time.Second

// Tier labels used in metrics and logs.
const (
	tierVolatile   = "volatile"
	tierPersistent = "persistent"
)

// Options configures a Manager.
type Options struct {
	Namespace string
	Preset    Preset

	// Medium backs the persistent tier. It is only used when Preset.Persist
	// is set; nil means volatile-only.
	Medium types.Medium
	// KeyPrefix and PersistentMaxEntries are passed to the persistent tier.
	KeyPrefix            string
	PersistentMaxEntries int

	// SweepInterval defaults to DefaultSweepInterval. A negative value
	// disables the background sweep.
	SweepInterval time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Collector
	Now     func() time.Time
}

// Manager is the stale-while-revalidate cache of one namespace. It reads
// through a volatile LRU tier and an optional persistent tier, and
// coalesces concurrent fetches of the same key.
type Manager[T any] struct {
	namespace  string
	preset     Preset
	volatile   *LRUCache[T]
	persistent *PersistentCache[T]
	coalescer  *Coalescer[T]

	logger  *slog.Logger
	metrics *metrics.Collector
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	closed       bool
	revalidating map[string]struct{}

	// writeMu orders tier writes. Set, Invalidate, InvalidatePattern and
	// Clear invalidate the fetches in inflight that they overtake, and
	// bump generation so that a concurrent promotion is dropped.
	writeMu    sync.Mutex
	inflight   map[*fetchToken]struct{}
	generation uint64

	fetches       atomic.Uint64
	revalidations atomic.Uint64
}

// NewManager validates the preset and starts the background sweep.
func NewManager[T any](opts Options) (*Manager[T], error) {
	if err := opts.Preset.Validate(); err != nil {
		return nil, fmt.Errorf("namespace %q: %w", opts.Namespace, err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = DefaultSweepInterval
	}

	logger := opts.Logger.With("component", "cache-manager", "namespace", opts.Namespace)
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager[T]{
		namespace:    opts.Namespace,
		preset:       opts.Preset,
		coalescer:    NewCoalescer[T](),
		logger:       logger,
		metrics:      opts.Metrics,
		now:          opts.Now,
		ctx:          ctx,
		cancel:       cancel,
		revalidating: make(map[string]struct{}),
		inflight:     make(map[*fetchToken]struct{}),
	}

	m.volatile = NewLRUCache[T](opts.Preset,
		WithClock(opts.Now),
		WithLogger(logger),
		WithEvictionHook(func(reason string, n int) {
			m.metrics.RecordEviction(m.namespace, tierVolatile, reason, n)
		}))

	if opts.Preset.Persist && opts.Medium != nil {
		m.persistent = NewPersistentCache[T](opts.Medium, opts.Namespace, opts.Preset, PersistentConfig{
			KeyPrefix:  opts.KeyPrefix,
			MaxEntries: opts.PersistentMaxEntries,
			Logger:     opts.Logger,
			Metrics:    opts.Metrics,
			Now:        opts.Now,
		})
	}

	if opts.SweepInterval > 0 {
		m.wg.Add(1)
		go m.sweep(opts.SweepInterval)
	}

	logger.Debug("cache manager started",
		"max_age", opts.Preset.MaxAge,
		"max_entries", opts.Preset.MaxEntries,
		"stale_window", opts.Preset.StaleWindow,
		"persistent", m.persistent != nil)

	return m, nil
}

// GetOption modifies a single Get call.
type GetOption func(*getOptions)

type getOptions struct {
	forceRefresh bool
}

// WithForceRefresh bypasses both tiers and fetches unconditionally. The
// fetch is still coalesced with any fetch already in flight.
func WithForceRefresh() GetOption {
	return func(o *getOptions) { o.forceRefresh = true }
}

// Get returns the cached value for key, calling fetch on a miss. A stale
// hit is returned immediately and refreshed in the background. Fetch
// errors on the synchronous path are returned wrapped in a FETCH_FAILED
// CacheError; nothing is cached for them.
func (m *Manager[T]) Get(ctx context.Context, key string, fetch Fetcher[T], opts ...GetOption) (T, error) {
	var zero T
	if m.isClosed() {
		return zero, errors.ErrComponentStopped
	}

	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.forceRefresh {
		return m.fetchAndStore(ctx, key, fetch, "forced")
	}

	if value, stale, ok := m.volatile.Get(key); ok {
		m.metrics.RecordRequest(m.namespace, tierVolatile, result(stale))
		if stale {
			m.revalidate(key, fetch)
		}
		return value, nil
	}
	m.metrics.RecordRequest(m.namespace, tierVolatile, "miss")

	if m.persistent != nil {
		gen := m.currentGeneration()
		if entry, ok := m.persistent.GetEntry(ctx, key); ok {
			stale := entry.Stale(m.now())
			m.metrics.RecordRequest(m.namespace, tierPersistent, result(stale))
			m.promote(key, entry, gen)
			if stale {
				m.revalidate(key, fetch)
			}
			return entry.Value, nil
		}
		m.metrics.RecordRequest(m.namespace, tierPersistent, "miss")
	}

	return m.fetchAndStore(ctx, key, fetch, "sync")
}

// Set writes value to both tiers. A fetch of key already in flight will
// not overwrite it.
func (m *Manager[T]) Set(ctx context.Context, key string, value T) error {
	if m.isClosed() {
		return errors.ErrComponentStopped
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.supersede(func(k string) bool { return k == key })
	m.store(ctx, key, value)
	return nil
}

// Invalidate removes key from both tiers. A fetch of key already in flight
// still answers its callers but is not cached.
func (m *Manager[T]) Invalidate(ctx context.Context, key string) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.supersede(func(k string) bool { return k == key })

	m.volatile.Delete(key)
	if m.persistent != nil {
		m.persistent.Delete(ctx, key)
	}
	m.metrics.SetEntries(m.namespace, tierVolatile, m.volatile.Len())
}

// InvalidatePattern removes every key matching a glob pattern and returns
// how many keys were removed. An empty pattern or "*" clears the namespace.
// When the persistent tier cannot list its keys, it is cleared entirely.
func (m *Manager[T]) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	if pattern == "" || pattern == "*" {
		return m.Clear(ctx)
	}

	g, err := glob.Compile(pattern)
	if err != nil {
		return 0, errors.NewError(errors.ErrCodeInvalidPattern, fmt.Sprintf("invalid pattern %q", pattern)).
			WithComponent("cache-manager").
			WithOperation("invalidate_pattern").
			WithCause(err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.supersede(g.Match)

	removed := 0
	for _, key := range m.volatile.Keys() {
		if g.Match(key) && m.volatile.Delete(key) {
			removed++
		}
	}

	if m.persistent != nil {
		keys, err := m.persistent.Keys(ctx)
		if err != nil {
			m.logger.Warn("persistent keys unavailable, clearing tier", "pattern", pattern, "error", err)
			removed += m.persistent.Clear(ctx)
		} else {
			for _, key := range keys {
				if g.Match(key) && m.persistent.remove(ctx, key) {
					removed++
				}
			}
		}
	}

	m.metrics.SetEntries(m.namespace, tierVolatile, m.volatile.Len())
	return removed, nil
}

// Clear empties both tiers concurrently and returns how many entries were dropped.
func (m *Manager[T]) Clear(ctx context.Context) (int, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.supersede(func(string) bool { return true })

	var volatileRemoved, persistentRemoved int

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		volatileRemoved = m.volatile.Clear()
		return nil
	})
	if m.persistent != nil {
		g.Go(func() error {
			persistentRemoved = m.persistent.Clear(ctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	m.metrics.SetEntries(m.namespace, tierVolatile, 0)
	return volatileRemoved + persistentRemoved, nil
}

// Cleanup sweeps expired entries from both tiers concurrently.
func (m *Manager[T]) Cleanup(ctx context.Context) int {
	var volatileRemoved, persistentRemoved int

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		volatileRemoved = m.volatile.Cleanup()
		return nil
	})
	if m.persistent != nil {
		g.Go(func() error {
			persistentRemoved = m.persistent.Cleanup(ctx)
			return nil
		})
	}
	_ = g.Wait()

	m.metrics.SetEntries(m.namespace, tierVolatile, m.volatile.Len())
	if m.persistent != nil {
		m.metrics.SetEntries(m.namespace, tierPersistent, int(m.persistent.Stats().Size))
	}
	return volatileRemoved + persistentRemoved
}

// IsPending reports whether a fetch for key is in flight.
func (m *Manager[T]) IsPending(key string) bool {
	return m.coalescer.IsPending(key)
}

// Namespace returns the namespace the manager serves.
func (m *Manager[T]) Namespace() string {
	return m.namespace
}

// Preset returns the manager's freshness policy.
func (m *Manager[T]) Preset() Preset {
	return m.preset
}

// Stats reports both tiers plus fetch counters.
func (m *Manager[T]) Stats() types.TierStats {
	stats := types.TierStats{
		Namespace:     m.namespace,
		Volatile:      m.volatile.Stats(),
		Pending:       m.coalescer.Pending(),
		Fetches:       m.fetches.Load(),
		Revalidations: m.revalidations.Load(),
	}
	if m.persistent != nil {
		persistent := m.persistent.Stats()
		stats.Persistent = &persistent
	}
	return stats
}

// Close stops the sweep and waits for background revalidations. Calls
// after the first are no-ops.
func (m *Manager[T]) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.logger.Debug("cache manager stopped")
	return nil
}

// Prefetch warms key in m. Errors are logged at debug level and dropped.
func Prefetch[T any](ctx context.Context, m *Manager[T], key string, fetch Fetcher[T]) {
	if _, err := m.Get(ctx, key, fetch); err != nil {
		m.logger.Debug("prefetch failed", "key", key, "error", err)
	}
}

func (m *Manager[T]) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// fetchAndStore runs a coalesced fetch. The winning caller writes the
// result to both tiers before any waiter is released, unless a write to
// key happened while the fetch was running.
func (m *Manager[T]) fetchAndStore(ctx context.Context, key string, fetch Fetcher[T], mode string) (T, error) {
	value, _, err := m.coalescer.Do(ctx, key, func(ctx context.Context) (T, error) {
		token := m.beginFetch(key)
		defer m.endFetch(token)

		m.fetches.Add(1)
		start := time.Now()
		value, err := fetch(ctx)
		m.metrics.RecordFetch(m.namespace, mode, time.Since(start), err)
		if err != nil {
			return value, err
		}
		m.commitFetch(context.WithoutCancel(ctx), token, value)
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, m.fetchError(key, err)
	}
	return value, nil
}

func (m *Manager[T]) fetchError(key string, err error) error {
	code := errors.ErrCodeFetchFailed
	if stderr.Is(err, context.Canceled) || stderr.Is(err, context.DeadlineExceeded) {
		code = errors.ErrCodeFetchCanceled
	}
	return errors.NewError(code, "fetch failed").
		WithComponent("cache-manager").
		WithOperation("get").
		WithKey(m.namespace, key).
		WithCause(err)
}

// fetchToken tracks one running fetch so writes can overtake it.
type fetchToken struct {
	key        string
	superseded bool
}

func (m *Manager[T]) beginFetch(key string) *fetchToken {
	token := &fetchToken{key: key}
	m.writeMu.Lock()
	m.inflight[token] = struct{}{}
	m.writeMu.Unlock()
	return token
}

func (m *Manager[T]) endFetch(token *fetchToken) {
	m.writeMu.Lock()
	delete(m.inflight, token)
	m.writeMu.Unlock()
}

// commitFetch stores a fetched value unless a write superseded the fetch.
func (m *Manager[T]) commitFetch(ctx context.Context, token *fetchToken, value T) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if token.superseded {
		m.logger.Debug("fetch result discarded, key was written meanwhile", "key", token.key)
		return
	}
	m.store(ctx, token.key, value)
	m.generation++
}

// supersede marks every running fetch whose key matches. Callers hold
// writeMu and are about to write the tiers.
func (m *Manager[T]) supersede(match func(key string) bool) {
	for token := range m.inflight {
		if match(token.key) {
			token.superseded = true
		}
	}
	m.generation++
}

func (m *Manager[T]) currentGeneration() uint64 {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.generation
}

// promote copies a persistent hit into the volatile tier if no write has
// happened since gen was read.
func (m *Manager[T]) promote(key string, entry Entry[T], gen uint64) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if m.generation == gen {
		m.volatile.SetEntry(key, entry)
	}
}

// store writes both tiers. Callers hold writeMu.
func (m *Manager[T]) store(ctx context.Context, key string, value T) {
	entry := NewEntry(value, m.now(), m.preset)
	m.volatile.SetEntry(key, entry)
	if m.persistent != nil {
		m.persistent.SetEntry(ctx, key, entry)
	}
	m.metrics.SetEntries(m.namespace, tierVolatile, m.volatile.Len())
}

// revalidate schedules one background refresh of key. Further calls for
// the same key are ignored until that refresh settles.
func (m *Manager[T]) revalidate(key string, fetch Fetcher[T]) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if _, ok := m.revalidating[key]; ok {
		m.mu.Unlock()
		return
	}
	m.revalidating[key] = struct{}{}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.revalidating, key)
			m.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("revalidation panicked", "key", key, "panic", r, "stack", string(debug.Stack()))
				m.metrics.RecordRevalidation(m.namespace, "panicked")
			}
		}()

		m.revalidations.Add(1)
		if _, err := m.fetchAndStore(m.ctx, key, fetch, "background"); err != nil {
			m.logger.Warn("background revalidation failed, keeping stale entry", "key", key, "error", err)
			m.metrics.RecordRevalidation(m.namespace, "failed")
			return
		}
		m.metrics.RecordRevalidation(m.namespace, "succeeded")
	}()
}

func (m *Manager[T]) sweep(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if n := m.Cleanup(m.ctx); n > 0 {
				m.logger.Debug("swept expired entries", "removed", n)
			}
		}
	}
}

func result(stale bool) string {
	if stale {
		return "stale"
	}
	return "hit"
}
