/*
Package cache provides the layered, stale-while-revalidate cache at the core of tiercache.

Each namespace gets its own Manager, which reads through two tiers and falls back to a
caller-supplied fetch function:

	┌─────────────────────────────────────────────┐
	│        Manager[T] (one per namespace)       │
	│   stale-while-revalidate, force refresh,    │
	│   pattern invalidation, background sweep    │
	└─────────────────────────────────────────────┘
	          │                        │
	┌─────────┴─────────┐   ┌──────────┴──────────┐
	│   LRUCache[T]     │   │ PersistentCache[T]  │
	│   volatile, LRU   │   │ JSON records on a   │
	│   bounded by      │   │ types.Medium        │
	│   MaxEntries      │   │ (optional)          │
	└───────────────────┘   └─────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│       Coalescer[T] → Fetcher[T]             │
	│   one in-flight fetch per key               │
	└─────────────────────────────────────────────┘

# Entry lifecycle

Every write builds an immutable Entry from the namespace Preset:

	CreatedAt ──── StaleAt ──────────── ExpiresAt
	   fresh     │      stale           │ expired
	             MaxAge-StaleWindow     MaxAge

A fresh hit is returned as is. A stale hit is returned immediately and one background
revalidation is scheduled for the key. An expired entry is never returned; it is
removed on access and the read falls through to the next tier or to the fetch.

# Presets

Three presets are built in:

	short   1m max age, 100 entries, volatile only
	medium  5m max age, 50 entries, 2m stale window, persisted
	long    1h max age, 25 entries, persisted

Further presets are declared in configuration (see internal/config).

# Usage

	users, err := cache.NewManager[User](cache.Options{
		Namespace: "users",
		Preset:    cache.DefaultPresets()[cache.PresetMedium],
		Medium:    medium,
		Logger:    logger,
		Metrics:   collector,
	})
	if err != nil {
		return err
	}
	defer users.Close()

	user, err := users.Get(ctx, "42", func(ctx context.Context) (User, error) {
		return api.FetchUser(ctx, 42)
	})

Force a refresh that bypasses both tiers:

	user, err = users.Get(ctx, "42", fetch, cache.WithForceRefresh())

Invalidate with a glob:

	n, err := users.InvalidatePattern(ctx, "42:*")

# Failure handling

Fetch errors on the synchronous path are returned as FETCH_FAILED (or FETCH_CANCELED)
CacheErrors wrapping the original error, and nothing is cached. Background revalidation
errors are logged and the stale entry stays in place. The persistent tier never returns
medium errors: failed reads are misses, corrupt records are deleted, and a failed write
is retried once after a cleanup pass before it is dropped.

Building with the tiercache_debug tag turns LRU capacity invariant violations into panics.
*/
package cache
