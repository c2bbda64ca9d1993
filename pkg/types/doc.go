/*
Package types provides the shared interfaces and data structures for tiercache.

The cache is layered:

	┌─────────────────────────────────────────────┐
	│          Reactive binding adapter           │
	│            (internal/reactive)              │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│     Cache manager (one per namespace)       │
	│   stale-while-revalidate, coalescing        │
	└─────────────────────────────────────────────┘
	          │                        │
	┌─────────┴─────────┐   ┌──────────┴──────────┐
	│   Volatile LRU    │   │  Persistent tier    │
	│   (in memory)     │   │  over a Medium      │
	└───────────────────┘   └─────────────────────┘
	                                   │
	                  ┌────────┬───────┴──┬────────┐
	                  │ memory │ file     │ s3     │ minio
	                  └────────┴──────────┴────────┘

# Medium

Medium abstracts the durable key-value store behind the persistent tier. A
Medium only moves bytes; encoding, TTL and namespacing are handled by the
persistent cache. Implementations live under internal/storage.

Implementing a new medium:

	type RedisMedium struct {
		client *redis.Client
	}

	func (m *RedisMedium) Get(ctx context.Context, key string) ([]byte, error) {
		data, err := m.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, cacheerrors.ErrRecordNotFound
		}
		return data, err
	}

Optional capabilities are discovered with type assertions on HealthChecker
and Closer.

# Statistics

CacheStats reports per-tier hit, miss, eviction and expiration counters.
TierStats groups both tiers of one namespace together with coalescer and
fetch counters.
*/
package types
