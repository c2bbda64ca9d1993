package types

import "context"

// Medium is a durable key-value store used by the persistent cache tier.
// Keys are opaque strings; implementations must be safe for concurrent use.
type Medium interface {
	// Get returns the stored bytes, or an error matching
	// errors.ErrRecordNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns every stored key beginning with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// HealthChecker is implemented by mediums that can verify reachability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Flusher is implemented by mediums that buffer metadata and write it
// back on demand.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Closer is implemented by mediums holding resources that must be released.
type Closer interface {
	Close() error
}

// StatsProvider exposes cache statistics.
type StatsProvider interface {
	Stats() CacheStats
}
