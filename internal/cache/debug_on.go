//go:build tiercache_debug

package cache

import "log/slog"

// capacityViolation aborts in debug builds so invariant breaks surface in tests.
func capacityViolation(logger *slog.Logger, err error) {
	logger.Error("lru invariant violated", "error", err)
	panic(err)
}
