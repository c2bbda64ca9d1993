//go:build !tiercache_debug

package cache

import "log/slog"

func capacityViolation(logger *slog.Logger, err error) {
	logger.Error("lru invariant violated", "error", err)
}
