// Package storage builds the durable medium behind the persistent cache
// tier from configuration and wraps it with metrics and a circuit breaker.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/objectfs/tiercache/internal/circuit"
	"github.com/objectfs/tiercache/internal/config"
	"github.com/objectfs/tiercache/internal/metrics"
	"github.com/objectfs/tiercache/internal/storage/billyfs"
	"github.com/objectfs/tiercache/internal/storage/memory"
	"github.com/objectfs/tiercache/internal/storage/minio"
	"github.com/objectfs/tiercache/internal/storage/s3"
	"github.com/objectfs/tiercache/pkg/errors"
	"github.com/objectfs/tiercache/pkg/types"
	"github.com/objectfs/tiercache/pkg/utils"
)

// New builds the configured medium. It returns a nil medium and no error
// when persistence is disabled or the backend is "none".
func New(ctx context.Context, cfg config.PersistenceConfig, collector *metrics.Collector, logger *slog.Logger) (types.Medium, error) {
	if !cfg.Enabled || cfg.Backend == config.BackendNone || cfg.Backend == "" {
		return nil, nil
	}

	base, err := open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	medium := Instrument(base, cfg.Backend, collector)
	if cfg.CircuitBreaker.Enabled {
		breaker := NewBreaker("medium-"+cfg.Backend, circuit.Config{
			FailureThreshold: uint32(cfg.CircuitBreaker.FailureThreshold),
			Timeout:          cfg.CircuitBreaker.Timeout,
		}, collector, logger)
		medium = Guard(medium, breaker)
	}

	logger.Info("durable medium ready", "backend", cfg.Backend, "circuit_breaker", cfg.CircuitBreaker.Enabled)
	return medium, nil
}

func open(ctx context.Context, cfg config.PersistenceConfig) (types.Medium, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		quota, err := parseSize(cfg.Memory.Quota)
		if err != nil {
			return nil, err
		}
		return memory.New(quota), nil

	case config.BackendFile:
		maxBytes, err := parseSize(cfg.File.MaxSize)
		if err != nil {
			return nil, err
		}
		m, err := billyfs.New(billyfs.Config{
			Directory:   cfg.File.Directory,
			Compression: cfg.File.Compression,
			MaxBytes:    maxBytes,
		})
		if err != nil {
			return nil, unavailable(cfg.Backend, err)
		}
		return m, nil

	case config.BackendS3:
		m, err := s3.NewMedium(ctx, &s3.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			Prefix:          cfg.S3.Prefix,
			ForcePathStyle:  cfg.S3.ForcePathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UseCargoShip:    cfg.S3.UseCargoShip,
			StorageClass:    cfg.S3.StorageClass,
			MaxRetries:      cfg.S3.MaxRetries,
			PoolSize:        cfg.S3.PoolSize,
		})
		if err != nil {
			return nil, unavailable(cfg.Backend, err)
		}
		return m, nil

	case config.BackendMinIO:
		m, err := minio.New(minio.Config{
			Endpoint:  cfg.MinIO.Endpoint,
			Bucket:    cfg.MinIO.Bucket,
			Prefix:    cfg.MinIO.Prefix,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			UseSSL:    cfg.MinIO.UseSSL,
			Region:    cfg.MinIO.Region,
		})
		if err != nil {
			return nil, unavailable(cfg.Backend, err)
		}
		if err := m.HealthCheck(ctx); err != nil {
			return nil, unavailable(cfg.Backend, err)
		}
		return m, nil
	}

	return nil, errors.NewError(errors.ErrCodeUnsupportedBackend,
		fmt.Sprintf("unsupported persistence backend: %s", cfg.Backend))
}

func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := utils.ParseBytes(s)
	if err != nil {
		return 0, errors.NewError(errors.ErrCodeInvalidConfig, "invalid size").
			WithContext("value", s).
			WithCause(err)
	}
	return n, nil
}

func unavailable(backend string, err error) error {
	return errors.NewError(errors.ErrCodeMediumUnavailable, "failed to open durable medium").
		WithComponent("storage").
		WithContext("backend", backend).
		WithCause(err)
}
