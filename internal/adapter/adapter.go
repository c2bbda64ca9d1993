package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/objectfs/tiercache/internal/cache"
	"github.com/objectfs/tiercache/internal/config"
	"github.com/objectfs/tiercache/internal/metrics"
	"github.com/objectfs/tiercache/internal/storage"
	"github.com/objectfs/tiercache/pkg/health"
	"github.com/objectfs/tiercache/pkg/types"
	"github.com/objectfs/tiercache/pkg/utils"
)

const mediumComponent = "medium"

// Adapter owns the process-wide pieces shared by every cache namespace:
// logger, metrics collector, durable medium and health tracking.
type Adapter struct {
	config    *config.Configuration
	logger    *slog.Logger
	logCloser io.Closer
	metrics   *metrics.Collector
	medium    types.Medium
	health    *health.Tracker

	mu       sync.Mutex
	managers []io.Closer
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopped  bool
}

// New validates cfg and builds the shared components. A medium that
// cannot be opened is logged and the adapter runs volatile-only.
func New(ctx context.Context, cfg *config.Configuration) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, logCloser, err := newLogger(cfg.Global)
	if err != nil {
		return nil, err
	}

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Monitoring.Metrics.Enabled,
		Port:      cfg.Global.MetricsPort,
		Path:      cfg.Monitoring.Metrics.Path,
		Labels:    cfg.Monitoring.Metrics.CustomLabels,
		Namespace: "tiercache",
	})
	if err != nil {
		_ = logCloser.Close()
		return nil, fmt.Errorf("failed to create metrics collector: %w", err)
	}

	a := &Adapter{
		config:    cfg,
		logger:    logger,
		logCloser: logCloser,
		metrics:   collector,
		health:    health.NewTracker(health.DefaultConfig()),
	}

	medium, err := storage.New(ctx, cfg.Persistence, collector, logger)
	if err != nil {
		logger.Warn("durable medium unavailable, running volatile-only",
			"backend", cfg.Persistence.Backend, "error", err)
	} else if medium != nil {
		a.medium = medium
		a.health.RegisterComponent(mediumComponent)
		a.health.OnStateChange(func(component string, oldState, newState health.HealthState, err error) {
			logger.Warn("component health changed",
				"component", component, "from", oldState, "to", newState, "error", err)
		})
	}

	return a, nil
}

// Start serves metrics and begins periodic medium health checks.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		return nil
	}
	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.metrics.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	if checker, ok := a.medium.(types.HealthChecker); ok {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.health.Run(ctx, func(ctx context.Context, component string) error {
				checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				defer cancel()
				return checker.HealthCheck(checkCtx)
			})
		}()
	}

	a.logger.Info("tiercache started",
		"backend", a.backendName(),
		"metrics_port", a.config.Global.MetricsPort,
		"default_preset", a.config.Cache.DefaultPreset)
	return nil
}

// Stop closes every manager created through the adapter, then the
// medium, metrics server and log file.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	managers := a.managers
	a.managers = nil
	cancel := a.cancel
	a.mu.Unlock()

	for _, m := range managers {
		if err := m.Close(); err != nil {
			a.logger.Warn("failed to close cache manager", "error", err)
		}
	}

	if cancel != nil {
		cancel()
	}
	a.wg.Wait()

	var firstErr error
	if err := a.metrics.Stop(ctx); err != nil {
		firstErr = err
	}
	if closer, ok := a.medium.(types.Closer); ok {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	a.logger.Info("tiercache stopped")
	if err := a.logCloser.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// NewManager builds a manager for namespace using the preset bound to it
// in configuration. The adapter closes it on Stop.
func NewManager[T any](a *Adapter, namespace string) (*cache.Manager[T], error) {
	preset, err := a.config.PresetFor(namespace)
	if err != nil {
		return nil, err
	}

	m, err := cache.NewManager[T](cache.Options{
		Namespace:            namespace,
		Preset:               preset,
		Medium:               a.medium,
		KeyPrefix:            a.config.Persistence.KeyPrefix,
		PersistentMaxEntries: a.config.Persistence.MaxEntries,
		SweepInterval:        a.config.Cache.SweepInterval,
		Logger:               a.logger,
		Metrics:              a.metrics,
	})
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		_ = m.Close()
		return nil, fmt.Errorf("adapter stopped")
	}
	a.managers = append(a.managers, m)
	return m, nil
}

// Logger returns the process logger.
func (a *Adapter) Logger() *slog.Logger { return a.logger }

// Metrics returns the metrics collector.
func (a *Adapter) Metrics() *metrics.Collector { return a.metrics }

// Medium returns the durable medium, nil when running volatile-only.
func (a *Adapter) Medium() types.Medium { return a.medium }

// Health returns the component health tracker.
func (a *Adapter) Health() *health.Tracker { return a.health }

// Config returns the configuration the adapter was built from.
func (a *Adapter) Config() *config.Configuration { return a.config }

// HealthHandler reports component health as JSON. It answers 503 when
// any component is unavailable.
func (a *Adapter) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		overall := a.health.GetOverallHealth()
		body := struct {
			Status     health.HealthState                `json:"status"`
			Backend    string                            `json:"backend"`
			Components map[string]health.ComponentHealth `json:"components"`
		}{
			Status:     overall,
			Backend:    a.backendName(),
			Components: a.health.GetAllComponents(),
		}

		w.Header().Set("Content-Type", "application/json")
		if overall == health.StateUnavailable {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(body)
	})
}

func (a *Adapter) backendName() string {
	if a.medium == nil {
		return config.BackendNone
	}
	return a.config.Persistence.Backend
}

func newLogger(global config.GlobalConfig) (*slog.Logger, io.Closer, error) {
	opts := utils.LogOptions{
		Level:  global.LogLevel,
		Format: global.LogFormat,
		File:   global.LogFile,
	}
	if global.LogFile != "" {
		maxSize, err := utils.ParseBytes(global.LogRotation.MaxSize)
		if err != nil && global.LogRotation.MaxSize != "" {
			return nil, nil, fmt.Errorf("invalid log rotation size: %w", err)
		}
		opts.Rotation = &utils.RotationConfig{
			MaxSize:    maxSize,
			MaxBackups: global.LogRotation.MaxBackups,
			Compress:   global.LogRotation.Compress,
		}
	}

	logger, closer, err := utils.NewLogger(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, closer, nil
}

// ApplyStorageURI points the persistence section at the medium named by
// uri and enables it. Supported forms:
//
//	memory://
//	file:///var/cache/tiercache
//	s3://bucket/prefix
//	minio://host:9000/bucket/prefix
//	none://
func ApplyStorageURI(cfg *config.PersistenceConfig, uri string) error {
	parsed, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("failed to parse URI: %w", err)
	}

	path := strings.Trim(parsed.Path, "/")
	switch parsed.Scheme {
	case config.BackendNone:
		cfg.Enabled = false
		cfg.Backend = config.BackendNone
		return nil

	case config.BackendMemory:
		cfg.Backend = config.BackendMemory

	case config.BackendFile:
		if parsed.Path == "" {
			return fmt.Errorf("file URI must include a directory")
		}
		cfg.Backend = config.BackendFile
		cfg.File.Directory = parsed.Path

	case config.BackendS3:
		if parsed.Host == "" {
			return fmt.Errorf("S3 URI must include bucket name")
		}
		cfg.Backend = config.BackendS3
		cfg.S3.Bucket = parsed.Host
		cfg.S3.Prefix = path

	case config.BackendMinIO:
		bucket, prefix, _ := strings.Cut(path, "/")
		if parsed.Host == "" || bucket == "" {
			return fmt.Errorf("MinIO URI must include endpoint and bucket name")
		}
		cfg.Backend = config.BackendMinIO
		cfg.MinIO.Endpoint = parsed.Host
		cfg.MinIO.Bucket = bucket
		cfg.MinIO.Prefix = prefix

	default:
		return fmt.Errorf("unsupported storage scheme: %s (memory, file, s3, minio or none)", parsed.Scheme)
	}

	cfg.Enabled = true
	return nil
}
