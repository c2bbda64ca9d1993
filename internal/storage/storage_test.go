package storage

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/tiercache/internal/circuit"
	"github.com/objectfs/tiercache/internal/config"
	"github.com/objectfs/tiercache/internal/metrics"
	"github.com/objectfs/tiercache/internal/storage/memory"
	"github.com/objectfs/tiercache/pkg/errors"
	"github.com/objectfs/tiercache/pkg/types"
	"github.com/objectfs/tiercache/pkg/utils"
)

// failingMedium rejects every call.
type failingMedium struct {
	calls atomic.Int32
}

var errDown = stderrors.New("medium down")

func (f *failingMedium) Get(ctx context.Context, key string) ([]byte, error) {
	f.calls.Add(1)
	return nil, errDown
}

func (f *failingMedium) Put(ctx context.Context, key string, data []byte) error {
	f.calls.Add(1)
	return errDown
}

func (f *failingMedium) Delete(ctx context.Context, key string) error {
	f.calls.Add(1)
	return errDown
}

func (f *failingMedium) List(ctx context.Context, prefix string) ([]string, error) {
	f.calls.Add(1)
	return nil, errDown
}

func newCollector(t *testing.T) *metrics.Collector {
	t.Helper()
	cfg := metrics.DefaultConfig()
	cfg.Port = 0
	collector, err := metrics.NewCollector(cfg)
	require.NoError(t, err)
	return collector
}

func TestGuard_OpensAndFailsFast(t *testing.T) {
	ctx := context.Background()
	next := &failingMedium{}
	breaker := NewBreaker("test", circuit.Config{FailureThreshold: 2, Timeout: time.Minute}, nil, utils.DiscardLogger())
	m := Guard(next, breaker)

	assert.ErrorIs(t, m.Put(ctx, "a", nil), errDown)
	_, err := m.Get(ctx, "a")
	assert.ErrorIs(t, err, errDown)
	assert.Equal(t, circuit.StateOpen, breaker.State())

	_, err = m.List(ctx, "")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeMediumUnavailable))
	assert.ErrorIs(t, err, circuit.ErrOpenState)
	assert.Equal(t, int32(2), next.calls.Load(), "open breaker must not reach the medium")
}

func TestGuard_NotFoundIsHealthy(t *testing.T) {
	ctx := context.Background()
	breaker := NewBreaker("test", circuit.Config{FailureThreshold: 1}, nil, utils.DiscardLogger())
	m := Guard(memory.New(0), breaker)

	for i := 0; i < 3; i++ {
		_, err := m.Get(ctx, "missing")
		assert.ErrorIs(t, err, errors.ErrRecordNotFound)
	}
	assert.Equal(t, circuit.StateClosed, breaker.State())

	require.NoError(t, m.Put(ctx, "k", []byte("v")))
	data, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(data))
}

func TestNewBreaker_PublishesState(t *testing.T) {
	collector := newCollector(t)
	breaker := NewBreaker("medium-memory", circuit.Config{FailureThreshold: 1}, collector, utils.DiscardLogger())

	_ = Guard(&failingMedium{}, breaker).Delete(context.Background(), "k")

	assert.Equal(t, circuit.StateOpen, breaker.State())
	problems, err := testutil.GatherAndLint(collector.Registry())
	require.NoError(t, err)
	assert.Empty(t, problems)

	count, err := testutil.GatherAndCount(collector.Registry(), "tiercache_circuit_state")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInstrument_RecordsOperations(t *testing.T) {
	ctx := context.Background()
	collector := newCollector(t)
	m := Instrument(memory.New(0), "memory", collector)

	require.NoError(t, m.Put(ctx, "k", []byte("v")))
	_, err := m.Get(ctx, "k")
	require.NoError(t, err)
	_, err = m.Get(ctx, "missing")
	require.Error(t, err)
	require.NoError(t, m.Delete(ctx, "k"))
	_, err = m.List(ctx, "")
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(collector.Registry(), "tiercache_medium_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 4, count, "a missing record counts as a successful get")
}

func TestInstrument_NilCollector(t *testing.T) {
	m := Instrument(memory.New(0), "memory", nil)
	assert.NoError(t, m.Put(context.Background(), "k", []byte("v")))
}

func TestPassthrough(t *testing.T) {
	m := Guard(Instrument(memory.New(0), "memory", nil), circuit.NewCircuitBreaker("x", circuit.Config{}))

	hc, ok := m.(types.HealthChecker)
	require.True(t, ok)
	assert.NoError(t, hc.HealthCheck(context.Background()))

	closer, ok := m.(types.Closer)
	require.True(t, ok)
	assert.NoError(t, closer.Close())
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	logger := utils.DiscardLogger()

	t.Run("disabled", func(t *testing.T) {
		cfg := config.NewDefault().Persistence
		cfg.Enabled = false
		m, err := New(ctx, cfg, nil, logger)
		require.NoError(t, err)
		assert.Nil(t, m)
	})

	t.Run("none", func(t *testing.T) {
		cfg := config.NewDefault().Persistence
		cfg.Backend = config.BackendNone
		m, err := New(ctx, cfg, nil, logger)
		require.NoError(t, err)
		assert.Nil(t, m)
	})

	t.Run("memory with quota", func(t *testing.T) {
		cfg := config.NewDefault().Persistence
		cfg.Backend = config.BackendMemory
		cfg.Memory.Quota = "4B"
		m, err := New(ctx, cfg, nil, logger)
		require.NoError(t, err)
		require.NotNil(t, m)

		assert.NoError(t, m.Put(ctx, "a", []byte("1234")))
		assert.ErrorIs(t, m.Put(ctx, "b", []byte("5")), errors.ErrQuotaExceeded)
	})

	t.Run("file", func(t *testing.T) {
		cfg := config.NewDefault().Persistence
		cfg.Backend = config.BackendFile
		cfg.File.Directory = t.TempDir()
		m, err := New(ctx, cfg, nil, logger)
		require.NoError(t, err)

		require.NoError(t, m.Put(ctx, "k", []byte("v")))
		keys, err := m.List(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"k"}, keys)
	})

	t.Run("bad quota", func(t *testing.T) {
		cfg := config.NewDefault().Persistence
		cfg.Backend = config.BackendMemory
		cfg.Memory.Quota = "plenty"
		_, err := New(ctx, cfg, nil, logger)
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfig))
	})

	t.Run("unsupported", func(t *testing.T) {
		cfg := config.NewDefault().Persistence
		cfg.Backend = "tape"
		_, err := New(ctx, cfg, nil, logger)
		assert.True(t, errors.IsCode(err, errors.ErrCodeUnsupportedBackend))
	})

	t.Run("s3 without bucket", func(t *testing.T) {
		cfg := config.NewDefault().Persistence
		cfg.Backend = config.BackendS3
		_, err := New(ctx, cfg, nil, logger)
		assert.True(t, errors.IsCode(err, errors.ErrCodeMediumUnavailable))
	})
}
