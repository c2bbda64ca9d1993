package storage

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/objectfs/tiercache/internal/circuit"
	"github.com/objectfs/tiercache/internal/metrics"
	"github.com/objectfs/tiercache/pkg/errors"
	"github.com/objectfs/tiercache/pkg/types"
)

// passthrough forwards the optional interfaces of the wrapped medium.
type passthrough struct {
	next types.Medium
}

func (p passthrough) HealthCheck(ctx context.Context) error {
	if hc, ok := p.next.(types.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

func (p passthrough) Flush(ctx context.Context) error {
	if f, ok := p.next.(types.Flusher); ok {
		return f.Flush(ctx)
	}
	return nil
}

func (p passthrough) Close() error {
	if c, ok := p.next.(types.Closer); ok {
		return c.Close()
	}
	return nil
}

type guarded struct {
	passthrough
	breaker *circuit.CircuitBreaker
}

// Guard routes every call through breaker. While the breaker is open,
// calls fail fast with a MEDIUM_UNAVAILABLE error instead of reaching the
// medium.
func Guard(next types.Medium, breaker *circuit.CircuitBreaker) types.Medium {
	return &guarded{passthrough: passthrough{next: next}, breaker: breaker}
}

func (g *guarded) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	err := g.breaker.Execute(ctx, fn)
	if stderrors.Is(err, circuit.ErrOpenState) || stderrors.Is(err, circuit.ErrTooManyRequests) {
		return errors.NewError(errors.ErrCodeMediumUnavailable, "medium circuit is open").
			WithComponent("storage").
			WithOperation(operation).
			WithContext("breaker", g.breaker.Name()).
			WithCause(err)
	}
	return err
}

func (g *guarded) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := g.execute(ctx, "get", func(ctx context.Context) error {
		var err error
		data, err = g.next.Get(ctx, key)
		return err
	})
	return data, err
}

func (g *guarded) Put(ctx context.Context, key string, data []byte) error {
	return g.execute(ctx, "put", func(ctx context.Context) error {
		return g.next.Put(ctx, key, data)
	})
}

func (g *guarded) Delete(ctx context.Context, key string) error {
	return g.execute(ctx, "delete", func(ctx context.Context) error {
		return g.next.Delete(ctx, key)
	})
}

func (g *guarded) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := g.execute(ctx, "list", func(ctx context.Context) error {
		var err error
		keys, err = g.next.List(ctx, prefix)
		return err
	})
	return keys, err
}

// NewBreaker builds a breaker for a medium. Missing records and quota
// rejections are answers from a healthy medium and do not count as
// failures. State changes are logged and published to collector.
func NewBreaker(name string, config circuit.Config, collector *metrics.Collector, logger *slog.Logger) *circuit.CircuitBreaker {
	config.IsSuccessful = func(err error) bool {
		return err == nil ||
			stderrors.Is(err, errors.ErrRecordNotFound) ||
			stderrors.Is(err, errors.ErrQuotaExceeded)
	}
	config.OnStateChange = func(name string, from, to circuit.State) {
		logger.Warn("medium circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
		collector.SetCircuitState(name, int(to))
	}
	return circuit.NewCircuitBreaker(name, config)
}

type instrumented struct {
	passthrough
	backend   string
	collector *metrics.Collector
}

// Instrument records latency and outcome of every medium call.
func Instrument(next types.Medium, backend string, collector *metrics.Collector) types.Medium {
	return &instrumented{passthrough: passthrough{next: next}, backend: backend, collector: collector}
}

func (i *instrumented) record(operation string, start time.Time, err error) {
	if stderrors.Is(err, errors.ErrRecordNotFound) {
		err = nil
	}
	i.collector.RecordMediumOperation(i.backend, operation, time.Since(start), err)
}

func (i *instrumented) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := i.next.Get(ctx, key)
	i.record("get", start, err)
	return data, err
}

func (i *instrumented) Put(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	err := i.next.Put(ctx, key, data)
	i.record("put", start, err)
	return err
}

func (i *instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := i.next.Delete(ctx, key)
	i.record("delete", start, err)
	return err
}

func (i *instrumented) List(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	keys, err := i.next.List(ctx, prefix)
	i.record("list", start, err)
	return keys, err
}
