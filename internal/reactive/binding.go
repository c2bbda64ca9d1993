// Package reactive binds a cached key to observable state for UI-style
// consumers. A Binding resolves the key once, then refreshes it on a timer,
// on host focus and reconnect signals, and on demand, publishing every
// state change to its subscribers.
package reactive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/objectfs/tiercache/internal/cache"
	"github.com/objectfs/tiercache/pkg/errors"
)

// Source is the cache a Binding reads from. *cache.Manager satisfies it.
type Source[T any] interface {
	Get(ctx context.Context, key string, fetch cache.Fetcher[T], opts ...cache.GetOption) (T, error)
	Set(ctx context.Context, key string, value T) error
}

// Options controls when a Binding refreshes.
type Options struct {
	// RefreshInterval forces a refresh periodically (0 = never)
	RefreshInterval       time.Duration `yaml:"refresh_interval"`
	RevalidateOnFocus     bool          `yaml:"revalidate_on_focus"`
	RevalidateOnReconnect bool          `yaml:"revalidate_on_reconnect"`

	Logger *slog.Logger `yaml:"-"`
}

// State is a snapshot of a binding.
type State[T any] struct {
	Value    T
	HasValue bool
	Err      error
	// IsLoading is true until the first resolution completes.
	IsLoading bool
	// IsValidating is true while a forced refresh is in flight.
	IsValidating bool
}

type eventKind int

const (
	eventLoad eventKind = iota
	eventRefresh
	eventResult
	eventMutate
)

type event[T any] struct {
	kind   eventKind
	seq    uint64
	forced bool
	value  T
	err    error
	done   chan struct{}
}

// Binding keeps one key of a Source observable. All state changes happen
// on the binding's event loop goroutine.
type Binding[T any] struct {
	source Source[T]
	key    string
	fetch  cache.Fetcher[T]
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan event[T]
	wg     sync.WaitGroup

	mu      sync.RWMutex
	state   State[T]
	subs    map[int]func(State[T])
	nextSub int

	// loop-owned
	seq       uint64
	inflight  int
	validates int
}

// Bind starts a binding for key. The binding stops when ctx ends or
// Close is called.
func Bind[T any](ctx context.Context, source Source[T], key string, fetch cache.Fetcher[T], opts Options) *Binding[T] {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	bctx, cancel := context.WithCancel(ctx)
	b := &Binding[T]{
		source: source,
		key:    key,
		fetch:  fetch,
		opts:   opts,
		logger: opts.Logger.With("component", "reactive-binding", "key", key),
		ctx:    bctx,
		cancel: cancel,
		events: make(chan event[T], 16),
		state:  State[T]{IsLoading: true},
		subs:   make(map[int]func(State[T])),
	}

	b.wg.Add(1)
	go b.loop()
	b.enqueue(event[T]{kind: eventLoad})
	return b
}

// State returns the current snapshot.
func (b *Binding[T]) State() State[T] {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Subscribe registers fn to receive every state change. fn runs on the
// event loop and must not block. The returned func unsubscribes.
func (b *Binding[T]) Subscribe(fn func(State[T])) (cancel func()) {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Mutate writes value to the cache and the local state before returning.
// Refresh results started before the mutation are discarded.
func (b *Binding[T]) Mutate(ctx context.Context, value T) error {
	if err := b.source.Set(ctx, b.key, value); err != nil {
		return err
	}

	done := make(chan struct{})
	if !b.enqueue(event[T]{kind: eventMutate, value: value, done: done}) {
		return errors.ErrComponentStopped
	}
	select {
	case <-done:
		return nil
	case <-b.ctx.Done():
		return errors.ErrComponentStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Revalidate forces a refresh that bypasses both cache tiers.
func (b *Binding[T]) Revalidate() {
	b.enqueue(event[T]{kind: eventRefresh})
}

// Focus signals that the host regained focus.
func (b *Binding[T]) Focus() {
	if b.opts.RevalidateOnFocus {
		b.Revalidate()
	}
}

// Reconnect signals that the host regained connectivity.
func (b *Binding[T]) Reconnect() {
	if b.opts.RevalidateOnReconnect {
		b.Revalidate()
	}
}

// Close stops the binding and waits for in-flight refreshes to return.
func (b *Binding[T]) Close() {
	b.cancel()
	b.wg.Wait()
}

func (b *Binding[T]) enqueue(ev event[T]) bool {
	select {
	case b.events <- ev:
		return true
	case <-b.ctx.Done():
		return false
	}
}

func (b *Binding[T]) loop() {
	defer b.wg.Done()

	var tick <-chan time.Time
	if b.opts.RefreshInterval > 0 {
		ticker := time.NewTicker(b.opts.RefreshInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-tick:
			b.launch(true)
		case ev := <-b.events:
			b.handle(ev)
		}
	}
}

func (b *Binding[T]) handle(ev event[T]) {
	switch ev.kind {
	case eventLoad:
		b.launch(false)
	case eventRefresh:
		b.launch(true)
	case eventMutate:
		b.seq++
		b.update(func(s *State[T]) {
			s.Value = ev.value
			s.HasValue = true
			s.Err = nil
			s.IsLoading = false
		})
		close(ev.done)
	case eventResult:
		b.settle(ev)
	}
}

// launch starts a fetch off the loop so triggers keep flowing while it runs.
func (b *Binding[T]) launch(forced bool) {
	b.inflight++
	if forced {
		b.validates++
		b.update(func(s *State[T]) { s.IsValidating = true })
	}

	seq := b.seq
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		var opts []cache.GetOption
		if forced {
			opts = append(opts, cache.WithForceRefresh())
		}
		value, err := b.source.Get(b.ctx, b.key, b.fetch, opts...)

		select {
		case b.events <- event[T]{kind: eventResult, seq: seq, forced: forced, value: value, err: err}:
		case <-b.ctx.Done():
		}
	}()
}

func (b *Binding[T]) settle(ev event[T]) {
	b.inflight--
	if ev.forced {
		b.validates--
	}
	current := ev.seq == b.seq
	if !current {
		b.logger.Debug("dropping result older than the latest mutation")
	}
	if ev.err != nil && current {
		b.logger.Warn("binding refresh failed", "error", ev.err)
	}

	b.update(func(s *State[T]) {
		s.IsValidating = b.validates > 0
		if b.inflight == 0 {
			s.IsLoading = false
		}
		if !current {
			return
		}
		s.IsLoading = false
		if ev.err != nil {
			s.Err = ev.err
			return
		}
		s.Value = ev.value
		s.HasValue = true
		s.Err = nil
	})
}

// update applies fn to the state and notifies subscribers with the result.
func (b *Binding[T]) update(fn func(*State[T])) {
	b.mu.Lock()
	fn(&b.state)
	snapshot := b.state
	subs := make([]func(State[T]), 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub(snapshot)
	}
}
