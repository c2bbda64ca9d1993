package reactive

import (
	"context"
	stderr "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/tiercache/internal/cache"
	"github.com/objectfs/tiercache/pkg/errors"
)

func newManager(t *testing.T) *cache.Manager[string] {
	t.Helper()
	m, err := cache.NewManager[string](cache.Options{
		Namespace:     "reactive",
		Preset:        cache.DefaultPresets()[cache.PresetShort],
		SweepInterval: -1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// sequenceFetch returns v1, v2, ... on successive calls.
func sequenceFetch(calls *atomic.Int32) cache.Fetcher[string] {
	return func(ctx context.Context) (string, error) {
		n := calls.Add(1)
		return fmt.Sprintf("v%d", n), nil
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 2*time.Millisecond)
}

func TestBind_InitialLoad(t *testing.T) {
	var calls atomic.Int32
	b := Bind(context.Background(), newManager(t), "k", sequenceFetch(&calls), Options{})
	defer b.Close()

	eventually(t, func() bool { return b.State().HasValue })

	state := b.State()
	assert.Equal(t, "v1", state.Value)
	assert.False(t, state.IsLoading)
	assert.False(t, state.IsValidating)
	assert.NoError(t, state.Err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBind_InitialLoadError(t *testing.T) {
	boom := stderr.New("boom")
	b := Bind(context.Background(), newManager(t), "k", func(ctx context.Context) (string, error) {
		return "", boom
	}, Options{})
	defer b.Close()

	eventually(t, func() bool { return !b.State().IsLoading })

	state := b.State()
	assert.ErrorIs(t, state.Err, boom)
	assert.False(t, state.HasValue)
}

func TestBinding_Revalidate(t *testing.T) {
	var calls atomic.Int32
	b := Bind(context.Background(), newManager(t), "k", sequenceFetch(&calls), Options{})
	defer b.Close()
	eventually(t, func() bool { return b.State().HasValue })

	var sawValidating atomic.Bool
	cancel := b.Subscribe(func(s State[string]) {
		if s.IsValidating {
			sawValidating.Store(true)
		}
	})
	defer cancel()

	b.Revalidate()
	eventually(t, func() bool { return b.State().Value == "v2" })

	assert.True(t, sawValidating.Load(), "forced refresh must report IsValidating")
	assert.False(t, b.State().IsValidating)
}

func TestBinding_Mutate(t *testing.T) {
	m := newManager(t)
	var calls atomic.Int32
	b := Bind(context.Background(), m, "k", sequenceFetch(&calls), Options{})
	defer b.Close()
	eventually(t, func() bool { return b.State().HasValue })

	require.NoError(t, b.Mutate(context.Background(), "local"))
	assert.Equal(t, "local", b.State().Value, "mutation is visible when Mutate returns")

	value, err := m.Get(context.Background(), "k", sequenceFetch(&calls))
	require.NoError(t, err)
	assert.Equal(t, "local", value, "mutation is written to the cache")
	assert.Equal(t, int32(1), calls.Load())
}

func TestBinding_MutationDiscardsOlderResult(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(ctx context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "initial", nil
		}
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return "from-server", nil
	}

	b := Bind(context.Background(), newManager(t), "k", fetch, Options{})
	defer b.Close()
	eventually(t, func() bool { return b.State().HasValue })

	b.Revalidate()
	eventually(t, func() bool { return b.State().IsValidating })

	require.NoError(t, b.Mutate(context.Background(), "optimistic"))
	close(release)

	eventually(t, func() bool { return !b.State().IsValidating })
	assert.Equal(t, "optimistic", b.State().Value)
}

func TestBinding_FocusAndReconnect(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		signal    func(b *Binding[string])
		wantFetch bool
	}{
		{"focus enabled", Options{RevalidateOnFocus: true}, (*Binding[string]).Focus, true},
		{"focus disabled", Options{}, (*Binding[string]).Focus, false},
		{"reconnect enabled", Options{RevalidateOnReconnect: true}, (*Binding[string]).Reconnect, true},
		{"reconnect disabled", Options{}, (*Binding[string]).Reconnect, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			b := Bind(context.Background(), newManager(t), "k", sequenceFetch(&calls), tt.opts)
			defer b.Close()
			eventually(t, func() bool { return b.State().HasValue })

			tt.signal(b)

			if tt.wantFetch {
				eventually(t, func() bool { return b.State().Value == "v2" })
			} else {
				time.Sleep(30 * time.Millisecond)
				assert.Equal(t, int32(1), calls.Load())
				assert.Equal(t, "v1", b.State().Value)
			}
		})
	}
}

func TestBinding_RefreshInterval(t *testing.T) {
	var calls atomic.Int32
	b := Bind(context.Background(), newManager(t), "k", sequenceFetch(&calls), Options{
		RefreshInterval: 10 * time.Millisecond,
	})
	defer b.Close()

	eventually(t, func() bool { return calls.Load() >= 3 })
}

func TestBinding_RefreshErrorKeepsValue(t *testing.T) {
	var calls atomic.Int32
	fetch := func(ctx context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "good", nil
		}
		return "", stderr.New("refresh failed")
	}

	b := Bind(context.Background(), newManager(t), "k", fetch, Options{})
	defer b.Close()
	eventually(t, func() bool { return b.State().HasValue })

	b.Revalidate()
	eventually(t, func() bool { return b.State().Err != nil })

	state := b.State()
	assert.Equal(t, "good", state.Value)
	assert.True(t, state.HasValue)
	assert.False(t, state.IsValidating)
}

func TestBinding_SubscribeCancel(t *testing.T) {
	var calls atomic.Int32
	b := Bind(context.Background(), newManager(t), "k", sequenceFetch(&calls), Options{})
	defer b.Close()
	eventually(t, func() bool { return b.State().HasValue })

	var mu sync.Mutex
	var seen []string
	cancel := b.Subscribe(func(s State[string]) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.Value)
	})

	require.NoError(t, b.Mutate(context.Background(), "a"))
	cancel()
	require.NoError(t, b.Mutate(context.Background(), "b"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a"}, seen)
}

func TestBinding_Close(t *testing.T) {
	var calls atomic.Int32
	b := Bind(context.Background(), newManager(t), "k", sequenceFetch(&calls), Options{})
	eventually(t, func() bool { return b.State().HasValue })

	b.Close()
	b.Revalidate()
	b.Focus()

	err := b.Mutate(context.Background(), "late")
	assert.ErrorIs(t, err, errors.ErrComponentStopped)
}

func TestBinding_ParentContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	b := Bind(ctx, newManager(t), "k", sequenceFetch(&calls), Options{RefreshInterval: 5 * time.Millisecond})
	eventually(t, func() bool { return b.State().HasValue })

	cancel()
	b.Close()
	settled := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, calls.Load(), "no refreshes after the parent context ends")
}

var _ Source[string] = (*cache.Manager[string])(nil)
