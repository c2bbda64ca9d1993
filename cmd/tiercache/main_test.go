package main

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/tiercache/internal/cache"
	"github.com/objectfs/tiercache/pkg/utils"
)

func newTestServer(t *testing.T, upstream http.HandlerFunc) (*server, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		upstream(w, r)
	}))
	t.Cleanup(origin.Close)

	m, err := cache.NewManager[[]byte](cache.Options{
		Namespace:     "http",
		Preset:        cache.DefaultPresets()[cache.PresetShort],
		SweepInterval: -1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	return &server{
		cache:    m,
		upstream: origin.URL,
		client:   origin.Client(),
		logger:   utils.DiscardLogger(),
	}, &hits
}

func TestServer_GetCachesUpstream(t *testing.T) {
	srv, hits := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("body of " + r.URL.Path))
	})

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		srv.handleGet(rec, httptest.NewRequest(http.MethodGet, "/get/users/1", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "body of /users/1", rec.Body.String())
	}
	assert.Equal(t, int32(1), hits.Load())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/get/users/1", nil)
	req.Header.Set("Cache-Control", "no-cache")
	srv.handleGet(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(2), hits.Load(), "no-cache bypasses the tiers")
}

func TestServer_UpstreamErrorNotCached(t *testing.T) {
	srv, hits := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	})

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		srv.handleGet(rec, httptest.NewRequest(http.MethodGet, "/get/x", nil))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	}
	assert.Equal(t, int32(2), hits.Load())
}

func TestServer_Invalidate(t *testing.T) {
	srv, hits := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, path := range []string{"/get/users/1", "/get/users/2", "/get/orders/1"} {
		srv.handleGet(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	require.Equal(t, int32(3), hits.Load())

	rec := httptest.NewRecorder()
	srv.handleInvalidate(rec, httptest.NewRequest(http.MethodPost, "/invalidate?pattern=/users/*", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":2}`, rec.Body.String())

	rec = httptest.NewRecorder()
	srv.handleInvalidate(rec, httptest.NewRequest(http.MethodGet, "/invalidate", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	srv.handleInvalidate(rec, httptest.NewRequest(http.MethodPost, "/invalidate?pattern=[a-", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
