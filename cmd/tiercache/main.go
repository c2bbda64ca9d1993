// Command tiercache runs a caching HTTP front for a slow upstream. GET
// /get/<path> answers from the cache tiers and fetches upstream<path> on a
// miss, revalidating in the background once an entry turns stale.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/objectfs/tiercache/internal/adapter"
	"github.com/objectfs/tiercache/internal/cache"
	"github.com/objectfs/tiercache/internal/config"
	cacheerrors "github.com/objectfs/tiercache/pkg/errors"
)

// Version information
const (
	Version = "0.1.0"
	Name    = "tiercache"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", Name, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile = flag.String("config", "", "path to a YAML configuration file")
		storageURI = flag.String("storage", "", "durable medium URI (memory://, file:///dir, s3://bucket/prefix, minio://host/bucket, none://)")
		listen     = flag.String("listen", ":8080", "HTTP listen address")
		upstream   = flag.String("upstream", "", "upstream base URL fetched on cache misses")
		namespace  = flag.String("namespace", "http", "cache namespace for upstream responses")
		version    = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", Name, Version)
		return nil
	}
	if *upstream == "" {
		return fmt.Errorf("-upstream is required")
	}

	cfg := config.NewDefault()
	if *configFile != "" {
		if err := cfg.LoadFromFile(*configFile); err != nil {
			return err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if *storageURI != "" {
		if err := adapter.ApplyStorageURI(&cfg.Persistence, *storageURI); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := adapter.New(ctx, cfg)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Stop(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		}
	}()

	responses, err := adapter.NewManager[[]byte](a, *namespace)
	if err != nil {
		return err
	}

	srv := &server{
		cache:    responses,
		upstream: strings.TrimRight(*upstream, "/"),
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   a.Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/get/", srv.handleGet)
	mux.HandleFunc("/invalidate", srv.handleInvalidate)
	mux.HandleFunc("/stats", srv.handleStats)
	mux.Handle("/healthz", a.HealthHandler())
	mux.Handle(cfg.Monitoring.Metrics.Path, a.Metrics().Handler())

	httpServer := &http.Server{
		Addr:              *listen,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger().Info("listening", "addr", *listen, "upstream", srv.upstream, "namespace", *namespace)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		a.Logger().Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

type server struct {
	cache    *cache.Manager[[]byte]
	upstream string
	client   *http.Client
	logger   *slog.Logger
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/get")
	if r.URL.RawQuery != "" {
		key += "?" + r.URL.RawQuery
	}

	var opts []cache.GetOption
	if r.Header.Get("Cache-Control") == "no-cache" {
		opts = append(opts, cache.WithForceRefresh())
	}

	body, err := s.cache.Get(r.Context(), key, s.fetcher(key), opts...)
	if err != nil {
		status := http.StatusBadGateway
		if cacheerrors.IsCode(err, cacheerrors.ErrCodeFetchCanceled) {
			status = http.StatusGatewayTimeout
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(body)
}

// fetcher loads upstream<key>. Non-2xx answers are errors so they are
// never cached.
func (s *server) fetcher(key string) cache.Fetcher[[]byte] {
	return func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.upstream+key, nil)
		if err != nil {
			return nil, err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("upstream answered %s", resp.Status)
		}
		return io.ReadAll(resp.Body)
	}
}

func (s *server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	removed, err := s.cache.InvalidatePattern(r.Context(), r.URL.Query().Get("pattern"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Info("invalidated entries", "pattern", r.URL.Query().Get("pattern"), "removed", removed)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"removed": removed})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.cache.Stats())
}
