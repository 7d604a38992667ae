package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "modernc.org/sqlite"

	"github.com/shortlinklabs/redirect-core/internal/cache"
	"github.com/shortlinklabs/redirect-core/internal/clickstream"
	"github.com/shortlinklabs/redirect-core/internal/config"
	"github.com/shortlinklabs/redirect-core/internal/counters"
	"github.com/shortlinklabs/redirect-core/internal/logging"
	"github.com/shortlinklabs/redirect-core/internal/metrics"
	"github.com/shortlinklabs/redirect-core/internal/resolver"
	"github.com/shortlinklabs/redirect-core/internal/stats"
	"github.com/shortlinklabs/redirect-core/internal/store"
	"github.com/shortlinklabs/redirect-core/internal/warmer"
)

// statsProvider feeds the gauge metrics from live component stats.
type statsProvider struct {
	resolver *resolver.Resolver
	local    *cache.LocalCache
	buffer   *clickstream.Buffer
}

func (p *statsProvider) CacheHitRate() float64 { return p.resolver.HitRate() }
func (p *statsProvider) L1Entries() int        { return p.local.Len() }
func (p *statsProvider) ClickBufferUsed() int  { return p.buffer.Len() }

// runServer loads config, wires the core, starts the servers and background
// workers, and blocks until shutdown.
func runServer(configPath string) error {
	metrics.Init()

	cfg, err := config.Load(configPath)
	if err != nil {
		if !os.IsNotExist(errors.Unwrap(err)) && !os.IsNotExist(err) {
			return err
		}
		cfg = config.Default()
	}
	logger := logging.NewLogger(os.Stdout, cfg.Logging)

	// Durable store (L3)
	dsn := cfg.Store.DSN
	if dsn == "" {
		dsn = "file:redirect.db?_pragma=journal_mode(WAL)"
	}
	sqlStore, err := store.Open(cfg.Store.Driver, dsn, logger)
	if err != nil {
		return err
	}
	defer func() { _ = sqlStore.Close() }()

	// Shared cache (L2) and real-time counters; both optional
	redisClient, err := cache.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Warn("redis unreachable, running without shared cache and counters", "err", err)
		redisClient = nil
	}
	shared := cache.NewSharedCache(redisClient, cfg.SharedCache, logger)
	rt := counters.New(redisClient, cfg.Counters, logger)

	local := cache.NewLocalCache(cfg.LocalCache.MaxEntries, cfg.LocalCache.TTL.Duration)

	buffer := clickstream.NewBuffer(cfg.Clicks.BufferSize)
	persister := clickstream.NewPersister(buffer, sqlStore, rt, cfg.Clicks, logger)

	res := resolver.New(local, shared, sqlStore, buffer, logger)
	res.StartInvalidationSubscriber(context.Background())

	aggregator := stats.NewAggregator(sqlStore, rt, logger)
	statsWorker := stats.NewWorker(aggregator, cfg.Aggregation, logger)

	cacheWarmer := warmer.NewWarmer(sqlStore, rt, local, shared, cfg.Warmer, logger)
	warmWorker := warmer.NewWorker(cacheWarmer, cfg.Warmer, logger)

	h := &handler{
		resolver:     res,
		aggregator:   aggregator,
		warmer:       cacheWarmer,
		buffer:       buffer,
		local:        local,
		counters:     rt,
		privacy:      cfg.Privacy,
		backfillDays: cfg.Aggregation.BackfillDays,
		logger:       logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/r/{domain}/{slug}", h.redirect).Methods(http.MethodGet)
	router.HandleFunc("/ops/warm", h.warm).Methods(http.MethodPost)
	router.HandleFunc("/ops/aggregate", h.aggregate).Methods(http.MethodPost)
	router.HandleFunc("/ops/backfill", h.backfill).Methods(http.MethodPost)
	router.HandleFunc("/ops/realtime/{id}", h.realtime).Methods(http.MethodGet)
	router.HandleFunc("/ops/stats", h.stats).Methods(http.MethodGet)
	router.HandleFunc("/{slug}", h.redirect).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsListen != "" {
		provider := &statsProvider{resolver: res, local: local, buffer: buffer}
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			metrics.UpdateGauges(provider)
			promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
		}))
		metricsServer = &http.Server{Addr: cfg.Server.MetricsListen, Handler: metricsMux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "err", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("redirect server listening", "addr", cfg.Server.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	// Shutdown order: stop taking requests, stop scheduled work, drain the
	// click buffer, then release external clients.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	_ = warmWorker.Close()
	_ = statsWorker.Close()
	_ = persister.Close()
	_ = res.Close()
	_ = shared.Close()
	return nil
}
