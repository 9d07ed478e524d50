package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ratelimit-gateway/middleware/ratelimit"
	"ratelimit-gateway/middleware/ratelimit/application"
	"ratelimit-gateway/middleware/ratelimit/domain"
	"ratelimit-gateway/middleware/ratelimit/infra"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("gateway stopped", zap.Error(err))
	}
}

func run(cfg config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var records domain.RecordStore = infra.NewMemoryRecordStore()
	if cfg.recordStore == "redis" {
		rdb, err := openRedis(ctx, cfg.redisAddr, cfg.redisPassword, cfg.redisDB)
		if err != nil {
			return fmt.Errorf("redis record store: %w", err)
		}
		defer func() { _ = rdb.Close() }()
		records = infra.NewRedisRecordStore(rdb, infra.WithRecordPrefix(cfg.redisPrefix))
	}

	stats, closeStats, err := newStatsStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStats()

	apps := infra.NewMemoryAppStore()
	if err := registerApps(ctx, cfg.appsFile, apps, records, logger); err != nil {
		return err
	}

	svc := &application.Service{Apps: apps, Records: records, Logger: logger}

	pacers := infra.NewPacerStore(cfg.drainPacing)
	pacers.StartJanitor(ctx)

	var slots domain.SlotPool
	if cfg.forwardConcurrency > 0 {
		slots = infra.NewWeightedPool(int64(cfg.forwardConcurrency))
	}

	queue := application.NewQueueManager(svc, infra.NewHTTPForwarder(cfg.forwardTimeout), application.QueueOptions{
		MaxQueueSize:   cfg.queueMaxSize,
		QueueTimeout:   cfg.queueTimeout,
		DrainPacing:    cfg.drainPacing,
		ResetSlack:     cfg.resetSlack,
		ForwardTimeout: cfg.forwardTimeout,
		Pacers:         pacers,
		Slots:          application.ConcurrencyService{Pool: slots, AcquireTimeout: cfg.forwardTimeout},
		Stats:          stats,
		Logger:         logger,
	})
	svc.OnWindowReset = queue.Drain

	h := ratelimit.NewProxy(ratelimit.ProxyOptions{Stats: stats, Logger: logger})
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Max:            cfg.concurrencyMax,
		AcquireTimeout: cfg.concurrencyTimeout,
	})(h)
	h = ratelimit.Middleware(ratelimit.Options{
		Checker:      svc,
		Queue:        queue,
		Stats:        stats,
		Logger:       logger,
		MaxBodyBytes: cfg.maxBodyBytes,
	})(h)

	mux := http.NewServeMux()
	mux.Handle(ratelimit.DefaultPrefix, h)
	mux.Handle("GET /queues/{appId}", ratelimit.QueueStatusHandler(queue))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           ratelimit.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// uma requisição pode esperar a fila inteira e depois o backend
		WriteTimeout: cfg.queueTimeout + cfg.forwardTimeout + 5*time.Second,
		IdleTimeout:  90 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// fecha a fila antes: quem está esperando recebe 503 e o Shutdown não fica preso
		if err := queue.Close(shutdownCtx); err != nil {
			logger.Warn("queue close", zap.Error(err))
		}
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening",
		zap.String("addr", cfg.listenAddr),
		zap.String("record_store", cfg.recordStore),
		zap.String("apps_file", cfg.appsFile))
	logger.Info("queue",
		zap.Int("max_size", cfg.queueMaxSize),
		zap.Duration("timeout", cfg.queueTimeout),
		zap.Duration("drain_pacing", cfg.drainPacing),
		zap.Duration("reset_slack", cfg.resetSlack),
		zap.Int("forward_concurrency", cfg.forwardConcurrency))
	logger.Info("rate-stats",
		zap.Bool("enabled", cfg.rateStatsEnabled),
		zap.String("redis_addr", cfg.rateStatsRedisAddr),
		zap.String("bucket", cfg.rateStatsBucket),
		zap.Duration("ttl", cfg.rateStatsTTL),
		zap.Bool("track_apps", cfg.rateStatsTrackApps))
	logger.Info("concurrency",
		zap.Int("max", cfg.concurrencyMax),
		zap.Duration("acquire_timeout", cfg.concurrencyTimeout))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	<-stopped
	return nil
}

func registerApps(ctx context.Context, path string, apps application.AppRegistry, records domain.RecordStore, logger *zap.Logger) error {
	cfgs, err := infra.LoadAppsFile(path)
	if err != nil {
		return err
	}
	for _, c := range cfgs {
		if _, err := application.Register(ctx, apps, records, c, time.Now(), logger); err != nil {
			return fmt.Errorf("app %s: %w", c.ID, err)
		}
	}
	if len(cfgs) == 0 {
		logger.Warn("no apps registered", zap.String("apps_file", path))
	}
	return nil
}

// newStatsStore devolve nil quando as estatísticas estão desligadas. Sem
// RATE_STATS_REDIS_ADDR, conta em memória.
func newStatsStore(ctx context.Context, cfg config) (domain.StatsStore, func(), error) {
	noop := func() {}
	if !cfg.rateStatsEnabled {
		return nil, noop, nil
	}
	if cfg.rateStatsRedisAddr == "" {
		return infra.NewMemoryStatsStore(infra.WithTrackApps(cfg.rateStatsTrackApps)), noop, nil
	}

	rdb, err := openRedis(ctx, cfg.rateStatsRedisAddr, cfg.rateStatsRedisPassword, cfg.rateStatsRedisDB)
	if err != nil {
		return nil, noop, fmt.Errorf("redis stats: %w", err)
	}
	store := infra.NewRedisStatsStore(
		rdb,
		infra.WithStatsPrefix(cfg.rateStatsPrefix),
		infra.WithStatsTTL(cfg.rateStatsTTL),
		infra.WithStatsBucket(cfg.rateStatsBucket),
		infra.WithStatsTrackApps(cfg.rateStatsTrackApps),
	)
	return store, func() { _ = rdb.Close() }, nil
}

func openRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping %s: %w", addr, err)
	}
	return rdb, nil
}
