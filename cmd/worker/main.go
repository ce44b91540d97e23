package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	mqcontracts "ironwill/contracts/mq"
	"ironwill/internal/config"
	"ironwill/internal/realtime"
	"ironwill/internal/repository"
	"ironwill/internal/service/stats"
	"ironwill/internal/worker"
	"ironwill/migrations"
	"ironwill/pkg/db"
	"ironwill/pkg/logger"
	"ironwill/pkg/mq"
	"ironwill/pkg/otel"
	"ironwill/pkg/outbox"
	"ironwill/pkg/redis"
	"ironwill/pkg/util"
)

const statsQueue = "dailylog.changed.stats.q"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logger.NewLogger(cfg.App.LogLevel)
	defer logger.Sync()

	if cfg.Store.Driver != "postgres" || !cfg.MQ.Enabled {
		logger.Fatal("Worker needs the postgres store and mq.enabled",
			zap.String("store", cfg.Store.Driver),
			zap.Bool("mq_enabled", cfg.MQ.Enabled),
		)
	}

	logger.Info("Starting ironwill worker...",
		zap.String("db_host", cfg.DB.Host),
		zap.String("mq_url", cfg.MQ.URL),
		zap.String("nightly_cron", cfg.Worker.NightlyCron),
	)

	shutdownOtel, err := otel.Init(otel.Config{
		ServiceName: cfg.Otel.ServiceName + "-worker",
		Endpoint:    cfg.Otel.Endpoint,
		Enabled:     cfg.Otel.Enabled,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to init OpenTelemetry", zap.Error(err))
	}
	defer shutdownOtel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	pool, err := db.NewConnection(ctx, cfg.DB, logger)
	if err != nil {
		logger.Fatal("DB connection failed", zap.Error(err))
	}
	defer pool.Close()
	if err := migrations.Apply(ctx, pool, logger); err != nil {
		logger.Fatal("Failed to apply migrations", zap.Error(err))
	}
	logger.Info("DB ready")

	outboxRepo := outbox.NewRepository(pool)
	store := repository.NewStore(pool, outboxRepo, logger)

	// MQ publisher：outbox 投递 + DLQ
	publisher, err := mq.NewPublisher(cfg.MQ.URL, "ironwill-worker")
	if err != nil {
		logger.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, logger).
		WithInterval(cfg.Worker.OutboxInterval).
		WithMaxRetries(cfg.Worker.OutboxMaxRetries)
	go dispatcher.Start(ctx)

	// Stats service, notifying api replicas through redis
	loc := cfg.Location()
	hub := realtime.NewHub(logger)
	statsService := stats.NewService(store, logger).WithLocation(loc).WithNotifier(hub)

	var (
		deduper      worker.Deduper
		retryCounter worker.RetryCounter
	)
	if cfg.Redis.Enabled {
		rdb, err := redis.NewRedisClient(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Fatal("Failed to init Redis", zap.Error(err))
		}
		defer rdb.Close()

		hub.WithBroker(realtime.NewRedisBroker(rdb, "", logger))
		statsService.WithCache(stats.NewRedisCache(rdb, cfg.Stats.CacheTTL, logger))
		deduper = util.NewDeduper(rdb, cfg.Worker.DedupTTL, logger)
		retryCounter = util.NewRetryCounter(rdb, cfg.Worker.DedupTTL)
	} else {
		logger.Warn("Redis disabled: no dedup or realtime fan-out, retries counted in memory")
	}

	changedHandler := worker.NewDailyLogChangedHandler(statsService, stats.TriggerEvent, deduper, retryCounter, logger)

	// -------------------------
	// dailylog.changed Consumer
	// -------------------------
	logger.Info("Init consumer", zap.String("queue", statsQueue), zap.String("routing_key", mqcontracts.RoutingKeyDailyLogChanged))
	consumer, err := mq.NewConsumer(cfg.MQ.URL, statsQueue, mqcontracts.RoutingKeyDailyLogChanged, publisher, logger)
	if err != nil {
		logger.Fatal("Consumer init failed", zap.Error(err))
	}
	consumer.SetHandler(changedHandler.Handle)

	go func() {
		if err := consumer.StartConsuming(ctx); err != nil {
			logger.Fatal("Consumer crashed", zap.Error(err))
		}
	}()

	// 夜间全量重算，让跨天后的 current_streak 归零
	scheduler := cron.New(cron.WithLocation(loc))
	if _, err := scheduler.AddFunc(cfg.Worker.NightlyCron, func() {
		start := time.Now()
		n, err := statsService.RecomputeAll(ctx, stats.TriggerNightly)
		if err != nil {
			logger.Error("Nightly recompute failed", zap.Int("users", n), zap.Error(err))
			return
		}
		logger.Info("Nightly recompute done", zap.Int("users", n), zap.Duration("took", time.Since(start)))
	}); err != nil {
		logger.Fatal("Invalid worker.nightly_cron", zap.String("spec", cfg.Worker.NightlyCron), zap.Error(err))
	}
	scheduler.Start()

	// health + metrics
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/readyz", func(c *gin.Context) {
		if !consumer.IsConnected() || !publisher.IsConnected() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "mq_not_ready"})
			return
		}
		if err := pool.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := cfg.Worker.Port
	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("Worker HTTP server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Worker HTTP server failed", zap.Error(err))
		}
	}()

	logger.Info("Worker running")

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down ironwill worker gracefully...")

	<-scheduler.Stop().Done()
	cancel()
	consumer.Stop()
	<-consumer.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Worker HTTP server shutdown error", zap.Error(err))
	}

	logger.Info("ironwill worker shutdown complete")
}
