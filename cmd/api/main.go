package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ironwill/internal/config"
	"ironwill/internal/handler"
	"ironwill/internal/httpserver"
	"ironwill/internal/model"
	"ironwill/internal/realtime"
	"ironwill/internal/repository"
	"ironwill/internal/repository/sqlite"
	"ironwill/internal/service/dailylog"
	"ironwill/internal/service/stats"
	"ironwill/migrations"
	"ironwill/pkg/db"
	"ironwill/pkg/logger"
	"ironwill/pkg/mq"
	"ironwill/pkg/otel"
	"ironwill/pkg/outbox"
	"ironwill/pkg/redis"
)

// appStore is what both backends provide.
type appStore interface {
	dailylog.Store
	stats.Store
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logger.NewLogger(cfg.App.LogLevel)
	defer logger.Sync()

	logger.Info("Starting ironwill api...",
		zap.String("env", cfg.App.Env),
		zap.String("store", cfg.Store.Driver),
		zap.String("timezone", cfg.App.Timezone),
		zap.Bool("mq_enabled", cfg.MQ.Enabled),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
	)

	shutdownOtel, err := otel.Init(otel.Config{
		ServiceName: cfg.Otel.ServiceName + "-api",
		Endpoint:    cfg.Otel.Endpoint,
		Enabled:     cfg.Otel.Enabled,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to init OpenTelemetry", zap.Error(err))
	}
	defer shutdownOtel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var readiness []httpserver.ReadinessCheck

	// Store
	var (
		store      appStore
		outboxRepo *outbox.Repository
		closeStore func()
	)
	switch cfg.Store.Driver {
	case "sqlite":
		logger.Info("Opening sqlite store", zap.String("path", cfg.Store.SQLitePath))
		s, err := sqlite.New(cfg.Store.SQLitePath, logger)
		if err != nil {
			logger.Fatal("Failed to open sqlite store", zap.Error(err))
		}
		store = s
		closeStore = func() { _ = s.Close() }
	default:
		logger.Info("Initializing database connection...")
		pool, err := db.NewConnection(ctx, cfg.DB, logger)
		if err != nil {
			logger.Fatal("Failed to init DB", zap.Error(err))
		}
		if err := migrations.Apply(ctx, pool, logger); err != nil {
			logger.Fatal("Failed to apply migrations", zap.Error(err))
		}
		if cfg.MQ.Enabled {
			outboxRepo = outbox.NewRepository(pool)
		}
		s := repository.NewStore(pool, outboxRepo, logger)
		if err := s.SeedAchievements(ctx, model.DefaultAchievements); err != nil {
			logger.Fatal("Failed to seed achievements", zap.Error(err))
		}
		store = s
		closeStore = pool.Close
	}
	defer closeStore()
	readiness = append(readiness, httpserver.ReadinessCheck{Name: "store", Check: store.Ping})

	// Redis（可选）：统计缓存 + 实时消息跨实例分发
	var rdb *goredis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Fatal("Failed to init Redis", zap.Error(err))
		}
		defer rdb.Close()
		readiness = append(readiness, httpserver.ReadinessCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}

	hub := realtime.NewHub(logger)
	if rdb != nil {
		broker := realtime.NewRedisBroker(rdb, "", logger)
		hub.WithBroker(broker)
		go func() {
			if err := broker.Run(ctx, hub); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Realtime broker stopped", zap.Error(err))
			}
		}()
	}

	// MQ publisher 只用于管理端的 outbox 重放，日常投递由 worker 的 dispatcher 完成
	var replayService *outbox.ReplayService
	if outboxRepo != nil {
		publisher, err := mq.NewPublisher(cfg.MQ.URL, "ironwill-api")
		if err != nil {
			logger.Fatal("Failed to init MQ publisher", zap.Error(err))
		}
		defer publisher.Close()
		replayService = outbox.NewReplayService(outboxRepo, publisher, logger)
		readiness = append(readiness, httpserver.ReadinessCheck{
			Name: "mq",
			Check: func(context.Context) error {
				if !publisher.IsConnected() {
					return errors.New("publisher disconnected")
				}
				return nil
			},
		})
	}

	loc := cfg.Location()
	statsService := stats.NewService(store, logger).WithLocation(loc).WithNotifier(hub)
	if rdb != nil {
		statsService.WithCache(stats.NewRedisCache(rdb, cfg.Stats.CacheTTL, logger))
	}

	logService := dailylog.NewService(store, logger).WithLocation(loc)
	if outboxRepo == nil {
		// 没有 outbox 时统计在请求内同步重算
		logService.WithListener(statsService)
	} else {
		// worker 负责重算，本地只丢弃缓存
		logService.WithListener(dailylog.ChangeListenerFunc(statsService.InvalidateCached))
	}
	logService.WithListener(hub)

	router := httpserver.NewRouter(httpserver.Deps{
		Logs:       handler.NewLogHandler(logService, logger),
		Challenges: handler.NewChallengeHandler(logService, logger),
		Stats:      handler.NewStatsHandler(statsService, logger),
		Realtime:   handler.NewRealtimeHandler(hub, logger),
		Admin:      handler.NewAdminHandler(replayService, statsService, logger),
		JWTSecret:  cfg.JWT.Secret,
		Readiness:  readiness,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server starting", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down ironwill api gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		logger.Info("HTTP server stopped")
	}

	logger.Info("ironwill api shutdown complete")
}
