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

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"marketdash/internal/config"
	"marketdash/internal/database"
	"marketdash/internal/domain/dashboard"
	"marketdash/internal/domain/feed"
	"marketdash/internal/domain/notification"
	"marketdash/internal/domain/project"
	"marketdash/internal/domain/realtime"
	"marketdash/internal/domain/reconcile"
	jwtsvc "marketdash/internal/pkg/jwt"
	applog "marketdash/internal/pkg/logger"
	"marketdash/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := applog.New(cfg.AppEnv)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.Connect(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal("database migration failed", zap.Error(err))
	}
	repo := project.NewRepository(db, logger.Named("store"))

	changeFeed, closeFeed := buildFeed(cfg, logger)
	defer closeFeed()

	dispatcher, closeDispatcher := buildDispatcher(cfg, logger)
	defer closeDispatcher()

	controller := reconcile.NewController(repo, changeFeed, reconcile.Options{
		FetchTimeout: cfg.FetchTimeout,
		PassTimeout:  cfg.PassTimeout,
		IdleTTL:      cfg.CacheIdleTTL,
		Location:     cfg.Location,
		Logger:       logger.Named("reconcile"),
	})
	evictCtx, stopEviction := context.WithCancel(context.Background())
	defer stopEviction()
	go controller.RunEviction(evictCtx, time.Minute)

	hub := realtime.NewHub(controller, logger.Named("realtime"))
	controller.OnView(hub.Broadcast)

	j := jwtsvc.New(cfg.JWTSecret, 24*time.Hour)

	dashboardService := dashboard.NewService(repo, controller, dispatcher, logger.Named("dashboard"))
	dashboardHandler := dashboard.NewHandler(dashboardService)
	wsHandler := realtime.NewWSHandler(hub, j, dashboardService, controller, logger.Named("ws"))

	if config.IsProdLike(cfg.AppEnv) {
		gin.SetMode(gin.ReleaseMode)
	}
	r := server.NewRouter(server.Deps{
		DB:          db,
		JWT:         j,
		Dashboard:   dashboardHandler,
		WebSocket:   wsHandler,
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("dashboard API starting", zap.String("addr", cfg.HTTPAddr), zap.String("env", cfg.AppEnv))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
}

// buildFeed uses redis pub/sub when REDIS_ADDR is set, otherwise an in-process
// feed that only sees this instance's own writes.
func buildFeed(cfg *config.Config, logger *zap.Logger) (feed.Feed, func()) {
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not set, using in-process change feed")
		mem := feed.NewMemoryFeed()
		return mem, mem.Close
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis unreachable", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	return feed.NewRedisFeed(rdb, logger.Named("feed")), func() { _ = rdb.Close() }
}

func buildDispatcher(cfg *config.Config, logger *zap.Logger) (notification.Dispatcher, func()) {
	if cfg.AMQPURL == "" {
		logger.Warn("AMQP_URL not set, notifications are dropped")
		return notification.NopDispatcher{Logger: logger}, func() {}
	}
	d, err := notification.NewAMQPDispatcher(cfg.AMQPURL, logger.Named("notify"))
	if err != nil {
		logger.Fatal("notification broker unreachable", zap.Error(err))
	}
	return d, d.Close
}
