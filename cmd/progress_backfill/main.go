package main

import (
	"context"
	"log"

	"go.uber.org/zap"

	"marketdash/internal/config"
	"marketdash/internal/database"
	"marketdash/internal/domain/dashboard"
	"marketdash/internal/domain/notification"
	"marketdash/internal/domain/project"
	"marketdash/internal/domain/reconcile"
	applog "marketdash/internal/pkg/logger"
)

const (
	pageSize    = 200
	parallelism = 4
)

// progress_backfill reconciles every booking once and rewrites the stored
// progress_percentage where it is missing or disagrees with the derived value.
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
	repo := project.NewRepository(db, logger.Named("store"))
	controller := reconcile.NewController(repo, nil, reconcile.Options{
		FetchTimeout: cfg.FetchTimeout,
		PassTimeout:  cfg.PassTimeout,
		Location:     cfg.Location,
		Logger:       logger.Named("reconcile"),
	})
	svc := dashboard.NewService(repo, controller, notification.NopDispatcher{Logger: logger}, logger.Named("dashboard"))

	b := &backfiller{
		bookings:    repo,
		reconciler:  svc,
		evict:       controller.Evict,
		logger:      logger,
		pageSize:    pageSize,
		parallelism: parallelism,
	}
	stats, err := b.run(context.Background())
	if err != nil {
		logger.Fatal("store unavailable, aborting backfill",
			zap.Int64("scanned", stats.Scanned),
			zap.Error(err),
		)
	}

	logger.Info("progress backfill completed",
		zap.Int64("scanned", stats.Scanned),
		zap.Int64("rewritten", stats.Rewritten),
		zap.Int64("failed", stats.Failed),
	)
}
