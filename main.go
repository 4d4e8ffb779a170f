package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"coldmail/config"
	"coldmail/middleware"
	"coldmail/routes"
	"coldmail/utils"
	"coldmail/worker"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			logger.WithError(err).Warn("Sentry initialization failed")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	db, err := config.ConnectDB(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	logger.Info("Database connected and migrated")

	var counterStore utils.CounterStore = utils.NewMemoryCounterStore()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Fatal("Invalid REDIS_URL")
		}
		counterStore = utils.NewRedisCounterStore(redis.NewClient(opts))
		logger.Info("Using redis-backed throttle counters")
	}

	guard := utils.NewDeliverabilityGuard(db, logger)
	throttler := utils.NewThrottler(counterStore, cfg.SharedPools, logger)
	mailer := utils.NewMailer(db, guard, cfg.BaseURL, logger)
	dns := utils.NewDNSChecker(logger)
	warmup := utils.NewWarmupMailer(db, mailer, guard, throttler, dns, nil, logger)
	syncer := utils.NewInboxSyncer(db, guard, warmup, logger)
	sequencer := utils.NewSequencer(db, mailer, throttler, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.NewWarmupWorker(warmup, cfg.WarmupInterval, logger).Start(ctx)
	go worker.NewCampaignWorker(db, sequencer, cfg.CampaignInterval, logger).Start(ctx)
	go worker.NewSyncWorker(db, syncer, cfg.SyncInterval, logger).Start(ctx)
	go worker.NewResetWorker(db, logger).Start(ctx)

	app := fiber.New(fiber.Config{
		AppName:      "coldmail",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})
	app.Use(middleware.CORS())

	routes.Setup(app, routes.Deps{
		DB:     db,
		Mailer: mailer,
		Warmup: warmup,
		DNS:    dns,
		Logger: logger,
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		logger.Info("Shutting down")
		cancel()
		if err := app.Shutdown(); err != nil {
			logger.WithError(err).Error("Server shutdown failed")
		}
	}()

	logger.WithField("port", cfg.ServerPort).Info("Server starting")
	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		logger.WithError(err).Fatal("Server stopped")
	}
}
