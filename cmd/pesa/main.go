package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"pesa/internal/amqp"
	"pesa/internal/auth"
	"pesa/internal/budget"
	"pesa/internal/cache"
	"pesa/internal/cli"
	"pesa/internal/currency"
	"pesa/internal/events"
	apphttp "pesa/internal/http"
	"pesa/internal/log"
	"pesa/internal/services"
)

func main() {
	cli.LoadEnvFile()

	boot := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	cfg := cli.LoadAndValidateConfig(boot)
	if err := cfg.RequireServer(); err != nil {
		boot.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	bus := events.NewBus()
	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath, bus)

	// A nil interface, not a nil *amqp.Client, keeps the ledger from
	// publishing when no broker is reachable.
	var publisher services.SyncPublisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, sync relies on the worker sweep", log.FieldError, err)
		} else {
			publisher = client
		}
	}

	ledger := services.NewLedgerService(repo, publisher, logger)

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if n, err := ledger.SeedDefaultCategories(startCtx); err != nil {
		logger.Error("Failed to seed default categories", log.FieldError, err)
	} else if n > 0 {
		logger.Info("Seeded default categories", "count", n)
	}
	startCancel()

	var google auth.GoogleVerifier
	if cfg.GoogleClientID != "" {
		google = auth.NewIDTokenVerifier(cfg.GoogleClientID)
	}
	authSvc, err := auth.NewService(repo, google, auth.Config{
		Secret: []byte(cfg.JWTSecret),
		TTL:    cfg.JWTTTL,
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize auth", log.FieldError, err)
		os.Exit(1)
	}

	currencySvc := currency.NewService(
		currency.NewRatesClient(cfg.RatesBaseURL, cfg.RatesTimeout),
		repo, cfg.BaseCurrency, logger)

	caches := cache.NewManager(logger)
	caches.Register(currencySvc.RatesCache())
	caches.StartCleanup(time.Minute)

	aggregator := budget.NewAggregator(repo, bus, logger)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Ledger:             ledger,
		Auth:               authSvc,
		Currency:           currencySvc,
		Budgets:            aggregator,
		Preferences:        repo,
		Storage:            repo,
		Logger:             logger,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		caches.Stop()
		bus.Close()
		if err := ledger.Close(); err != nil {
			logger.Error("Failed to close ledger", log.FieldError, err)
		}
	})

	// The alerter and the websocket feed each get their own subscription
	alerter := budget.NewAlerter(repo, logger)
	go alerter.Run(ctx, aggregator.Watch(ctx))
	go srv.RunBudgetFeed(ctx, aggregator.Watch(ctx))

	// Rows pulled by pesa-worker or written by pesactl land in the same file
	go func() {
		if err := repo.WatchExternalChanges(ctx, cfg.StoreWatchInterval); err != nil {
			logger.Error("External change watch stopped", log.FieldError, err)
		}
	}()

	logger.Info("Starting pesa server",
		"port", cfg.Port,
		"base_currency", cfg.BaseCurrency,
		"amqp", publisher != nil,
		"google_sign_in", google != nil)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(ctx, done)
}
