package main

import (
	"context"
	"errors"
	"os"
	"time"

	"pesa/internal/amqp"
	"pesa/internal/backend"
	"pesa/internal/cli"
	"pesa/internal/log"
	"pesa/internal/services"
	"pesa/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	boot := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	cfg := cli.LoadAndValidateConfig(boot)
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	logger.Info("Starting pesa-worker", "remote", cfg.RemoteBackend)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath, nil)
	defer repo.Close()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid remote configuration", log.FieldError, err)
		os.Exit(1)
	}

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	docs, err := backend.NewFactory(logger).Create(initCtx, backendCfg)
	initCancel()
	if errors.Is(err, backend.ErrNoRemote) {
		logger.Info("Nothing to mirror, worker exiting")
		return
	}
	if err != nil {
		logger.Error("Failed to initialize remote store", log.FieldError, err)
		os.Exit(1)
	}

	processor := services.NewSyncProcessor(repo, docs, services.SyncProcessorConfig{
		PollInterval: cfg.SyncInterval,
		PullInterval: cfg.PullInterval,
		BatchSize:    cfg.SyncBatchSize,
	}, logger)
	syncWorker := worker.NewSyncWorker(processor, logger)

	var consumer *amqp.Client
	if cfg.AMQPURL != "" {
		consumer, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			// the periodic sweep still mirrors everything, only later
			logger.Warn("AMQP unavailable, relying on periodic sync", log.FieldError, err)
			consumer = nil
		}
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := processor.Stop(shutdownCtx); err != nil {
			logger.Error("Sync processor shutdown error", log.FieldError, err)
		}
		if consumer != nil {
			if err := consumer.Close(); err != nil {
				logger.Error("AMQP close error", log.FieldError, err)
			}
		}
	})

	logger.Info("Performing startup sync check...")
	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		logger.Error("Failed startup sync check", log.FieldError, err)
	}

	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start sync processor", log.FieldError, err)
		os.Exit(1)
	}

	if consumer != nil {
		go func() {
			if err := consumer.ConsumeSync(ctx, syncWorker.HandleSyncMessage); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Message consumption failed", log.FieldError, err)
			}
		}()
	}

	cli.WaitForShutdown(ctx, done)
}
