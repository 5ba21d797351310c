// Command worker uploads queued registration documents to the backend.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chefsync/onboarding/internal/app"
	"github.com/chefsync/onboarding/internal/config"
	"github.com/chefsync/onboarding/internal/logging"
	"github.com/chefsync/onboarding/internal/queue"
	"github.com/chefsync/onboarding/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.Production(), cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()
	if !cfg.Infrastructure() {
		logger.Fatal("worker needs DATABASE_URL; without it the server uploads in-process")
	}

	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("init dependencies", zap.Error(err))
	}
	defer deps.Close()

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger.Named("asynq").Sugar(),
	})
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()
	processor := worker.NewProcessor(deps.Controller(), queue.NewLeases(rdb), logger.Named("worker"))
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	logger.Info("worker started", zap.Int("concurrency", cfg.WorkerConcurrency))
	if err := server.Run(mux); err != nil {
		logger.Error("worker stopped", zap.Error(err))
		os.Exit(1)
	}
}
