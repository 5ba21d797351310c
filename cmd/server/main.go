// Command server runs the onboarding HTTP API.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chefsync/onboarding/internal/api"
	"github.com/chefsync/onboarding/internal/app"
	"github.com/chefsync/onboarding/internal/config"
	"github.com/chefsync/onboarding/internal/flow"
	"github.com/chefsync/onboarding/internal/logging"
	"github.com/chefsync/onboarding/internal/processing"
	"github.com/chefsync/onboarding/internal/queue"
	"github.com/chefsync/onboarding/internal/signing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.Production(), cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	g, gctx := errgroup.WithContext(ctx)

	var ctrl *flow.Controller
	if cfg.Infrastructure() {
		client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer client.Close()
		ctrl = deps.Controller(flow.WithDispatcher(queue.NewDispatcher(client)))
	} else {
		pool := processing.New(cfg.ProcessingPool, logger.Named("processing"))
		ctrl = deps.Controller(flow.WithDispatcher(pool))
		g.Go(func() error {
			pool.Start(gctx, ctrl.UploadPending)
			pool.Wait()
			return nil
		})
	}

	srv := api.New(cfg, ctrl, deps.PasswordReset(), deps.Backend, signing.NewSigner(cfg.SigningSecret), logger.Named("api"))
	g.Go(func() error {
		return srv.Run(gctx)
	})
	return g.Wait()
}
