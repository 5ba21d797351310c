// Package app builds the object graph shared by the server and the worker.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chefsync/onboarding/internal/backend"
	"github.com/chefsync/onboarding/internal/config"
	"github.com/chefsync/onboarding/internal/database"
	"github.com/chefsync/onboarding/internal/flow"
	"github.com/chefsync/onboarding/internal/intake"
	pdfutil "github.com/chefsync/onboarding/internal/pdf"
	"github.com/chefsync/onboarding/internal/repository"
	"github.com/chefsync/onboarding/internal/s3storage"
	"github.com/chefsync/onboarding/internal/storage"
	"github.com/chefsync/onboarding/internal/submit"
)

// App holds the collaborators of the registration flow.
type App struct {
	Config  *config.Config
	Log     *zap.Logger
	Backend *backend.Client
	Store   flow.Store
	Blobs   intake.Blobs
	Intake  *intake.Intake
	Gateway *submit.Gateway

	closers []func()
}

// New connects Postgres and MinIO when the config names them and falls back
// to in-memory stores otherwise.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Log:    log,
		Backend: backend.New(cfg.BackendURL,
			backend.WithTimeout(cfg.BackendTimeout),
			backend.WithLogger(log.Named("backend"))),
	}

	if cfg.Infrastructure() {
		pool, err := database.Connect(ctx, cfg.DatabaseURL, int32(cfg.DBMaxConns))
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := database.EnsureSchema(ctx, pool); err != nil {
			a.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		blobs, err := s3storage.New(cfg)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init storage: %w", err)
		}
		if err := blobs.EnsureBucket(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("ensure bucket: %w", err)
		}
		a.Store = repository.NewRegistrationRepository(pool)
		a.Blobs = blobs
	} else {
		log.Info("no DATABASE_URL set, keeping registrations in memory")
		a.Store = storage.NewMemoryStore()
		a.Blobs = storage.NewMemoryBlobs()
	}

	opts := []intake.Option{
		intake.WithLogger(log.Named("intake")),
		intake.WithMaxPDFPages(cfg.MaxPDFPages),
	}
	if cfg.ConvertPDF {
		opts = append(opts, intake.WithConverter(pdfutil.Renderer{MaxPages: cfg.MaxPDFPages}))
	}
	a.Intake = intake.New(a.Blobs, a.Backend, opts...)
	a.Gateway = submit.New(a.Backend, log.Named("submit"))
	return a, nil
}

// Controller builds a flow controller over the app's collaborators.
func (a *App) Controller(opts ...flow.Option) *flow.Controller {
	opts = append([]flow.Option{flow.WithLogger(a.Log.Named("flow"))}, opts...)
	return flow.NewController(a.Store, a.Backend, a.Backend, a.Intake, a.Gateway, opts...)
}

// PasswordReset builds the password reset flow.
func (a *App) PasswordReset() *flow.PasswordReset {
	return flow.NewPasswordReset(a.Backend)
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
