// Package worker runs queued document uploads.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/chefsync/onboarding/internal/apperr"
	"github.com/chefsync/onboarding/internal/queue"
)

// Uploader uploads the pending documents of a registration.
type Uploader interface {
	UploadPending(ctx context.Context, registrationID string) error
}

// Locker keeps two upload batches of one registration from running at once.
type Locker interface {
	Lock(ctx context.Context, registrationID string) (unlock func() error, err error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	uploader Uploader
	locker   Locker
	log      *zap.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(uploader Uploader, locker Locker, log *zap.Logger) *Processor {
	return &Processor{uploader: uploader, locker: locker, log: log}
}

// Handler registers the upload job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.UploadDocumentsTask, p.handleUpload)
	return mux
}

// handleUpload only fails on a bad payload. Per-document failures are
// recorded on the documents, interrupted batches leave their documents
// failed for the user to retry, and a vanished registration has nothing
// left to upload.
func (p *Processor) handleUpload(ctx context.Context, task *asynq.Task) error {
	var payload queue.UploadPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
	}
	id := payload.RegistrationID
	log := p.log.With(zap.String("registration_id", id))

	unlock, err := p.locker.Lock(ctx, id)
	if err != nil {
		log.Warn("upload lease not taken", zap.Error(err))
		return nil
	}
	defer func() {
		if err := unlock(); err != nil {
			log.Warn("upload lease not released", zap.Error(err))
		}
	}()

	err = p.uploader.UploadPending(ctx, id)
	switch {
	case err == nil:
		log.Info("uploads processed")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Warn("upload batch interrupted", zap.Error(err))
	case errors.Is(err, apperr.ErrNotFound):
		log.Info("registration gone before upload")
	default:
		log.Error("upload batch failed", zap.Error(err))
	}
	return nil
}
