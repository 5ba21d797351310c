// Package queue schedules background document uploads through asynq.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// UploadDocumentsTask is scheduled each time a registration has staged
	// documents waiting for upload.
	UploadDocumentsTask = "registration:upload_documents"

	uploadTimeout = 10 * time.Minute
	followUpDelay = 5 * time.Second
)

// Enqueuer is the part of *asynq.Client the dispatcher uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// UploadPayload names the registration whose pending documents to upload.
type UploadPayload struct {
	RegistrationID string `json:"registration_id"`
}

// TaskID is one per registration, so a batch already waiting in the queue
// absorbs later requests for the same registration.
func TaskID(registrationID string) string {
	return "upload:" + registrationID
}

// EnqueueUploads enqueues an upload job. Uploads are never retried
// automatically; the user retries failed documents.
//
// When the registration already has a task, a delayed follow-up without a
// task id is enqueued instead. It waits for the registration's lease and
// uploads whatever is still pending.
func EnqueueUploads(ctx context.Context, client Enqueuer, payload UploadPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(UploadDocumentsTask, data)
	_, err = client.EnqueueContext(ctx, task,
		asynq.TaskID(TaskID(payload.RegistrationID)),
		asynq.MaxRetry(0),
		asynq.Timeout(uploadTimeout),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		_, err = client.EnqueueContext(ctx, task,
			asynq.ProcessIn(followUpDelay),
			asynq.MaxRetry(0),
			asynq.Timeout(uploadTimeout),
		)
	}
	if err != nil {
		return fmt.Errorf("enqueue upload task: %w", err)
	}
	return nil
}

// Dispatcher hands registrations to the asynq worker.
type Dispatcher struct {
	client Enqueuer
}

// NewDispatcher wraps an asynq client.
func NewDispatcher(client Enqueuer) *Dispatcher {
	return &Dispatcher{client: client}
}

// Dispatch enqueues the pending uploads of a registration.
func (d *Dispatcher) Dispatch(ctx context.Context, registrationID string) error {
	return EnqueueUploads(ctx, d.client, UploadPayload{RegistrationID: registrationID})
}
