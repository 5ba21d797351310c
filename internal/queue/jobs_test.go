package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/hibiken/asynq"
)

func TestUploadPayloadRoundTrip(t *testing.T) {
	data, err := json.Marshal(UploadPayload{RegistrationID: "reg-1"})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"registration_id":"reg-1"}` {
		t.Fatalf("payload = %s", data)
	}
	task := asynq.NewTask(UploadDocumentsTask, data)
	var got UploadPayload
	if err := json.Unmarshal(task.Payload(), &got); err != nil || got.RegistrationID != "reg-1" {
		t.Fatalf("decode = %+v, %v", got, err)
	}
}

func TestTaskIDPerRegistration(t *testing.T) {
	if TaskID("a") == TaskID("b") {
		t.Fatal("task ids must differ per registration")
	}
	if TaskID("a") != TaskID("a") {
		t.Fatal("task id must be stable")
	}
}

// fakeEnqueuer rejects task ids that are already taken, like asynq does
// while a task is queued or running.
type fakeEnqueuer struct {
	taken map[string]bool
	calls [][]asynq.Option
}

func optionValue(opts []asynq.Option, typ asynq.OptionType) (any, bool) {
	for _, o := range opts {
		if o.Type() == typ {
			return o.Value(), true
		}
	}
	return nil, false
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.calls = append(f.calls, opts)
	if v, ok := optionValue(opts, asynq.TaskIDOpt); ok {
		id := v.(string)
		if f.taken[id] {
			return nil, asynq.ErrTaskIDConflict
		}
		f.taken[id] = true
	}
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func TestDispatchIdleRegistration(t *testing.T) {
	enq := &fakeEnqueuer{taken: map[string]bool{}}
	if err := NewDispatcher(enq).Dispatch(context.Background(), "reg-1"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(enq.calls) != 1 {
		t.Fatalf("enqueue calls = %d, want 1", len(enq.calls))
	}
	if v, _ := optionValue(enq.calls[0], asynq.TaskIDOpt); v != TaskID("reg-1") {
		t.Fatalf("task id = %v", v)
	}
	if v, _ := optionValue(enq.calls[0], asynq.MaxRetryOpt); v != 0 {
		t.Fatalf("max retry = %v, want 0", v)
	}
}

func TestDispatchWhileTaskExistsAddsFollowUp(t *testing.T) {
	enq := &fakeEnqueuer{taken: map[string]bool{TaskID("reg-1"): true}}
	if err := NewDispatcher(enq).Dispatch(context.Background(), "reg-1"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(enq.calls) != 2 {
		t.Fatalf("enqueue calls = %d, want 2", len(enq.calls))
	}
	followUp := enq.calls[1]
	if _, ok := optionValue(followUp, asynq.TaskIDOpt); ok {
		t.Fatal("follow-up must not reuse the registration task id")
	}
	if v, _ := optionValue(followUp, asynq.ProcessInOpt); v != followUpDelay {
		t.Fatalf("follow-up delay = %v, want %v", v, followUpDelay)
	}
}

func TestDispatchEnqueueFailure(t *testing.T) {
	err := NewDispatcher(failingEnqueuer{}).Dispatch(context.Background(), "reg-1")
	if err == nil || !strings.Contains(err.Error(), "enqueue upload task") {
		t.Fatalf("err = %v", err)
	}
}

type failingEnqueuer struct{}

func (failingEnqueuer) EnqueueContext(context.Context, *asynq.Task, ...asynq.Option) (*asynq.TaskInfo, error) {
	return nil, errors.New("redis: connection refused")
}

func TestLeaseKeyPerRegistration(t *testing.T) {
	if leaseKey("a") == leaseKey("b") {
		t.Fatal("lease keys must differ per registration")
	}
}
