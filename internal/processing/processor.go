// Package processing runs document uploads on an in-process worker pool when
// the server has no queue behind it.
package processing

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrQueueFull is returned when the buffer cannot take another registration.
var ErrQueueFull = errors.New("upload queue full")

// HandlerFunc uploads the pending documents of one registration.
type HandlerFunc func(ctx context.Context, registrationID string) error

type state int

const (
	queued state = iota + 1
	running
	// rerun is a running registration that was dispatched again.
	rerun
)

// Processor consumes registration ids and runs the handler for each. A
// registration is handled by at most one worker at a time.
type Processor struct {
	queue   chan string
	workers int
	log     *zap.Logger

	mu    sync.Mutex
	state map[string]state
	wg    sync.WaitGroup
}

// New builds a Processor with queue capacity tied to worker count.
func New(workers int, log *zap.Logger) *Processor {
	if workers <= 0 {
		workers = 1
	}
	return &Processor{
		queue:   make(chan string, workers*16),
		workers: workers,
		log:     log,
		state:   make(map[string]state),
	}
}

// Start launches worker goroutines that run until ctx is done.
func (p *Processor) Start(ctx context.Context, handle HandlerFunc) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.worker(ctx, handle)
		}()
	}
}

// Wait blocks until every worker has exited.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Dispatch queues a registration. A registration already waiting in the
// queue is not queued twice; one that is running is queued once more when
// its current run returns.
func (p *Processor) Dispatch(_ context.Context, registrationID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state[registrationID] {
	case queued, rerun:
		return nil
	case running:
		p.state[registrationID] = rerun
		return nil
	}
	if !p.enqueue(registrationID) {
		return ErrQueueFull
	}
	return nil
}

// enqueue must be called with p.mu held.
func (p *Processor) enqueue(id string) bool {
	select {
	case p.queue <- id:
		p.state[id] = queued
		return true
	default:
		delete(p.state, id)
		p.log.Warn("upload queue full", zap.String("registration_id", id))
		return false
	}
}

func (p *Processor) finish(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state[id] == rerun {
		p.enqueue(id)
		return
	}
	delete(p.state, id)
}

func (p *Processor) worker(ctx context.Context, handle HandlerFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			p.mu.Lock()
			p.state[id] = running
			p.mu.Unlock()
			if err := handle(ctx, id); err != nil && ctx.Err() == nil {
				p.log.Error("upload batch failed", zap.String("registration_id", id), zap.Error(err))
			}
			p.finish(id)
		}
	}
}
