// Package worker runs long generation jobs in the background, detached
// from the HTTP request that started them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yangwenmai/retromag/internal/logger"
	"github.com/yangwenmai/retromag/internal/model"
)

// ErrQueueFull is returned by Submit when the queue has no room.
var ErrQueueFull = errors.New("generation queue is full")

// ErrStopped is returned once the worker has stopped.
var ErrStopped = errors.New("worker stopped")

// ErrAlreadyQueued is returned by Submit when a job for the same unit is
// queued or running.
var ErrAlreadyQueued = errors.New("job already queued")

// Job is one unit of background work.
type Job struct {
	// Unit is the draft unit the job generates, empty for batch jobs.
	Unit model.UnitKey
	Name string
	Run  func(ctx context.Context) error
}

// Worker executes queued jobs one at a time, so unit generations never
// overlap. At most one job per unit is queued or running. Detached jobs
// (image regenerations) run concurrently via Go.
type Worker struct {
	queue chan Job
	log   *logger.Logger

	mu       sync.Mutex
	stopped  bool
	wg       sync.WaitGroup
	base     context.Context
	last     *model.ErrorInfo
	active   map[string]struct{}
	detached int
}

func (j Job) key() string {
	if j.Unit != "" {
		return string(j.Unit)
	}
	return j.Name
}

// New creates a Worker with room for size pending jobs.
func New(log *logger.Logger, size int) *Worker {
	if log == nil {
		log = logger.NewNop()
	}
	if size <= 0 {
		size = 1
	}
	return &Worker{
		queue:  make(chan Job, size),
		log:    log,
		base:   context.Background(),
		active: make(map[string]struct{}),
	}
}

// Submit enqueues job for sequential execution. A second job for a unit
// that is still queued or running is rejected with ErrAlreadyQueued.
func (w *Worker) Submit(job Job) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrStopped
	}
	key := job.key()
	if _, ok := w.active[key]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyQueued, key)
	}
	select {
	case w.queue <- job:
		w.active[key] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

// Go runs job in its own goroutine bound to the worker's base context.
func (w *Worker) Go(job Job) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return ErrStopped
	}
	ctx := w.base
	w.wg.Add(1)
	w.detached++
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		w.run(ctx, job)
		w.mu.Lock()
		w.detached--
		w.mu.Unlock()
	}()
	return nil
}

// Start processes queued jobs until ctx is cancelled, then waits for
// detached jobs to finish.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	w.base = ctx
	w.mu.Unlock()

	w.log.Info("worker started", "queue", cap(w.queue))
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.stopped = true
			w.mu.Unlock()
			w.wg.Wait()
			w.log.Info("worker stopped")
			return
		case job := <-w.queue:
			w.run(ctx, job)
			w.mu.Lock()
			delete(w.active, job.key())
			w.mu.Unlock()
		}
	}
}

func (w *Worker) run(ctx context.Context, job Job) {
	w.log.Info("job started", "job", job.Name, "unit", job.Unit)
	if err := job.Run(ctx); err != nil {
		info := model.NewErrorInfo(job.Unit, err)
		w.mu.Lock()
		w.last = &info
		w.mu.Unlock()
		w.log.Error("job failed", "job", job.Name, "error_info", info.ToJSON())
		return
	}
	w.log.Info("job finished", "job", job.Name, "unit", job.Unit)
}

// Pending returns the number of queued jobs not yet started.
func (w *Worker) Pending() int { return len(w.queue) }

// Busy reports whether any job is queued, running or detached.
func (w *Worker) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.active) > 0 || w.detached > 0
}

// LastFailure returns the most recent job failure, if any.
func (w *Worker) LastFailure() (model.ErrorInfo, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return model.ErrorInfo{}, false
	}
	return *w.last, true
}
