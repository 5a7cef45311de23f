package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrQueueFull is returned by Enqueue when the buffer is at capacity. The
// webhook handler turns it into a 503 so the platform retries later.
var ErrQueueFull = errors.New("event queue is full")

// Job is one queued unit of work: an event plus the id it is traced by.
type Job struct {
	ID    string
	Event Event
}

// Handler processes one dequeued job.
type Handler func(ctx context.Context, job Job)

// Queue is a bounded worker pool. Enqueue never blocks; when the buffer is
// full the job is rejected and the caller decides how to degrade.
type Queue struct {
	jobs    chan Job
	workers int
	handler Handler
	logger  *slog.Logger

	mu      sync.Mutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// QueueOptions configures a Queue. Handler is required; workers and size
// default to 4 and 64.
type QueueOptions struct {
	Workers int
	Size    int
	Handler Handler
	Logger  *slog.Logger
}

// NewQueue builds a Queue.
func NewQueue(opts QueueOptions) (*Queue, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("queue handler is required")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	size := opts.Size
	if size <= 0 {
		size = 64
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		jobs:    make(chan Job, size),
		workers: workers,
		handler: opts.Handler,
		logger:  logger,
	}, nil
}

// Start launches the worker pool. Workers stop when ctx is cancelled or the
// queue is closed.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.run(ctx, i)
	}
	q.logger.Info("event_queue_started", "workers", q.workers, "capacity", cap(q.jobs))
}

func (q *Queue) run(ctx context.Context, worker int) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			started := time.Now()
			q.handler(ctx, job)
			q.logger.Debug("event_job_done",
				"worker", worker,
				"job_id", job.ID,
				"event_type", job.Event.Type,
				"elapsed", time.Since(started).String(),
			)
		}
	}
}

// Enqueue submits an event for processing and returns its job id. The send
// happens under the mutex so Close cannot close the channel between the
// closed check and the send.
func (q *Queue) Enqueue(ev Event) (string, error) {
	job := Job{ID: uuid.NewString(), Event: ev}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", fmt.Errorf("event queue is closed")
	}
	select {
	case q.jobs <- job:
		return job.ID, nil
	default:
		q.logger.Warn("event_queue_full", "event_type", ev.Type)
		return "", ErrQueueFull
	}
}

// Close stops intake and waits for in-flight jobs to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.jobs)
	q.wg.Wait()
}
