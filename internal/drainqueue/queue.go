// Package drainqueue serializes background drain tasks per lane.
//
// Invariants:
//   - Tasks in the same lane execute one at a time, in FIFO order.
//   - Tasks in different lanes may execute concurrently.
//   - Every enqueued task gets a Handle that resolves when it finishes.
package drainqueue

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("drainqueue: queue is closed")
	// ErrLaneFull is returned when a lane's pending backlog is at capacity.
	ErrLaneFull = errors.New("drainqueue: lane backlog full")
)

// Task is one unit of background work.
type Task func(ctx context.Context) error

// Handle resolves when the task it belongs to has finished.
type Handle struct {
	id   string
	done chan error
}

// ID returns the task id, usable for log correlation.
func (h *Handle) ID() string {
	return h.id
}

// Wait blocks until the task finishes or ctx is done, returning the task's
// error.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case err := <-h.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type taskRecord struct {
	id     string
	task   Task
	handle *Handle
}

type lane struct {
	pending []*taskRecord
	running bool
}

// Queue runs tasks with per-lane FIFO ordering. Lanes are created on first
// use and torn down when idle.
type Queue struct {
	mu         sync.Mutex
	lanes      map[string]*lane
	maxPending int
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New creates a queue. maxPending bounds the per-lane backlog; zero
// selects 64.
func New(maxPending int, logger zerolog.Logger) *Queue {
	if maxPending <= 0 {
		maxPending = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		lanes:      make(map[string]*lane),
		maxPending: maxPending,
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger.With().Str("component", "drainqueue").Logger(),
	}
}

// Enqueue adds a task to the named lane and returns its completion handle.
func (q *Queue) Enqueue(laneName string, task Task) (*Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}

	l, ok := q.lanes[laneName]
	if !ok {
		l = &lane{}
		q.lanes[laneName] = l
	}
	if len(l.pending) >= q.maxPending {
		return nil, ErrLaneFull
	}

	record := &taskRecord{
		id:     uuid.NewString(),
		task:   task,
		handle: &Handle{done: make(chan error, 1)},
	}
	record.handle.id = record.id
	l.pending = append(l.pending, record)

	q.logger.Debug().
		Str("lane", laneName).
		Str("task_id", record.id).
		Int("backlog", len(l.pending)).
		Msg("Task enqueued")

	if !l.running {
		l.running = true
		q.wg.Add(1)
		go q.runLane(laneName)
	}
	return record.handle, nil
}

// runLane drains one lane until its backlog is empty, then retires.
func (q *Queue) runLane(laneName string) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		l := q.lanes[laneName]
		if len(l.pending) == 0 {
			l.running = false
			delete(q.lanes, laneName)
			q.mu.Unlock()
			return
		}
		record := l.pending[0]
		l.pending = l.pending[1:]
		q.mu.Unlock()

		err := q.runTask(laneName, record)
		record.handle.done <- err
	}
}

func (q *Queue) runTask(laneName string, record *taskRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error().
				Str("lane", laneName).
				Str("task_id", record.id).
				Interface("panic", r).
				Msg("Task panicked")
			err = errors.New("drainqueue: task panicked")
		}
	}()
	return record.task(q.ctx)
}

// Pending returns the total backlog across lanes.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, l := range q.lanes {
		n += len(l.pending)
	}
	return n
}

// Close stops accepting tasks, cancels the task context and waits for
// running tasks, bounded by ctx.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
