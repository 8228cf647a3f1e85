// Package task runs archive lifecycle operations in the background with a
// bounded number running at once. The HTTP API submits work here and
// answers with the task id; clients poll the task for its outcome.
package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"permafrost/internal/pf"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// DefaultRetained is the number of finished tasks a queue keeps.
const DefaultRetained = 500

// ErrQueueClosed is returned by Submit after Close.
var ErrQueueClosed = errors.New("task queue is closed")

// Func is the work of a task.
type Func func(ctx context.Context) error

// Task is a snapshot of a submitted unit of work.
type Task struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Target     string     `json:"target"`
	Status     Status     `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Done reports whether the task has finished.
func (t *Task) Done() bool {
	return t.Status == StatusSucceeded || t.Status == StatusFailed
}

// Queue runs submitted tasks, at most maxConcurrent at a time, in no
// guaranteed order.
type Queue struct {
	mu     sync.Mutex
	tasks  map[string]*Task
	order  []string
	closed bool
	// finished tasks beyond retained are forgotten, oldest first
	retained int

	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	logger pf.Logger
	clock  pf.Clock
	idgen  pf.IDGenerator
}

// NewQueue creates a queue running up to maxConcurrent tasks at once.
func NewQueue(maxConcurrent int64, logger pf.Logger, clock pf.Clock, idgen pf.IDGenerator) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		tasks:    make(map[string]*Task),
		retained: DefaultRetained,
		sem:    semaphore.NewWeighted(maxConcurrent),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
		clock:  clock,
		idgen:  idgen,
	}
}

// SetRetained sets how many finished tasks stay visible to Get and List.
func (q *Queue) SetRetained(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retained = n
	q.evict()
}

// evict drops the oldest finished tasks beyond the retention limit.
// Callers hold q.mu.
func (q *Queue) evict() {
	finished := 0
	for _, id := range q.order {
		if q.tasks[id].Done() {
			finished++
		}
	}
	if finished <= q.retained {
		return
	}

	drop := finished - q.retained
	kept := q.order[:0]
	for _, id := range q.order {
		if drop > 0 && q.tasks[id].Done() {
			delete(q.tasks, id)
			drop--
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
}

// Submit registers a task and starts it as soon as a slot is free.
func (q *Queue) Submit(kind, target string, fn Func) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	t := &Task{
		ID:        q.idgen.New(),
		Kind:      kind,
		Target:    target,
		Status:    StatusPending,
		CreatedAt: q.clock.Now(),
	}
	q.tasks[t.ID] = t
	q.order = append(q.order, t.ID)

	q.wg.Add(1)
	go q.run(t.ID, fn)

	q.logger.Info("task submitted", "task", t.ID, "kind", kind, "target", target)
	snapshot := *t
	return &snapshot, nil
}

func (q *Queue) run(id string, fn Func) {
	defer q.wg.Done()

	if err := q.sem.Acquire(q.ctx, 1); err != nil {
		q.finish(id, err)
		return
	}
	defer q.sem.Release(1)

	q.mu.Lock()
	started := q.clock.Now()
	q.tasks[id].Status = StatusRunning
	q.tasks[id].StartedAt = &started
	q.mu.Unlock()

	q.finish(id, fn(q.ctx))
}

func (q *Queue) finish(id string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	defer q.evict()

	t := q.tasks[id]
	finished := q.clock.Now()
	t.FinishedAt = &finished
	if err != nil {
		t.Status = StatusFailed
		t.Error = err.Error()
		q.logger.Error("task failed", "task", id, "kind", t.Kind, "error", err)
		return
	}
	t.Status = StatusSucceeded
	q.logger.Info("task succeeded", "task", id, "kind", t.Kind)
}

// Get returns a snapshot of the task with id.
func (q *Queue) Get(id string) (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return nil, false
	}
	snapshot := *t
	return &snapshot, true
}

// List returns snapshots of all tasks in submission order.
func (q *Queue) List() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	tasks := make([]*Task, 0, len(q.order))
	for _, id := range q.order {
		snapshot := *q.tasks[id]
		tasks = append(tasks, &snapshot)
	}
	return tasks
}

// Wait blocks until every submitted task has finished.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Close stops accepting tasks and waits for running ones until ctx is
// done. When ctx ends first, tasks still waiting for a slot fail and
// running tasks see their context cancelled.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}
