// Package queue provides bounded-concurrency admission and dispatch of jobs
// to kind-keyed handlers.
//
// Jobs are admitted in FIFO order of creation. At most MaxConcurrent jobs run
// at once; each completion re-runs dispatch to admit the next pending job.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/quill/pkg/models"
)

// DefaultMaxConcurrent is used when Options.MaxConcurrent is zero.
const DefaultMaxConcurrent = 2

var (
	// ErrNoHandler fails a job whose kind has no registered handler.
	ErrNoHandler = errors.New("queue: no handler for job kind")
	// ErrQueueStopped is returned by Submit after Stop.
	ErrQueueStopped = errors.New("queue: stopped")
	// ErrJobNotFound is returned for unknown job IDs.
	ErrJobNotFound = errors.New("queue: job not found")
	// ErrNotRetryable is returned by Retry for jobs that did not fail.
	ErrNotRetryable = errors.New("queue: only failed jobs can be retried")
)

// Status is the queue-level state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsFinal reports whether the job will not change again.
func (s Status) IsFinal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is a snapshot of a queued unit of work.
type Job struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Params      map[string]any  `json:"params,omitempty"`
	Status      Status          `json:"status"`
	Progress    models.Progress `json:"progress"`
	TriggeredBy models.Trigger  `json:"triggered_by"`
	Result      any             `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	// RetryOf is the ID of the failed job this one retries.
	RetryOf     string     `json:"retry_of,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Spec describes a job to submit.
type Spec struct {
	Kind        string
	Params      map[string]any
	TriggeredBy models.Trigger
}

// ProgressFunc reports handler progress.
type ProgressFunc func(models.Progress)

// Handler executes a job. The context is cancelled by Cancel or Stop.
type Handler func(ctx context.Context, job Job, report ProgressFunc) (any, error)

// Stats counts jobs by status.
type Stats struct {
	Pending       int `json:"pending"`
	Running       int `json:"running"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
	Cancelled     int `json:"cancelled"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Options configures a Queue.
type Options struct {
	MaxConcurrent int
	Now           func() time.Time
	Logger        *slog.Logger
}

type record struct {
	job             Job
	seq             uint64
	cancel          context.CancelFunc
	cancelRequested bool
	done            chan struct{}
}

type listener struct {
	id int
	fn func(Job)
}

// Queue dispatches jobs to handlers with bounded concurrency.
type Queue struct {
	mu       sync.Mutex
	jobs     map[string]*record
	pending  []*record
	running  int
	handlers map[string]Handler
	seq      uint64
	stopped  bool

	listeners []listener
	nextLID   int

	maxConcurrent int
	now           func() time.Time
	logger        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Queue.
func New(opts Options) *Queue {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		jobs:          make(map[string]*record),
		handlers:      make(map[string]Handler),
		maxConcurrent: opts.MaxConcurrent,
		now:           opts.Now,
		logger:        opts.Logger.With("component", "queue"),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// MaxConcurrent returns the concurrency bound.
func (q *Queue) MaxConcurrent() int {
	return q.maxConcurrent
}

// Register sets the handler for a job kind, replacing any previous one.
func (q *Queue) Register(kind string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

// Submit enqueues a job and runs dispatch.
func (q *Queue) Submit(spec Spec) (Job, error) {
	return q.submit(spec, "")
}

func (q *Queue) submit(spec Spec, retryOf string) (Job, error) {
	if spec.Kind == "" {
		return Job{}, fmt.Errorf("queue: job kind is required")
	}
	if spec.TriggeredBy == "" {
		spec.TriggeredBy = models.TriggerHuman
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return Job{}, ErrQueueStopped
	}
	q.seq++
	rec := &record{
		job: Job{
			ID:          uuid.New().String(),
			Kind:        spec.Kind,
			Params:      maps.Clone(spec.Params),
			Status:      StatusPending,
			TriggeredBy: spec.TriggeredBy,
			RetryOf:     retryOf,
			CreatedAt:   q.now(),
		},
		seq:  q.seq,
		done: make(chan struct{}),
	}
	q.jobs[rec.job.ID] = rec
	q.pending = append(q.pending, rec)
	// FIFO by creation time; seq breaks ties.
	sort.SliceStable(q.pending, func(i, j int) bool {
		a, b := q.pending[i], q.pending[j]
		if !a.job.CreatedAt.Equal(b.job.CreatedAt) {
			return a.job.CreatedAt.Before(b.job.CreatedAt)
		}
		return a.seq < b.seq
	})
	submitted := snapshot(rec)
	started := q.dispatchLocked()
	ls := q.listenerFuncs()
	q.mu.Unlock()

	q.logger.Debug("job submitted", "job_id", submitted.ID, "kind", submitted.Kind, "triggered_by", submitted.TriggeredBy)
	notify(ls, submitted)
	notify(ls, started...)
	return submitted, nil
}

// dispatchLocked admits pending jobs while below the bound. Must hold mu.
// It returns snapshots of the jobs it started.
func (q *Queue) dispatchLocked() []Job {
	var started []Job
	for q.running < q.maxConcurrent && len(q.pending) > 0 && !q.stopped {
		rec := q.pending[0]
		q.pending = q.pending[1:]

		now := q.now()
		rec.job.Status = StatusRunning
		rec.job.StartedAt = &now
		ctx, cancel := context.WithCancel(q.ctx)
		rec.cancel = cancel
		q.running++

		handler := q.handlers[rec.job.Kind]
		job := snapshot(rec)
		started = append(started, job)

		q.wg.Add(1)
		go q.execute(ctx, rec, handler, job)
	}
	return started
}

func (q *Queue) execute(ctx context.Context, rec *record, handler Handler, job Job) {
	defer q.wg.Done()

	var result any
	var err error
	if handler == nil {
		err = fmt.Errorf("%w: %s", ErrNoHandler, job.Kind)
	} else {
		result, err = q.run(ctx, handler, job, rec)
	}

	q.mu.Lock()
	now := q.now()
	rec.job.CompletedAt = &now
	rec.job.Result = result
	// A handler that finishes despite a cancel request keeps its result.
	switch {
	case err != nil && (rec.cancelRequested || errors.Is(err, context.Canceled) || q.ctx.Err() != nil):
		rec.job.Status = StatusCancelled
	case err != nil:
		rec.job.Status = StatusFailed
		rec.job.Error = err.Error()
	default:
		rec.job.Status = StatusCompleted
	}
	rec.cancel()
	q.running--
	close(rec.done)
	finished := snapshot(rec)
	started := q.dispatchLocked()
	ls := q.listenerFuncs()
	q.mu.Unlock()

	if finished.Status == StatusFailed {
		q.logger.Warn("job failed", "job_id", finished.ID, "kind", finished.Kind, "error", finished.Error)
	} else {
		q.logger.Debug("job finished", "job_id", finished.ID, "status", finished.Status)
	}
	notify(ls, finished)
	notify(ls, started...)
}

// run calls the handler, converting a panic into an error.
func (q *Queue) run(ctx context.Context, handler Handler, job Job, rec *record) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: handler panic: %v", r)
		}
	}()
	report := func(p models.Progress) {
		q.mu.Lock()
		rec.job.Progress = p
		snap := snapshot(rec)
		ls := q.listenerFuncs()
		q.mu.Unlock()
		notify(ls, snap)
	}
	return handler(ctx, job, report)
}

// Get returns a snapshot of the job.
func (q *Queue) Get(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return snapshot(rec), true
}

// List returns every job ordered by creation.
func (q *Queue) List() []Job {
	q.mu.Lock()
	recs := make([]*record, 0, len(q.jobs))
	for _, rec := range q.jobs {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	out := make([]Job, len(recs))
	for i, rec := range recs {
		out[i] = snapshot(rec)
	}
	q.mu.Unlock()
	return out
}

// Cancel signals a running job. It returns false unless the job is running.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.jobs[id]
	if !ok || rec.job.Status != StatusRunning {
		return false
	}
	rec.cancelRequested = true
	rec.cancel()
	return true
}

// Retry submits a copy of a failed job. The failed job is kept unchanged.
func (q *Queue) Retry(id string) (Job, error) {
	q.mu.Lock()
	rec, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return Job{}, ErrJobNotFound
	}
	if rec.job.Status != StatusFailed {
		q.mu.Unlock()
		return Job{}, ErrNotRetryable
	}
	spec := Spec{Kind: rec.job.Kind, Params: rec.job.Params, TriggeredBy: rec.job.TriggeredBy}
	q.mu.Unlock()

	return q.submit(spec, id)
}

// Stats counts jobs by status.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{MaxConcurrent: q.maxConcurrent}
	for _, rec := range q.jobs {
		switch rec.job.Status {
		case StatusPending:
			s.Pending++
		case StatusRunning:
			s.Running++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

// Wait blocks until the job reaches a final status or ctx is done.
func (q *Queue) Wait(ctx context.Context, id string) (Job, error) {
	q.mu.Lock()
	rec, ok := q.jobs[id]
	q.mu.Unlock()
	if !ok {
		return Job{}, ErrJobNotFound
	}

	select {
	case <-rec.done:
		job, _ := q.Get(id)
		return job, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// OnUpdate registers a listener called after every job change. The returned
// function removes it.
func (q *Queue) OnUpdate(fn func(Job)) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextLID++
	id := q.nextLID
	q.listeners = append(q.listeners, listener{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			for i, l := range q.listeners {
				if l.id == id {
					q.listeners = append(q.listeners[:i], q.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Stop rejects new jobs, cancels pending and running jobs and waits for
// handlers to return or ctx to end.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	now := q.now()
	var dropped []Job
	for _, rec := range q.pending {
		rec.job.Status = StatusCancelled
		rec.job.CompletedAt = &now
		close(rec.done)
		dropped = append(dropped, snapshot(rec))
	}
	q.pending = nil
	ls := q.listenerFuncs()
	q.mu.Unlock()

	notify(ls, dropped...)
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

func (q *Queue) listenerFuncs() []func(Job) {
	out := make([]func(Job), len(q.listeners))
	for i, l := range q.listeners {
		out[i] = l.fn
	}
	return out
}

func snapshot(rec *record) Job {
	j := rec.job
	j.Params = maps.Clone(rec.job.Params)
	return j
}

func notify(ls []func(Job), jobs ...Job) {
	for _, j := range jobs {
		for _, fn := range ls {
			fn(j)
		}
	}
}
