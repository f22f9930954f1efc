package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/ShayCichocki/quill/internal/intent"
	"github.com/ShayCichocki/quill/internal/lifecycle"
	"github.com/ShayCichocki/quill/internal/lock"
	"github.com/ShayCichocki/quill/internal/queue"
	"github.com/ShayCichocki/quill/internal/skill"
	"github.com/ShayCichocki/quill/internal/store"
	"github.com/ShayCichocki/quill/pkg/models"
)

const (
	// DefaultConfidenceThreshold is the confidence below which Submit asks for clarification.
	DefaultConfidenceThreshold = 0.6
	// DefaultCheckpointMaxAge is the age after which checkpoints are not restored.
	DefaultCheckpointMaxAge = 24 * time.Hour
	// DefaultHistoryLimit caps the persisted task history.
	DefaultHistoryLimit = 200
	// ClarificationCandidates is the number of intents offered in a clarification.
	ClarificationCandidates = 3
	// ReasonSkillNotFound prefixes the error of a task whose intent has no skill.
	ReasonSkillNotFound = "SKILL_NOT_FOUND"
)

var (
	// ErrTaskNotFound is returned for unknown task IDs.
	ErrTaskNotFound = errors.New("orchestrator: task not found")
	// ErrNotResumable is returned when resuming or abandoning a task that is not paused.
	ErrNotResumable = errors.New("orchestrator: task is not paused")
	// ErrShutdown is returned after Shutdown.
	ErrShutdown = errors.New("orchestrator: shut down")
	// ErrBudgetExhausted is returned when the token budget has been used up.
	ErrBudgetExhausted = errors.New("orchestrator: token budget exhausted")
	// ErrNoQueue is returned by Enqueue when no queue is configured.
	ErrNoQueue = errors.New("orchestrator: no queue configured")

	// ErrPaused is the cancellation cause of a paused task.
	ErrPaused = errors.New("orchestrator: task paused")
	// ErrAborted is the cancellation cause of an aborted task.
	ErrAborted = errors.New("orchestrator: task aborted")
)

// Status is the outcome reported in a Response.
type Status string

const (
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusCancelled     Status = "cancelled"
	StatusPaused        Status = "paused"
	StatusClarification Status = "clarification"
)

// Response is the result of Submit or ResumeTask.
type Response struct {
	Status Status `json:"status"`
	// TaskID is empty for clarifications, which create no task.
	TaskID string `json:"task_id,omitempty"`
	// Intent is the classified intent; nil for resumed tasks.
	Intent  *models.Intent `json:"intent,omitempty"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	// Candidates are the top intents offered for disambiguation.
	Candidates []models.Intent `json:"candidates,omitempty"`
	NextSteps  []string        `json:"next_steps,omitempty"`
	Usage      models.Usage    `json:"usage"`
}

// SubmitContext carries caller-supplied data for Submit.
type SubmitContext struct {
	// Params are merged over the parameters extracted from the request.
	Params map[string]any
	// TriggeredBy defaults to human.
	TriggeredBy models.Trigger
}

// Classifier classifies a request into an intent.
type Classifier interface {
	Classify(ctx context.Context, text string) intent.Classification
}

// Deps are the collaborators of an Orchestrator. Classifier and Skills are required.
type Deps struct {
	Classifier Classifier
	Skills     *skill.Registry
	// Locks defaults to a coordinator with default TTL.
	Locks *lock.Coordinator
	// Queue is optional; without it Enqueue fails.
	Queue *queue.Queue
	// Store defaults to an in-memory store.
	Store  store.Store
	Logger *slog.Logger
	// TracerProvider and MeterProvider default to the otel globals.
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Options tunes an Orchestrator. Zero values take the defaults.
type Options struct {
	ConfidenceThreshold float64
	CheckpointMaxAge    time.Duration
	HistoryLimit        int
	WatchdogTimeout     time.Duration
	// MaxConcurrent bounds the tasks executing at once across Submit,
	// ResumeTask and queued jobs. Zero takes the queue's bound.
	MaxConcurrent int
	// TokenBudget stops new tasks once reached; zero is unlimited.
	TokenBudget int64
	Now         func() time.Time
}

// entry is the arena record of a task: the task, its state machine and,
// while a handler runs, its cancellation handle.
type entry struct {
	task    *models.Task
	machine *lifecycle.Machine
	cancel  context.CancelCauseFunc
	report  queue.ProgressFunc
	// busy is set while the task is being executed, resumed or abandoned.
	busy bool
	// checkpointed is set while the task has a record in the checkpoints blob.
	checkpointed bool
}

// Orchestrator classifies requests, runs skills through the task lifecycle
// and keeps paused tasks resumable across restarts.
type Orchestrator struct {
	classifier Classifier
	skills     *skill.Registry
	locks      *lock.Coordinator
	queue      *queue.Queue
	store      store.Store
	logger     *slog.Logger
	opts       Options

	bus    *Bus
	budget *BudgetHandler
	tel    *telemetry
	slots  *semaphore.Weighted

	mu          sync.Mutex
	tasks       map[string]*entry
	current     string
	initialized bool
	closed      bool
	running     sync.WaitGroup

	// persistMu serializes this orchestrator's load-mutate-save cycles.
	persistMu sync.Mutex
}

// New creates an Orchestrator and registers a queue handler for every intent
// type that has a skill.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Classifier == nil {
		return nil, errors.New("orchestrator: classifier is required")
	}
	if deps.Skills == nil {
		return nil, errors.New("orchestrator: skill registry is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	logger := deps.Logger.With("component", "orchestrator")
	if deps.Locks == nil {
		deps.Locks = lock.NewCoordinator(lock.Options{Logger: deps.Logger})
	}
	if deps.Store == nil {
		deps.Store = store.NewMemory()
	}
	if opts.ConfidenceThreshold <= 0 {
		opts.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if opts.CheckpointMaxAge <= 0 {
		opts.CheckpointMaxAge = DefaultCheckpointMaxAge
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.WatchdogTimeout <= 0 {
		opts.WatchdogTimeout = lifecycle.DefaultWatchdogTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = queue.DefaultMaxConcurrent
		if deps.Queue != nil {
			opts.MaxConcurrent = deps.Queue.MaxConcurrent()
		}
	}

	o := &Orchestrator{
		classifier: deps.Classifier,
		skills:     deps.Skills,
		locks:      deps.Locks,
		queue:      deps.Queue,
		store:      deps.Store,
		logger:     logger,
		opts:       opts,
		bus:        NewBus(logger),
		budget:     NewBudgetHandler(opts.TokenBudget),
		tel:        newTelemetry(deps.TracerProvider, deps.MeterProvider, logger),
		slots:      semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		tasks:      make(map[string]*entry),
	}

	if o.queue != nil {
		for _, kind := range models.AllIntentTypes() {
			if _, ok := o.skills.Resolve(kind); ok {
				o.queue.Register(string(kind), o.queueHandler(kind))
			}
		}
	}
	return o, nil
}

// Events returns the event bus.
func (o *Orchestrator) Events() *Bus {
	return o.bus
}

// Locks returns the lock coordinator used for skill resources.
func (o *Orchestrator) Locks() *lock.Coordinator {
	return o.locks
}

// Usage returns the token and cost usage of every task run by this orchestrator.
func (o *Orchestrator) Usage() models.Usage {
	return o.budget.Usage()
}

// Budget returns the budget status.
func (o *Orchestrator) Budget() BudgetStatus {
	return o.budget.CheckBudget()
}

// Submit classifies text and, if the intent is confident enough, runs the
// matching skill to completion. Low-confidence requests return a
// clarification response and create no task.
func (o *Orchestrator) Submit(ctx context.Context, text string, sc SubmitContext) (*Response, error) {
	ctx, span := o.tel.tracer.Start(ctx, "orchestrator.submit")
	defer span.End()

	if err := o.admit(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	cls := o.classifier.Classify(ctx, text)
	in := cls.Intent
	span.SetAttributes(
		attribute.String("intent", string(in.Type)),
		attribute.Float64("confidence", in.Confidence),
		attribute.String("source", string(in.Source)),
	)

	if in.Confidence < o.opts.ConfidenceThreshold {
		candidates := cls.Top(ClarificationCandidates)
		o.logger.Info("asking for clarification",
			"intent", in.Type,
			"confidence", in.Confidence,
			"candidates", len(candidates))
		return &Response{
			Status:     StatusClarification,
			Intent:     &in,
			Message:    clarificationMessage(candidates),
			Candidates: candidates,
		}, nil
	}

	if err := o.acquireSlot(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer o.slots.Release(1)

	params := intentParams(in)
	maps.Copy(params, sc.Params)
	e := o.createTask(in.Type, text, params, sc.TriggeredBy)
	span.SetAttributes(attribute.String("task_id", e.task.ID))

	resp := o.execute(ctx, e)
	resp.Intent = &in
	if resp.Status == StatusFailed {
		span.SetStatus(codes.Error, resp.Message)
	}
	return resp, nil
}

// Enqueue submits a task of a known kind to the queue, bypassing classification.
func (o *Orchestrator) Enqueue(ctx context.Context, kind models.IntentType, params map[string]any, trigger models.Trigger) (queue.Job, error) {
	if o.queue == nil {
		return queue.Job{}, ErrNoQueue
	}
	if err := ctx.Err(); err != nil {
		return queue.Job{}, err
	}
	if err := o.admit(); err != nil {
		return queue.Job{}, err
	}
	return o.queue.Submit(queue.Spec{Kind: string(kind), Params: params, TriggeredBy: trigger})
}

// Abort cancels a running task, or abandons a paused one. An empty taskID
// means the current task. It returns false if there was nothing to abort.
func (o *Orchestrator) Abort(taskID string) bool {
	o.mu.Lock()
	if taskID == "" {
		taskID = o.current
	}
	e, ok := o.tasks[taskID]
	var cancel context.CancelCauseFunc
	if ok {
		cancel = e.cancel
	}
	o.mu.Unlock()

	switch {
	case !ok:
		return false
	case cancel != nil:
		o.logger.Info("aborting task", "task_id", taskID)
		cancel(ErrAborted)
		return true
	case e.machine.State() == models.StatePaused:
		return o.AbandonTask(context.Background(), taskID) == nil
	default:
		return false
	}
}

// QueueStats counts queued jobs by status. Without a queue only
// MaxConcurrent is set.
func (o *Orchestrator) QueueStats() queue.Stats {
	if o.queue == nil {
		return queue.Stats{MaxConcurrent: o.opts.MaxConcurrent}
	}
	return o.queue.Stats()
}

// Jobs returns every queued job, oldest first.
func (o *Orchestrator) Jobs() []queue.Job {
	if o.queue == nil {
		return nil
	}
	return o.queue.List()
}

// RetryJob resubmits a failed queued job as a new job.
func (o *Orchestrator) RetryJob(id string) (queue.Job, error) {
	if o.queue == nil {
		return queue.Job{}, ErrNoQueue
	}
	if err := o.admit(); err != nil {
		return queue.Job{}, err
	}
	job, err := o.queue.Retry(id)
	if err != nil {
		return queue.Job{}, fmt.Errorf("retry job %s: %w", id, err)
	}
	o.logger.Info("retrying job", "job_id", id, "retry_id", job.ID, "kind", job.Kind)
	return job, nil
}

// Task returns a snapshot of a task.
func (o *Orchestrator) Task(id string) (*models.Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.tasks[id]
	if !ok {
		return nil, false
	}
	return e.task.Clone(), true
}

// Tasks returns snapshots of every task in the arena, oldest first.
func (o *Orchestrator) Tasks() []*models.Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sortedLocked(func(*entry) bool { return true })
}

// CurrentTask returns the most recently dispatched task.
func (o *Orchestrator) CurrentTask() (*models.Task, bool) {
	o.mu.Lock()
	id := o.current
	o.mu.Unlock()
	if id == "" {
		return nil, false
	}
	return o.Task(id)
}

// Shutdown stops accepting work, pauses running tasks so they are
// checkpointed, waits for their handlers to return and stops the queue.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	var cancels []context.CancelCauseFunc
	for _, e := range o.tasks {
		if e.cancel != nil {
			cancels = append(cancels, e.cancel)
		}
	}
	o.mu.Unlock()

	o.logger.Info("shutting down", "running", len(cancels))
	for _, cancel := range cancels {
		cancel(ErrPaused)
	}

	done := make(chan struct{})
	go func() {
		o.running.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("wait for running tasks: %w", ctx.Err())
	}

	if o.queue != nil {
		if err := o.queue.Stop(ctx); err != nil {
			return fmt.Errorf("stop queue: %w", err)
		}
	}
	return nil
}

// admit rejects new work after Shutdown or once the budget is exhausted.
func (o *Orchestrator) admit() error {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return ErrShutdown
	}
	if !o.budget.CanStartNew() {
		return ErrBudgetExhausted
	}
	return nil
}

// acquireSlot waits for an execution slot, then re-checks admission since
// Shutdown or the budget may have changed while waiting. The caller releases
// the slot.
func (o *Orchestrator) acquireSlot(ctx context.Context) error {
	if err := o.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for execution slot: %w", err)
	}
	if err := o.admit(); err != nil {
		o.slots.Release(1)
		return err
	}
	return nil
}

func (o *Orchestrator) newEntry(task *models.Task) *entry {
	e := &entry{
		task: task,
		machine: lifecycle.New(lifecycle.Options{
			WatchdogTimeout: o.opts.WatchdogTimeout,
			Now:             o.opts.Now,
			Logger:          o.logger.With("task_id", task.ID),
		}),
	}
	e.machine.OnEnter(models.StateExecuting, func(t lifecycle.Transition) {
		o.mu.Lock()
		if e.task.StartedAt == nil {
			at := t.At
			e.task.StartedAt = &at
		}
		o.mu.Unlock()
	})
	e.machine.OnTransition(func(t lifecycle.Transition) {
		o.onTransition(e, t)
	})
	return e
}

// onTransition mirrors the machine state into the task and publishes it.
// A watchdog-forced ERROR also cancels the running handler.
func (o *Orchestrator) onTransition(e *entry, t lifecycle.Transition) {
	o.mu.Lock()
	e.task.State = t.To
	if t.To.IsTerminal() && e.task.CompletedAt == nil {
		at := t.At
		e.task.CompletedAt = &at
	}
	switch {
	case t.Reason != nil:
		e.task.Error = t.Reason.Error()
	case t.Note != "":
		e.task.Error = t.Note
	}
	cancel := e.cancel
	snap := e.task.Clone()
	o.mu.Unlock()

	if t.Reason != nil && cancel != nil {
		cancel(*t.Reason)
	}
	o.logger.Debug("task state changed", "task_id", snap.ID, "from", t.From, "to", t.To)
	o.bus.StateChanged.publish(StateChanged{State: t.To, From: t.From, Task: snap, At: t.At})
}

// createTask puts a new task in the arena and moves it to PLANNING.
func (o *Orchestrator) createTask(kind models.IntentType, input string, params map[string]any, trigger models.Trigger) *entry {
	if trigger == "" {
		trigger = models.TriggerHuman
	}
	task := &models.Task{
		ID:          uuid.NewString(),
		Kind:        kind,
		State:       models.StateIdle,
		Input:       input,
		Params:      params,
		TriggeredBy: trigger,
		CreatedAt:   o.opts.Now(),
	}
	e := o.newEntry(task)
	e.busy = true

	o.mu.Lock()
	o.tasks[task.ID] = e
	o.current = task.ID
	o.mu.Unlock()

	e.machine.Transition(models.StateUnderstanding)
	e.machine.Transition(models.StatePlanning)
	return e
}

// execute runs the task's skill and settles the task according to the
// outcome. The entry must be marked busy by the caller.
func (o *Orchestrator) execute(ctx context.Context, e *entry) *Response {
	o.mu.Lock()
	id, kind := e.task.ID, e.task.Kind
	params := maps.Clone(e.task.Params)
	checkpoint := e.task.Checkpoint
	o.mu.Unlock()

	ctx, span := o.tel.tracer.Start(ctx, "orchestrator.execute", trace.WithAttributes(
		attribute.String("task_id", id),
		attribute.String("intent", string(kind)),
	))
	defer span.End()
	defer o.release(e)

	logger := o.logger.With("task_id", id, "intent", kind)

	sk, ok := o.skills.Resolve(kind)
	if !ok {
		msg := fmt.Sprintf("%s: no skill handles %s", ReasonSkillNotFound, kind)
		e.machine.Fail(msg)
		span.SetStatus(codes.Error, msg)
		return o.finishFailed(ctx, e, msg)
	}

	taskCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return o.finishCancelled(ctx, e, "Task cancelled: orchestrator is shutting down")
	}
	e.cancel = cancel
	o.running.Add(1)
	o.mu.Unlock()
	defer o.running.Done()

	if !e.machine.Transition(models.StateExecuting) {
		msg := fmt.Sprintf("cannot start task from state %s", e.machine.State())
		return o.finishFailed(ctx, e, msg)
	}
	logger.Info("executing skill", "skill", sk.Name)

	sc := skill.NewContext(taskCtx, skill.ContextOptions{
		TaskID:     id,
		Locks:      o.locks,
		Logger:     logger.With("skill", sk.Name),
		Checkpoint: checkpoint,
		OnProgress: func(p models.Progress) {
			o.recordProgress(e, p)
		},
		OnCost: func(tokens int64, cost float64) {
			o.recordCost(e, tokens, cost)
		},
		OnCheckpoint: func(data []byte) {
			o.mu.Lock()
			e.task.Checkpoint = append([]byte(nil), data...)
			o.mu.Unlock()
		},
	})

	started := time.Now()
	result, err := runHandler(sk.Handler, sc, params)
	if err == nil && (result == nil || !result.Success) {
		msg := "skill reported failure"
		if result != nil && result.Error != "" {
			msg = result.Error
		}
		err = errors.New(msg)
	}
	cause := context.Cause(taskCtx)
	cancelled := skill.IsCancellation(err) || (err != nil && taskCtx.Err() != nil)
	logger.Debug("skill returned", "elapsed_ms", time.Since(started).Milliseconds(), "error", err)

	switch {
	case e.machine.State() == models.StateError:
		// Forced by the watchdog while the handler ran.
		o.mu.Lock()
		msg := e.task.Error
		o.mu.Unlock()
		span.SetStatus(codes.Error, msg)
		return o.finishFailed(ctx, e, msg)
	case err == nil:
		return o.finishCompleted(ctx, e, result)
	case cancelled && errors.Is(cause, ErrPaused):
		return o.finishPaused(ctx, e)
	case cancelled:
		return o.finishCancelled(ctx, e, "Task cancelled")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return o.finishFailed(ctx, e, err.Error())
	}
}

// release clears the run state of an entry after execute.
func (o *Orchestrator) release(e *entry) {
	o.mu.Lock()
	e.cancel = nil
	e.report = nil
	e.busy = false
	o.mu.Unlock()
}

func (o *Orchestrator) finishCompleted(ctx context.Context, e *entry, result *skill.Result) *Response {
	if !e.machine.Transition(models.StateCompleted) {
		return o.finishFailed(ctx, e, fmt.Sprintf("cannot complete task from state %s", e.machine.State()))
	}

	// Handlers that report usage only in the result are still accounted for.
	o.mu.Lock()
	extraTokens := max(result.TokensUsed-e.task.Usage.TokensUsed, 0)
	extraCost := max(result.Cost-e.task.Usage.Cost, 0)
	e.task.Usage.Add(extraTokens, extraCost)
	o.mu.Unlock()
	if extraTokens > 0 || extraCost > 0 {
		o.budget.Add(extraTokens, extraCost)
	}

	snap := o.settle(ctx, e)
	o.logger.Info("task completed",
		"task_id", snap.ID,
		"tokens", snap.Usage.TokensUsed,
		"cost", snap.Usage.Cost)
	o.bus.TaskCompleted.publish(TaskCompleted{TaskID: snap.ID, Result: result, At: o.opts.Now()})
	o.tel.count(ctx, o.tel.completed, snap)

	return &Response{
		Status:    StatusCompleted,
		TaskID:    snap.ID,
		Message:   completionMessage(snap, result),
		Data:      result.Data,
		NextSteps: result.NextSteps,
		Usage:     snap.Usage,
	}
}

func (o *Orchestrator) finishFailed(ctx context.Context, e *entry, msg string) *Response {
	if e.machine.State() != models.StateError && !e.machine.Transition(models.StateError) {
		e.machine.Fail(msg)
	}
	o.mu.Lock()
	e.task.Error = msg
	o.mu.Unlock()

	snap := o.settle(ctx, e)
	o.logger.Warn("task failed", "task_id", snap.ID, "intent", snap.Kind, "error", msg)
	o.bus.TaskFailed.publish(TaskFailed{TaskID: snap.ID, Error: msg, At: o.opts.Now()})
	o.tel.count(ctx, o.tel.failed, snap)

	return &Response{
		Status:  StatusFailed,
		TaskID:  snap.ID,
		Message: "Task failed: " + msg,
		Usage:   snap.Usage,
	}
}

func (o *Orchestrator) finishCancelled(ctx context.Context, e *entry, msg string) *Response {
	if !e.machine.Transition(models.StateCancelled) {
		return o.finishFailed(ctx, e, fmt.Sprintf("cannot cancel task from state %s", e.machine.State()))
	}
	snap := o.settle(ctx, e)
	o.logger.Info("task cancelled", "task_id", snap.ID)
	o.tel.count(ctx, o.tel.cancelled, snap)

	return &Response{
		Status:  StatusCancelled,
		TaskID:  snap.ID,
		Message: msg,
		Usage:   snap.Usage,
	}
}

func (o *Orchestrator) finishPaused(ctx context.Context, e *entry) *Response {
	if !e.machine.Transition(models.StatePaused) {
		return o.finishCancelled(ctx, e, "Task cancelled")
	}
	snap := o.settle(ctx, e)
	o.saveCheckpoint(ctx, snap)
	o.mu.Lock()
	e.checkpointed = true
	o.mu.Unlock()
	o.logger.Info("task paused", "task_id", snap.ID, "checkpoint_bytes", len(snap.Checkpoint))

	return &Response{
		Status:  StatusPaused,
		TaskID:  snap.ID,
		Message: fmt.Sprintf("Task paused; resume it with %s", snap.ID),
		Usage:   snap.Usage,
	}
}

// settle releases every lock held by the task and, for terminal states,
// drops its checkpoint and records it in the history. It returns the final
// snapshot.
func (o *Orchestrator) settle(ctx context.Context, e *entry) *models.Task {
	o.mu.Lock()
	id := e.task.ID
	o.mu.Unlock()

	held := o.locks.Held(id)
	if n := o.locks.ReleaseAll(id); n > 0 {
		o.logger.Debug("released task locks", "task_id", id, "count", n)
	}

	o.mu.Lock()
	if len(held) > 0 {
		e.task.Resources = held
	}
	snap := e.task.Clone()
	checkpointed := e.checkpointed && snap.State.IsTerminal()
	if checkpointed {
		e.checkpointed = false
	}
	o.mu.Unlock()

	if checkpointed {
		o.deleteCheckpoint(ctx, id)
	}
	if snap.State.IsTerminal() {
		e.machine.Close()
		o.recordHistory(ctx, snap)
		o.trimArena()
	}
	return snap
}

func (o *Orchestrator) recordProgress(e *entry, p models.Progress) {
	o.mu.Lock()
	e.task.Progress = p
	id := e.task.ID
	usage := e.task.Usage
	report := e.report
	o.mu.Unlock()

	if report != nil {
		report(p)
	}
	o.bus.TaskProgress.publish(TaskProgress{TaskID: id, Progress: p, Usage: usage, At: o.opts.Now()})
}

func (o *Orchestrator) recordCost(e *entry, tokens int64, cost float64) {
	o.mu.Lock()
	e.task.Usage.Add(tokens, cost)
	o.mu.Unlock()

	before, after := o.budget.Add(tokens, cost)
	if before != after {
		used := o.budget.Usage()
		o.logger.Warn("token budget status changed",
			"status", after.String(),
			"tokens_used", used.TokensUsed,
			"budget", o.opts.TokenBudget)
	}
}

// trimArena drops the oldest terminal tasks beyond the history limit.
func (o *Orchestrator) trimArena() {
	o.mu.Lock()
	defer o.mu.Unlock()
	var terminal []*entry
	for _, e := range o.tasks {
		if e.task.State.IsTerminal() {
			terminal = append(terminal, e)
		}
	}
	if len(terminal) <= o.opts.HistoryLimit {
		return
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].task.CreatedAt.Before(terminal[j].task.CreatedAt)
	})
	for _, e := range terminal[:len(terminal)-o.opts.HistoryLimit] {
		delete(o.tasks, e.task.ID)
	}
}

// sortedLocked returns snapshots of matching entries by creation time. Must hold mu.
func (o *Orchestrator) sortedLocked(match func(*entry) bool) []*models.Task {
	var out []*models.Task
	for _, e := range o.tasks {
		if match(e) {
			out = append(out, e.task.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// queueHandler runs queued jobs of one intent type through the same
// lifecycle as submitted requests.
func (o *Orchestrator) queueHandler(kind models.IntentType) queue.Handler {
	return func(ctx context.Context, job queue.Job, report queue.ProgressFunc) (any, error) {
		if err := o.acquireSlot(ctx); err != nil {
			return nil, err
		}
		defer o.slots.Release(1)
		params := maps.Clone(job.Params)
		if params == nil {
			params = map[string]any{}
		}
		input, _ := skill.StringParam(params, skill.ParamInput)

		e := o.createTask(kind, input, params, job.TriggeredBy)
		o.mu.Lock()
		e.report = report
		o.mu.Unlock()

		resp := o.execute(ctx, e)
		switch resp.Status {
		case StatusCompleted:
			return resp, nil
		case StatusCancelled, StatusPaused:
			return resp, fmt.Errorf("%s: %w", resp.Message, context.Canceled)
		default:
			return resp, errors.New(resp.Message)
		}
	}
}

// runHandler calls the handler, converting a panic into an error.
func runHandler(h skill.Handler, sc *skill.Context, params map[string]any) (result *skill.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("skill panic: %v", r)
		}
	}()
	return h.Execute(sc, params)
}

// intentParams converts an intent's entities and parameters to skill params.
func intentParams(in models.Intent) map[string]any {
	params := map[string]any{skill.ParamInput: in.RawText}
	if len(in.Entities) > 0 {
		params[skill.ParamEntities] = append([]string(nil), in.Entities...)
	}
	for k, v := range in.Parameters {
		params[k] = v
	}
	return params
}

func clarificationMessage(candidates []models.Intent) string {
	if len(candidates) == 0 {
		return "I'm not sure what you'd like to do. Could you rephrase?"
	}
	var b strings.Builder
	b.WriteString("I'm not sure what you'd like to do. Did you mean:")
	for i, c := range candidates {
		fmt.Fprintf(&b, "\n  %d. %s (%.0f%%)", i+1, c.Type, c.Confidence*100)
	}
	return b.String()
}

func completionMessage(task *models.Task, result *skill.Result) string {
	msg := fmt.Sprintf("Task %s completed", task.Kind)
	if data, ok := result.Data.(map[string]any); ok {
		for _, key := range []string{"answer", "summary", "path"} {
			if v, ok := data[key].(string); ok && v != "" {
				if key == "path" {
					return msg + ": wrote " + v
				}
				return v
			}
		}
	}
	return msg
}
