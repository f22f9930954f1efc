package skill

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ShayCichocki/quill/internal/lock"
	"github.com/ShayCichocki/quill/pkg/models"
)

// ContextOptions wires a Context to the running task.
type ContextOptions struct {
	TaskID string
	Locks  *lock.Coordinator
	Logger *slog.Logger
	// Checkpoint is the data saved by a previous run of the task, if any.
	Checkpoint []byte
	// OnProgress is called for every progress report.
	OnProgress func(models.Progress)
	// OnCost is called for every recorded cost.
	OnCost func(tokens int64, cost float64)
	// OnCheckpoint is called when the handler saves resumable state.
	OnCheckpoint func([]byte)
}

// Context is handed to a Handler. It carries the cancellation signal and the
// task-scoped services.
type Context struct {
	ctx    context.Context
	taskID string
	locks  *lock.Coordinator
	logger *slog.Logger

	onProgress   func(models.Progress)
	onCost       func(int64, float64)
	onCheckpoint func([]byte)

	mu         sync.Mutex
	checkpoint []byte
}

// NewContext creates a handler context bound to ctx.
func NewContext(ctx context.Context, opts ContextOptions) *Context {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Context{
		ctx:          ctx,
		taskID:       opts.TaskID,
		locks:        opts.Locks,
		logger:       opts.Logger,
		onProgress:   opts.OnProgress,
		onCost:       opts.OnCost,
		onCheckpoint: opts.OnCheckpoint,
		checkpoint:   append([]byte(nil), opts.Checkpoint...),
	}
}

// Signal returns the context cancelled when the task is aborted or paused.
func (c *Context) Signal() context.Context {
	return c.ctx
}

// Cancelled returns ErrCancelled if the signal has fired.
func (c *Context) Cancelled() error {
	if c.ctx.Err() != nil {
		return ErrCancelled
	}
	return nil
}

// TaskID returns the ID of the running task.
func (c *Context) TaskID() string {
	return c.taskID
}

// Progress reports step of total with a message.
func (c *Context) Progress(step, total int, message string) {
	if c.onProgress != nil {
		c.onProgress(models.Progress{Step: step, Total: total, Message: message})
	}
}

// AcquireLock locks a resource for this task. It returns false on conflict.
func (c *Context) AcquireLock(resource string) bool {
	if c.locks == nil {
		return true
	}
	return c.locks.Acquire(resource, c.taskID)
}

// AcquireLocks locks every resource or none of the newly requested ones.
func (c *Context) AcquireLocks(resources []string) lock.BatchResult {
	if c.locks == nil {
		return lock.BatchResult{Acquired: resources}
	}
	return c.locks.AcquireBatch(resources, c.taskID)
}

// ReleaseLock releases a resource held by this task.
func (c *Context) ReleaseLock(resource string) {
	if c.locks != nil {
		c.locks.Release(resource, c.taskID)
	}
}

// Logger returns the task-scoped logger.
func (c *Context) Logger() *slog.Logger {
	return c.logger
}

// RecordCost adds token usage and cost to the task.
func (c *Context) RecordCost(tokens int64, cost float64) {
	if c.onCost != nil {
		c.onCost(tokens, cost)
	}
}

// Checkpoint returns the state saved by a previous run, or nil.
func (c *Context) Checkpoint() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.checkpoint...)
}

// SaveCheckpoint stores resumable state. It is persisted if the task is paused.
func (c *Context) SaveCheckpoint(data []byte) {
	c.mu.Lock()
	c.checkpoint = append([]byte(nil), data...)
	c.mu.Unlock()
	if c.onCheckpoint != nil {
		c.onCheckpoint(data)
	}
}

// IsCancellation reports whether err means the handler stopped because it was cancelled.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
