package orchestrator

import (
	"github.com/ShayCichocki/quill/pkg/models"
)

// Pause asks a running task to stop at its next cancellation check. The task
// then enters PAUSED and is checkpointed. An empty taskID means the current
// task. It returns false unless the task is executing.
func (o *Orchestrator) Pause(taskID string) bool {
	o.mu.Lock()
	if taskID == "" {
		taskID = o.current
	}
	e, ok := o.tasks[taskID]
	if !ok || e.cancel == nil {
		o.mu.Unlock()
		return false
	}
	cancel := e.cancel
	o.mu.Unlock()

	if e.machine.State() != models.StateExecuting {
		return false
	}
	o.logger.Info("pausing task", "task_id", taskID)
	cancel(ErrPaused)
	return true
}

// PauseAll pauses every executing task and returns how many were signalled.
func (o *Orchestrator) PauseAll() int {
	o.mu.Lock()
	var ids []string
	for id, e := range o.tasks {
		if e.cancel != nil {
			ids = append(ids, id)
		}
	}
	o.mu.Unlock()

	n := 0
	for _, id := range ids {
		if o.Pause(id) {
			n++
		}
	}
	return n
}

// Running returns snapshots of the tasks whose handlers are currently running.
func (o *Orchestrator) Running() []*models.Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sortedLocked(func(e *entry) bool { return e.cancel != nil })
}
