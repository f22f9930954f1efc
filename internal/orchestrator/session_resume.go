package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ShayCichocki/quill/pkg/models"
)

// Blob names in the persistence store.
const (
	CheckpointsBlob = "checkpoints"
	HistoryBlob     = "task-history"
)

// checkpointRecord is one paused task in the checkpoints blob.
type checkpointRecord struct {
	Task    *models.Task `json:"task"`
	SavedAt time.Time    `json:"saved_at"`
}

// Initialize restores checkpointed tasks as PAUSED and prunes checkpoints
// that are too old or already terminal. It is idempotent. Persistence errors
// are logged and do not fail initialization.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrShutdown
	}
	if o.initialized {
		o.mu.Unlock()
		return nil
	}
	o.initialized = true
	o.mu.Unlock()

	o.persistMu.Lock()
	records, err := o.loadCheckpoints(ctx)
	if err != nil {
		o.logger.Warn("load checkpoints", "error", err)
	}

	now := o.opts.Now()
	var restored []*models.Task
	pruned := 0
	for id, rec := range records {
		switch {
		case rec.Task == nil || rec.Task.ID != id:
			delete(records, id)
			pruned++
		case now.Sub(rec.SavedAt) > o.opts.CheckpointMaxAge:
			o.logger.Info("pruning stale checkpoint", "task_id", id, "saved_at", rec.SavedAt)
			delete(records, id)
			pruned++
		case rec.Task.State.IsTerminal():
			delete(records, id)
			pruned++
		default:
			task := rec.Task.Clone()
			task.State = models.StatePaused
			e := o.newEntry(task)
			e.checkpointed = true
			e.machine.Restore(models.StatePaused)

			o.mu.Lock()
			if _, exists := o.tasks[id]; !exists {
				o.tasks[id] = e
				restored = append(restored, task.Clone())
			}
			o.mu.Unlock()
		}
	}
	if pruned > 0 {
		if err := o.saveCheckpoints(ctx, records); err != nil {
			o.logger.Warn("save pruned checkpoints", "error", err)
		}
	}
	o.persistMu.Unlock()

	sort.Slice(restored, func(i, j int) bool {
		return restored[i].CreatedAt.Before(restored[j].CreatedAt)
	})
	o.logger.Info("checkpoints loaded", "restored", len(restored), "pruned", pruned)
	o.bus.CheckpointsLoaded.publish(CheckpointsLoaded{Tasks: restored, At: now})
	return nil
}

// ResumableTasks returns the paused tasks that can be resumed or abandoned.
func (o *Orchestrator) ResumableTasks() []*models.Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sortedLocked(func(e *entry) bool {
		return !e.busy && e.task.State == models.StatePaused
	})
}

// ResumeTask runs a paused task again from its checkpoint. It waits for an
// execution slot like Submit. The checkpoint is kept until the task reaches
// a terminal state, so a crash mid-resume leaves it resumable.
func (o *Orchestrator) ResumeTask(ctx context.Context, id string) (*Response, error) {
	if err := o.admit(); err != nil {
		return nil, err
	}
	e, err := o.claimPaused(id)
	if err != nil {
		return nil, err
	}
	if err := o.acquireSlot(ctx); err != nil {
		o.release(e)
		return nil, err
	}
	defer o.slots.Release(1)

	o.mu.Lock()
	o.current = id
	o.mu.Unlock()

	o.logger.Info("resuming task", "task_id", id)
	return o.execute(ctx, e), nil
}

// AbandonTask cancels a paused task and discards its checkpoint.
func (o *Orchestrator) AbandonTask(ctx context.Context, id string) error {
	e, err := o.claimPaused(id)
	if err != nil {
		return err
	}
	defer o.release(e)

	if !e.machine.Transition(models.StateCancelled) {
		return fmt.Errorf("abandon task %s: %w", id, ErrNotResumable)
	}
	snap := o.settle(ctx, e)
	o.logger.Info("task abandoned", "task_id", id)
	o.tel.count(ctx, o.tel.cancelled, snap)
	return nil
}

// claimPaused marks a paused task busy so that concurrent resume or abandon
// calls cannot both act on it.
func (o *Orchestrator) claimPaused(id string) (*entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if e.busy || e.task.State != models.StatePaused {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotResumable, id, e.task.State)
	}
	e.busy = true
	return e, nil
}

// History returns persisted terminal tasks, newest first.
func (o *Orchestrator) History(ctx context.Context) ([]*models.Task, error) {
	blob, err := o.store.Load(ctx, HistoryBlob)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	var tasks []*models.Task
	if len(blob) == 0 {
		return tasks, nil
	}
	if err := json.Unmarshal(blob, &tasks); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return tasks, nil
}

func (o *Orchestrator) saveCheckpoint(ctx context.Context, task *models.Task) {
	ctx = context.WithoutCancel(ctx)
	o.persistMu.Lock()
	defer o.persistMu.Unlock()

	records, err := o.loadCheckpoints(ctx)
	if err != nil {
		o.logger.Warn("load checkpoints", "task_id", task.ID, "error", err)
		if records == nil {
			return
		}
	}
	records[task.ID] = checkpointRecord{Task: task, SavedAt: o.opts.Now()}
	if err := o.saveCheckpoints(ctx, records); err != nil {
		o.logger.Warn("save checkpoint", "task_id", task.ID, "error", err)
	}
}

func (o *Orchestrator) deleteCheckpoint(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	o.persistMu.Lock()
	defer o.persistMu.Unlock()

	records, err := o.loadCheckpoints(ctx)
	if err != nil {
		o.logger.Warn("load checkpoints", "task_id", id, "error", err)
		return
	}
	if _, ok := records[id]; !ok {
		return
	}
	delete(records, id)
	if err := o.saveCheckpoints(ctx, records); err != nil {
		o.logger.Warn("delete checkpoint", "task_id", id, "error", err)
	}
}

// loadCheckpoints reads the checkpoints blob. A store error returns a nil map;
// an undecodable blob returns an empty map with the error so it can be overwritten.
func (o *Orchestrator) loadCheckpoints(ctx context.Context) (map[string]checkpointRecord, error) {
	blob, err := o.store.Load(ctx, CheckpointsBlob)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", CheckpointsBlob, err)
	}
	records := make(map[string]checkpointRecord)
	if len(blob) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(blob, &records); err != nil {
		return make(map[string]checkpointRecord), fmt.Errorf("decode %s: %w", CheckpointsBlob, err)
	}
	return records, nil
}

func (o *Orchestrator) saveCheckpoints(ctx context.Context, records map[string]checkpointRecord) error {
	blob, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode %s: %w", CheckpointsBlob, err)
	}
	return o.store.Save(ctx, CheckpointsBlob, blob)
}

// recordHistory prepends a terminal task to the history, capped at the limit.
func (o *Orchestrator) recordHistory(ctx context.Context, task *models.Task) {
	ctx = context.WithoutCancel(ctx)
	o.persistMu.Lock()
	defer o.persistMu.Unlock()

	blob, err := o.store.Load(ctx, HistoryBlob)
	if err != nil {
		o.logger.Warn("load history", "task_id", task.ID, "error", err)
		return
	}
	var history []*models.Task
	if len(blob) > 0 {
		if err := json.Unmarshal(blob, &history); err != nil {
			o.logger.Warn("discarding unreadable history", "error", err)
			history = nil
		}
	}
	history = append([]*models.Task{task}, history...)
	if len(history) > o.opts.HistoryLimit {
		history = history[:o.opts.HistoryLimit]
	}
	blob, err = json.Marshal(history)
	if err != nil {
		o.logger.Warn("encode history", "task_id", task.ID, "error", err)
		return
	}
	if err := o.store.Save(ctx, HistoryBlob, blob); err != nil {
		o.logger.Warn("save history", "task_id", task.ID, "error", err)
	}
}

// FormatResumeSuggestion describes paused tasks and how to resume them.
// It returns an empty string when there are none.
func FormatResumeSuggestion(tasks []*models.Task) string {
	if len(tasks) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("\n=== Paused Tasks Found ===\n")
	for _, t := range tasks {
		fmt.Fprintf(&sb, "\nTask: %s\n", t.ID)
		fmt.Fprintf(&sb, "  Kind: %s\n", t.Kind)
		if t.Input != "" {
			fmt.Fprintf(&sb, "  Request: %s\n", truncate(t.Input, 60))
		}
		if t.Progress.Total > 0 {
			fmt.Fprintf(&sb, "  Progress: %d/%d\n", t.Progress.Step, t.Progress.Total)
		}
	}
	sb.WriteString("\nTo resume a task, run:\n")
	fmt.Fprintf(&sb, "  quill resume %s\n", tasks[len(tasks)-1].ID)
	sb.WriteString("To discard it instead:\n")
	fmt.Fprintf(&sb, "  quill abandon %s\n", tasks[len(tasks)-1].ID)
	sb.WriteString("\n==========================\n")
	return sb.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
