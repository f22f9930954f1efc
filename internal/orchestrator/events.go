package orchestrator

import (
	"time"

	"github.com/ShayCichocki/quill/internal/skill"
	"github.com/ShayCichocki/quill/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventStateChanged indicates a task moved to a new lifecycle state.
	EventStateChanged EventType = "state_changed"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task ended in ERROR.
	EventTaskFailed EventType = "task_failed"
	// EventCheckpointsLoaded indicates paused tasks were restored at startup.
	EventCheckpointsLoaded EventType = "checkpoints_loaded"
	// EventTaskProgress provides progress updates from a running skill.
	EventTaskProgress EventType = "task_progress"
)

// StateChanged is published after every task state transition.
type StateChanged struct {
	State models.TaskState
	From  models.TaskState
	// Task is a snapshot taken after the transition.
	Task *models.Task
	At   time.Time
}

// TaskCompleted is published when a skill finishes successfully.
type TaskCompleted struct {
	TaskID string
	Result *skill.Result
	At     time.Time
}

// TaskFailed is published when a task ends in ERROR.
type TaskFailed struct {
	TaskID string
	Error  string
	At     time.Time
}

// CheckpointsLoaded is published by Initialize with the tasks restored as PAUSED.
type CheckpointsLoaded struct {
	Tasks []*models.Task
	At    time.Time
}

// TaskProgress is published for every progress report of a running skill.
type TaskProgress struct {
	TaskID   string
	Progress models.Progress
	Usage    models.Usage
	At       time.Time
}

// Event is the flattened form of every topic, delivered by Bus.Stream.
// Only the fields relevant to Type are set.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// State is the new state for state_changed events.
	State models.TaskState
	// Task is a task snapshot for state_changed events.
	Task *models.Task
	// Tasks are the restored tasks for checkpoints_loaded events.
	Tasks []*models.Task
	// Result is the skill result for task_completed events.
	Result *skill.Result
	// Error contains the failure message for task_failed events.
	Error string
	// Progress is set for task_progress events.
	Progress models.Progress
	// Usage is the task's accumulated usage for task_progress events.
	Usage models.Usage
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
