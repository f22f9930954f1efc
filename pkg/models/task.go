package models

import (
	"maps"
	"time"
)

// TaskState is a state in the task lifecycle.
type TaskState string

const (
	// StateIdle is the initial state and the target of a reset.
	StateIdle TaskState = "IDLE"
	// StateUnderstanding indicates the request is being classified.
	StateUnderstanding TaskState = "UNDERSTANDING"
	// StatePlanning indicates a skill is being resolved for the intent.
	StatePlanning TaskState = "PLANNING"
	// StateExecuting indicates a skill handler is running.
	StateExecuting TaskState = "EXECUTING"
	// StateWaitingInput indicates the task needs more input from the caller.
	StateWaitingInput TaskState = "WAITING_INPUT"
	// StatePaused indicates the task was suspended and checkpointed.
	StatePaused TaskState = "PAUSED"
	// StateCompleted indicates the task finished successfully.
	StateCompleted TaskState = "COMPLETED"
	// StateCancelled indicates the task was cancelled.
	StateCancelled TaskState = "CANCELLED"
	// StateError indicates the task failed.
	StateError TaskState = "ERROR"
)

// AllStates returns every task state in lifecycle order.
func AllStates() []TaskState {
	return []TaskState{
		StateIdle, StateUnderstanding, StatePlanning, StateExecuting,
		StateWaitingInput, StatePaused, StateCompleted, StateCancelled, StateError,
	}
}

// Valid returns true if the state is a known value.
func (s TaskState) Valid() bool {
	switch s {
	case StateIdle, StateUnderstanding, StatePlanning, StateExecuting,
		StateWaitingInput, StatePaused, StateCompleted, StateCancelled, StateError:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for states a task is retained in for history only.
func (s TaskState) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateError
}

// IsActive returns true for the states guarded by the watchdog.
func (s TaskState) IsActive() bool {
	return s == StateUnderstanding || s == StatePlanning || s == StateExecuting
}

// Trigger identifies who started a task.
type Trigger string

const (
	// TriggerHuman marks tasks submitted by a user.
	TriggerHuman Trigger = "human"
	// TriggerSystem marks tasks started by the scheduler or other automation.
	TriggerSystem Trigger = "system"
)

// Progress reports how far a task has come.
type Progress struct {
	Step    int    `json:"step"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

// Usage is the token and cost consumption attributed to a task.
type Usage struct {
	TokensUsed int64   `json:"tokens_used"`
	Cost       float64 `json:"cost"`
}

// Add accumulates another usage record.
func (u *Usage) Add(tokens int64, cost float64) {
	u.TokensUsed += tokens
	u.Cost += cost
}

// Task is a unit of work driven through the lifecycle state machine.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Kind is the intent type that selected the skill.
	Kind IntentType `json:"kind"`
	// State is the current lifecycle state.
	State TaskState `json:"state"`
	// Input is the natural-language request, if any.
	Input string `json:"input,omitempty"`
	// Params are the skill parameters.
	Params map[string]any `json:"params,omitempty"`
	// Checkpoint is an opaque blob saved by the skill for resumption.
	Checkpoint []byte `json:"checkpoint,omitempty"`
	// Progress is the last progress report from the skill.
	Progress Progress `json:"progress"`
	// TriggeredBy records who started the task.
	TriggeredBy Trigger `json:"triggered_by"`
	// Resources lists the resource keys the task held when its last run ended.
	Resources []string `json:"resources,omitempty"`
	// Error contains the failure message if the task ended in ERROR.
	Error string `json:"error,omitempty"`
	// Usage is the accumulated token and cost usage.
	Usage Usage `json:"usage"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when a skill handler first ran.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Params = maps.Clone(t.Params)
	if t.Checkpoint != nil {
		c.Checkpoint = append([]byte(nil), t.Checkpoint...)
	}
	if t.Resources != nil {
		c.Resources = append([]string(nil), t.Resources...)
	}
	if t.StartedAt != nil {
		started := *t.StartedAt
		c.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		c.CompletedAt = &completed
	}
	return &c
}
