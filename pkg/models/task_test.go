package models

import (
	"testing"
	"time"
)

func TestTaskState_Valid(t *testing.T) {
	tests := []struct {
		name  string
		state TaskState
		want  bool
	}{
		{"idle is valid", StateIdle, true},
		{"executing is valid", StateExecuting, true},
		{"waiting input is valid", StateWaitingInput, true},
		{"error is valid", StateError, true},
		{"empty string is invalid", TaskState(""), false},
		{"lowercase is invalid", TaskState("idle"), false},
		{"unknown state is invalid", TaskState("RUNNING"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.Valid(); got != tt.want {
				t.Errorf("TaskState(%q).Valid() = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}

func TestTaskState_Classes(t *testing.T) {
	for _, s := range AllStates() {
		terminal := s == StateCompleted || s == StateCancelled || s == StateError
		if s.IsTerminal() != terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", s, s.IsTerminal(), terminal)
		}
		active := s == StateUnderstanding || s == StatePlanning || s == StateExecuting
		if s.IsActive() != active {
			t.Errorf("%s.IsActive() = %v, want %v", s, s.IsActive(), active)
		}
	}
}

func TestUsage_Add(t *testing.T) {
	var u Usage
	u.Add(100, 0.5)
	u.Add(50, 0.25)

	if u.TokensUsed != 150 {
		t.Errorf("TokensUsed = %d, want 150", u.TokensUsed)
	}
	if u.Cost != 0.75 {
		t.Errorf("Cost = %v, want 0.75", u.Cost)
	}
}

func TestTask_CloneIsDeep(t *testing.T) {
	started := time.Now()
	orig := &Task{
		ID:         "task-1",
		Params:     map[string]any{"path": "posts/a.md"},
		Checkpoint: []byte("partial"),
		Resources:  []string{"posts/a.md"},
		StartedAt:  &started,
	}

	c := orig.Clone()
	c.Params["path"] = "posts/b.md"
	c.Checkpoint[0] = 'P'
	c.Resources[0] = "posts/b.md"
	*c.StartedAt = started.Add(time.Hour)

	if orig.Params["path"] != "posts/a.md" {
		t.Errorf("Clone shares Params with original")
	}
	if string(orig.Checkpoint) != "partial" {
		t.Errorf("Clone shares Checkpoint with original")
	}
	if orig.Resources[0] != "posts/a.md" {
		t.Errorf("Clone shares Resources with original")
	}
	if !orig.StartedAt.Equal(started) {
		t.Errorf("Clone shares StartedAt with original")
	}
}

func TestTask_CloneNil(t *testing.T) {
	var task *Task
	if task.Clone() != nil {
		t.Error("Clone of nil task should be nil")
	}
}
