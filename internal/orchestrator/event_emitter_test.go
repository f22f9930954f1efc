package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/quill/pkg/models"
)

func TestTopic_SubscribeAndUnsubscribe(t *testing.T) {
	var topic Topic[TaskFailed]
	var first, second []string

	unsub := topic.Subscribe(func(ev TaskFailed) { first = append(first, ev.TaskID) })
	topic.Subscribe(func(ev TaskFailed) { second = append(second, ev.TaskID) })

	topic.publish(TaskFailed{TaskID: "a"})
	unsub()
	unsub()
	topic.publish(TaskFailed{TaskID: "b"})

	assert.Equal(t, []string{"a"}, first)
	assert.Equal(t, []string{"a", "b"}, second)
}

func TestBus_StreamFlattensTopics(t *testing.T) {
	bus := NewBus(nil)
	events, stop := bus.Stream(8)

	task := &models.Task{ID: "t1", State: models.StateExecuting}
	bus.StateChanged.publish(StateChanged{State: models.StateExecuting, Task: task})
	bus.TaskFailed.publish(TaskFailed{TaskID: "t1", Error: "boom"})
	bus.CheckpointsLoaded.publish(CheckpointsLoaded{Tasks: []*models.Task{task}})
	stop()

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 3)
	assert.Equal(t, EventStateChanged, got[0].Type)
	assert.Equal(t, "t1", got[0].TaskID)
	assert.Equal(t, models.StateExecuting, got[0].State)
	assert.Equal(t, EventTaskFailed, got[1].Type)
	assert.Equal(t, "boom", got[1].Error)
	assert.Equal(t, EventCheckpointsLoaded, got[2].Type)
	assert.Len(t, got[2].Tasks, 1)

	// Publishing after stop neither blocks nor panics.
	bus.TaskFailed.publish(TaskFailed{TaskID: "late"})
}

func TestBus_StreamDropsWhenFull(t *testing.T) {
	bus := NewBus(nil)
	events, stop := bus.Stream(1)
	defer stop()

	start := time.Now()
	bus.TaskFailed.publish(TaskFailed{TaskID: "kept"})
	bus.TaskFailed.publish(TaskFailed{TaskID: "dropped"})
	assert.GreaterOrEqual(t, time.Since(start), streamGrace)

	ev := <-events
	assert.Equal(t, "kept", ev.TaskID)
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %s", ev.TaskID)
	default:
	}
}

func TestBudgetHandler(t *testing.T) {
	unlimited := NewBudgetHandler(0)
	unlimited.Add(1_000_000, 10)
	assert.Equal(t, BudgetOK, unlimited.CheckBudget())

	h := NewBudgetHandler(100)
	before, after := h.Add(79, 0.5)
	assert.Equal(t, BudgetOK, before)
	assert.Equal(t, BudgetOK, after)

	before, after = h.Add(1, 0.1)
	assert.Equal(t, BudgetOK, before)
	assert.Equal(t, BudgetWarning, after)
	assert.True(t, h.CanStartNew())

	_, after = h.Add(20, 0)
	assert.Equal(t, BudgetExhausted, after)
	assert.False(t, h.CanStartNew())
	assert.Equal(t, int64(100), h.Usage().TokensUsed)
	assert.Equal(t, "Exhausted", after.String())
}
