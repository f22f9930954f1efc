package lifecycle

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/quill/pkg/models"
)

func newTestMachine(timeout time.Duration) *Machine {
	m := New(Options{WatchdogTimeout: timeout})
	return m
}

func TestNew_StartsIdle(t *testing.T) {
	m := newTestMachine(time.Minute)
	defer m.Close()

	assert.Equal(t, models.StateIdle, m.State())
}

func TestTransition_HappyPath(t *testing.T) {
	m := newTestMachine(time.Minute)
	defer m.Close()

	path := []models.TaskState{
		models.StateUnderstanding,
		models.StatePlanning,
		models.StateExecuting,
		models.StateCompleted,
		models.StateIdle,
	}
	for _, s := range path {
		require.True(t, m.Transition(s), "transition to %s", s)
		assert.Equal(t, s, m.State())
	}
}

func TestTransition_RejectsInvalidEdges(t *testing.T) {
	tests := []struct {
		name string
		path []models.TaskState
		bad  models.TaskState
	}{
		{"idle to executing", nil, models.StateExecuting},
		{"idle to idle", nil, models.StateIdle},
		{"understanding to executing", []models.TaskState{models.StateUnderstanding}, models.StateExecuting},
		{"planning to error", []models.TaskState{models.StateUnderstanding, models.StatePlanning}, models.StateError},
		{"completed to executing", []models.TaskState{
			models.StateUnderstanding, models.StatePlanning, models.StateExecuting, models.StateCompleted,
		}, models.StateExecuting},
		{"cancelled to executing", []models.TaskState{
			models.StateUnderstanding, models.StateCancelled,
		}, models.StateExecuting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine(time.Minute)
			defer m.Close()
			for _, s := range tt.path {
				require.True(t, m.Transition(s))
			}
			before := m.State()

			var notified atomic.Int32
			m.OnTransition(func(Transition) { notified.Add(1) })

			assert.False(t, m.Transition(tt.bad))
			assert.Equal(t, before, m.State())
			assert.Zero(t, notified.Load(), "listeners must not run on rejected transitions")
		})
	}
}

func TestCanTransition_MatchesTable(t *testing.T) {
	allowed := map[models.TaskState]map[models.TaskState]bool{
		models.StateIdle:          {models.StateUnderstanding: true},
		models.StateUnderstanding: {models.StatePlanning: true, models.StateCancelled: true, models.StateIdle: true},
		models.StatePlanning: {
			models.StateExecuting: true, models.StateWaitingInput: true,
			models.StateCancelled: true, models.StateIdle: true,
		},
		models.StateExecuting: {
			models.StateWaitingInput: true, models.StatePaused: true, models.StateCompleted: true,
			models.StateError: true, models.StateCancelled: true, models.StateIdle: true,
		},
		models.StateWaitingInput: {
			models.StateExecuting: true, models.StatePaused: true,
			models.StateCancelled: true, models.StateIdle: true,
		},
		models.StatePaused: {
			models.StateExecuting: true, models.StateCompleted: true,
			models.StateCancelled: true, models.StateIdle: true,
		},
		models.StateError:     {models.StateExecuting: true, models.StateIdle: true},
		models.StateCancelled: {models.StateIdle: true},
		models.StateCompleted: {models.StateIdle: true},
	}

	for _, from := range models.AllStates() {
		for _, to := range models.AllStates() {
			want := allowed[from][to]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestListeners_OnEnterAndUnsubscribe(t *testing.T) {
	m := newTestMachine(time.Minute)
	defer m.Close()

	var all, executing []Transition
	unsubAll := m.OnTransition(func(tr Transition) { all = append(all, tr) })
	m.OnEnter(models.StateExecuting, func(tr Transition) { executing = append(executing, tr) })

	require.True(t, m.Transition(models.StateUnderstanding))
	require.True(t, m.Transition(models.StatePlanning))
	require.True(t, m.Transition(models.StateExecuting))

	require.Len(t, all, 3)
	require.Len(t, executing, 1)
	assert.Equal(t, models.StatePlanning, executing[0].From)
	assert.Equal(t, models.StateExecuting, executing[0].To)

	unsubAll()
	unsubAll()
	require.True(t, m.Transition(models.StatePaused))
	assert.Len(t, all, 3, "unsubscribed listener still notified")
}

func TestWatchdog_FiresOnceInExecuting(t *testing.T) {
	m := newTestMachine(30 * time.Millisecond)
	defer m.Close()

	var mu sync.Mutex
	var errors []Transition
	m.OnEnter(models.StateError, func(tr Transition) {
		mu.Lock()
		defer mu.Unlock()
		errors = append(errors, tr)
	})

	require.True(t, m.Transition(models.StateUnderstanding))
	require.True(t, m.Transition(models.StatePlanning))
	require.True(t, m.Transition(models.StateExecuting))

	require.Eventually(t, func() bool { return m.State() == models.StateError }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, errors, 1)
	reason := errors[0].Reason
	require.NotNil(t, reason)
	assert.Equal(t, ReasonWatchdogTimeout, reason.Code)
	assert.Equal(t, models.StateExecuting, reason.From)
	assert.GreaterOrEqual(t, reason.ElapsedMs, int64(25))
	assert.True(t, errors[0].Forced())
}

func TestWatchdog_RearmedOnTransition(t *testing.T) {
	m := newTestMachine(80 * time.Millisecond)
	defer m.Close()

	require.True(t, m.Transition(models.StateUnderstanding))
	time.Sleep(50 * time.Millisecond)
	require.True(t, m.Transition(models.StatePlanning))
	time.Sleep(50 * time.Millisecond)
	// 100ms in total, but only 50ms in PLANNING.
	assert.Equal(t, models.StatePlanning, m.State())

	require.Eventually(t, func() bool { return m.State() == models.StateError }, time.Second, 5*time.Millisecond)
}

func TestWatchdog_DisarmedOutsideActiveStates(t *testing.T) {
	m := newTestMachine(20 * time.Millisecond)
	defer m.Close()

	require.True(t, m.Transition(models.StateUnderstanding))
	require.True(t, m.Transition(models.StatePlanning))
	require.True(t, m.Transition(models.StateWaitingInput))

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, models.StateWaitingInput, m.State())
}

func TestFail_BypassesTable(t *testing.T) {
	m := newTestMachine(time.Minute)
	defer m.Close()

	require.True(t, m.Transition(models.StateUnderstanding))
	require.True(t, m.Transition(models.StatePlanning))

	var got Transition
	m.OnEnter(models.StateError, func(tr Transition) { got = tr })

	assert.True(t, m.Fail("no skill"))
	assert.Equal(t, models.StateError, m.State())
	assert.Equal(t, "no skill", got.Note)
	assert.Equal(t, models.StatePlanning, got.From)

	assert.False(t, m.Fail("again"), "Fail is a no-op once in ERROR")
}

func TestRestore_NoNotification(t *testing.T) {
	m := newTestMachine(time.Minute)
	defer m.Close()

	called := false
	m.OnTransition(func(Transition) { called = true })
	m.Restore(models.StatePaused)

	assert.Equal(t, models.StatePaused, m.State())
	assert.False(t, called)
	assert.True(t, m.Transition(models.StateExecuting))
}

func TestClose_RejectsTransitions(t *testing.T) {
	m := newTestMachine(10 * time.Millisecond)
	require.True(t, m.Transition(models.StateUnderstanding))
	m.Close()

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, models.StateUnderstanding, m.State(), "closed machine must not fire the watchdog")
	assert.False(t, m.Transition(models.StatePlanning))
}
