package tui

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/quill/internal/orchestrator"
	"github.com/ShayCichocki/quill/internal/queue"
	"github.com/ShayCichocki/quill/pkg/models"
)

type fakeBackend struct {
	mu        sync.Mutex
	tasks     []*models.Task
	submitted []string
	aborted   []string
	paused    []string
	resumed   []string
	abandoned []string
	retried   []string
	current   *models.Task
	jobs      []queue.Job
	stats     queue.Stats
	response  *orchestrator.Response
	err       error
}

func (f *fakeBackend) Submit(_ context.Context, text string, _ orchestrator.SubmitContext) (*orchestrator.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, text)
	return f.response, f.err
}

func (f *fakeBackend) Abort(id string) bool {
	f.aborted = append(f.aborted, id)
	return true
}

func (f *fakeBackend) Pause(id string) bool {
	f.paused = append(f.paused, id)
	return id != "missing"
}

func (f *fakeBackend) ResumeTask(_ context.Context, id string) (*orchestrator.Response, error) {
	f.resumed = append(f.resumed, id)
	return &orchestrator.Response{Status: orchestrator.StatusCompleted, TaskID: id, Message: "resumed"}, nil
}

func (f *fakeBackend) AbandonTask(_ context.Context, id string) error {
	f.abandoned = append(f.abandoned, id)
	if id == "missing" {
		return orchestrator.ErrTaskNotFound
	}
	return nil
}

func (f *fakeBackend) Tasks() []*models.Task { return f.tasks }

func (f *fakeBackend) CurrentTask() (*models.Task, bool) { return f.current, f.current != nil }

func (f *fakeBackend) Usage() models.Usage { return models.Usage{TokensUsed: 42, Cost: 0.01} }

func (f *fakeBackend) QueueStats() queue.Stats { return f.stats }

func (f *fakeBackend) Jobs() []queue.Job { return f.jobs }

func (f *fakeBackend) RetryJob(id string) (queue.Job, error) {
	f.retried = append(f.retried, id)
	for _, j := range f.jobs {
		if j.ID == id && j.Status == queue.StatusFailed {
			return queue.Job{ID: "retry-0001-" + id, Kind: j.Kind, Status: queue.StatusPending, RetryOf: id}, nil
		}
	}
	return queue.Job{}, queue.ErrNotRetryable
}

func newTestApp(backend *fakeBackend, events <-chan orchestrator.Event) *App {
	app := NewApp(context.Background(), backend, events, time.Second)
	app.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return app
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text      string
		name, arg string
		ok        bool
	}{
		{"/abort", "abort", "", true},
		{"/Resume abc123 ", "resume", "abc123", true},
		{"write an article", "", "", false},
		{"  /quit", "quit", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			name, arg, ok := parseCommand(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.arg, arg)
		})
	}
}

func TestApp_SubmitRoundTrip(t *testing.T) {
	backend := &fakeBackend{response: &orchestrator.Response{
		Status:    orchestrator.StatusCompleted,
		TaskID:    "task-1",
		Message:   "Task WRITE_ARTICLE completed: wrote posts/a.md",
		NextSteps: []string{"Summarize it"},
	}}
	app := newTestApp(backend, nil)

	_, cmd := app.Update(SubmitMsg{Text: "write an article about Go"})
	require.NotNil(t, cmd)
	assert.Equal(t, 1, app.inFlight)

	msg := cmd()
	resp, ok := msg.(ResponseMsg)
	require.True(t, ok)
	assert.Equal(t, []string{"write an article about Go"}, backend.submitted)

	app.Update(resp)
	assert.Equal(t, 0, app.inFlight)
	assert.Equal(t, "Task WRITE_ARTICLE completed: wrote posts/a.md", app.footer.Message())
	joined := strings.Join(app.logs, "\n")
	assert.Contains(t, joined, "next: Summarize it")
}

func TestApp_Clarification(t *testing.T) {
	app := newTestApp(&fakeBackend{}, nil)
	app.inFlight = 1

	app.Update(ResponseMsg{Response: &orchestrator.Response{
		Status:  orchestrator.StatusClarification,
		Message: "Which did you mean?",
		Candidates: []models.Intent{
			{Type: models.IntentSummarize, Confidence: 0.5},
			{Type: models.IntentGeneralQA, Confidence: 0.3},
		},
	}})

	assert.Equal(t, "Which did you mean?", app.footer.Message())
	assert.Contains(t, app.logs[len(app.logs)-1], "SUMMARIZE (50%), GENERAL_QA (30%)")
}

func TestApp_SubmitError(t *testing.T) {
	app := newTestApp(&fakeBackend{}, nil)
	app.inFlight = 1

	app.Update(ResponseMsg{Err: orchestrator.ErrBudgetExhausted})
	assert.Equal(t, orchestrator.ErrBudgetExhausted.Error(), app.footer.Message())
}

func TestApp_Commands(t *testing.T) {
	backend := &fakeBackend{tasks: []*models.Task{
		{ID: "abcdef12-3456", Kind: models.IntentWriteArticle, State: models.StatePaused},
	}}
	app := newTestApp(backend, nil)

	_, cmd := app.Update(SubmitMsg{Text: "/abort"})
	assert.Nil(t, cmd)
	assert.Equal(t, []string{""}, backend.aborted)

	app.Update(SubmitMsg{Text: "/pause missing"})
	assert.Equal(t, "Task is not executing", app.footer.Message())

	_, cmd = app.Update(SubmitMsg{Text: "/resume abcdef12"})
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, []string{"abcdef12-3456"}, backend.resumed, "short prefixes resolve to the full ID")

	_, cmd = app.Update(SubmitMsg{Text: "/abandon missing"})
	require.NotNil(t, cmd)
	action := cmd().(ActionMsg)
	assert.ErrorIs(t, action.Err, orchestrator.ErrTaskNotFound)
	app.Update(action)
	assert.Equal(t, orchestrator.ErrTaskNotFound.Error(), app.footer.Message())

	app.Update(SubmitMsg{Text: "/frobnicate"})
	assert.Equal(t, "Unknown command /frobnicate", app.footer.Message())
}

func TestApp_JobsAndRetry(t *testing.T) {
	backend := &fakeBackend{jobs: []queue.Job{
		{ID: "0badf00d-1111", Kind: "SUMMARIZE", Status: queue.StatusFailed, TriggeredBy: models.TriggerSystem, Error: "model overloaded"},
		{ID: "c0ffee00-2222", Kind: "PUBLISH_POST", Status: queue.StatusCompleted, TriggeredBy: models.TriggerSystem},
	}}
	app := newTestApp(backend, nil)

	_, cmd := app.Update(SubmitMsg{Text: "/jobs"})
	assert.Nil(t, cmd)
	assert.Equal(t, "2 queued job(s)", app.footer.Message())
	joined := strings.Join(app.logs, "\n")
	assert.Contains(t, joined, "job 0badf00d SUMMARIZE")
	assert.Contains(t, joined, "model overloaded")

	app.Update(SubmitMsg{Text: "/retry"})
	assert.Equal(t, "Usage: /retry <job-id>", app.footer.Message())

	_, cmd = app.Update(SubmitMsg{Text: "/retry 0badf00d"})
	require.NotNil(t, cmd)
	action := cmd().(ActionMsg)
	require.NoError(t, action.Err)
	assert.Equal(t, []string{"0badf00d-1111"}, backend.retried, "short prefixes resolve to the full job ID")
	app.Update(action)
	assert.Equal(t, "Retrying 0badf00d as retry-00", app.footer.Message())

	_, cmd = app.Update(SubmitMsg{Text: "/retry c0ffee00"})
	action = cmd().(ActionMsg)
	assert.ErrorIs(t, action.Err, queue.ErrNotRetryable)

	backend.jobs = nil
	app.Update(SubmitMsg{Text: "/jobs"})
	assert.Equal(t, "No queued jobs", app.footer.Message())
}

func TestApp_ShowsCurrentTaskAndQueue(t *testing.T) {
	backend := &fakeBackend{
		current: &models.Task{ID: "feedbeef-0000", Kind: models.IntentTranslate, State: models.StateExecuting},
		stats:   queue.Stats{Running: 1, Pending: 3, Failed: 1, MaxConcurrent: 2},
	}
	app := newTestApp(backend, nil)

	view := app.View()
	assert.Contains(t, view, "current: feedbeef TRANSLATE EXECUTING")
	assert.Contains(t, view, "queue 1/2 running, 3 pending, 1 failed")

	backend.current = nil
	app.Update(refreshMsg(time.Now()))
	assert.Contains(t, app.View(), "content task orchestrator")
}

func TestApp_EventsRefreshTasks(t *testing.T) {
	backend := &fakeBackend{}
	events := make(chan orchestrator.Event, 1)
	app := newTestApp(backend, events)

	task := &models.Task{ID: "task-1", Kind: models.IntentSummarize, State: models.StateExecuting}
	backend.tasks = []*models.Task{task}
	events <- orchestrator.Event{Type: orchestrator.EventStateChanged, TaskID: "task-1", State: models.StateExecuting, Task: task}

	msg := app.waitForEvent()()
	_, next := app.Update(msg)
	assert.NotNil(t, next, "keeps listening")
	require.NotNil(t, app.tasks.Selected())
	assert.Equal(t, "task-1", app.tasks.Selected().ID)
	assert.Contains(t, app.View(), "SUMMARIZE")

	close(events)
	assert.Equal(t, streamClosedMsg{}, app.waitForEvent()())
	app.Update(streamClosedMsg{})
	assert.Nil(t, app.waitForEvent())
}

func TestApp_CtrlC(t *testing.T) {
	app := newTestApp(&fakeBackend{}, nil)

	model, cmd := app.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.True(t, model.(*App).quitting)
	require.NotNil(t, cmd)
	assert.Equal(t, "Goodbye!\n", app.View())
}

func TestTasksPanel_SelectionFollowsTask(t *testing.T) {
	p := NewTasksPanel()
	a := &models.Task{ID: "a", State: models.StateCompleted}
	b := &models.Task{ID: "b", State: models.StateError, Error: "boom"}
	p.SetTasks([]*models.Task{a, b})
	p.MoveDown()
	require.Equal(t, "b", p.Selected().ID)

	c := &models.Task{ID: "c", State: models.StateExecuting}
	p.SetTasks([]*models.Task{c, a, b})
	assert.Equal(t, "b", p.Selected().ID)

	active, paused, done, failed := p.Counts()
	assert.Equal(t, [4]int{1, 0, 1, 1}, [4]int{active, paused, done, failed})
	assert.Contains(t, p.View("*"), "boom")
}

func TestInputField_EnterSubmits(t *testing.T) {
	f := NewInputField()
	for _, r := range "hello" {
		f, _ = f.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	require.Equal(t, "hello", f.Value())

	f, cmd := f.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, SubmitMsg{Text: "hello"}, cmd())
	assert.Empty(t, f.Value())

	_, cmd = f.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd, "empty input is ignored")
}
