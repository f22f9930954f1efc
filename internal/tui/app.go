package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/quill/internal/orchestrator"
	"github.com/ShayCichocki/quill/internal/queue"
	"github.com/ShayCichocki/quill/internal/version"
	"github.com/ShayCichocki/quill/pkg/models"
)

const (
	maxLogLines        = 200
	defaultRefreshRate = 100 * time.Millisecond
)

// Backend is the orchestrator surface the TUI drives.
type Backend interface {
	Submit(ctx context.Context, text string, sc orchestrator.SubmitContext) (*orchestrator.Response, error)
	Abort(taskID string) bool
	Pause(taskID string) bool
	ResumeTask(ctx context.Context, id string) (*orchestrator.Response, error)
	AbandonTask(ctx context.Context, id string) error
	Tasks() []*models.Task
	CurrentTask() (*models.Task, bool)
	Usage() models.Usage
	QueueStats() queue.Stats
	Jobs() []queue.Job
	RetryJob(id string) (queue.Job, error)
}

// EventMsg carries one orchestrator event into the update loop.
type EventMsg struct {
	Event orchestrator.Event
}

// ResponseMsg is the outcome of a submitted request or resumed task.
type ResponseMsg struct {
	Input    string
	Response *orchestrator.Response
	Err      error
}

// ActionMsg reports the outcome of a command that produces no Response.
type ActionMsg struct {
	Message string
	Err     error
}

type streamClosedMsg struct{}

type refreshMsg time.Time

// App is the interactive model.
type App struct {
	ctx         context.Context
	backend     Backend
	events      <-chan orchestrator.Event
	refreshRate time.Duration

	header  *Header
	tasks   *TasksPanel
	input   *InputField
	footer  *Footer
	spinner spinner.Model

	logs     []string
	inFlight int
	width    int
	height   int
	quitting bool

	logStyle lipgloss.Style
}

// NewApp creates the model. events may be nil.
func NewApp(ctx context.Context, backend Backend, events <-chan orchestrator.Event, refreshRate time.Duration) *App {
	if refreshRate <= 0 {
		refreshRate = defaultRefreshRate
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))

	a := &App{
		ctx:         ctx,
		backend:     backend,
		events:      events,
		refreshRate: refreshRate,
		header:      NewHeader(version.Get()),
		tasks:       NewTasksPanel(),
		input:       NewInputField(),
		footer:      NewFooter(),
		spinner:     sp,
		logStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
	a.refresh()
	return a
}

// NewProgram creates a Bubbletea program around a new App.
func NewProgram(ctx context.Context, backend Backend, events <-chan orchestrator.Event, refreshRate time.Duration) *tea.Program {
	return tea.NewProgram(NewApp(ctx, backend, events, refreshRate), tea.WithAltScreen(), tea.WithContext(ctx))
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.input.Focus(), a.spinner.Tick, a.waitForEvent(), a.scheduleRefresh())
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.updateSizes()
		return a, nil

	case SubmitMsg:
		return a, a.handleInput(msg.Text)

	case ResponseMsg:
		a.inFlight--
		a.handleResponse(msg)
		a.refresh()
		return a, nil

	case ActionMsg:
		if msg.Err != nil {
			a.footer.SetMessage(msg.Err.Error(), false)
		} else {
			a.footer.SetMessage(msg.Message, true)
		}
		a.refresh()
		return a, nil

	case EventMsg:
		a.handleEvent(msg.Event)
		a.refresh()
		return a, a.waitForEvent()

	case streamClosedMsg:
		a.events = nil
		return a, nil

	case refreshMsg:
		a.refresh()
		return a, a.scheduleRefresh()

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		a.quitting = true
		return a, tea.Quit
	case "up":
		a.tasks.MoveUp()
		return a, nil
	case "down":
		a.tasks.MoveDown()
		return a, nil
	case "ctrl+x":
		if t := a.tasks.Selected(); t != nil && t.State.IsActive() {
			return a, a.handleInput("/abort " + t.ID)
		}
		return a, a.handleInput("/abort")
	case "ctrl+p":
		if t := a.tasks.Selected(); t != nil {
			return a, a.handleInput("/pause " + t.ID)
		}
		return a, nil
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

// handleInput runs a slash command or submits text as a request.
func (a *App) handleInput(text string) tea.Cmd {
	name, arg, isCommand := parseCommand(text)
	if !isCommand {
		a.inFlight++
		a.footer.SetMessage("Working on: "+truncate(text, 60), true)
		a.appendLog("→ " + text)
		return a.submitCmd(text)
	}

	switch name {
	case "quit", "exit":
		a.quitting = true
		return tea.Quit
	case "abort":
		if a.backend.Abort(arg) {
			a.footer.SetMessage("Abort requested", true)
		} else {
			a.footer.SetMessage("Nothing to abort", false)
		}
	case "pause":
		if arg == "" {
			a.footer.SetMessage("Usage: /pause <task-id>", false)
		} else if a.backend.Pause(a.resolveID(arg)) {
			a.footer.SetMessage("Pause requested", true)
		} else {
			a.footer.SetMessage("Task is not executing", false)
		}
	case "resume":
		if arg == "" {
			a.footer.SetMessage("Usage: /resume <task-id>", false)
			return nil
		}
		a.inFlight++
		return a.resumeCmd(a.resolveID(arg))
	case "abandon":
		if arg == "" {
			a.footer.SetMessage("Usage: /abandon <task-id>", false)
			return nil
		}
		return a.abandonCmd(a.resolveID(arg))
	case "jobs":
		a.listJobs()
	case "retry":
		if arg == "" {
			a.footer.SetMessage("Usage: /retry <job-id>", false)
			return nil
		}
		return a.retryCmd(a.resolveJobID(arg))
	default:
		a.footer.SetMessage(fmt.Sprintf("Unknown command /%s", name), false)
	}
	return nil
}

// resolveID expands a short ID prefix shown in the task list.
func (a *App) resolveID(prefix string) string {
	for _, t := range a.backend.Tasks() {
		if strings.HasPrefix(t.ID, prefix) {
			return t.ID
		}
	}
	return prefix
}

// resolveJobID expands a short queued job ID prefix.
func (a *App) resolveJobID(prefix string) string {
	for _, j := range a.backend.Jobs() {
		if strings.HasPrefix(j.ID, prefix) {
			return j.ID
		}
	}
	return prefix
}

// listJobs writes the queued jobs to the activity log.
func (a *App) listJobs() {
	jobs := a.backend.Jobs()
	if len(jobs) == 0 {
		a.footer.SetMessage("No queued jobs", true)
		return
	}
	for _, j := range jobs {
		line := fmt.Sprintf("job %s %-16s %-9s %s", shortID(j.ID), j.Kind, j.Status, j.TriggeredBy)
		if j.Error != "" {
			line += ": " + j.Error
		}
		a.appendLog(line)
	}
	a.footer.SetMessage(fmt.Sprintf("%d queued job(s)", len(jobs)), true)
}

func (a *App) submitCmd(text string) tea.Cmd {
	ctx, backend := a.ctx, a.backend
	return func() tea.Msg {
		resp, err := backend.Submit(ctx, text, orchestrator.SubmitContext{TriggeredBy: models.TriggerHuman})
		return ResponseMsg{Input: text, Response: resp, Err: err}
	}
}

func (a *App) resumeCmd(id string) tea.Cmd {
	ctx, backend := a.ctx, a.backend
	return func() tea.Msg {
		resp, err := backend.ResumeTask(ctx, id)
		return ResponseMsg{Input: "/resume " + id, Response: resp, Err: err}
	}
}

func (a *App) abandonCmd(id string) tea.Cmd {
	ctx, backend := a.ctx, a.backend
	return func() tea.Msg {
		if err := backend.AbandonTask(ctx, id); err != nil {
			return ActionMsg{Err: err}
		}
		return ActionMsg{Message: "Abandoned " + shortID(id)}
	}
}

func (a *App) retryCmd(id string) tea.Cmd {
	backend := a.backend
	return func() tea.Msg {
		job, err := backend.RetryJob(id)
		if err != nil {
			return ActionMsg{Err: err}
		}
		return ActionMsg{Message: fmt.Sprintf("Retrying %s as %s", shortID(id), shortID(job.ID))}
	}
}

func (a *App) handleResponse(msg ResponseMsg) {
	if msg.Err != nil {
		a.footer.SetMessage(msg.Err.Error(), false)
		a.appendLog("✗ " + msg.Err.Error())
		return
	}
	resp := msg.Response
	switch resp.Status {
	case orchestrator.StatusClarification:
		var options []string
		for _, c := range resp.Candidates {
			options = append(options, fmt.Sprintf("%s (%.0f%%)", c.Type, c.Confidence*100))
		}
		a.footer.SetMessage(resp.Message, false)
		if len(options) > 0 {
			a.appendLog("? did you mean: " + strings.Join(options, ", "))
		}
	case orchestrator.StatusCompleted:
		a.footer.SetMessage(resp.Message, true)
		a.appendLog("✓ " + resp.Message)
		for _, step := range resp.NextSteps {
			a.appendLog("  next: " + step)
		}
	case orchestrator.StatusPaused:
		a.footer.SetMessage(resp.Message, true)
	default:
		a.footer.SetMessage(resp.Message, false)
		a.appendLog(fmt.Sprintf("%s %s", resp.Status, resp.Message))
	}
}

func (a *App) handleEvent(ev orchestrator.Event) {
	switch ev.Type {
	case orchestrator.EventStateChanged:
		kind := ""
		if ev.Task != nil {
			kind = string(ev.Task.Kind) + " "
		}
		a.appendLog(fmt.Sprintf("%s %s→ %s", shortID(ev.TaskID), kind, ev.State))
	case orchestrator.EventTaskFailed:
		a.appendLog(fmt.Sprintf("%s failed: %s", shortID(ev.TaskID), ev.Error))
	case orchestrator.EventCheckpointsLoaded:
		if len(ev.Tasks) > 0 {
			a.appendLog(fmt.Sprintf("%d paused task(s) can be resumed with /resume <id>", len(ev.Tasks)))
		}
	case orchestrator.EventTaskProgress:
		if ev.Progress.Message != "" {
			a.appendLog(fmt.Sprintf("%s %s", shortID(ev.TaskID), ev.Progress.Message))
		}
	}
}

func (a *App) waitForEvent() tea.Cmd {
	events := a.events
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return streamClosedMsg{}
		}
		return EventMsg{Event: ev}
	}
}

func (a *App) scheduleRefresh() tea.Cmd {
	return tea.Tick(a.refreshRate, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (a *App) refresh() {
	a.tasks.SetTasks(a.backend.Tasks())
	active, paused, done, failed := a.tasks.Counts()
	a.footer.SetStats(a.backend.Usage(), active, paused, done, failed)
	a.footer.SetQueue(a.backend.QueueStats())
	current, _ := a.backend.CurrentTask()
	a.header.SetCurrent(current)
}

func (a *App) appendLog(line string) {
	stamp := time.Now().Format("15:04:05")
	a.logs = append(a.logs, stamp+" "+line)
	if len(a.logs) > maxLogLines {
		a.logs = a.logs[len(a.logs)-maxLogLines:]
	}
}

// updateSizes splits the screen between the task list and the log.
func (a *App) updateSizes() {
	a.header.SetWidth(a.width)
	a.footer.SetWidth(a.width)
	a.input.SetWidth(a.width)

	available := a.height - a.header.Height() - 3 /* input */ - 3 /* footer */
	a.tasks.SetSize(a.width, max(available/2, 4))
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return "Goodbye!\n"
	}

	spin := ""
	if a.inFlight > 0 || a.hasActive() {
		spin = a.spinner.View()
	}

	logHeight := a.height - a.header.Height() - a.tasks.height - 6
	if logHeight < 3 {
		logHeight = 3
	}
	start := len(a.logs) - logHeight
	if start < 0 {
		start = 0
	}
	logView := a.logStyle.Render(strings.Join(a.logs[start:], "\n"))

	return lipgloss.JoinVertical(lipgloss.Left,
		a.header.View(),
		a.tasks.View(spin),
		logView,
		a.input.View(),
		a.footer.View(),
	)
}

func (a *App) hasActive() bool {
	active, _, _, _ := a.tasks.Counts()
	return active > 0
}

// parseCommand splits "/name arg" into its parts.
func parseCommand(text string) (name, arg string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	name, arg, _ = strings.Cut(text[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(arg), true
}
