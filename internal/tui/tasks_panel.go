package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/quill/pkg/models"
)

// TasksPanel displays a scrollable list of tasks with state indicators.
type TasksPanel struct {
	tasks        []*models.Task
	selected     int
	scrollOffset int
	width        int
	height       int

	titleStyle    lipgloss.Style
	borderStyle   lipgloss.Style
	selectedStyle lipgloss.Style
	pendingStyle  lipgloss.Style
	runningStyle  lipgloss.Style
	doneStyle     lipgloss.Style
	failedStyle   lipgloss.Style
	pausedStyle   lipgloss.Style
	dimStyle      lipgloss.Style
}

// NewTasksPanel creates a new TasksPanel instance.
func NewTasksPanel() *TasksPanel {
	return &TasksPanel{
		width:  80,
		height: 10,

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Padding(0, 1),

		borderStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")),

		selectedStyle: lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("15")).
			Bold(true),

		pendingStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")), // Gray

		runningStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")), // Green

		doneStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("28")), // Dark green

		failedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")), // Red

		pausedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")), // Orange

		dimStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true),
	}
}

// SetTasks replaces the list, keeping the selection on the same task when possible.
func (p *TasksPanel) SetTasks(tasks []*models.Task) {
	var selectedID string
	if t := p.Selected(); t != nil {
		selectedID = t.ID
	}
	p.tasks = tasks
	p.selected = 0
	for i, t := range tasks {
		if t.ID == selectedID {
			p.selected = i
			break
		}
	}
	p.clampScroll()
}

// SetSize updates the panel dimensions.
func (p *TasksPanel) SetSize(width, height int) {
	p.width = width
	p.height = height
	p.clampScroll()
}

// Selected returns the highlighted task, or nil when the list is empty.
func (p *TasksPanel) Selected() *models.Task {
	if p.selected < 0 || p.selected >= len(p.tasks) {
		return nil
	}
	return p.tasks[p.selected]
}

// MoveUp moves the selection up.
func (p *TasksPanel) MoveUp() {
	if p.selected > 0 {
		p.selected--
		p.clampScroll()
	}
}

// MoveDown moves the selection down.
func (p *TasksPanel) MoveDown() {
	if p.selected < len(p.tasks)-1 {
		p.selected++
		p.clampScroll()
	}
}

// Counts returns how many tasks are active, paused, done and failed.
func (p *TasksPanel) Counts() (active, paused, done, failed int) {
	for _, t := range p.tasks {
		switch {
		case t.State.IsActive():
			active++
		case t.State == models.StatePaused:
			paused++
		case t.State == models.StateCompleted:
			done++
		case t.State == models.StateError:
			failed++
		}
	}
	return active, paused, done, failed
}

func (p *TasksPanel) visibleRows() int {
	rows := p.height - 3 // border and title
	if rows < 1 {
		rows = 1
	}
	return rows
}

func (p *TasksPanel) clampScroll() {
	rows := p.visibleRows()
	if p.selected < p.scrollOffset {
		p.scrollOffset = p.selected
	}
	if p.selected >= p.scrollOffset+rows {
		p.scrollOffset = p.selected - rows + 1
	}
	if p.scrollOffset < 0 {
		p.scrollOffset = 0
	}
}

// View renders the panel. spin is drawn next to executing tasks.
func (p *TasksPanel) View(spin string) string {
	var b strings.Builder
	b.WriteString(p.titleStyle.Render(fmt.Sprintf("Tasks (%d)", len(p.tasks))))
	b.WriteString("\n")

	if len(p.tasks) == 0 {
		b.WriteString(p.dimStyle.Render("  No tasks yet. Type a request below."))
	}

	end := p.scrollOffset + p.visibleRows()
	if end > len(p.tasks) {
		end = len(p.tasks)
	}
	for i := p.scrollOffset; i < end; i++ {
		line := p.renderTask(p.tasks[i], spin)
		if i == p.selected {
			line = p.selectedStyle.Render(line)
		}
		b.WriteString(line)
		if i < end-1 {
			b.WriteString("\n")
		}
	}

	return p.borderStyle.
		Width(p.width - 2).
		Height(p.height - 2).
		Render(b.String())
}

func (p *TasksPanel) renderTask(t *models.Task, spin string) string {
	icon, style := p.stateIcon(t.State)
	if t.State == models.StateExecuting && spin != "" {
		icon = spin
	}

	line := fmt.Sprintf("%s %s %-16s %s", icon, shortID(t.ID), t.Kind, style.Render(string(t.State)))
	if t.Progress.Total > 0 && t.State.IsActive() {
		line += fmt.Sprintf(" [%d/%d]", t.Progress.Step, t.Progress.Total)
	}
	if detail := taskDetail(t); detail != "" {
		line += " " + p.dimStyle.Render(truncate(detail, p.width-50))
	}
	return line
}

func (p *TasksPanel) stateIcon(state models.TaskState) (string, lipgloss.Style) {
	switch {
	case state == models.StateCompleted:
		return "✓", p.doneStyle
	case state == models.StateError:
		return "✗", p.failedStyle
	case state == models.StateCancelled:
		return "⊘", p.pendingStyle
	case state == models.StatePaused:
		return "⏸", p.pausedStyle
	case state.IsActive():
		return "●", p.runningStyle
	default:
		return "○", p.pendingStyle
	}
}

func taskDetail(t *models.Task) string {
	switch {
	case t.Error != "":
		return t.Error
	case t.Progress.Message != "" && t.State.IsActive():
		return t.Progress.Message
	default:
		return t.Input
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if max < 4 {
		max = 4
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
