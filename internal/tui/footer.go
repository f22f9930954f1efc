package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/quill/internal/queue"
	"github.com/ShayCichocki/quill/pkg/models"
)

// Footer renders the status line, usage and keyboard hints.
type Footer struct {
	message string
	success bool
	width   int
	usage   models.Usage
	counts  [4]int // active, paused, done, failed
	queue   queue.Stats

	successStyle   lipgloss.Style
	errorStyle     lipgloss.Style
	hintStyle      lipgloss.Style
	separatorStyle lipgloss.Style
}

// NewFooter creates a new Footer instance.
func NewFooter() *Footer {
	return &Footer{
		width: 80,

		successStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("28")).
			Bold(true),

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),

		hintStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		separatorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("236")),
	}
}

// SetMessage sets the status message.
func (f *Footer) SetMessage(message string, success bool) {
	f.message = message
	f.success = success
}

// Message returns the current status message.
func (f *Footer) Message() string {
	return f.message
}

// SetStats updates the usage and task counts.
func (f *Footer) SetStats(usage models.Usage, active, paused, done, failed int) {
	f.usage = usage
	f.counts = [4]int{active, paused, done, failed}
}

// SetQueue updates the queued job counts.
func (f *Footer) SetQueue(stats queue.Stats) {
	f.queue = stats
}

// SetWidth sets the footer width.
func (f *Footer) SetWidth(width int) {
	f.width = width
}

// View renders the footer.
func (f *Footer) View() string {
	var lines []string

	if f.message != "" {
		style := f.successStyle
		if !f.success {
			style = f.errorStyle
		}
		lines = append(lines, style.Render(truncate(f.message, f.width-2)))
	}

	stats := fmt.Sprintf("%d running · %d paused · %d done · %d failed · %d tokens · $%.4f",
		f.counts[0], f.counts[1], f.counts[2], f.counts[3], f.usage.TokensUsed, f.usage.Cost)
	if f.queue.MaxConcurrent > 0 {
		stats += fmt.Sprintf(" · queue %d/%d running, %d pending, %d failed",
			f.queue.Running, f.queue.MaxConcurrent, f.queue.Pending, f.queue.Failed)
	}
	lines = append(lines, f.hintStyle.Render(stats))

	sep := f.separatorStyle.Render(" │ ")
	hints := []string{"enter submit", "↑/↓ select", "ctrl+x abort", "ctrl+p pause", "ctrl+c quit"}
	lines = append(lines, f.hintStyle.Render(strings.Join(hints, sep)))

	return strings.Join(lines, "\n")
}
