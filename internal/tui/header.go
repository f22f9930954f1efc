package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/quill/pkg/models"
)

// Header renders the title bar.
type Header struct {
	width   int
	version string
	current *models.Task

	titleStyle    lipgloss.Style
	subtitleStyle lipgloss.Style
}

// NewHeader creates a new Header.
func NewHeader(version string) *Header {
	return &Header{
		width:   80,
		version: version,
		titleStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF8E53")).
			Bold(true),
		subtitleStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true),
	}
}

// SetWidth sets the header width.
func (h *Header) SetWidth(width int) {
	h.width = width
}

// SetCurrent sets the task shown as current; nil shows the tagline.
func (h *Header) SetCurrent(t *models.Task) {
	h.current = t
}

// View renders the header.
func (h *Header) View() string {
	title := h.titleStyle.Render("quill")
	if h.version != "" {
		title += h.subtitleStyle.Render(" v" + h.version)
	}
	subtitle := h.subtitleStyle.Render("content task orchestrator")
	if h.current != nil {
		subtitle = h.subtitleStyle.Render(fmt.Sprintf("current: %s %s %s",
			shortID(h.current.ID), h.current.Kind, h.current.State))
	}
	return lipgloss.NewStyle().
		Width(h.width).
		PaddingLeft(1).
		Render(lipgloss.JoinHorizontal(lipgloss.Bottom, title, "  ", subtitle))
}

// Height returns the header height in lines.
func (h *Header) Height() int {
	return 1
}
