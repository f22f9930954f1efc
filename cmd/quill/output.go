package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/ShayCichocki/quill/internal/orchestrator"
	"github.com/ShayCichocki/quill/pkg/models"
)

func printStatus(w io.Writer, symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Fprintf(w, "%s %s\n", c.Sprint(symbol), message)
}

// printResponse renders a Submit or ResumeTask response.
func printResponse(w io.Writer, resp *orchestrator.Response, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	switch resp.Status {
	case orchestrator.StatusCompleted:
		printStatus(w, "✓", resp.Message, color.FgGreen)
	case orchestrator.StatusClarification:
		printStatus(w, "?", resp.Message, color.FgYellow)
		for _, c := range resp.Candidates {
			fmt.Fprintf(w, "  - %s (%.0f%%)\n", c.Type, c.Confidence*100)
		}
	case orchestrator.StatusPaused:
		printStatus(w, "⏸", resp.Message, color.FgYellow)
		if resp.TaskID != "" {
			fmt.Fprintf(w, "  Resume with: quill resume %s\n", resp.TaskID)
		}
	case orchestrator.StatusCancelled:
		printStatus(w, "⊘", resp.Message, color.FgYellow)
	default:
		printStatus(w, "✗", resp.Message, color.FgRed)
	}

	if text, ok := resp.Data.(string); ok && text != "" && text != resp.Message {
		fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(text))
	}
	for i, step := range resp.NextSteps {
		if i == 0 {
			fmt.Fprintln(w, "\nNext steps:")
		}
		fmt.Fprintf(w, "  - %s\n", step)
	}
	if resp.Usage.TokensUsed > 0 {
		fmt.Fprintf(w, "\n%s tokens, $%.4f\n", formatNumber(resp.Usage.TokensUsed), resp.Usage.Cost)
	}
	return nil
}

// formatTaskLine renders one task as a single list row.
func formatTaskLine(t *models.Task, now time.Time) string {
	age := formatDuration(now.Sub(t.CreatedAt))
	line := fmt.Sprintf("%-36s  %-16s  %-11s  %6s ago", t.ID, t.Kind, t.State, age)
	if t.Progress.Total > 0 && !t.State.IsTerminal() {
		line += fmt.Sprintf("  [%d/%d]", t.Progress.Step, t.Progress.Total)
	}
	switch {
	case t.Error != "":
		line += "  " + truncate(t.Error, 50)
	case t.Input != "":
		line += "  " + truncate(t.Input, 50)
	}
	return line
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}

// formatNumber formats a number with commas.
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	offset := len(s) % 3
	if offset > 0 {
		result.WriteString(s[:offset])
		result.WriteString(",")
	}
	for i := offset; i < len(s); i += 3 {
		result.WriteString(s[i : i+3])
		if i+3 < len(s) {
			result.WriteString(",")
		}
	}
	return result.String()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// parseParams turns key=value flags into task parameters.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q: want key=value", p)
		}
		params[key] = value
	}
	return params, nil
}
