package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/quill/internal/config"
	"github.com/ShayCichocki/quill/internal/lock"
	"github.com/ShayCichocki/quill/internal/orchestrator"
	"github.com/ShayCichocki/quill/internal/schedule"
	"github.com/ShayCichocki/quill/pkg/models"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"path=posts/a.md", "language = fr", "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"path": "posts/a.md", "language": " fr", "note": "a=b"}, params)

	params, err = parseParams(nil)
	assert.NoError(t, err)
	assert.Nil(t, params)

	_, err = parseParams([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseParams([]string{"=x"})
	assert.Error(t, err)
}

func TestFormatNumber(t *testing.T) {
	tests := map[int64]string{
		0:       "0",
		999:     "999",
		1000:    "1,000",
		123456:  "123,456",
		1234567: "1,234,567",
	}
	for n, want := range tests {
		assert.Equal(t, want, formatNumber(n))
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", formatDuration(45*time.Second))
	assert.Equal(t, "5m", formatDuration(5*time.Minute))
	assert.Equal(t, "2h", formatDuration(2*time.Hour))
	assert.Equal(t, "1h30m", formatDuration(90*time.Minute))
	assert.Equal(t, "3d", formatDuration(80*time.Hour))
}

func TestFormatTaskLine(t *testing.T) {
	now := time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC)
	task := &models.Task{
		ID:        "0b6f9a52-8d7c-4a61-9e39-5d2c3f0d1e11",
		Kind:      models.IntentWriteArticle,
		State:     models.StatePaused,
		CreatedAt: now.Add(-2 * time.Hour),
		Input:     "write an article about\nGo generics",
		Progress:  models.Progress{Step: 1, Total: 3},
	}
	line := formatTaskLine(task, now)
	assert.Contains(t, line, task.ID)
	assert.Contains(t, line, "WRITE_ARTICLE")
	assert.Contains(t, line, "2h ago")
	assert.Contains(t, line, "[1/3]")
	assert.Contains(t, line, "write an article about Go generics")
}

func TestPrintResponse(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printResponse(&buf, &orchestrator.Response{
			Status:    orchestrator.StatusCompleted,
			Message:   "Task SUMMARIZE completed",
			Data:      "Short summary.",
			NextSteps: []string{"Translate it"},
			Usage:     models.Usage{TokensUsed: 1234, Cost: 0.0125},
		}, false))
		out := buf.String()
		assert.Contains(t, out, "✓ Task SUMMARIZE completed")
		assert.Contains(t, out, "Short summary.")
		assert.Contains(t, out, "  - Translate it")
		assert.Contains(t, out, "1,234 tokens, $0.0125")
	})

	t.Run("paused", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printResponse(&buf, &orchestrator.Response{
			Status: orchestrator.StatusPaused, TaskID: "task-1", Message: "Task paused",
		}, false))
		assert.Contains(t, buf.String(), "quill resume task-1")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printResponse(&buf, &orchestrator.Response{
			Status: orchestrator.StatusClarification, Message: "Which one?",
		}, true))
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "clarification", decoded["status"])
	})
}

func TestPrintRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - kind: SUMMARIZE
    schedule: "0 9 * * 1"
    params:
      path: posts/weekly.md
  - kind: PUBLISH_POST
    schedule: "0 0 31 2 *"
    enabled: false
`), 0644))
	rules, err := schedule.LoadRulesFile(path)
	require.NoError(t, err)

	var buf bytes.Buffer
	// Saturday 2025-06-14.
	printRules(&buf, rules, time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC), 2)
	out := buf.String()

	assert.Contains(t, out, "2 rule(s) valid")
	assert.Contains(t, out, "params: path=posts/weekly.md")
	assert.Contains(t, out, "next: Mon 2025-06-16 09:00")
	assert.Contains(t, out, "next: Mon 2025-06-23 09:00")
	assert.Contains(t, out, "disabled")
	assert.Contains(t, out, "never fires within a year")
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)
	assert.Equal(t, "quill version "+Version()+"\n", buf.String())
}

func TestResolveAPIKey(t *testing.T) {
	t.Run("environment wins over config", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-REDACTED")
		cfg := config.Default()
		cfg.Anthropic.APIKey = "sk-ant-REDACTED"

		key, err := resolveAPIKey(cfg)
		require.NoError(t, err)
		assert.Equal(t, "sk-ant-REDACTED", key)
	})

	t.Run("config file", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		cfg := config.Default()
		cfg.Anthropic.APIKey = "sk-ant-REDACTED"

		key, err := resolveAPIKey(cfg)
		require.NoError(t, err)
		assert.Equal(t, "sk-ant-REDACTED", key)
	})

	t.Run("malformed key", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "not-a-real-key")
		_, err := resolveAPIKey(config.Default())
		assert.ErrorContains(t, err, "sk-ant-")
		assert.ErrorContains(t, err, "quill config anthropic.api_key")
	})

	t.Run("missing key", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		_, err := resolveAPIKey(config.Default())
		assert.ErrorIs(t, err, config.ErrNoAPIKey)
	})

	t.Run("bedrock needs no key", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		cfg := config.Default()
		cfg.Anthropic.UseBedrock = true

		key, err := resolveAPIKey(cfg)
		require.NoError(t, err)
		assert.Empty(t, key)
	})
}

func TestNewServices_RejectsMalformedKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "bogus")
	cfg := config.Default()
	cfg.Store.Driver = "memory"

	_, err := newServices(context.Background(), cfg, serviceOptions{logOut: io.Discard})
	assert.ErrorContains(t, err, "invalid API key format")
}

func TestNewServices_Offline(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg := config.Default()
	cfg.Store.Driver = "memory"

	svc, err := newServices(context.Background(), cfg, serviceOptions{offline: true, logOut: io.Discard})
	require.NoError(t, err)
	assert.False(t, svc.telemetry.Enabled())
	assert.Nil(t, svc.model)
	require.NoError(t, svc.close(context.Background()))
}

func TestReportLeakedLocks(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	locks := lock.NewCoordinator(lock.Options{})

	assert.Zero(t, reportLeakedLocks(logger, locks))
	assert.Empty(t, buf.String())

	require.True(t, locks.Acquire("posts/a.md", "task-1"))
	assert.Equal(t, 1, reportLeakedLocks(logger, locks))
	assert.Contains(t, buf.String(), "lock still held at shutdown")
	assert.Contains(t, buf.String(), "resource=posts/a.md")
	assert.Contains(t, buf.String(), "owner=task-1")
}
