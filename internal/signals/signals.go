// Package signals lets other processes control a running daemon by dropping
// marker files into a shared directory.
package signals

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Action is a control request.
type Action string

const (
	// Pause asks the daemon to pause and checkpoint every running task.
	Pause Action = "pause"
	// Stop asks the daemon to shut down gracefully.
	Stop Action = "stop"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == Pause || a == Stop
}

// DefaultDir returns the signals directory under the XDG data home.
func DefaultDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "quill", "signals")
}

// Send writes the marker file for action into dir.
func Send(dir string, action Action) error {
	if !action.Valid() {
		return fmt.Errorf("unknown signal %q", action)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create signals dir: %w", err)
	}
	path := filepath.Join(dir, string(action))
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644)
}

// Clear removes any pending marker files.
func Clear(dir string) {
	os.Remove(filepath.Join(dir, string(Pause)))
	os.Remove(filepath.Join(dir, string(Stop)))
}

// Watch calls fn for each marker file that appears in dir until ctx is done.
// Markers are consumed: the file is removed before fn runs. Markers left over
// from a previous run are cleared when watching starts.
func Watch(ctx context.Context, dir string, logger *slog.Logger, fn func(Action)) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "signals")

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create signals dir: %w", err)
	}
	Clear(dir)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			action := Action(filepath.Base(event.Name))
			if !action.Valid() {
				continue
			}
			// A Create is usually followed by a Write; the failed remove
			// on the second event filters the duplicate.
			if err := os.Remove(event.Name); err != nil {
				continue
			}
			logger.Info("signal received", "action", action)
			fn(action)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("signals watcher error", "error", err)
		}
	}
}
