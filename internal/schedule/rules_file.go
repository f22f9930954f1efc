package schedule

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/quill/pkg/models"
)

// reloadDelay coalesces the burst of events produced by a single save.
const reloadDelay = 50 * time.Millisecond

// ruleFile is the YAML layout of a rules file:
//
//	rules:
//	  - kind: SUMMARIZE
//	    schedule: "0 9 * * 1"
//	    params:
//	      path: posts/weekly.md
type ruleFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	Kind     string         `yaml:"kind"`
	Schedule string         `yaml:"schedule"`
	Enabled  *bool          `yaml:"enabled"`
	Params   map[string]any `yaml:"params"`
}

// ParseRules decodes YAML rules. Rules are enabled unless they say otherwise.
func ParseRules(data []byte) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	seen := make(map[models.IntentType]bool, len(f.Rules))
	rules := make([]Rule, 0, len(f.Rules))
	for i, spec := range f.Rules {
		kind, ok := models.ParseIntentType(spec.Kind)
		if !ok {
			return nil, fmt.Errorf("rule %d: unknown kind %q", i+1, spec.Kind)
		}
		if seen[kind] {
			return nil, fmt.Errorf("rule %d: duplicate rule for %s", i+1, kind)
		}
		seen[kind] = true
		expr, err := ParseExpression(spec.Schedule)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		enabled := true
		if spec.Enabled != nil {
			enabled = *spec.Enabled
		}
		rules = append(rules, Rule{Kind: kind, Expr: expr, Enabled: enabled, Params: spec.Params})
	}
	return rules, nil
}

// LoadRulesFile reads and parses a YAML rules file.
func LoadRulesFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data)
}

// WatchRulesFile loads the rules file into the scheduler and reloads it
// whenever it changes, until ctx is done. A reload that fails to parse keeps
// the current rules. The initial load must succeed.
func (s *Scheduler) WatchRulesFile(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	if err := s.reload(path); err != nil {
		return err
	}

	base := filepath.Base(path)
	var debounce *time.Timer
	var reloadC <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// A save usually arrives as a truncate followed by writes.
			if debounce == nil {
				debounce = time.NewTimer(reloadDelay)
			} else {
				debounce.Reset(reloadDelay)
			}
			reloadC = debounce.C
		case <-reloadC:
			reloadC = nil
			if err := s.reload(path); err != nil {
				s.logger.Warn("reload rules file", "path", path, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("rules watcher error", "error", err)
		}
	}
}

func (s *Scheduler) reload(path string) error {
	rules, err := LoadRulesFile(path)
	if err != nil {
		return err
	}
	if err := s.SetRules(rules); err != nil {
		return err
	}
	s.logger.Info("rules loaded", "path", path, "count", len(rules))
	return nil
}
