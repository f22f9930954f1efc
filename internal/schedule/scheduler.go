package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/ShayCichocki/quill/internal/queue"
	"github.com/ShayCichocki/quill/pkg/models"
)

// DefaultPollInterval is used when Options.PollInterval is zero.
const DefaultPollInterval = 60 * time.Second

// Rule fires a job of Kind whenever Expr matches.
type Rule struct {
	Kind    models.IntentType
	Expr    Expression
	Enabled bool
	Params  map[string]any
	// LastRunAt is when the rule last fired; nil if never.
	LastRunAt *time.Time
}

// Submitter accepts jobs; *queue.Queue satisfies it.
type Submitter interface {
	Submit(spec queue.Spec) (queue.Job, error)
}

// Options configures a Scheduler.
type Options struct {
	PollInterval time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
}

// Scheduler polls its rule table and submits a job for every rule that
// matches the current minute.
type Scheduler struct {
	mu    sync.Mutex
	rules []Rule

	submitter Submitter
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a Scheduler with no rules.
func New(submitter Submitter, opts Options) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		submitter: submitter,
		interval:  opts.PollInterval,
		now:       opts.Now,
		logger:    opts.Logger.With("component", "scheduler"),
	}
}

// SetRules replaces the rule table. Kinds must be unique. A rule without a
// LastRunAt inherits the one of the rule it replaces, so reloading does not
// re-fire a rule within the same minute.
func (s *Scheduler) SetRules(rules []Rule) error {
	seen := make(map[models.IntentType]bool, len(rules))
	for _, r := range rules {
		if !r.Kind.Valid() {
			return fmt.Errorf("schedule: unknown kind %q", r.Kind)
		}
		if r.Expr.IsZero() {
			return fmt.Errorf("schedule: rule %s has no expression", r.Kind)
		}
		if seen[r.Kind] {
			return fmt.Errorf("schedule: duplicate rule for %s", r.Kind)
		}
		seen[r.Kind] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	previous := make(map[models.IntentType]*time.Time, len(s.rules))
	for _, r := range s.rules {
		previous[r.Kind] = r.LastRunAt
	}
	next := make([]Rule, len(rules))
	for i, r := range rules {
		r.Params = maps.Clone(r.Params)
		if r.LastRunAt == nil {
			r.LastRunAt = previous[r.Kind]
		}
		next[i] = r
	}
	s.rules = next
	return nil
}

// Rules returns a copy of the rule table.
func (s *Scheduler) Rules() []Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Rule, len(s.rules))
	for i, r := range s.rules {
		r.Params = maps.Clone(r.Params)
		if r.LastRunAt != nil {
			last := *r.LastRunAt
			r.LastRunAt = &last
		}
		out[i] = r
	}
	return out
}

// Tick evaluates every enabled rule against now and returns the kinds that fired.
func (s *Scheduler) Tick(now time.Time) []models.IntentType {
	s.mu.Lock()
	defer s.mu.Unlock()

	minute := now.Truncate(time.Minute)
	var fired []models.IntentType
	for i := range s.rules {
		r := &s.rules[i]
		if !r.Enabled || !r.Expr.Matches(now) {
			continue
		}
		if r.LastRunAt != nil && r.LastRunAt.Truncate(time.Minute).Equal(minute) {
			continue
		}

		job, err := s.submitter.Submit(queue.Spec{
			Kind:        string(r.Kind),
			Params:      maps.Clone(r.Params),
			TriggeredBy: models.TriggerSystem,
		})
		if err != nil {
			s.logger.Warn("submit scheduled job", "kind", r.Kind, "error", err)
			continue
		}
		last := now
		r.LastRunAt = &last
		fired = append(fired, r.Kind)
		s.logger.Info("rule fired", "kind", r.Kind, "expr", r.Expr.String(), "job_id", job.ID)
	}
	return fired
}

// Run checks the rules immediately and then every poll interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", "interval", s.interval)
	s.Tick(s.now())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(s.now())
		}
	}
}
