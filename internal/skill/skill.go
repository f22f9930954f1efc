// Package skill defines capability handlers and the registry that resolves
// them by intent type.
package skill

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/ShayCichocki/quill/internal/intent"
	"github.com/ShayCichocki/quill/pkg/models"
)

// ErrCancelled is returned by handlers that observed cancellation.
var ErrCancelled = errors.New("skill: cancelled")

// ErrDuplicateSkill is returned when a skill name is registered twice.
var ErrDuplicateSkill = errors.New("skill: duplicate name")

// Parameter keys set by the orchestrator from the classified intent.
const (
	ParamInput    = "input"
	ParamEntities = "entities"
	ParamPath     = "path"
	ParamLanguage = "language"
)

// StringParam returns params[key] if it is a non-empty string.
func StringParam(params map[string]any, key string) (string, bool) {
	s, ok := params[key].(string)
	return s, ok && s != ""
}

// Result is the outcome of a handler run.
type Result struct {
	Success    bool     `json:"success"`
	Data       any      `json:"data,omitempty"`
	Error      string   `json:"error,omitempty"`
	TokensUsed int64    `json:"tokens_used,omitempty"`
	Cost       float64  `json:"cost,omitempty"`
	NextSteps  []string `json:"next_steps,omitempty"`
}

// Handler performs the action behind an intent.
type Handler interface {
	Execute(sc *Context, params map[string]any) (*Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(sc *Context, params map[string]any) (*Result, error)

// Execute calls f.
func (f HandlerFunc) Execute(sc *Context, params map[string]any) (*Result, error) {
	return f(sc, params)
}

// Triggers let the classifier route requests to a skill when no rule matched.
type Triggers struct {
	Keywords []string
	// Pattern is a regular expression; empty disables pattern matching.
	Pattern string
}

// Skill is a named handler for one intent type.
type Skill struct {
	Name        string
	Intent      models.IntentType
	Description string
	Triggers    Triggers
	Handler     Handler
}

type entry struct {
	skill   Skill
	pattern *regexp.Regexp
	order   int
}

// Registry holds the registered skills.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]*entry
	next   int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{skills: make(map[string]*entry)}
}

// Register adds a skill. Names are unique.
func (r *Registry) Register(s Skill) error {
	if s.Name == "" {
		return errors.New("skill: name is required")
	}
	if !s.Intent.Valid() {
		return fmt.Errorf("skill %s: unknown intent %q", s.Name, s.Intent)
	}
	if s.Handler == nil {
		return fmt.Errorf("skill %s: handler is required", s.Name)
	}

	var re *regexp.Regexp
	if s.Triggers.Pattern != "" {
		var err error
		if re, err = regexp.Compile(s.Triggers.Pattern); err != nil {
			return fmt.Errorf("skill %s: trigger pattern: %w", s.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.skills[s.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSkill, s.Name)
	}
	r.skills[s.Name] = &entry{skill: s, pattern: re, order: r.next}
	r.next++
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(s Skill) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// Resolve returns the earliest registered skill for the intent type.
func (r *Registry) Resolve(t models.IntentType) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *entry
	for _, e := range r.skills {
		if e.skill.Intent == t && (best == nil || e.order < best.order) {
			best = e
		}
	}
	if best == nil {
		return Skill{}, false
	}
	return best.skill, true
}

// Get returns the skill with the given name.
func (r *Registry) Get(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.skills[name]
	if !ok {
		return Skill{}, false
	}
	return e.skill, true
}

// List returns all skills in registration order.
func (r *Registry) List() []Skill {
	entries := r.ordered()
	out := make([]Skill, len(entries))
	for i, e := range entries {
		out[i] = e.skill
	}
	return out
}

// SkillTriggers returns the triggers of every skill in registration order.
func (r *Registry) SkillTriggers() []intent.SkillTrigger {
	entries := r.ordered()
	out := make([]intent.SkillTrigger, 0, len(entries))
	for _, e := range entries {
		if len(e.skill.Triggers.Keywords) == 0 && e.pattern == nil {
			continue
		}
		out = append(out, intent.SkillTrigger{
			Skill:    e.skill.Name,
			Intent:   e.skill.Intent,
			Keywords: e.skill.Triggers.Keywords,
			Pattern:  e.pattern,
		})
	}
	return out
}

func (r *Registry) ordered() []*entry {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.skills))
	for _, e := range r.skills {
		entries = append(entries, e)
	}
	r.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })
	return entries
}
