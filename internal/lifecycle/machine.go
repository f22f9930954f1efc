// Package lifecycle implements the task state machine and its watchdog.
//
// A Machine validates every transition against a fixed edge table. While a
// task sits in UNDERSTANDING, PLANNING or EXECUTING a single-shot watchdog is
// armed; if no transition happens before it fires, the machine is forced into
// ERROR with a WATCHDOG_TIMEOUT reason.
package lifecycle

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ShayCichocki/quill/pkg/models"
)

// DefaultWatchdogTimeout is used when Options.WatchdogTimeout is zero.
const DefaultWatchdogTimeout = 5 * time.Minute

// ReasonWatchdogTimeout is the code recorded when the watchdog fires.
const ReasonWatchdogTimeout = "WATCHDOG_TIMEOUT"

// TimeoutReason describes a watchdog-forced transition.
type TimeoutReason struct {
	Code      string           `json:"code"`
	From      models.TaskState `json:"from"`
	ElapsedMs int64            `json:"elapsed_ms"`
}

// Error implements error so the reason can be surfaced as a task failure.
func (r TimeoutReason) Error() string {
	return fmt.Sprintf("%s: stuck in %s for %dms", r.Code, r.From, r.ElapsedMs)
}

// Transition is delivered to listeners after the state changes.
type Transition struct {
	From models.TaskState
	To   models.TaskState
	At   time.Time
	// Reason is set when the watchdog forced the transition.
	Reason *TimeoutReason
	// Note carries the message of an administrative failure.
	Note string
}

// Forced reports whether the transition bypassed the edge table.
func (t Transition) Forced() bool {
	return t.Reason != nil || t.Note != ""
}

// Options configures a Machine.
type Options struct {
	// WatchdogTimeout bounds the time spent in an active state.
	WatchdogTimeout time.Duration
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
	// Logger receives watchdog warnings; defaults to slog.Default().
	Logger *slog.Logger
}

type listener struct {
	id    int
	state models.TaskState // empty means every transition
	fn    func(Transition)
}

// Machine is the state machine for a single task. It is safe for concurrent use.
type Machine struct {
	mu        sync.Mutex
	state     models.TaskState
	enteredAt time.Time

	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger

	// timer is the armed watchdog, nil when disarmed.
	timer *time.Timer
	// generation increments on every state change; a watchdog only fires
	// for the generation it was armed in.
	generation uint64
	closed     bool

	listeners []listener
	nextID    int
}

// New creates a Machine in IDLE.
func New(opts Options) *Machine {
	if opts.WatchdogTimeout <= 0 {
		opts.WatchdogTimeout = DefaultWatchdogTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Machine{
		state:     models.StateIdle,
		enteredAt: opts.Now(),
		timeout:   opts.WatchdogTimeout,
		now:       opts.Now,
		logger:    opts.Logger.With("component", "lifecycle"),
	}
}

// State returns the current state.
func (m *Machine) State() models.TaskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to the target state if the edge exists.
// It returns false and leaves the state and listeners untouched otherwise.
func (m *Machine) Transition(to models.TaskState) bool {
	m.mu.Lock()
	if m.closed || !CanTransition(m.state, to) {
		m.mu.Unlock()
		return false
	}
	t := m.setStateLocked(to)
	ls := m.listenersFor(to)
	m.mu.Unlock()

	notify(ls, t)
	return true
}

// Fail forces the machine into ERROR regardless of the edge table. It is the
// administrative override used for failures detected outside the handler,
// such as a missing skill. It returns false if the machine is already in ERROR.
func (m *Machine) Fail(note string) bool {
	m.mu.Lock()
	if m.closed || m.state == models.StateError {
		m.mu.Unlock()
		return false
	}
	t := m.setStateLocked(models.StateError)
	t.Note = note
	ls := m.listenersFor(models.StateError)
	m.mu.Unlock()

	notify(ls, t)
	return true
}

// Restore sets the state without validation or notification. It is used to
// rehydrate a machine from a checkpoint. Restoring an active state arms the watchdog.
func (m *Machine) Restore(state models.TaskState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStateLocked(state)
}

// Close disarms the watchdog and rejects further transitions.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disarmLocked()
	m.generation++
	m.closed = true
}

// OnTransition registers a listener for every state change.
// The returned function removes it.
func (m *Machine) OnTransition(fn func(Transition)) func() {
	return m.subscribe("", fn)
}

// OnEnter registers a listener for transitions into the given state.
// The returned function removes it.
func (m *Machine) OnEnter(state models.TaskState, fn func(Transition)) func() {
	return m.subscribe(state, fn)
}

func (m *Machine) subscribe(state models.TaskState, fn func(Transition)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listener{id: id, state: state, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, l := range m.listeners {
				if l.id == id {
					m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// setStateLocked changes state and re-arms the watchdog. Must hold mu.
func (m *Machine) setStateLocked(to models.TaskState) Transition {
	now := m.now()
	t := Transition{From: m.state, To: to, At: now}
	m.state = to
	m.enteredAt = now
	m.generation++
	m.disarmLocked()
	if to.IsActive() {
		m.armLocked()
	}
	return t
}

func (m *Machine) armLocked() {
	gen := m.generation
	from := m.state
	started := m.enteredAt
	m.timer = time.AfterFunc(m.timeout, func() {
		m.fire(gen, from, started)
	})
}

func (m *Machine) disarmLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// fire forces ERROR if the machine is still in the generation the timer was armed for.
func (m *Machine) fire(gen uint64, from models.TaskState, started time.Time) {
	m.mu.Lock()
	if m.closed || m.generation != gen || m.state != from {
		m.mu.Unlock()
		return
	}
	reason := &TimeoutReason{
		Code:      ReasonWatchdogTimeout,
		From:      from,
		ElapsedMs: m.now().Sub(started).Milliseconds(),
	}
	t := m.setStateLocked(models.StateError)
	t.Reason = reason
	ls := m.listenersFor(models.StateError)
	m.mu.Unlock()

	m.logger.Warn("watchdog fired",
		"from", from,
		"elapsed_ms", reason.ElapsedMs,
		"timeout", m.timeout)
	notify(ls, t)
}

// listenersFor snapshots the listeners interested in a target state. Must hold mu.
func (m *Machine) listenersFor(to models.TaskState) []func(Transition) {
	var out []func(Transition)
	for _, l := range m.listeners {
		if l.state == "" || l.state == to {
			out = append(out, l.fn)
		}
	}
	return out
}

func notify(ls []func(Transition), t Transition) {
	for _, fn := range ls {
		fn(t)
	}
}
