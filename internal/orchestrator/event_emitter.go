package orchestrator

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// streamGrace is how long a full stream gets to drain before an event is dropped.
const streamGrace = 100 * time.Millisecond

// Topic is a typed listener set. Listeners run synchronously on the
// publishing goroutine, in subscription order.
type Topic[T any] struct {
	mu     sync.Mutex
	subs   []subscriber[T]
	nextID int
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// Subscribe registers fn and returns a function that removes it.
func (t *Topic[T]) Subscribe(fn func(T)) func() {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.subs = append(t.subs, subscriber[T]{id: id, fn: fn})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, s := range t.subs {
				if s.id == id {
					t.subs = append(t.subs[:i], t.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (t *Topic[T]) publish(ev T) {
	t.mu.Lock()
	fns := make([]func(T), len(t.subs))
	for i, s := range t.subs {
		fns[i] = s.fn
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Bus carries the orchestrator's events, one typed topic per event kind.
type Bus struct {
	StateChanged      Topic[StateChanged]
	TaskCompleted     Topic[TaskCompleted]
	TaskFailed        Topic[TaskFailed]
	CheckpointsLoaded Topic[CheckpointsLoaded]
	TaskProgress      Topic[TaskProgress]

	logger *slog.Logger
}

// NewBus creates an empty Bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Stream subscribes to every topic and delivers flattened events on a
// buffered channel. When the channel stays full for longer than a short grace
// period the event is dropped. The returned function unsubscribes and closes
// the channel.
func (b *Bus) Stream(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	e := &streamEmitter{events: make(chan Event, buffer), logger: b.logger}

	unsubs := []func(){
		b.StateChanged.Subscribe(func(ev StateChanged) {
			e.emit(Event{Type: EventStateChanged, TaskID: ev.Task.ID, State: ev.State, Task: ev.Task, Timestamp: ev.At})
		}),
		b.TaskCompleted.Subscribe(func(ev TaskCompleted) {
			e.emit(Event{Type: EventTaskCompleted, TaskID: ev.TaskID, Result: ev.Result, Timestamp: ev.At})
		}),
		b.TaskFailed.Subscribe(func(ev TaskFailed) {
			e.emit(Event{Type: EventTaskFailed, TaskID: ev.TaskID, Error: ev.Error, Timestamp: ev.At})
		}),
		b.CheckpointsLoaded.Subscribe(func(ev CheckpointsLoaded) {
			e.emit(Event{Type: EventCheckpointsLoaded, Tasks: ev.Tasks, Timestamp: ev.At})
		}),
		b.TaskProgress.Subscribe(func(ev TaskProgress) {
			e.emit(Event{Type: EventTaskProgress, TaskID: ev.TaskID, Progress: ev.Progress, Usage: ev.Usage, Timestamp: ev.At})
		}),
	}

	var once sync.Once
	return e.events, func() {
		once.Do(func() {
			for _, u := range unsubs {
				u()
			}
			e.close()
		})
	}
}

// streamEmitter is a drop-on-full channel writer.
type streamEmitter struct {
	mu           sync.Mutex
	events       chan Event
	closed       bool
	droppedCount atomic.Uint64
	logger       *slog.Logger
}

func (e *streamEmitter) emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	select {
	case e.events <- ev:
		return
	default:
	}

	timer := time.NewTimer(streamGrace)
	defer timer.Stop()
	select {
	case e.events <- ev:
	case <-timer.C:
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			e.logger.Warn("event stream full, dropping events", "dropped", count, "type", ev.Type)
		}
	}
}

func (e *streamEmitter) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
}
