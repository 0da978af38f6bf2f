package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mzani/taskd/internal/protocol"
)

// Publisher receives every lifecycle event the executor emits.
type Publisher func(protocol.Event)

// Executor owns the FIFO task queue of one session and runs at most one
// task at a time. All state is guarded by mu; events are published while
// the lock is held so events for a single task always arrive in lifecycle
// order (queued, running, exactly one terminal).
type Executor struct {
	mu sync.Mutex

	session string
	runner  Runner
	publish Publisher

	tasks map[string]*Task
	order []string
	queue []string

	runningID     string
	cancelRunning context.CancelFunc
}

func NewExecutor(session string, runner Runner, publish Publisher) *Executor {
	if runner == nil {
		runner = WaitRunner
	}
	if publish == nil {
		publish = func(protocol.Event) {}
	}
	return &Executor{
		session: session,
		runner:  runner,
		publish: publish,
		tasks:   make(map[string]*Task),
	}
}

// Enqueue creates a queued task at the tail of the queue and starts it
// immediately when the running slot is free. Never blocks the caller.
func (e *Executor) Enqueue(name string, durationMs int64) Task {
	now := time.Now().UTC()
	t := &Task{
		ID:         uuid.NewString(),
		Session:    e.session,
		Name:       name,
		Status:     StatusQueued,
		DurationMs: durationMs,
		CreatedAt:  now,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks[t.ID] = t
	e.order = append(e.order, t.ID)
	e.queue = append(e.queue, t.ID)
	e.publish(e.eventLocked(t, now))

	// The caller sees the queued snapshot even when the running slot is
	// free and execution begins before the response goes out.
	snapshot := *t
	e.startNextLocked()
	return snapshot
}

// List returns every task ever created for the session, insertion order.
func (e *Executor) List() []Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Task, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, *e.tasks[id])
	}
	return out
}

func (e *Executor) Get(id string) (Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Cancel cancels one task. A queued task is removed from the queue and
// transitions synchronously; the running task only gets its abort signal
// raised and transitions when the runner observes it; a terminal task is
// returned unchanged. Idempotent.
func (e *Executor) Cancel(id string) (Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelLocked(id)
}

// CancelAll cancels every non-terminal task for the session and returns
// the affected snapshots in insertion order.
func (e *Executor) CancelAll() []Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Task, 0, len(e.order))
	for _, id := range e.order {
		if e.tasks[id].Terminal() {
			continue
		}
		t, _ := e.cancelLocked(id)
		out = append(out, t)
	}
	return out
}

func (e *Executor) cancelLocked(id string) (Task, error) {
	t, ok := e.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	if t.Terminal() {
		return *t, nil
	}

	if e.runningID == id {
		if e.cancelRunning != nil {
			e.cancelRunning()
		}
		return *t, nil
	}

	// Queued: drop from the queue and finish synchronously, it never ran.
	for i, queued := range e.queue {
		if queued == id {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			break
		}
	}
	now := time.Now().UTC()
	t.Status = StatusCancelled
	t.EndedAt = &now
	e.publish(e.eventLocked(t, now))
	return *t, nil
}

// startNextLocked claims the running slot for the queue head, if any.
// Callers must hold mu.
func (e *Executor) startNextLocked() {
	if e.runningID != "" || len(e.queue) == 0 {
		return
	}
	id := e.queue[0]
	e.queue = e.queue[1:]
	t := e.tasks[id]

	now := time.Now().UTC()
	t.Status = StatusRunning
	t.StartedAt = &now
	e.runningID = id

	ctx, cancel := context.WithCancel(context.Background())
	e.cancelRunning = cancel
	e.publish(e.eventLocked(t, now))
	go e.run(ctx, cancel, id, *t)
}

func (e *Executor) run(ctx context.Context, cancel context.CancelFunc, id string, snapshot Task) {
	defer cancel()
	result, err := e.runner(ctx, snapshot)
	now := time.Now().UTC()

	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.tasks[id]
	switch {
	case err == nil:
		t.Status = StatusCompleted
		t.Result = result
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		t.Status = StatusCancelled
	default:
		t.Status = StatusFailed
		t.Error = err.Error()
	}
	t.EndedAt = &now

	e.runningID = ""
	e.cancelRunning = nil
	e.publish(e.eventLocked(t, now))
	e.startNextLocked()
}

func (e *Executor) eventLocked(t *Task, at time.Time) protocol.Event {
	return protocol.Event{
		Type:      protocol.EventTask,
		Session:   e.session,
		TaskID:    t.ID,
		Name:      t.Name,
		Status:    string(t.Status),
		Timestamp: at,
	}
}
