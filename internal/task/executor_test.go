package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mzani/taskd/internal/protocol"
)

type eventLog struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (l *eventLog) publish(evt protocol.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) snapshot() []protocol.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]protocol.Event, len(l.events))
	copy(out, l.events)
	return out
}

func (l *eventLog) forTask(id string) []protocol.Event {
	var out []protocol.Event
	for _, evt := range l.snapshot() {
		if evt.TaskID == id {
			out = append(out, evt)
		}
	}
	return out
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// blockingRunner completes a task only when its release channel is closed.
type blockingRunner struct {
	mu      sync.Mutex
	started []string
	release map[string]chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{release: make(map[string]chan struct{})}
}

func (r *blockingRunner) run(ctx context.Context, t Task) (string, error) {
	r.mu.Lock()
	r.started = append(r.started, t.ID)
	ch, ok := r.release[t.ID]
	if !ok {
		ch = make(chan struct{})
		r.release[t.ID] = ch
	}
	r.mu.Unlock()

	select {
	case <-ch:
		return "done", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *blockingRunner) releaseTask(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.release[id]
	if !ok {
		ch = make(chan struct{})
		r.release[id] = ch
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func (r *blockingRunner) startedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.started))
	copy(out, r.started)
	return out
}

func TestEnqueueReturnsQueuedSnapshot(t *testing.T) {
	log := &eventLog{}
	e := NewExecutor("s1", newBlockingRunner().run, log.publish)

	got := e.Enqueue("build", 50)
	if got.Status != StatusQueued {
		t.Fatalf("Enqueue() status = %q, want %q", got.Status, StatusQueued)
	}
	if got.ID == "" {
		t.Fatalf("Enqueue() returned empty id")
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("Enqueue() returned zero CreatedAt")
	}
}

func TestExecutorRunsInEnqueueOrder(t *testing.T) {
	runner := newBlockingRunner()
	log := &eventLog{}
	e := NewExecutor("s1", runner.run, log.publish)

	a := e.Enqueue("a", 0)
	b := e.Enqueue("b", 0)
	c := e.Enqueue("c", 0)

	for _, id := range []string{a.ID, b.ID, c.ID} {
		waitUntil(t, time.Second, func() bool {
			got, _ := e.Get(id)
			return got.Status == StatusRunning
		})
		runner.releaseTask(id)
		waitUntil(t, time.Second, func() bool {
			got, _ := e.Get(id)
			return got.Status == StatusCompleted
		})
	}

	started := runner.startedIDs()
	want := []string{a.ID, b.ID, c.ID}
	if len(started) != len(want) {
		t.Fatalf("started %d tasks, want %d", len(started), len(want))
	}
	for i := range want {
		if started[i] != want[i] {
			t.Fatalf("start order[%d] = %q, want %q", i, started[i], want[i])
		}
	}
}

func TestExecutorSingleRunningInvariant(t *testing.T) {
	runner := newBlockingRunner()
	log := &eventLog{}
	e := NewExecutor("s1", runner.run, log.publish)

	a := e.Enqueue("a", 0)
	b := e.Enqueue("b", 0)

	waitUntil(t, time.Second, func() bool {
		got, _ := e.Get(a.ID)
		return got.Status == StatusRunning
	})

	got, _ := e.Get(b.ID)
	if got.Status != StatusQueued {
		t.Fatalf("second task status = %q while first runs, want %q", got.Status, StatusQueued)
	}

	running := 0
	for _, task := range e.List() {
		if task.Status == StatusRunning {
			running++
		}
	}
	if running != 1 {
		t.Fatalf("running tasks = %d, want 1", running)
	}

	runner.releaseTask(a.ID)
	waitUntil(t, time.Second, func() bool {
		got, _ := e.Get(b.ID)
		return got.Status == StatusRunning
	})
	runner.releaseTask(b.ID)
	waitUntil(t, time.Second, func() bool {
		got, _ := e.Get(b.ID)
		return got.Status == StatusCompleted
	})
}

func TestCancelQueuedTask(t *testing.T) {
	runner := newBlockingRunner()
	log := &eventLog{}
	e := NewExecutor("s1", runner.run, log.publish)

	a := e.Enqueue("a", 0)
	b := e.Enqueue("b", 0)

	got, err := e.Cancel(b.ID)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("Cancel() status = %q, want %q", got.Status, StatusCancelled)
	}
	if got.EndedAt == nil {
		t.Fatalf("cancelled task has no EndedAt")
	}

	events := log.forTask(b.ID)
	if len(events) != 2 {
		t.Fatalf("events for cancelled queued task = %d, want 2 (queued, cancelled)", len(events))
	}
	if events[0].Status != string(StatusQueued) || events[1].Status != string(StatusCancelled) {
		t.Fatalf("event statuses = %q,%q want queued,cancelled", events[0].Status, events[1].Status)
	}

	// The cancelled task must never run.
	runner.releaseTask(a.ID)
	waitUntil(t, time.Second, func() bool {
		got, _ := e.Get(a.ID)
		return got.Status == StatusCompleted
	})
	for _, id := range runner.startedIDs() {
		if id == b.ID {
			t.Fatalf("cancelled queued task %q was started", b.ID)
		}
	}
}

func TestCancelRunningTask(t *testing.T) {
	log := &eventLog{}
	e := NewExecutor("s1", WaitRunner, log.publish)

	a := e.Enqueue("slow", 5000)
	waitUntil(t, time.Second, func() bool {
		got, _ := e.Get(a.ID)
		return got.Status == StatusRunning
	})

	got, err := e.Cancel(a.ID)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if got.Status != StatusRunning {
		t.Fatalf("Cancel() immediate status = %q, want %q (transition is async)", got.Status, StatusRunning)
	}

	waitUntil(t, time.Second, func() bool {
		got, _ := e.Get(a.ID)
		return got.Status == StatusCancelled
	})
	final, _ := e.Get(a.ID)
	if final.EndedAt == nil || final.StartedAt == nil {
		t.Fatalf("cancelled running task missing timestamps: started=%v ended=%v", final.StartedAt, final.EndedAt)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	log := &eventLog{}
	e := NewExecutor("s1", newBlockingRunner().run, log.publish)

	e.Enqueue("a", 0)
	b := e.Enqueue("b", 0)

	first, err := e.Cancel(b.ID)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	eventsAfterFirst := len(log.forTask(b.ID))

	second, err := e.Cancel(b.ID)
	if err != nil {
		t.Fatalf("second Cancel() error = %v", err)
	}
	if second.Status != first.Status {
		t.Fatalf("second Cancel() status = %q, want %q", second.Status, first.Status)
	}
	if got := len(log.forTask(b.ID)); got != eventsAfterFirst {
		t.Fatalf("second Cancel() emitted an event: %d -> %d", eventsAfterFirst, got)
	}
}

func TestCancelUnknownID(t *testing.T) {
	e := NewExecutor("s1", nil, nil)
	if _, err := e.Cancel("nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("Cancel(unknown) error = %v, want ErrTaskNotFound", err)
	}
}

func TestCancelAllSkipsTerminal(t *testing.T) {
	runner := newBlockingRunner()
	log := &eventLog{}
	e := NewExecutor("s1", runner.run, log.publish)

	a := e.Enqueue("a", 0)
	b := e.Enqueue("b", 0)
	c := e.Enqueue("c", 0)

	waitUntil(t, time.Second, func() bool {
		got, _ := e.Get(a.ID)
		return got.Status == StatusRunning
	})
	runner.releaseTask(a.ID)
	waitUntil(t, time.Second, func() bool {
		got, _ := e.Get(a.ID)
		return got.Status == StatusCompleted
	})
	waitUntil(t, time.Second, func() bool {
		got, _ := e.Get(b.ID)
		return got.Status == StatusRunning
	})

	cancelled := e.CancelAll()
	if len(cancelled) != 2 {
		t.Fatalf("CancelAll() affected %d tasks, want 2", len(cancelled))
	}

	waitUntil(t, time.Second, func() bool {
		gotB, _ := e.Get(b.ID)
		gotC, _ := e.Get(c.ID)
		return gotB.Status == StatusCancelled && gotC.Status == StatusCancelled
	})
	gotA, _ := e.Get(a.ID)
	if gotA.Status != StatusCompleted {
		t.Fatalf("completed task status after CancelAll = %q, want %q", gotA.Status, StatusCompleted)
	}
}

func TestFailedRunnerMarksTaskFailed(t *testing.T) {
	log := &eventLog{}
	boom := errors.New("boom")
	e := NewExecutor("s1", func(ctx context.Context, t Task) (string, error) {
		return "", boom
	}, log.publish)

	a := e.Enqueue("explode", 0)
	waitUntil(t, time.Second, func() bool {
		got, _ := e.Get(a.ID)
		return got.Terminal()
	})

	got, _ := e.Get(a.ID)
	if got.Status != StatusFailed {
		t.Fatalf("status = %q, want %q", got.Status, StatusFailed)
	}
	if got.Error != "boom" {
		t.Fatalf("error = %q, want %q", got.Error, "boom")
	}
}

func TestLifecycleEventsInOrderWithOneTerminal(t *testing.T) {
	log := &eventLog{}
	e := NewExecutor("s1", WaitRunner, log.publish)

	a := e.Enqueue("build", 20)
	waitUntil(t, time.Second, func() bool {
		got, _ := e.Get(a.ID)
		return got.Status == StatusCompleted
	})

	events := log.forTask(a.ID)
	want := []string{"queued", "running", "completed"}
	if len(events) != len(want) {
		t.Fatalf("event count = %d, want %d", len(events), len(want))
	}
	for i, evt := range events {
		if evt.Status != want[i] {
			t.Fatalf("event[%d].Status = %q, want %q", i, evt.Status, want[i])
		}
		if evt.Type != protocol.EventTask {
			t.Fatalf("event[%d].Type = %q, want %q", i, evt.Type, protocol.EventTask)
		}
		if evt.Session != "s1" {
			t.Fatalf("event[%d].Session = %q, want s1", i, evt.Session)
		}
	}
}

func TestSessionsRunIndependently(t *testing.T) {
	log := &eventLog{}
	e1 := NewExecutor("s1", WaitRunner, log.publish)
	e2 := NewExecutor("s2", WaitRunner, log.publish)

	start := time.Now()
	a := e1.Enqueue("a", 200)
	b := e2.Enqueue("b", 200)

	waitUntil(t, 2*time.Second, func() bool {
		gotA, _ := e1.Get(a.ID)
		gotB, _ := e2.Get(b.ID)
		return gotA.Status == StatusCompleted && gotB.Status == StatusCompleted
	})

	// Sequential execution would take ~400ms; independent sessions overlap.
	if elapsed := time.Since(start); elapsed > 390*time.Millisecond {
		t.Fatalf("independent sessions took %s, expected concurrent completion", elapsed)
	}
}

func TestListInsertionOrder(t *testing.T) {
	runner := newBlockingRunner()
	e := NewExecutor("s1", runner.run, nil)

	a := e.Enqueue("a", 0)
	b := e.Enqueue("b", 0)
	c := e.Enqueue("c", 0)

	list := e.List()
	want := []string{a.ID, b.ID, c.ID}
	if len(list) != len(want) {
		t.Fatalf("List() length = %d, want %d", len(list), len(want))
	}
	for i, id := range want {
		if list[i].ID != id {
			t.Fatalf("List()[%d].ID = %q, want %q", i, list[i].ID, id)
		}
	}
}

func TestWaitRunnerHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := WaitRunner(ctx, Task{Name: "slow", DurationMs: 5000})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("WaitRunner() error = %v, want context.Canceled", err)
	}
}
