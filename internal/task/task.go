package task

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var ErrTaskNotFound = errors.New("task not found")

// Task is one unit of queued or executing work. Snapshots returned by the
// executor are copies; a task that reached a terminal status never changes
// again.
type Task struct {
	ID         string     `json:"id"`
	Session    string     `json:"session"`
	Name       string     `json:"name"`
	Status     Status     `json:"status"`
	DurationMs int64      `json:"durationMs"`
	Result     string     `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
}

func (t Task) Terminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Runner performs the unit of work for one task. It must honor ctx: a
// cancelled context is the cooperative abort signal, and the executor marks
// the task cancelled only once the runner returns because of it.
type Runner func(ctx context.Context, t Task) (string, error)

// WaitRunner is the default unit of work: it waits out the task's expected
// duration, or returns early when cancelled.
func WaitRunner(ctx context.Context, t Task) (string, error) {
	d := time.Duration(t.DurationMs) * time.Millisecond
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return fmt.Sprintf("%s finished after %s", t.Name, d), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
