package dispatch

import (
	"errors"
	"fmt"

	"github.com/mzani/taskd/internal/observability"
	"github.com/mzani/taskd/internal/protocol"
	"github.com/mzani/taskd/internal/session"
	"github.com/mzani/taskd/internal/task"
)

// Dispatcher routes validated commands to their handlers and converts every
// handler result or failure into a uniform Response. No handler error
// escapes past here.
type Dispatcher struct {
	registry          *session.Registry
	metrics           *observability.Metrics
	defaultDurationMs int64
}

func New(registry *session.Registry, metrics *observability.Metrics, defaultDurationMs int64) *Dispatcher {
	if defaultDurationMs <= 0 {
		defaultDurationMs = 1000
	}
	return &Dispatcher{
		registry:          registry,
		metrics:           metrics,
		defaultDurationMs: defaultDurationMs,
	}
}

// Dispatch handles one validated command. The subscribe action is
// acknowledged here; the transport layer performs the actual promotion of
// the connection into the broadcaster set.
func (d *Dispatcher) Dispatch(cmd protocol.Command) protocol.Response {
	data, err := d.handle(cmd)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if d.metrics != nil {
		d.metrics.Commands.WithLabelValues(string(cmd.Action), outcome).Inc()
	}

	if err != nil {
		return protocol.Fail(cmd.ID, err.Error())
	}
	return protocol.OK(cmd.ID, data)
}

func (d *Dispatcher) handle(cmd protocol.Command) (any, error) {
	switch cmd.Action {
	case protocol.ActionPing:
		return map[string]any{"message": "pong"}, nil

	case protocol.ActionRun:
		return d.handleRun(cmd)

	case protocol.ActionStatus:
		return d.handleStatus(cmd)

	case protocol.ActionStop:
		return d.handleStop(cmd)

	case protocol.ActionSessionList:
		return map[string]any{"sessions": d.registry.Summaries()}, nil

	case protocol.ActionChat:
		sess := d.registry.GetOrCreate(cmd.Session)
		messageID, err := sess.Chat.Start(cmd.Text, cmd.Model)
		if err != nil {
			return nil, err
		}
		return map[string]any{"messageId": messageID}, nil

	case protocol.ActionSubscribe:
		return map[string]any{"subscribed": true}, nil

	default:
		return nil, fmt.Errorf("unknown command %q", string(cmd.Action))
	}
}

func (d *Dispatcher) handleRun(cmd protocol.Command) (any, error) {
	durationMs := cmd.DurationMs
	if durationMs == 0 {
		durationMs = d.defaultDurationMs
	}
	sess := d.registry.GetOrCreate(cmd.Session)
	t := sess.Executor.Enqueue(cmd.Name, durationMs)
	return map[string]any{"task": t}, nil
}

func (d *Dispatcher) handleStatus(cmd protocol.Command) (any, error) {
	sess := d.registry.GetOrCreate(cmd.Session)
	if cmd.TaskID == "" {
		return map[string]any{"tasks": sess.Executor.List()}, nil
	}
	t, ok := sess.Executor.Get(cmd.TaskID)
	if !ok {
		return nil, fmt.Errorf("unknown task id %q", cmd.TaskID)
	}
	return map[string]any{"task": t}, nil
}

func (d *Dispatcher) handleStop(cmd protocol.Command) (any, error) {
	sess := d.registry.GetOrCreate(cmd.Session)
	if cmd.TaskID == "" {
		return map[string]any{"tasks": sess.Executor.CancelAll()}, nil
	}
	t, err := sess.Executor.Cancel(cmd.TaskID)
	if errors.Is(err, task.ErrTaskNotFound) {
		return nil, fmt.Errorf("unknown task id %q", cmd.TaskID)
	}
	if err != nil {
		return nil, fmt.Errorf("cancel task %q: %w", cmd.TaskID, err)
	}
	return map[string]any{"task": t}, nil
}
