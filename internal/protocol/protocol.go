package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Action discriminates command envelopes.
type Action string

const (
	ActionPing        Action = "ping"
	ActionRun         Action = "run"
	ActionStatus      Action = "status"
	ActionStop        Action = "stop"
	ActionSessionList Action = "session_list"
	ActionChat        Action = "chat"
	ActionSubscribe   Action = "subscribe"
)

// UnknownID is echoed in a response when the request was too malformed to
// recover the client's correlation id.
const UnknownID = "unknown"

// Command is the request envelope sent by clients. Every message carries a
// client-chosen correlation id and an action discriminator; the remaining
// fields are action-specific.
type Command struct {
	ID         string `json:"id"`
	Action     Action `json:"action"`
	Session    string `json:"session,omitempty"`
	Name       string `json:"name,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
	TaskID     string `json:"taskId,omitempty"`
	Text       string `json:"text,omitempty"`
	Model      string `json:"model,omitempty"`
}

// Response echoes the command's correlation id. Exactly one of Data and
// Error is set, and Success agrees with which one it is.
type Response struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func OK(id string, data any) Response {
	return Response{ID: id, Success: true, Data: data}
}

func Fail(id, message string) Response {
	return Response{ID: id, Success: false, Error: message}
}

// EventType discriminates pushed events.
type EventType string

const (
	EventTask    EventType = "task"
	EventSession EventType = "session"
	EventChat    EventType = "chat"
)

// Event is a push-only record delivered to subscribed connections. It is
// never mutated after emission and the daemon keeps no event history.
type Event struct {
	Type      EventType `json:"type"`
	Session   string    `json:"session"`
	Timestamp time.Time `json:"timestamp"`

	// task events
	TaskID string `json:"taskId,omitempty"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`

	// chat events
	MessageID string `json:"messageId,omitempty"`
	Role      string `json:"role,omitempty"`
	Delta     string `json:"delta,omitempty"`
	Text      string `json:"text,omitempty"`
	IsFinal   bool   `json:"isFinal,omitempty"`
	Error     string `json:"error,omitempty"`
}

// FieldIssue names one field that failed shape validation and why.
type FieldIssue struct {
	Field  string
	Reason string
}

// ValidationError reports every failing field of a decoded command.
type ValidationError struct {
	Issues []FieldIssue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s", issue.Field, issue.Reason))
	}
	return "Validation error: " + strings.Join(parts, ", ")
}

// ParseCommand decodes one framed message into a Command and validates it
// against the known command shapes. A JSON-level failure is returned as-is;
// shape mismatches come back as a *ValidationError naming each bad field.
func ParseCommand(raw []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return Command{}, fmt.Errorf("invalid message: %w", err)
	}
	if err := cmd.Validate(); err != nil {
		return cmd, err
	}
	return cmd, nil
}

// Validate checks the action-specific required fields.
func (c Command) Validate() error {
	var issues []FieldIssue
	add := func(field, reason string) {
		issues = append(issues, FieldIssue{Field: field, Reason: reason})
	}

	switch c.Action {
	case ActionPing, ActionSessionList, ActionSubscribe:
		// administrative actions carry no required fields
	case ActionRun:
		if strings.TrimSpace(c.Session) == "" {
			add("session", "is required")
		}
		if strings.TrimSpace(c.Name) == "" {
			add("name", "is required")
		}
		if c.DurationMs < 0 {
			add("durationMs", "must not be negative")
		}
	case ActionStatus, ActionStop:
		if strings.TrimSpace(c.Session) == "" {
			add("session", "is required")
		}
	case ActionChat:
		if strings.TrimSpace(c.Session) == "" {
			add("session", "is required")
		}
		if strings.TrimSpace(c.Text) == "" {
			add("text", "is required")
		}
	case "":
		add("action", "is required")
	default:
		add("action", fmt.Sprintf("unsupported action %q", string(c.Action)))
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// ExtractID best-effort recovers the correlation id from raw bytes that
// failed full decoding, so the error response can still be matched by the
// client. Returns UnknownID when nothing can be recovered.
func ExtractID(raw []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.ID != "" {
		return probe.ID
	}
	return UnknownID
}
