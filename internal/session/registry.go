package session

import (
	"sync"
	"time"

	"github.com/mzani/taskd/internal/chat"
	"github.com/mzani/taskd/internal/protocol"
	"github.com/mzani/taskd/internal/task"
	"github.com/mzani/taskd/internal/transcript"
)

// Session is one named, independent scope owning exactly one task executor
// and one chat conversation.
type Session struct {
	Name      string
	CreatedAt time.Time
	Executor  *task.Executor
	Chat      *chat.Conversation
}

// Summary is the session_list view of a session.
type Summary struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	TaskCount int       `json:"taskCount"`
}

// Registry owns every session for the daemon's lifetime. Sessions are
// created on first reference and never deleted; names are case-sensitive.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	order    []string

	runner       task.Runner
	provider     chat.Provider
	store        transcript.Store
	contextTurns int
	publish      func(protocol.Event)
}

func NewRegistry(runner task.Runner, provider chat.Provider, store transcript.Store, contextTurns int, publish func(protocol.Event)) *Registry {
	if publish == nil {
		publish = func(protocol.Event) {}
	}
	return &Registry{
		sessions:     make(map[string]*Session),
		runner:       runner,
		provider:     provider,
		store:        store,
		contextTurns: contextTurns,
		publish:      publish,
	}
}

// GetOrCreate returns the named session, creating it with a fresh executor
// and empty chat state on first reference. Creation emits one session event.
func (r *Registry) GetOrCreate(name string) *Session {
	r.mu.Lock()
	if s, ok := r.sessions[name]; ok {
		r.mu.Unlock()
		return s
	}

	s := &Session{
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Executor:  task.NewExecutor(name, r.runner, task.Publisher(r.publish)),
		Chat:      chat.NewConversation(name, r.provider, r.store, r.contextTurns, chat.Publisher(r.publish)),
	}
	r.sessions[name] = s
	r.order = append(r.order, name)
	r.mu.Unlock()

	r.publish(protocol.Event{
		Type:      protocol.EventSession,
		Session:   name,
		Timestamp: s.CreatedAt,
	})
	return s
}

// List returns all sessions in creation order.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.sessions[name])
	}
	return out
}

// Summaries returns the session_list payload in creation order.
func (r *Registry) Summaries() []Summary {
	sessions := r.List()
	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, Summary{
			Name:      s.Name,
			CreatedAt: s.CreatedAt,
			TaskCount: len(s.Executor.List()),
		})
	}
	return out
}
