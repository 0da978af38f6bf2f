package chat

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mzani/taskd/internal/protocol"
	"github.com/mzani/taskd/internal/transcript"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Publisher receives every chat event the conversation emits.
type Publisher func(protocol.Event)

// Conversation is the chat state of one session: at most one exchange in
// flight at a time. Start returns immediately; deltas and exactly one final
// event are published asynchronously by the streaming goroutine.
type Conversation struct {
	mu         sync.Mutex
	inProgress bool

	session      string
	provider     Provider
	store        transcript.Store
	publish      Publisher
	contextTurns int
}

func NewConversation(session string, provider Provider, store transcript.Store, contextTurns int, publish Publisher) *Conversation {
	if publish == nil {
		publish = func(protocol.Event) {}
	}
	if contextTurns <= 0 {
		contextTurns = 8
	}
	return &Conversation{
		session:      session,
		provider:     provider,
		store:        store,
		publish:      publish,
		contextTurns: contextTurns,
	}
}

// Start begins one exchange and returns the assistant message id the
// streamed events will carry. Fails while a previous exchange is in flight.
func (c *Conversation) Start(text, model string) (string, error) {
	c.mu.Lock()
	if c.inProgress {
		c.mu.Unlock()
		return "", fmt.Errorf("chat already in progress for session %q", c.session)
	}
	c.inProgress = true
	c.mu.Unlock()

	messageID := uuid.NewString()
	go c.stream(messageID, text, model)
	return messageID, nil
}

// InProgress reports whether an exchange is currently in flight.
func (c *Conversation) InProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inProgress
}

func (c *Conversation) stream(messageID, text, model string) {
	defer func() {
		c.mu.Lock()
		c.inProgress = false
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c.saveTurn(ctx, RoleUser, text)

	req := MessageRequest{
		Session: c.session,
		Text:    text,
		Model:   model,
		Context: c.recentContext(ctx),
	}

	res, err := c.provider.StreamResponse(ctx, req, func(delta string) error {
		c.publish(protocol.Event{
			Type:      protocol.EventChat,
			Session:   c.session,
			MessageID: messageID,
			Role:      RoleAssistant,
			Delta:     delta,
			Timestamp: time.Now().UTC(),
		})
		return nil
	})
	if err != nil {
		// Provider failures end the exchange with an error-bearing final
		// event; they never take down the session.
		c.publish(protocol.Event{
			Type:      protocol.EventChat,
			Session:   c.session,
			MessageID: messageID,
			Role:      RoleAssistant,
			IsFinal:   true,
			Error:     err.Error(),
			Timestamp: time.Now().UTC(),
		})
		return
	}

	c.saveTurn(ctx, RoleAssistant, res.Text)
	c.publish(protocol.Event{
		Type:      protocol.EventChat,
		Session:   c.session,
		MessageID: messageID,
		Role:      RoleAssistant,
		Text:      res.Text,
		IsFinal:   true,
		Timestamp: time.Now().UTC(),
	})
}

func (c *Conversation) saveTurn(ctx context.Context, role, content string) {
	if c.store == nil {
		return
	}
	err := c.store.SaveTurn(ctx, transcript.Turn{
		Session: c.session,
		Role:    role,
		Content: content,
	})
	if err != nil {
		log.Printf("chat: save %s turn for session %q failed: %v", role, c.session, err)
	}
}

func (c *Conversation) recentContext(ctx context.Context) []string {
	if c.store == nil {
		return nil
	}
	turns, err := c.store.RecentTurns(ctx, c.session, c.contextTurns)
	if err != nil {
		log.Printf("chat: load context for session %q failed: %v", c.session, err)
		return nil
	}
	out := make([]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, fmt.Sprintf("%s: %s", t.Role, t.Content))
	}
	return out
}
