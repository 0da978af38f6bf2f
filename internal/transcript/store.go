package transcript

import (
	"context"
	"strings"
	"time"
)

// Turn is one user or assistant message in a session's chat transcript.
type Turn struct {
	ID        string    `json:"id"`
	Session   string    `json:"session"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists and retrieves chat transcripts. Task and session state is
// deliberately not stored here; only the chat collaborator's conversation
// history is.
type Store interface {
	SaveTurn(ctx context.Context, turn Turn) error
	RecentTurns(ctx context.Context, session string, limit int) ([]Turn, error)
	Close() error
}

// NewStore creates a postgres-backed store when configured, otherwise
// in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
