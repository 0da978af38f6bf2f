package chat

import (
	"context"
	"fmt"
	"strings"
)

// MockProvider produces deterministic local replies when no chat backend is
// configured.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) StreamResponse(
	ctx context.Context,
	req MessageRequest,
	onDelta DeltaHandler,
) (MessageResponse, error) {
	select {
	case <-ctx.Done():
		return MessageResponse{}, ctx.Err()
	default:
	}

	text := buildMockReply(req)
	if onDelta != nil {
		// Emit word-sized deltas so subscribers exercise the streaming path.
		for _, word := range strings.SplitAfter(text, " ") {
			if word == "" {
				continue
			}
			if err := onDelta(word); err != nil {
				return MessageResponse{}, err
			}
		}
	}
	return MessageResponse{Text: text}, nil
}

func buildMockReply(req MessageRequest) string {
	base := strings.TrimSpace(req.Text)
	if base == "" {
		base = "I am listening."
	}

	if len(req.Context) == 0 {
		return fmt.Sprintf("I heard you: %s", base)
	}

	last := strings.TrimSpace(req.Context[len(req.Context)-1])
	if last == "" {
		return fmt.Sprintf("I heard you: %s", base)
	}
	return fmt.Sprintf("I heard you: %s\nI also remember: %s", base, last)
}
