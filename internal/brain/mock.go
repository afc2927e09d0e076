package brain

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local replies when no real backend is
// configured. Useful for development and as the terminal rung of the
// fallback chain.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) Generate(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}
	return Response{Text: buildMockReply(req)}, nil
}

func buildMockReply(req Request) string {
	var lastUser, lastAssistant string
	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			lastAssistant = m.Content
		default:
			lastUser = m.Content
		}
	}

	base := strings.TrimSpace(lastUser)
	if base == "" {
		base = "I am listening."
	}
	if strings.TrimSpace(lastAssistant) == "" {
		return fmt.Sprintf("I heard you: %s", base)
	}
	return fmt.Sprintf("I heard you: %s\nEarlier I said: %s", base, strings.TrimSpace(lastAssistant))
}
