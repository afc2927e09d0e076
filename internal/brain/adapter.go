package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Message is one prompt message in chronological order.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the normalized request sent to the generative backend. The
// responder assembles System and Messages; adapters only translate them to
// their wire format.
type Request struct {
	UserID      string    `json:"user_id"`
	TurnID      string    `json:"turn_id"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int64     `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

// Response is the backend's final text.
type Response struct {
	Text string `json:"text"`
}

// Adapter bridges the responder with a generative backend. Implementations
// must honor the context deadline; the responder treats any error as a
// signal to take the deterministic fallback path.
type Adapter interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Config controls adapter construction.
type Config struct {
	Mode            string
	AnthropicAPIKey string
	Model           string
}

// NewAdapter builds an adapter for the configured mode. "auto" prefers the
// Anthropic backend with a mock safety net when a key is present, and
// degrades to the mock alone otherwise.
func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.AnthropicAPIKey) != "" {
			return NewFallbackAdapter(NewAnthropicAdapter(cfg.AnthropicAPIKey, cfg.Model), NewMockAdapter()), nil
		}
		return NewMockAdapter(), nil
	case "anthropic":
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
			return nil, errors.New("anthropic API key is required for anthropic mode")
		}
		return NewAnthropicAdapter(cfg.AnthropicAPIKey, cfg.Model), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported brain adapter mode %q", cfg.Mode)
	}
}
