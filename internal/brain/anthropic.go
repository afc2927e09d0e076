package brain

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-3-5-haiku-latest"

// AnthropicAdapter generates replies through the Anthropic Messages API.
type AnthropicAdapter struct {
	client anthropic.Client
	model  string
}

func NewAnthropicAdapter(apiKey, model string) *AnthropicAdapter {
	if strings.TrimSpace(model) == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicAdapter{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (a *AnthropicAdapter) Generate(ctx context.Context, req Request) (Response, error) {
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
	}
	if len(msgs) == 0 {
		return Response{}, fmt.Errorf("empty prompt")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 500
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	// Temperature is always explicit in Request; 0 means deterministic
	// sampling, not "unset".
	params.Temperature = anthropic.Float(req.Temperature)

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic generate: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	out := strings.TrimSpace(text.String())
	if out == "" {
		return Response{}, fmt.Errorf("anthropic returned no text content")
	}
	return Response{Text: out}, nil
}
