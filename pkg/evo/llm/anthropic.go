package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicBackend calls the Claude Messages API.
type AnthropicBackend struct {
	maxTokens int64
}

// NewAnthropicBackend returns a Claude backend capped at maxTokens per reply.
func NewAnthropicBackend(maxTokens int) *AnthropicBackend {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicBackend{maxTokens: int64(maxTokens)}
}

// Generate implements Backend.
func (a *AnthropicBackend) Generate(ctx context.Context, req Request) (string, error) {
	if req.Credential == "" {
		return "", fmt.Errorf("anthropic: API key is required")
	}

	client := anthropic.NewClient(option.WithAPIKey(req.Credential))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.SystemInstruction != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemInstruction}}
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic: messages %s: %w", req.Model, err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("anthropic: empty response from %s", req.Model)
	}
	return b.String(), nil
}
