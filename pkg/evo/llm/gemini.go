package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiBackend calls the Gemini API. A client is built per call because
// the API key changes from one server to the next.
type GeminiBackend struct{}

// NewGeminiBackend returns a Gemini backend.
func NewGeminiBackend() *GeminiBackend { return &GeminiBackend{} }

// Generate implements Backend.
func (g *GeminiBackend) Generate(ctx context.Context, req Request) (string, error) {
	if req.Credential == "" {
		return "", fmt.Errorf("gemini: API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  req.Credential,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("gemini: creating client: %w", err)
	}

	var cfg *genai.GenerateContentConfig
	if req.SystemInstruction != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(req.SystemInstruction, genai.RoleUser),
		}
	}

	resp, err := client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: generate %s: %w", req.Model, err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini: empty response from %s", req.Model)
	}
	return text, nil
}
