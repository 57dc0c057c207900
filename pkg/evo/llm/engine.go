package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// ErrNoUsableCredential means every credential was missing or failed.
var ErrNoUsableCredential = errors.New("llm: no usable credential")

// Result is a successful generation together with what produced it, so
// follow-up calls for the same turn can reuse the working key.
type Result struct {
	Text       string
	Credential string
	Model      string
}

// Engine runs a generation with credential fallback.
type Engine struct {
	backend Backend
	logger  *slog.Logger
}

// NewEngine creates an engine over backend (usually a *Router).
func NewEngine(backend Backend, logger *slog.Logger) *Engine {
	return &Engine{
		backend: backend,
		logger:  logger.With("component", "engine"),
	}
}

// Backend returns the backend the engine generates with.
func (e *Engine) Backend() Backend { return e.backend }

// Generate tries each credential in order and returns the first success.
// Credentials are tried one at a time, never in parallel. Failures,
// including replies with no text, are logged and skipped; when none
// succeeds ErrNoUsableCredential is returned.
func (e *Engine) Generate(ctx context.Context, creds []string, model, systemInstruction, prompt string) (Result, error) {
	for i, cred := range creds {
		if cred == "" {
			continue
		}
		text, err := e.backend.Generate(ctx, Request{
			Model:             model,
			SystemInstruction: systemInstruction,
			Prompt:            prompt,
			Credential:        cred,
		})
		if err != nil {
			e.logger.Warn("generation failed, trying next credential",
				"model", model, "credential_index", i, "error", err)
			continue
		}
		if strings.TrimSpace(Normalize(text)) == "" {
			e.logger.Warn("empty generation, trying next credential",
				"model", model, "credential_index", i)
			continue
		}
		return Result{Text: text, Credential: cred, Model: model}, nil
	}
	return Result{}, ErrNoUsableCredential
}

// Normalize strips a leading "AI:" turn label (any case) and the
// whitespace after it. Text without the label is returned unchanged.
func Normalize(text string) string {
	out := text
	for {
		trimmed := strings.TrimSpace(out)
		if len(trimmed) < 3 || !strings.EqualFold(trimmed[:3], "ai:") {
			return out
		}
		out = strings.TrimLeft(trimmed[3:], " \t\r\n")
	}
}
