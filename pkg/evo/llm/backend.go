// Package llm talks to the generative backends. A Backend performs one
// generation call with a caller-supplied credential; the Engine walks a
// server's credentials in priority order until one of them succeeds.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultModel is used when a server has not picked a model.
const DefaultModel = "gemini-pro"

// Request is a single generation call. Backend and credential are chosen
// per call, so one process can serve many servers with different keys.
type Request struct {
	Model             string
	SystemInstruction string
	Prompt            string
	Credential        string
}

// Backend produces raw model text for a request.
type Backend interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Config holds backend settings shared by every server.
type Config struct {
	// DefaultModel overrides DefaultModel for servers with no ai_model.
	DefaultModel string `yaml:"default_model"`

	// RequestTimeout bounds a single backend call. Zero disables the bound.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxTokens caps the reply length for backends that require a cap.
	MaxTokens int `yaml:"max_tokens"`

	// OpenAIBaseURL points the chat-completions backend at any compatible API.
	OpenAIBaseURL string `yaml:"openai_base_url"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultModel:   DefaultModel,
		RequestTimeout: 2 * time.Minute,
		MaxTokens:      1024,
		OpenAIBaseURL:  "https://api.openai.com/v1",
	}
}

// Provider names returned by ProviderForModel.
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// ProviderForModel infers the provider from a model id. Unknown ids go to
// Gemini, the historical default.
func ProviderForModel(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, "claude"):
		return ProviderAnthropic
	case strings.HasPrefix(m, "gpt-"),
		strings.HasPrefix(m, "chatgpt"),
		strings.HasPrefix(m, "o1"),
		strings.HasPrefix(m, "o3"),
		strings.HasPrefix(m, "o4"):
		return ProviderOpenAI
	default:
		return ProviderGemini
	}
}

// Router dispatches each request to the backend registered for the
// request's model family.
type Router struct {
	backends     map[string]Backend
	defaultModel string
	timeout      time.Duration
	logger       *slog.Logger
}

// NewRouter builds a router over the real provider backends.
func NewRouter(cfg Config, logger *slog.Logger) *Router {
	return NewRouterWith(cfg, logger, map[string]Backend{
		ProviderGemini:    NewGeminiBackend(),
		ProviderAnthropic: NewAnthropicBackend(cfg.MaxTokens),
		ProviderOpenAI:    NewOpenAIBackend(cfg.OpenAIBaseURL, logger),
	})
}

// NewRouterWith builds a router over caller-supplied backends.
func NewRouterWith(cfg Config, logger *slog.Logger, backends map[string]Backend) *Router {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	return &Router{
		backends:     backends,
		defaultModel: cfg.DefaultModel,
		timeout:      cfg.RequestTimeout,
		logger:       logger.With("component", "llm-router"),
	}
}

// ResolveModel returns model, or the configured default when empty.
func (r *Router) ResolveModel(model string) string {
	if strings.TrimSpace(model) == "" {
		return r.defaultModel
	}
	return model
}

// Generate implements Backend.
func (r *Router) Generate(ctx context.Context, req Request) (string, error) {
	req.Model = r.ResolveModel(req.Model)
	provider := ProviderForModel(req.Model)

	b, ok := r.backends[provider]
	if !ok {
		return "", fmt.Errorf("llm: no backend for provider %q (model %s)", provider, req.Model)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	r.logger.Debug("generating", "provider", provider, "model", req.Model)
	return b.Generate(ctx, req)
}
