package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIBackend_Generate(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"AI: hello"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	b := NewOpenAIBackend(srv.URL+"/v1/", slog.New(slog.NewTextHandler(io.Discard, nil)))
	out, err := b.Generate(context.Background(), Request{
		Model:             "gpt-4o-mini",
		SystemInstruction: "You are Evo.",
		Prompt:            "User: hi",
		Credential:        "sk-test",
	})
	require.NoError(t, err)
	assert.Equal(t, "AI: hello", out, "raw text is returned unnormalized")

	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, chatMessage{Role: "system", Content: "You are Evo."}, got.Messages[0])
	assert.Equal(t, chatMessage{Role: "user", Content: "User: hi"}, got.Messages[1])
}

func TestOpenAIBackend_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key"}}`)
	}))
	defer srv.Close()

	b := NewOpenAIBackend(srv.URL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := b.Generate(context.Background(), Request{Model: "gpt-4o", Prompt: "x", Credential: "bad"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestOpenAIBackend_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	b := NewOpenAIBackend(srv.URL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := b.Generate(context.Background(), Request{Model: "gpt-4o", Prompt: "x", Credential: "k"})
	assert.Error(t, err)
}

func TestBackends_RequireCredential(t *testing.T) {
	_, err := NewGeminiBackend().Generate(context.Background(), Request{Model: "gemini-pro", Prompt: "x"})
	assert.Error(t, err)
	_, err = NewAnthropicBackend(0).Generate(context.Background(), Request{Model: "claude-haiku-4-5", Prompt: "x"})
	assert.Error(t, err)
}
