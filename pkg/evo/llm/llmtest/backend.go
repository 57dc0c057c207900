// Package llmtest provides a scriptable llm.Backend for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/jholhewres/evo/pkg/evo/llm"
)

// Reply is the scripted outcome for one credential.
type Reply struct {
	Text string
	Err  error
}

// Backend answers according to the credential in each request and records
// every call.
type Backend struct {
	mu       sync.Mutex
	replies  map[string]Reply
	fallback func(req llm.Request) (string, error)
	calls    []llm.Request
}

// New returns a backend with no scripted replies. Unscripted credentials
// fail unless Fallback is set.
func New() *Backend {
	return &Backend{replies: make(map[string]Reply)}
}

// On scripts the reply for a credential.
func (b *Backend) On(credential string, r Reply) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies[credential] = r
	return b
}

// Fallback answers any credential without a scripted reply.
func (b *Backend) Fallback(fn func(req llm.Request) (string, error)) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fallback = fn
	return b
}

// Generate implements llm.Backend.
func (b *Backend) Generate(_ context.Context, req llm.Request) (string, error) {
	b.mu.Lock()
	b.calls = append(b.calls, req)
	r, ok := b.replies[req.Credential]
	fb := b.fallback
	b.mu.Unlock()

	if ok {
		return r.Text, r.Err
	}
	if fb != nil {
		return fb(req)
	}
	return "", ErrUnscripted
}

// Calls returns a copy of every request received, in order.
func (b *Backend) Calls() []llm.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]llm.Request(nil), b.calls...)
}

// ErrUnscripted is returned for credentials with no scripted reply.
var ErrUnscripted = unscriptedError{}

type unscriptedError struct{}

func (unscriptedError) Error() string { return "llmtest: unscripted credential" }
