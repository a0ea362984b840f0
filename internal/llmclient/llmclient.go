// Package llmclient defines the LLMClient collaborator boundary
// (spec.md §1: "LLMClient.complete(prompt, model, timeout) → text") used
// by the profiling stage handler and experience execution. Concrete
// backends dispatch by model-name prefix across the provider SDKs the
// teacher already depends on (anthropic-sdk-go, openai-go/v2,
// google.golang.org/genai), mirroring the Provider interface shape of
// internal/llm/provider.go.
package llmclient

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// LLMClient completes a single prompt against model, bounded by timeout.
type LLMClient interface {
	Complete(ctx context.Context, prompt, model string, timeout time.Duration) (string, error)
}

// Backend is a per-provider completion function, keyed into the dispatch
// table by model prefix.
type Backend interface {
	Complete(ctx context.Context, prompt, model string) (string, error)
}

// Router dispatches Complete calls to a Backend chosen by model-name
// prefix, matching the provider-prefix convention used across the
// teacher's model configuration (e.g. "claude-", "gpt-", "gemini-").
type Router struct {
	backends map[string]Backend
	fallback Backend
}

// NewRouter builds a Router. backends maps a model prefix (e.g. "claude-")
// to the Backend that serves it; fallback serves any unmatched model.
func NewRouter(backends map[string]Backend, fallback Backend) *Router {
	return &Router{backends: backends, fallback: fallback}
}

func (r *Router) resolve(model string) (Backend, error) {
	lower := strings.ToLower(model)
	for prefix, b := range r.backends {
		if strings.HasPrefix(lower, strings.ToLower(prefix)) {
			return b, nil
		}
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("llmclient: no backend registered for model %q", model)
}

// Complete resolves the backend for model and calls it under timeout.
// Per spec.md's suspension-point model, every external LLM call is an
// explicit, bounded await point.
func (r *Router) Complete(ctx context.Context, prompt, model string, timeout time.Duration) (string, error) {
	backend, err := r.resolve(model)
	if err != nil {
		return "", err
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return backend.Complete(callCtx, prompt, model)
}

var _ LLMClient = (*Router)(nil)
