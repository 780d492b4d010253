package repository

import (
	"context"
	"strings"
)

// LLMClient defines the interface for generating text from a prompt.
// maxTokens is the caller's output budget; adapters may raise it to a provider floor.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	Name() string
}

// Warmer is implemented by clients that can prepare their backend ahead of the first call.
type Warmer interface {
	Warm(ctx context.Context) error
}

// ProviderKey identifies a generation backend, e.g. "qwen", "gemini" or "openai".
type ProviderKey string

// Normalize trims and lowercases the key.
func (k ProviderKey) Normalize() ProviderKey {
	return ProviderKey(strings.ToLower(strings.TrimSpace(string(k))))
}

// GenerationRequest is one generation call. It has no identity beyond the call.
type GenerationRequest struct {
	Prompt    string
	Provider  ProviderKey
	MaxTokens int
}

// Validate rejects requests that must never reach a provider.
func (r GenerationRequest) Validate() error {
	if err := RequirePrompt(r.Prompt); err != nil {
		return err
	}
	if r.MaxTokens <= 0 {
		return &ValidationError{Field: "max_tokens", Reason: "must be a positive integer"}
	}
	return nil
}

// GenerationResult is the only success value handed back to callers.
type GenerationResult struct {
	Text string
}

// LLMRouter resolves provider keys to clients and dispatches generation calls.
type LLMRouter interface {
	Generate(ctx context.Context, prompt string, key ProviderKey, maxTokens int) (string, error)
	Keys() []ProviderKey
	DefaultKey() ProviderKey
}
