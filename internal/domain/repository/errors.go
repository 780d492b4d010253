package repository

import (
	"fmt"
	"strings"
)

// ValidationError rejects a request before any provider is contacted.
type ValidationError struct {
	Field    string
	Value    string
	Reason   string
	Accepted []string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid ")
	b.WriteString(e.Field)
	if e.Value != "" {
		fmt.Fprintf(&b, " %q", e.Value)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if len(e.Accepted) > 0 {
		fmt.Fprintf(&b, " (use one of: %s)", strings.Join(e.Accepted, ", "))
	}
	return b.String()
}

// GenerationError reports a provider failure: transport, auth, quota or a broken local model.
// Reason is a human readable message; the provider's own error value is not kept.
type GenerationError struct {
	Provider string
	Reason   string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed: %s", e.Provider, e.Reason)
}

// NewGenerationError flattens err into a GenerationError for provider.
func NewGenerationError(provider string, err error) *GenerationError {
	return &GenerationError{Provider: provider, Reason: err.Error()}
}

// RequirePrompt is the shared guard run before any provider call.
func RequirePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return &ValidationError{Field: "prompt", Reason: "must be a non-empty string"}
	}
	return nil
}
