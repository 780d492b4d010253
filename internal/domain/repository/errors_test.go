package repository

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{
		Field:    "provider",
		Value:    "mistral",
		Reason:   "unknown provider",
		Accepted: []string{"gemini", "openai", "qwen"},
	}
	assert.Equal(t, `invalid provider "mistral": unknown provider (use one of: gemini, openai, qwen)`, err.Error())

	bare := &ValidationError{Field: "prompt"}
	assert.Equal(t, "invalid prompt", bare.Error())
}

func TestNewGenerationError(t *testing.T) {
	err := NewGenerationError("openai (gpt-4o-mini)", errors.New("status 429"))
	assert.Equal(t, "openai (gpt-4o-mini) generation failed: status 429", err.Error())
}

func TestRequirePrompt(t *testing.T) {
	for _, prompt := range []string{"", "   ", "\n\t"} {
		err := RequirePrompt(prompt)
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr, "prompt %q", prompt)
		assert.Equal(t, "prompt", vErr.Field)
	}
	assert.NoError(t, RequirePrompt("What is 3 x 4?"))
}

func TestGenerationRequest_Validate(t *testing.T) {
	tests := []struct {
		name  string
		req   GenerationRequest
		field string
	}{
		{"ok", GenerationRequest{Prompt: "hi", MaxTokens: 1}, ""},
		{"empty prompt", GenerationRequest{Prompt: " ", MaxTokens: 10}, "prompt"},
		{"zero budget", GenerationRequest{Prompt: "hi"}, "max_tokens"},
		{"negative budget", GenerationRequest{Prompt: "hi", MaxTokens: -5}, "max_tokens"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestProviderKey_Normalize(t *testing.T) {
	assert.Equal(t, ProviderKey("hosted-provider-a"), ProviderKey("  Hosted-Provider-A ").Normalize())
	assert.Equal(t, ProviderKey(""), ProviderKey("   ").Normalize())
}
