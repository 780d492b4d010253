package llm_test

import (
	"context"
	"testing"

	"github.com/DinukaYohan/math-app/internal/domain/repository"
	"github.com/DinukaYohan/math-app/internal/infrastructure/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClient implements the repository.LLMClient interface for testing.
type mockClient struct {
	name      string
	calls     int
	lastMax   int
	warmCalls int
}

func (m *mockClient) Generate(_ context.Context, prompt string, maxTokens int) (string, error) {
	if err := repository.RequirePrompt(prompt); err != nil {
		return "", err
	}
	m.calls++
	m.lastMax = maxTokens
	return "Mock response from: " + m.name, nil
}

func (m *mockClient) Name() string {
	return m.name
}

func (m *mockClient) Warm(context.Context) error {
	m.warmCalls++
	return nil
}

func newTestRouter() (*llm.Router, map[repository.ProviderKey]*mockClient) {
	mocks := map[repository.ProviderKey]*mockClient{
		llm.ProviderQwen:   {name: "local_ollama"},
		llm.ProviderGemini: {name: "gemini_api"},
		llm.ProviderOpenAI: {name: "openai_api"},
	}
	router := llm.NewRouter(llm.ProviderQwen)
	for key, m := range mocks {
		router.Register(key, m, llm.DefaultAliases[key]...)
	}
	return router, mocks
}

func TestRouter_Dispatch(t *testing.T) {
	router, _ := newTestRouter()

	tests := []struct {
		name         string
		key          repository.ProviderKey
		expectedName string
	}{
		{"qwen routes to local", "qwen", "local_ollama"},
		{"local alias", "local", "local_ollama"},
		{"ollama alias", "ollama", "local_ollama"},
		{"local-model alias", "local-model", "local_ollama"},
		{"gemini routes to hosted A", "gemini", "gemini_api"},
		{"google alias", "google", "gemini_api"},
		{"hosted-provider-a alias", "hosted-provider-a", "gemini_api"},
		{"openai routes to hosted B", "openai", "openai_api"},
		{"gpt alias", "gpt", "openai_api"},
		{"hosted-provider-b alias", "hosted-provider-b", "openai_api"},
		{"keys are case-insensitive", "  GeMiNi ", "gemini_api"},
		{"empty key uses default", "", "local_ollama"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := router.Generate(context.Background(), "Explain 2+2", tt.key, 256)
			require.NoError(t, err)
			assert.Equal(t, "Mock response from: "+tt.expectedName, resp)
		})
	}
}

func TestRouter_PassesMaxTokens(t *testing.T) {
	router, mocks := newTestRouter()

	_, err := router.Generate(context.Background(), "prompt", "gemini", 77)
	require.NoError(t, err)
	assert.Equal(t, 77, mocks[llm.ProviderGemini].lastMax)
}

func TestRouter_UnknownKey(t *testing.T) {
	router, mocks := newTestRouter()

	_, err := router.Generate(context.Background(), "Explain 2+2", "claude", 256)
	var vErr *repository.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "model", vErr.Field)
	assert.Equal(t, "claude", vErr.Value)
	assert.Contains(t, vErr.Accepted, "qwen")
	assert.Contains(t, vErr.Accepted, "hosted-provider-b")
	assert.Contains(t, err.Error(), "use one of:")

	for _, m := range mocks {
		assert.Zero(t, m.calls, "no adapter may be invoked for an unknown key")
	}
}

func TestRouter_EmptyPrompt(t *testing.T) {
	router, mocks := newTestRouter()

	_, err := router.Generate(context.Background(), "   ", "qwen", 256)
	var vErr *repository.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "prompt", vErr.Field)
	assert.Zero(t, mocks[llm.ProviderQwen].calls)
}

func TestRouter_DispatchRequest(t *testing.T) {
	router, mocks := newTestRouter()

	res, err := router.Dispatch(context.Background(), repository.GenerationRequest{Prompt: "hi", Provider: "gpt", MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, "Mock response from: openai_api", res.Text)

	_, err = router.Dispatch(context.Background(), repository.GenerationRequest{Prompt: "hi", Provider: "gpt", MaxTokens: 0})
	var vErr *repository.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "max_tokens", vErr.Field)
	assert.Equal(t, 1, mocks[llm.ProviderOpenAI].calls)
}

func TestRouter_Keys(t *testing.T) {
	router, _ := newTestRouter()

	assert.Equal(t, []repository.ProviderKey{"gemini", "openai", "qwen"}, router.Keys())
	assert.Equal(t, llm.ProviderQwen, router.DefaultKey())
	assert.Len(t, router.Aliases(), 10)
	assert.NoError(t, router.Validate())

	empty := llm.NewRouter("gemini")
	assert.Error(t, empty.Validate())
}

func TestRouter_Warmup(t *testing.T) {
	router, mocks := newTestRouter()

	router.Warmup(context.Background())
	for key, m := range mocks {
		assert.Equal(t, 1, m.warmCalls, "provider %s", key)
	}
}
