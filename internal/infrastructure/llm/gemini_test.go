package llm

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/DinukaYohan/math-app/internal/domain/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	mu        sync.Mutex
	responses []*geminiResponse
	errs      []error
	budgets   []int32
	prompts   []string
}

func (f *fakeGenerator) generate(_ context.Context, prompt string, maxTokens int32) (*geminiResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.budgets)
	f.budgets = append(f.budgets, maxTokens)
	f.prompts = append(f.prompts, prompt)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return &geminiResponse{}, nil
}

type fakeRetryRecorder struct {
	retries     int
	degenerates []string
}

func (r *fakeRetryRecorder) ObserveRetry(string) { r.retries++ }
func (r *fakeRetryRecorder) ObserveDegenerate(_ string, cause string) {
	r.degenerates = append(r.degenerates, cause)
}

func textResponse(text string) *geminiResponse {
	return &geminiResponse{candidates: []geminiCandidate{{parts: []any{text}, finishReason: "STOP"}}}
}

func emptyResponse(reason string, safety ...safetyRating) *geminiResponse {
	return &geminiResponse{candidates: []geminiCandidate{{finishReason: reason, safety: safety}}}
}

func boolPtr(b bool) *bool { return &b }

func TestGeminiClient_Generate_Success(t *testing.T) {
	gen := &fakeGenerator{responses: []*geminiResponse{textResponse("  **Answer:** 4  ")}}
	client := newGeminiClient(gen, GeminiConfig{})

	resp, err := client.Generate(context.Background(), "What is 2+2?", 256)
	require.NoError(t, err)
	assert.Equal(t, "**Answer:** 4", resp)
	assert.Equal(t, []int32{512}, gen.budgets)
	assert.Equal(t, "gemini (gemini-2.5-flash)", client.Name())
}

func TestGeminiClient_TokenFloor(t *testing.T) {
	tests := []struct {
		name      string
		floor     int
		maxTokens int
		want      int32
	}{
		{"below default floor", 0, 256, 512},
		{"above default floor", 0, 900, 900},
		{"configured floor wins", 2048, 256, 2048},
		{"configured floor below 512 is ignored", 100, 0, 512},
		{"request above configured floor", 2048, 4096, 4096},
		{"request beyond int32 is capped", 0, 1 << 31, math.MaxInt32},
		{"configured floor beyond int32 is capped", math.MaxInt, 10, math.MaxInt32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{responses: []*geminiResponse{textResponse("ok")}}
			client := newGeminiClient(gen, GeminiConfig{MaxOutputTokens: tt.floor})

			_, err := client.Generate(context.Background(), "prompt", tt.maxTokens)
			require.NoError(t, err)
			assert.Equal(t, []int32{tt.want}, gen.budgets)
		})
	}
}

func TestGeminiClient_TokenLimitRetry(t *testing.T) {
	gen := &fakeGenerator{responses: []*geminiResponse{
		emptyResponse("MAX_TOKENS"),
		textResponse("Answer: 12 apples"),
	}}
	rec := &fakeRetryRecorder{}
	client := newGeminiClient(gen, GeminiConfig{}, WithRetryRecorder(rec))

	resp, err := client.Generate(context.Background(), "Explain fractions", 256)
	require.NoError(t, err)
	assert.Equal(t, "Answer: 12 apples", resp)
	assert.Equal(t, []int32{512, 1024}, gen.budgets)
	assert.Equal(t, gen.prompts[0], gen.prompts[1])
	assert.Equal(t, 1, rec.retries)
	assert.Empty(t, rec.degenerates)
}

func TestGeminiClient_TokenLimitRetry_DoublesLargeBudgets(t *testing.T) {
	gen := &fakeGenerator{responses: []*geminiResponse{
		emptyResponse("MAX_TOKENS"),
		textResponse("done"),
	}}
	client := newGeminiClient(gen, GeminiConfig{})

	_, err := client.Generate(context.Background(), "prompt", 800)
	require.NoError(t, err)
	require.Len(t, gen.budgets, 2)
	assert.Equal(t, int32(800), gen.budgets[0])
	assert.Equal(t, int32(1600), gen.budgets[1])
}

func TestGeminiClient_TokenLimitRetry_CapsHugeBudgets(t *testing.T) {
	tests := []struct {
		maxTokens int
		want      []int32
	}{
		{math.MaxInt32/2 - 1, []int32{math.MaxInt32/2 - 1, math.MaxInt32 - 3}},
		{math.MaxInt32/2 + 1, []int32{math.MaxInt32/2 + 1, math.MaxInt32}},
		{1 << 31, []int32{math.MaxInt32, math.MaxInt32}},
		{math.MaxInt, []int32{math.MaxInt32, math.MaxInt32}},
	}
	for _, tt := range tests {
		gen := &fakeGenerator{responses: []*geminiResponse{
			emptyResponse("MAX_TOKENS"),
			textResponse("done"),
		}}
		client := newGeminiClient(gen, GeminiConfig{})

		resp, err := client.Generate(context.Background(), "prompt", tt.maxTokens)
		require.NoError(t, err)
		assert.Equal(t, "done", resp)
		assert.Equal(t, tt.want, gen.budgets, "max tokens %d", tt.maxTokens)
	}
}

func TestGeminiClient_TokenLimitRetry_StillEmpty(t *testing.T) {
	gen := &fakeGenerator{responses: []*geminiResponse{
		emptyResponse("MAX_TOKENS"),
		emptyResponse("MAX_TOKENS", safetyRating{category: "HARM_CATEGORY_HARASSMENT", probability: "NEGLIGIBLE", blocked: boolPtr(false)}),
	}}
	rec := &fakeRetryRecorder{}
	client := newGeminiClient(gen, GeminiConfig{}, WithRetryRecorder(rec))

	resp, err := client.Generate(context.Background(), "prompt", 256)
	require.NoError(t, err)
	assert.Equal(t, "[Gemini] Output truncated (token limit). Details: finish_reason=MAX_TOKENS; safety=HARM_CATEGORY_HARASSMENT: NEGLIGIBLE, allowed.", resp)
	assert.Len(t, gen.budgets, 2, "retry happens exactly once")
	assert.Equal(t, []string{CauseTruncated}, rec.degenerates)
}

func TestGeminiClient_TokenLimitRetry_TransportFailure(t *testing.T) {
	gen := &fakeGenerator{
		responses: []*geminiResponse{emptyResponse("MAX_TOKENS")},
		errs:      []error{nil, errors.New("connection reset")},
	}
	client := newGeminiClient(gen, GeminiConfig{})

	resp, err := client.Generate(context.Background(), "prompt", 256)
	require.NoError(t, err)
	assert.Equal(t, "[Gemini] Output truncated (token limit). Details: finish_reason=MAX_TOKENS.", resp)
}

func TestGeminiClient_SafetyStop_NoRetry(t *testing.T) {
	gen := &fakeGenerator{responses: []*geminiResponse{
		emptyResponse("SAFETY", safetyRating{category: "HARM_CATEGORY_DANGEROUS_CONTENT", probability: "HIGH", severity: "HARM_SEVERITY_HIGH", blocked: boolPtr(true)}),
	}}
	rec := &fakeRetryRecorder{}
	client := newGeminiClient(gen, GeminiConfig{}, WithRetryRecorder(rec))

	resp, err := client.Generate(context.Background(), "prompt", 256)
	require.NoError(t, err)
	assert.Equal(t, "[Gemini] No content returned. Details: finish_reason=SAFETY; safety=HARM_CATEGORY_DANGEROUS_CONTENT: HIGH, HARM_SEVERITY_HIGH, blocked.", resp)
	assert.Len(t, gen.budgets, 1)
	assert.Zero(t, rec.retries)
	assert.Equal(t, []string{CauseNoContent}, rec.degenerates)
}

func TestGeminiClient_NoCandidates(t *testing.T) {
	gen := &fakeGenerator{responses: []*geminiResponse{{}}}
	client := newGeminiClient(gen, GeminiConfig{})

	resp, err := client.Generate(context.Background(), "prompt", 256)
	require.NoError(t, err)
	assert.Equal(t, "[Gemini] No content returned. Details: finish_reason=unknown.", resp)
}

func TestGeminiClient_TransportError(t *testing.T) {
	gen := &fakeGenerator{errs: []error{errors.New("quota exceeded")}}
	client := newGeminiClient(gen, GeminiConfig{})

	_, err := client.Generate(context.Background(), "prompt", 256)
	var gErr *repository.GenerationError
	require.ErrorAs(t, err, &gErr)
	assert.Equal(t, "gemini (gemini-2.5-flash)", gErr.Provider)
	assert.Contains(t, gErr.Reason, "quota exceeded")
	assert.Len(t, gen.budgets, 1)
}

func TestGeminiClient_EmptyPrompt(t *testing.T) {
	gen := &fakeGenerator{}
	client := newGeminiClient(gen, GeminiConfig{})

	_, err := client.Generate(context.Background(), "  ", 256)
	var vErr *repository.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Empty(t, gen.budgets)
}

func TestGeminiClient_ShapePrompt(t *testing.T) {
	tests := []struct {
		name         string
		instructions bool
		prompt       string
		wantAppended bool
	}{
		{"plain prompt", true, "Create a grade 3 problem about sharing", true},
		{"only answer marker", true, "Answer: something", true},
		{"both markers", true, "Math Word Problem: x\nAnswer: y", false},
		{"instructions disabled", false, "Create a problem", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{responses: []*geminiResponse{textResponse("ok")}}
			client := newGeminiClient(gen, GeminiConfig{FormatInstructions: tt.instructions})

			_, err := client.Generate(context.Background(), "  "+tt.prompt+"  ", 256)
			require.NoError(t, err)
			require.Len(t, gen.prompts, 1)
			sent := gen.prompts[0]
			assert.True(t, strings.HasPrefix(sent, tt.prompt))
			assert.Equal(t, tt.wantAppended, strings.Contains(sent, "Do not add extra sections or commentary."))
		})
	}
}

func TestNewGeminiClient_Errors(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), GeminiConfig{})
	require.Error(t, err)

	_, err = NewGeminiClient(context.Background(), GeminiConfig{APIKey: "k", Backend: "grpc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown gemini backend")
}

func TestGeminiClient_RESTBackend(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))

		var req restRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text/plain", req.GenerationConfig.ResponseMIMEType)

		if calls.Add(1) == 1 {
			assert.Equal(t, int32(512), req.GenerationConfig.MaxOutputTokens)
			_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[]},"finishReason":"MAX_TOKENS"}]}`))
			return
		}
		assert.Equal(t, int32(1024), req.GenerationConfig.MaxOutputTokens)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"  "},{"text":" Answer: 4 "}]},"finishReason":"STOP"}]}`))
	}))
	defer ts.Close()

	client, err := NewGeminiClient(context.Background(), GeminiConfig{
		APIKey:  "secret",
		Model:   "gemini-test",
		Backend: GeminiBackendREST,
		BaseURL: ts.URL,
	})
	require.NoError(t, err)

	resp, err := client.Generate(context.Background(), "What is 2+2?", 256)
	require.NoError(t, err)
	assert.Equal(t, "Answer: 4", resp)
	assert.Equal(t, int32(2), calls.Load())
	assert.NoError(t, client.Close())
}

func TestGeminiClient_RESTBackend_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`))
	}))
	defer ts.Close()

	client, err := NewGeminiClient(context.Background(), GeminiConfig{APIKey: "bad", Backend: GeminiBackendREST, BaseURL: ts.URL})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "prompt", 256)
	var gErr *repository.GenerationError
	require.ErrorAs(t, err, &gErr)
	assert.Contains(t, gErr.Reason, "API key not valid")
	assert.Contains(t, gErr.Reason, "PERMISSION_DENIED")
}
