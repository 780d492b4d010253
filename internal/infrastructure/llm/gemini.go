package llm

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/DinukaYohan/math-app/internal/domain/repository"
	"github.com/rs/zerolog/log"
)

// Gemini backend selectors.
const (
	GeminiBackendGenAI  = "genai"
	GeminiBackendLegacy = "legacy"
	GeminiBackendREST   = "rest"
)

const (
	defaultGeminiModel = "gemini-2.5-flash"
	// geminiTokenFloor keeps the output cap high enough that the model does
	// not return empty candidates.
	geminiTokenFloor = 512
	// geminiRetryMinTokens is the smallest budget used for the token-limit retry.
	geminiRetryMinTokens = 1024
	geminiMIMEType       = "text/plain"
)

// geminiFormatInstructions are appended to prompts that do not already ask for the section layout.
const geminiFormatInstructions = "Respond using the following structure exactly. Keep the section titles in bold markdown using double asterisks and end them with a colon:\n" +
	"**Math Word Problem:**\n" +
	"{one concise sentence describing the scenario}\n\n" +
	"**Question:**\n" +
	"{the single question that should be answered}\n\n" +
	"**Answer:**\n" +
	"{a short, correct answer that solves the problem}\n\n" +
	"**Learning Objective:**\n" +
	"{restate the learning objective from the prompt, or write 'Not specified.' if none is given}\n\n" +
	"**Culturally Appropriate Example:**\n" +
	"{one short sentence connecting the context to the region or culture mentioned; if none, write 'Not specified.'}\n" +
	"Do not add extra sections or commentary."

// Degenerate outcome labels reported to the RetryRecorder.
const (
	CauseNoContent = "no_content"
	CauseTruncated = "truncated"
)

// GeminiConfig configures the Gemini adapter.
type GeminiConfig struct {
	APIKey string
	Model  string
	// MaxOutputTokens raises the token floor above 512 when larger.
	MaxOutputTokens    int
	Temperature        float64
	Backend            string
	BaseURL            string
	FormatInstructions bool
	Timeout            time.Duration
}

// RetryRecorder observes the adapter's recovery path.
type RetryRecorder interface {
	ObserveRetry(provider string)
	ObserveDegenerate(provider, cause string)
}

// contentGenerator is one binding of the generateContent call.
type contentGenerator interface {
	generate(ctx context.Context, prompt string, maxTokens int32) (*geminiResponse, error)
}

// GeminiClient implements repository.LLMClient on top of the Gemini API.
// Empty responses are reported as explanatory text instead of errors.
type GeminiClient struct {
	backend            contentGenerator
	model              string
	floor              int
	formatInstructions bool
	recorder           RetryRecorder
}

var _ repository.LLMClient = (*GeminiClient)(nil)

// GeminiOption customizes a GeminiClient.
type GeminiOption func(*GeminiClient)

// WithRetryRecorder reports retries and degenerate responses to r.
func WithRetryRecorder(r RetryRecorder) GeminiOption {
	return func(c *GeminiClient) { c.recorder = r }
}

// NewGeminiClient builds the adapter on the backend named in cfg.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig, opts ...GeminiOption) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key must not be empty")
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}

	var (
		backend contentGenerator
		err     error
	)
	switch strings.ToLower(cfg.Backend) {
	case "", GeminiBackendGenAI:
		backend, err = newGenAIBackend(ctx, cfg)
	case GeminiBackendLegacy:
		backend, err = newLegacyBackend(ctx, cfg)
	case GeminiBackendREST:
		backend = newRESTBackend(cfg)
	default:
		return nil, fmt.Errorf("unknown gemini backend %q (use one of: %s, %s, %s)",
			cfg.Backend, GeminiBackendGenAI, GeminiBackendLegacy, GeminiBackendREST)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	log.Info().Str("component", "gemini").Str("model", cfg.Model).Str("backend", cfg.Backend).Msg("gemini client ready")
	return newGeminiClient(backend, cfg, opts...), nil
}

func newGeminiClient(backend contentGenerator, cfg GeminiConfig, opts ...GeminiOption) *GeminiClient {
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	c := &GeminiClient{
		backend:            backend,
		model:              cfg.Model,
		floor:              max(geminiTokenFloor, cfg.MaxOutputTokens),
		formatInstructions: cfg.FormatInstructions,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate asks Gemini for prompt. A response cut off by the token limit is
// retried once with a larger budget.
func (c *GeminiClient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := repository.RequirePrompt(prompt); err != nil {
		return "", err
	}
	final := c.shapePrompt(prompt)

	log.Debug().Str("component", "gemini").Str("model", c.model).Int32("max_tokens", c.budget(maxTokens)).Msg("sending request to gemini")

	resp, err := c.backend.generate(ctx, final, c.budget(maxTokens))
	if err != nil {
		return "", repository.NewGenerationError(c.Name(), err)
	}
	if text := resp.extractText(); text != "" {
		return text, nil
	}

	diag := diagnose(resp)
	if !diag.TokenLimited() {
		c.degenerate(CauseNoContent, diag)
		return fmt.Sprintf("[Gemini] No content returned. Details: %s.", diag), nil
	}

	retryBudget := c.retryBudget(maxTokens)
	log.Info().Str("component", "gemini").Int32("max_tokens", retryBudget).Msg("output hit token limit, retrying once")
	if c.recorder != nil {
		c.recorder.ObserveRetry(string(ProviderGemini))
	}

	resp2, err := c.backend.generate(ctx, final, retryBudget)
	if err != nil {
		log.Warn().Err(err).Str("component", "gemini").Msg("token-limit retry failed")
		c.degenerate(CauseTruncated, diag)
		return truncatedNotice(diag), nil
	}
	if text := resp2.extractText(); text != "" {
		return text, nil
	}
	diag2 := diagnose(resp2)
	c.degenerate(CauseTruncated, diag2)
	return truncatedNotice(diag2), nil
}

func truncatedNotice(d FinishDiagnosis) string {
	return fmt.Sprintf("[Gemini] Output truncated (token limit). Details: %s.", d)
}

// budget applies the token floor to a requested output size and caps it at
// what the API accepts.
func (c *GeminiClient) budget(maxTokens int) int32 {
	return int32(min(max(c.floor, maxTokens), math.MaxInt32))
}

// retryBudget doubles the request for the token-limit retry, never below
// geminiRetryMinTokens.
func (c *GeminiClient) retryBudget(maxTokens int) int32 {
	doubled := math.MaxInt32
	if maxTokens < math.MaxInt32/2 {
		doubled = 2 * maxTokens
	}
	return c.budget(max(doubled, geminiRetryMinTokens))
}

// shapePrompt trims prompt and appends the section layout unless the prompt
// already names both the problem and answer sections.
func (c *GeminiClient) shapePrompt(prompt string) string {
	final := strings.TrimSpace(prompt)
	if !c.formatInstructions {
		return final
	}
	if strings.Contains(final, "Math Word Problem:") && strings.Contains(final, "Answer:") {
		return final
	}
	return final + "\n\n" + geminiFormatInstructions
}

func (c *GeminiClient) degenerate(cause string, d FinishDiagnosis) {
	log.Warn().Str("component", "gemini").Str("cause", cause).Str("details", d.String()).Msg("gemini returned no text")
	if c.recorder != nil {
		c.recorder.ObserveDegenerate(string(ProviderGemini), cause)
	}
}

// Name returns the descriptive name of the client.
func (c *GeminiClient) Name() string {
	return fmt.Sprintf("gemini (%s)", c.model)
}

// Close releases the underlying SDK client, if it holds one.
func (c *GeminiClient) Close() error {
	if closer, ok := c.backend.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
