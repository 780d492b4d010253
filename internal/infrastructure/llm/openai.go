package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/DinukaYohan/math-app/internal/domain/repository"
	"github.com/rs/zerolog/log"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com"
	defaultOpenAIModel   = "gpt-4o-mini"
)

// OpenAIConfig configures the OpenAI-compatible chat completions adapter.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// OpenAIClient implements repository.LLMClient against /v1/chat/completions.
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	http        *http.Client
}

var _ repository.LLMClient = (*OpenAIClient)(nil)

// NewOpenAIClient initializes a client for the OpenAI API or a compatible server.
// Temperature is sent as given, including zero.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	return &OpenAIClient{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		http:        newHTTPClient("openai", cfg.Timeout),
	}
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate sends prompt as a single user message.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := repository.RequirePrompt(prompt); err != nil {
		return "", err
	}
	if c.apiKey == "" {
		return "", c.fail(errors.New("missing OPENAI_API_KEY"))
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	b, err := json.Marshal(openAIChatRequest{
		Model:       c.model,
		Messages:    []openAIMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", c.fail(fmt.Errorf("failed to marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(b))
	if err != nil {
		return "", c.fail(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	log.Debug().Str("component", "openai").Str("model", c.model).Int("max_tokens", maxTokens).Msg("sending chat completion")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", c.fail(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", c.fail(fmt.Errorf("openai status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var out openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", c.fail(fmt.Errorf("failed to decode response: %w", err))
	}
	if len(out.Choices) == 0 {
		return "[OpenAI] No content returned.", nil
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "[OpenAI] No content returned.", nil
	}
	return text, nil
}

func (c *OpenAIClient) fail(err error) error {
	return repository.NewGenerationError(c.Name(), err)
}

// Name identifies the provider and model in logs and errors.
func (c *OpenAIClient) Name() string {
	return fmt.Sprintf("openai (%s)", c.model)
}
