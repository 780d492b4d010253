package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/DinukaYohan/math-app/internal/domain/repository"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

const (
	defaultOllamaHost  = "http://localhost:11434"
	defaultOllamaModel = "qwen3:0.6b"
	defaultMaxTokens   = 256
)

// OllamaConfig configures the local model adapter.
type OllamaConfig struct {
	Host  string
	Model string
	// Temperature is sent only when set; nil keeps the model's own sampling defaults.
	Temperature *float64
	// Concurrency bounds in-flight generations against the single loaded model.
	Concurrency int
	Timeout     time.Duration
}

// LocalOllamaClient implements repository.LLMClient by calling a local Ollama server.
type LocalOllamaClient struct {
	host        string
	model       string
	temperature *float64
	httpClient  *http.Client
	slots       *semaphore.Weighted
}

var (
	_ repository.LLMClient = (*LocalOllamaClient)(nil)
	_ repository.Warmer    = (*LocalOllamaClient)(nil)
)

// NewLocalOllamaClient initializes a new client for a local Ollama instance.
func NewLocalOllamaClient(cfg OllamaConfig) *LocalOllamaClient {
	if cfg.Host == "" {
		cfg.Host = defaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = defaultOllamaModel
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &LocalOllamaClient{
		host:        strings.TrimRight(cfg.Host, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		httpClient:  newHTTPClient("ollama", cfg.Timeout),
		slots:       semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
}

type ollamaMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

type ollamaOptions struct {
	NumPredict  int      `json:"num_predict,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Think    bool            `json:"think"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

type ollamaPullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// Generate sends prompt to the local model as a single user turn with reasoning output disabled.
// Reasoning blocks that still leak into the answer are stripped.
func (c *LocalOllamaClient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := repository.RequirePrompt(prompt); err != nil {
		return "", err
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	if err := c.slots.Acquire(ctx, 1); err != nil {
		return "", c.fail(fmt.Errorf("waiting for model slot: %w", err))
	}
	defer c.slots.Release(1)

	log.Debug().Str("component", "ollama").Str("model", c.model).Int("max_tokens", maxTokens).Msg("sending request to local model")

	var out ollamaChatResponse
	err := c.post(ctx, "/api/chat", ollamaChatRequest{
		Model:    c.model,
		Messages: []ollamaMessage{{Role: "user", Content: prompt}},
		Stream:   false,
		Think:    false,
		Options: ollamaOptions{
			NumPredict:  maxTokens,
			Temperature: c.temperature,
		},
	}, &out)
	if err != nil {
		return "", c.fail(err)
	}
	if out.Error != "" {
		return "", c.fail(fmt.Errorf("ollama error: %s", out.Error))
	}

	text := StripThink(out.Message.Content)
	log.Debug().Str("component", "ollama").Int("chars", len(text)).Msg("response received from local model")
	return text, nil
}

// Warm pulls the configured model so the first request does not pay for the download.
func (c *LocalOllamaClient) Warm(ctx context.Context) error {
	log.Info().Str("component", "ollama").Str("model", c.model).Msg("pulling model")
	if err := c.post(ctx, "/api/pull", ollamaPullRequest{Model: c.model, Stream: false}, nil); err != nil {
		return fmt.Errorf("ollama pull %q: %w", c.model, err)
	}
	log.Info().Str("component", "ollama").Str("model", c.model).Msg("model available")
	return nil
}

func (c *LocalOllamaClient) post(ctx context.Context, path string, payload, out any) error {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ollama returned error status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode ollama response: %w", err)
	}
	return nil
}

func (c *LocalOllamaClient) fail(err error) error {
	return repository.NewGenerationError(c.Name(), err)
}

// Name returns the descriptive name of the client.
func (c *LocalOllamaClient) Name() string {
	return fmt.Sprintf("ollama (%s)", c.model)
}
