package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all environmentally dependent settings for the math-app API.
type Config struct {
	Port     int    `env:"MATHAPP_PORT" envDefault:"8080"`
	LogLevel string `env:"MATHAPP_LOG_LEVEL" envDefault:"info"`
	DBPath   string `env:"MATHAPP_DB_PATH" envDefault:"app.db"`

	DefaultProvider string        `env:"MATHAPP_DEFAULT_PROVIDER" envDefault:"qwen"`
	ChatProvider    string        `env:"MATHAPP_CHAT_PROVIDER" envDefault:"openai"`
	MaxNewTokens    int           `env:"MATHAPP_MAX_NEW_TOKENS" envDefault:"256"`
	RequestTimeout  time.Duration `env:"MATHAPP_REQUEST_TIMEOUT" envDefault:"120s"`

	BreakerThreshold int           `env:"MATHAPP_BREAKER_THRESHOLD" envDefault:"5"`
	BreakerCooldown  time.Duration `env:"MATHAPP_BREAKER_COOLDOWN" envDefault:"30s"`

	// Local model (Ollama)
	OllamaHost       string   `env:"OLLAMA_HOST" envDefault:"http://localhost:11434"`
	LocalModel       string   `env:"MATHAPP_LOCAL_MODEL" envDefault:"qwen3:0.6b"`
	LocalConcurrency int      `env:"MATHAPP_LOCAL_CONCURRENCY" envDefault:"1"`
	LocalTemperature *float64 `env:"MATHAPP_LOCAL_TEMPERATURE"`
	PullOnStart      bool     `env:"MATHAPP_PULL_ON_START" envDefault:"false"`

	// Hosted provider A (Gemini)
	GeminiAPIKey             string  `env:"GEMINI_API_KEY"`
	GoogleAPIKey             string  `env:"GOOGLE_API_KEY"`
	GeminiModel              string  `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`
	GeminiMaxOutputTokens    int     `env:"GEMINI_MAX_OUTPUT_TOKENS" envDefault:"0"`
	GeminiTemperature        float64 `env:"GEMINI_TEMPERATURE" envDefault:"0.7"`
	GeminiBackend            string  `env:"GEMINI_BACKEND" envDefault:"genai"`
	GeminiBaseURL            string  `env:"GEMINI_BASE_URL"`
	GeminiFormatInstructions bool    `env:"GEMINI_FORMAT_INSTRUCTIONS" envDefault:"true"`

	// Hosted provider B (OpenAI)
	OpenAIAPIKey      string  `env:"OPENAI_API_KEY"`
	OpenAIModel       string  `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAIBaseURL     string  `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com"`
	OpenAITemperature float64 `env:"OPENAI_TEMPERATURE" envDefault:"0.2"`
}

var geminiBackends = []string{"genai", "legacy", "rest"}

// Validate ensures that all required configuration is present and valid.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("MATHAPP_PORT must be between 1 and 65535")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("MATHAPP_LOG_LEVEL %q is not a valid level: %w", c.LogLevel, err)
	}
	if c.DBPath == "" {
		return fmt.Errorf("MATHAPP_DB_PATH is required")
	}
	if strings.TrimSpace(c.DefaultProvider) == "" {
		return fmt.Errorf("MATHAPP_DEFAULT_PROVIDER is required")
	}
	if c.MaxNewTokens < 1 {
		return fmt.Errorf("MATHAPP_MAX_NEW_TOKENS must be at least 1")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("MATHAPP_REQUEST_TIMEOUT must be positive")
	}
	if c.BreakerThreshold < 0 {
		return fmt.Errorf("MATHAPP_BREAKER_THRESHOLD cannot be negative")
	}
	if c.LocalConcurrency < 1 {
		return fmt.Errorf("MATHAPP_LOCAL_CONCURRENCY must be at least 1")
	}
	if c.GeminiMaxOutputTokens < 0 {
		return fmt.Errorf("GEMINI_MAX_OUTPUT_TOKENS cannot be negative")
	}
	if !contains(geminiBackends, strings.ToLower(c.GeminiBackend)) {
		return fmt.Errorf("GEMINI_BACKEND must be one of %s", strings.Join(geminiBackends, ", "))
	}
	return nil
}

// GeminiKey returns GEMINI_API_KEY, falling back to GOOGLE_API_KEY.
func (c *Config) GeminiKey() string {
	if c.GeminiAPIKey != "" {
		return c.GeminiAPIKey
	}
	return c.GoogleAPIKey
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Load reads an optional .env file and the environment, then validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
