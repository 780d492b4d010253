package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "app.db", cfg.DBPath)
	assert.Equal(t, "qwen", cfg.DefaultProvider)
	assert.Equal(t, "openai", cfg.ChatProvider)
	assert.Equal(t, 256, cfg.MaxNewTokens)
	assert.Equal(t, 120*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 5, cfg.BreakerThreshold)
	assert.Equal(t, 30*time.Second, cfg.BreakerCooldown)
	assert.Equal(t, "http://localhost:11434", cfg.OllamaHost)
	assert.Equal(t, "qwen3:0.6b", cfg.LocalModel)
	assert.Equal(t, 1, cfg.LocalConcurrency)
	assert.Nil(t, cfg.LocalTemperature)
	assert.False(t, cfg.PullOnStart)
	assert.Equal(t, "gemini-2.5-flash", cfg.GeminiModel)
	assert.InDelta(t, 0.7, cfg.GeminiTemperature, 1e-9)
	assert.Equal(t, "genai", cfg.GeminiBackend)
	assert.True(t, cfg.GeminiFormatInstructions)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAIModel)
	assert.InDelta(t, 0.2, cfg.OpenAITemperature, 1e-9)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MATHAPP_PORT", "9090")
	t.Setenv("MATHAPP_DEFAULT_PROVIDER", "gemini")
	t.Setenv("MATHAPP_REQUEST_TIMEOUT", "45s")
	t.Setenv("MATHAPP_LOCAL_CONCURRENCY", "2")
	t.Setenv("GEMINI_BACKEND", "legacy")
	t.Setenv("GEMINI_MAX_OUTPUT_TOKENS", "2048")
	t.Setenv("GEMINI_FORMAT_INSTRUCTIONS", "false")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "gemini", cfg.DefaultProvider)
	assert.Equal(t, 45*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 2, cfg.LocalConcurrency)
	assert.Equal(t, "legacy", cfg.GeminiBackend)
	assert.Equal(t, 2048, cfg.GeminiMaxOutputTokens)
	assert.False(t, cfg.GeminiFormatInstructions)
	assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
	require.NotNil(t, cfg.LocalTemperature)
	assert.Zero(t, *cfg.LocalTemperature)
	assert.Zero(t, cfg.OpenAITemperature)
}

func TestGeminiKeyFallback(t *testing.T) {
	cfg := &Config{GoogleAPIKey: "google"}
	assert.Equal(t, "google", cfg.GeminiKey())

	cfg.GeminiAPIKey = "gemini"
	assert.Equal(t, "gemini", cfg.GeminiKey())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:             8080,
			LogLevel:         "info",
			DBPath:           "app.db",
			DefaultProvider:  "qwen",
			MaxNewTokens:     256,
			RequestTimeout:   time.Minute,
			LocalConcurrency: 1,
			GeminiBackend:    "genai",
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"port", func(c *Config) { c.Port = 0 }, "MATHAPP_PORT"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "MATHAPP_LOG_LEVEL"},
		{"db path", func(c *Config) { c.DBPath = "" }, "MATHAPP_DB_PATH"},
		{"default provider", func(c *Config) { c.DefaultProvider = " " }, "MATHAPP_DEFAULT_PROVIDER"},
		{"max tokens", func(c *Config) { c.MaxNewTokens = 0 }, "MATHAPP_MAX_NEW_TOKENS"},
		{"timeout", func(c *Config) { c.RequestTimeout = 0 }, "MATHAPP_REQUEST_TIMEOUT"},
		{"breaker", func(c *Config) { c.BreakerThreshold = -1 }, "MATHAPP_BREAKER_THRESHOLD"},
		{"concurrency", func(c *Config) { c.LocalConcurrency = 0 }, "MATHAPP_LOCAL_CONCURRENCY"},
		{"gemini floor", func(c *Config) { c.GeminiMaxOutputTokens = -5 }, "GEMINI_MAX_OUTPUT_TOKENS"},
		{"gemini backend", func(c *Config) { c.GeminiBackend = "grpc" }, "GEMINI_BACKEND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MATHAPP_MAX_NEW_TOKENS", "lots")

	_, err := Load()
	require.Error(t, err)
}
