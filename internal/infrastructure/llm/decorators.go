package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DinukaYohan/math-app/internal/domain/repository"
	"github.com/DinukaYohan/math-app/internal/infrastructure/resilience"
)

// Generation outcome labels reported to a GenerationRecorder.
const (
	StatusOK      = "ok"
	StatusInvalid = "invalid"
	StatusError   = "error"
)

// GenerationRecorder observes completed generation calls.
type GenerationRecorder interface {
	ObserveGeneration(provider, status string, duration time.Duration)
}

// warm forwards to inner when it can prepare its backend.
func warm(ctx context.Context, inner repository.LLMClient) error {
	if w, ok := inner.(repository.Warmer); ok {
		return w.Warm(ctx)
	}
	return nil
}

// BreakerClient guards an adapter with a circuit breaker. Only provider
// failures trip it; invalid requests never reach the breaker.
type BreakerClient struct {
	inner   repository.LLMClient
	breaker *resilience.CircuitBreaker
}

var (
	_ repository.LLMClient = (*BreakerClient)(nil)
	_ repository.Warmer    = (*BreakerClient)(nil)
)

// NewBreakerClient opens the circuit after threshold consecutive provider
// failures and lets one trial call through after cooldown. A threshold below 1 disables it.
func NewBreakerClient(inner repository.LLMClient, threshold int, cooldown time.Duration) *BreakerClient {
	return &BreakerClient{
		inner: inner,
		breaker: resilience.NewCircuitBreaker(inner.Name(), threshold, cooldown,
			resilience.WithFailureFilter(isGenerationError)),
	}
}

func isGenerationError(err error) bool {
	var gErr *repository.GenerationError
	return errors.As(err, &gErr)
}

func (c *BreakerClient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := repository.RequirePrompt(prompt); err != nil {
		return "", err
	}
	var (
		text   string
		genErr error
	)
	err := c.breaker.Execute(func() error {
		text, genErr = c.inner.Generate(ctx, prompt, maxTokens)
		if genErr != nil && ctx.Err() != nil {
			// The caller gave up; the adapter's error text no longer carries the cause.
			return ctx.Err()
		}
		return genErr
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return "", &repository.GenerationError{
			Provider: c.inner.Name(),
			Reason:   "temporarily unavailable after repeated failures",
		}
	}
	return text, genErr
}

// State reports the breaker state.
func (c *BreakerClient) State() resilience.State {
	return c.breaker.CurrentState()
}

func (c *BreakerClient) Name() string { return c.inner.Name() }

func (c *BreakerClient) Warm(ctx context.Context) error { return warm(ctx, c.inner) }

// InstrumentedClient reports the outcome and latency of every call.
type InstrumentedClient struct {
	inner    repository.LLMClient
	provider string
	recorder GenerationRecorder
}

var (
	_ repository.LLMClient = (*InstrumentedClient)(nil)
	_ repository.Warmer    = (*InstrumentedClient)(nil)
)

func NewInstrumentedClient(inner repository.LLMClient, provider repository.ProviderKey, recorder GenerationRecorder) *InstrumentedClient {
	return &InstrumentedClient{inner: inner, provider: string(provider), recorder: recorder}
}

func (c *InstrumentedClient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	start := time.Now()
	text, err := c.inner.Generate(ctx, prompt, maxTokens)
	c.recorder.ObserveGeneration(c.provider, statusOf(err), time.Since(start))
	return text, err
}

func statusOf(err error) string {
	var vErr *repository.ValidationError
	switch {
	case err == nil:
		return StatusOK
	case errors.As(err, &vErr):
		return StatusInvalid
	default:
		return StatusError
	}
}

func (c *InstrumentedClient) Name() string { return c.inner.Name() }

func (c *InstrumentedClient) Warm(ctx context.Context) error { return warm(ctx, c.inner) }

// UnconfiguredClient stands in for a provider whose credentials are missing,
// so the key still resolves and callers get an actionable error.
type UnconfiguredClient struct {
	name    string
	envVars []string
}

var _ repository.LLMClient = (*UnconfiguredClient)(nil)

func NewUnconfiguredClient(name string, envVars ...string) *UnconfiguredClient {
	return &UnconfiguredClient{name: name, envVars: envVars}
}

func (c *UnconfiguredClient) Generate(_ context.Context, prompt string, _ int) (string, error) {
	if err := repository.RequirePrompt(prompt); err != nil {
		return "", err
	}
	return "", &repository.GenerationError{
		Provider: c.name,
		Reason:   fmt.Sprintf("provider is not configured; set %s", strings.Join(c.envVars, " or ")),
	}
}

func (c *UnconfiguredClient) Name() string { return c.name + " (unconfigured)" }
