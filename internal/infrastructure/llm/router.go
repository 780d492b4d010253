package llm

import (
	"context"
	"fmt"
	"sort"

	"github.com/DinukaYohan/math-app/internal/domain/repository"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Canonical provider keys.
const (
	ProviderQwen   repository.ProviderKey = "qwen"
	ProviderGemini repository.ProviderKey = "gemini"
	ProviderOpenAI repository.ProviderKey = "openai"
)

// DefaultAliases lists the accepted spellings for each canonical provider.
var DefaultAliases = map[repository.ProviderKey][]repository.ProviderKey{
	ProviderQwen:   {"local", "local-model", "ollama"},
	ProviderGemini: {"google", "hosted-provider-a"},
	ProviderOpenAI: {"gpt", "hosted-provider-b"},
}

// Router resolves provider keys to LLM clients. It holds no per-call state.
type Router struct {
	clients    map[repository.ProviderKey]repository.LLMClient
	aliases    map[repository.ProviderKey]repository.ProviderKey
	defaultKey repository.ProviderKey
}

var _ repository.LLMRouter = (*Router)(nil)

// NewRouter initializes an empty router; an empty or absent key resolves to defaultKey.
func NewRouter(defaultKey repository.ProviderKey) *Router {
	return &Router{
		clients:    make(map[repository.ProviderKey]repository.LLMClient),
		aliases:    make(map[repository.ProviderKey]repository.ProviderKey),
		defaultKey: defaultKey.Normalize(),
	}
}

// Register adds client under its canonical key plus any aliases.
// Registration happens during wiring, before the router serves calls.
func (r *Router) Register(key repository.ProviderKey, client repository.LLMClient, aliases ...repository.ProviderKey) {
	key = key.Normalize()
	r.clients[key] = client
	r.aliases[key] = key
	for _, alias := range aliases {
		r.aliases[alias.Normalize()] = key
	}
	log.Info().Str("component", "router").Str("provider", string(key)).Str("client", client.Name()).Msg("registered provider")
}

// Resolve returns the client for key together with its canonical name.
func (r *Router) Resolve(key repository.ProviderKey) (repository.LLMClient, repository.ProviderKey, error) {
	normalized := key.Normalize()
	if normalized == "" {
		normalized = r.defaultKey
	}
	canonical, ok := r.aliases[normalized]
	if !ok {
		return nil, "", &repository.ValidationError{
			Field:    "model",
			Value:    string(key),
			Reason:   "unknown provider",
			Accepted: r.Aliases(),
		}
	}
	return r.clients[canonical], canonical, nil
}

// Generate routes prompt to the provider named by key.
func (r *Router) Generate(ctx context.Context, prompt string, key repository.ProviderKey, maxTokens int) (string, error) {
	client, canonical, err := r.Resolve(key)
	if err != nil {
		return "", err
	}
	log.Debug().Str("component", "router").Str("provider", string(canonical)).Int("max_tokens", maxTokens).Msg("routing generation")
	return client.Generate(ctx, prompt, maxTokens)
}

// Dispatch validates req and routes it.
func (r *Router) Dispatch(ctx context.Context, req repository.GenerationRequest) (repository.GenerationResult, error) {
	if err := req.Validate(); err != nil {
		return repository.GenerationResult{}, err
	}
	text, err := r.Generate(ctx, req.Prompt, req.Provider, req.MaxTokens)
	if err != nil {
		return repository.GenerationResult{}, err
	}
	return repository.GenerationResult{Text: text}, nil
}

// Keys returns the canonical provider keys, sorted.
func (r *Router) Keys() []repository.ProviderKey {
	keys := make([]repository.ProviderKey, 0, len(r.clients))
	for k := range r.clients {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Aliases returns every accepted key spelling, sorted.
func (r *Router) Aliases() []string {
	out := make([]string, 0, len(r.aliases))
	for a := range r.aliases {
		out = append(out, string(a))
	}
	sort.Strings(out)
	return out
}

// DefaultKey is the provider used when a caller names none.
func (r *Router) DefaultKey() repository.ProviderKey {
	return r.defaultKey
}

// Warmup prepares every client that supports it, concurrently.
// Failures are logged; a cold provider is still usable.
func (r *Router) Warmup(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for key, client := range r.clients {
		warmer, ok := client.(repository.Warmer)
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := warmer.Warm(ctx); err != nil {
				log.Warn().Err(err).Str("component", "router").Str("provider", string(key)).Msg("warm-up failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Validate checks that the default key resolves to a registered provider.
func (r *Router) Validate() error {
	if _, ok := r.aliases[r.defaultKey]; !ok {
		return fmt.Errorf("default provider %q is not registered (available: %v)", r.defaultKey, r.Keys())
	}
	return nil
}
