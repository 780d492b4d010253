package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/DinukaYohan/math-app/internal/config"
	"github.com/DinukaYohan/math-app/internal/database/bunstore"
	"github.com/DinukaYohan/math-app/internal/domain/repository"
	"github.com/DinukaYohan/math-app/internal/infrastructure/llm"
	"github.com/DinukaYohan/math-app/internal/infrastructure/metrics"
	httpserver "github.com/DinukaYohan/math-app/internal/interface/http"
	"github.com/DinukaYohan/math-app/internal/usecase/question"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type Server struct {
	cfg        *config.Config
	httpServer *http.Server
}

func New(cfg *config.Config) *Server {
	return &Server{
		cfg: cfg,
	}
}

// Providers holds the wired router and the resources behind it.
type Providers struct {
	Router  *llm.Router
	closers []func() error
}

// Close releases SDK clients held by the adapters.
func (p *Providers) Close() error {
	var errs []error
	for _, c := range p.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// BuildProviders registers every provider adapter under its canonical key and aliases.
// Hosted providers without credentials are registered as unconfigured so their keys
// still resolve. recorder may be nil.
func BuildProviders(ctx context.Context, cfg *config.Config, recorder *metrics.PrometheusRecorder) (*Providers, error) {
	p := &Providers{Router: llm.NewRouter(repository.ProviderKey(cfg.DefaultProvider))}

	local := llm.NewLocalOllamaClient(llm.OllamaConfig{
		Host:        cfg.OllamaHost,
		Model:       cfg.LocalModel,
		Temperature: cfg.LocalTemperature,
		Concurrency: cfg.LocalConcurrency,
		Timeout:     cfg.RequestTimeout,
	})

	var gemini repository.LLMClient
	if key := cfg.GeminiKey(); key == "" {
		log.Warn().Str("component", "server").Msg("GEMINI_API_KEY not set, gemini is unavailable")
		gemini = llm.NewUnconfiguredClient("gemini", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	} else {
		var opts []llm.GeminiOption
		if recorder != nil {
			opts = append(opts, llm.WithRetryRecorder(recorder))
		}
		client, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
			APIKey:             key,
			Model:              cfg.GeminiModel,
			MaxOutputTokens:    cfg.GeminiMaxOutputTokens,
			Temperature:        cfg.GeminiTemperature,
			Backend:            cfg.GeminiBackend,
			BaseURL:            cfg.GeminiBaseURL,
			FormatInstructions: cfg.GeminiFormatInstructions,
			Timeout:            cfg.RequestTimeout,
		}, opts...)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, client.Close)
		gemini = client
	}

	var openai repository.LLMClient
	if cfg.OpenAIAPIKey == "" {
		log.Warn().Str("component", "server").Msg("OPENAI_API_KEY not set, openai is unavailable")
		openai = llm.NewUnconfiguredClient("openai", "OPENAI_API_KEY")
	} else {
		openai = llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.OpenAIModel,
			Temperature: cfg.OpenAITemperature,
			Timeout:     cfg.RequestTimeout,
		})
	}

	for key, client := range map[repository.ProviderKey]repository.LLMClient{
		llm.ProviderQwen:   local,
		llm.ProviderGemini: gemini,
		llm.ProviderOpenAI: openai,
	} {
		var wrapped repository.LLMClient = llm.NewBreakerClient(client, cfg.BreakerThreshold, cfg.BreakerCooldown)
		if recorder != nil {
			wrapped = llm.NewInstrumentedClient(wrapped, key, recorder)
		}
		p.Router.Register(key, wrapped, llm.DefaultAliases[key]...)
	}

	if err := p.Router.Validate(); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("invalid MATHAPP_DEFAULT_PROVIDER: %w", err)
	}
	return p, nil
}

// Run serves the API until ctx is cancelled or a shutdown signal arrives.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.NewPrometheusRecorder(registry)
	if err != nil {
		return err
	}

	providers, err := BuildProviders(ctx, s.cfg, recorder)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := providers.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("failed to close provider clients")
		}
	}()
	log.Info().Str("component", "server").Strs("providers", keyStrings(providers.Router.Keys())).
		Str("default", string(providers.Router.DefaultKey())).Msg("LLM router initialized")

	if s.cfg.PullOnStart {
		log.Info().Str("component", "server").Str("model", s.cfg.LocalModel).Msg("ensuring local model is available")
		providers.Router.Warmup(ctx)
	}

	dbConn, err := sql.Open(sqliteshim.ShimName, s.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	store, err := bunstore.NewBunStore(ctx, dbConn, sqlitedialect.New())
	if err != nil {
		_ = dbConn.Close()
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("failed to close database")
		}
	}()

	svc := question.NewService(providers.Router, store,
		question.WithMaxTokens(s.cfg.MaxNewTokens),
		question.WithChatProvider(repository.ProviderKey(s.cfg.ChatProvider)),
	)
	apiServer := httpserver.NewServer(svc, providers.Router,
		httpserver.WithMetricsHandler(recorder.Handler()),
		httpserver.WithRequestTimeout(s.cfg.RequestTimeout),
	)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           apiServer.RegisterRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("component", "server").Str("addr", s.httpServer.Addr).Msg("starting REST API server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info().Str("component", "server").Msg("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}

	log.Info().Str("component", "server").Msg("server stopped gracefully")
	return nil
}

func keyStrings(keys []repository.ProviderKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}
