package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/DinukaYohan/math-app/internal/config"
	"github.com/DinukaYohan/math-app/internal/domain/repository"
	"github.com/DinukaYohan/math-app/internal/infrastructure/llm"
	"github.com/DinukaYohan/math-app/internal/infrastructure/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mathapp-api",
		Short:        "Math question generation API",
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.AddCommand(newServeCmd(), newGenerateCmd(), newProvidersCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log.Info().Msg("starting math-app API")
	return server.New(cfg).Run(cmd.Context())
}

func newGenerateCmd() *cobra.Command {
	var (
		provider  string
		maxTokens int
	)
	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Send one prompt through the provider router and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if maxTokens == 0 {
				maxTokens = cfg.MaxNewTokens
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
			defer cancel()

			providers, err := server.BuildProviders(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer func() { _ = providers.Close() }()

			res, err := providers.Router.Dispatch(ctx, repository.GenerationRequest{
				Prompt:    strings.Join(args, " "),
				Provider:  repository.ProviderKey(provider),
				MaxTokens: maxTokens,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			return err
		},
	}
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "provider key or alias (default MATHAPP_DEFAULT_PROVIDER)")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "output token budget (default MATHAPP_MAX_NEW_TOKENS)")
	return cmd
}

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List provider keys and their aliases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			providers, err := server.BuildProviders(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer func() { _ = providers.Close() }()

			out := cmd.OutOrStdout()
			for _, key := range providers.Router.Keys() {
				marker := ""
				if key == providers.Router.DefaultKey() {
					marker = " (default)"
				}
				aliases := make([]string, 0, len(llm.DefaultAliases[key]))
				for _, a := range llm.DefaultAliases[key] {
					aliases = append(aliases, string(a))
				}
				if _, err := fmt.Fprintf(out, "%s%s: %s\n", key, marker, strings.Join(aliases, ", ")); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	configureLogging(cfg.LogLevel)
	return cfg, nil
}

// configureLogging sets up human-friendly console output at the given level.
func configureLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log.Logger = log.Output(cw)

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
