package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sawitlab/tanya/internal/channels/discord"
	"github.com/sawitlab/tanya/internal/channels/telegram"
	"github.com/sawitlab/tanya/internal/channels/webchat"
	"github.com/sawitlab/tanya/internal/channels/whatsapp"
	"github.com/sawitlab/tanya/internal/compose"
	"github.com/sawitlab/tanya/internal/config"
	"github.com/sawitlab/tanya/internal/dispatch"
	"github.com/sawitlab/tanya/internal/gateway"
	"github.com/sawitlab/tanya/internal/guardrail"
	"github.com/sawitlab/tanya/internal/pipeline"
	"github.com/sawitlab/tanya/internal/providers"
	"github.com/sawitlab/tanya/internal/retrieval"
	"github.com/sawitlab/tanya/internal/session"
	"github.com/sawitlab/tanya/internal/session/memory"
	"github.com/sawitlab/tanya/internal/session/pg"
	"github.com/sawitlab/tanya/internal/session/sqlite"
	"github.com/sawitlab/tanya/internal/telemetry"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway and all enabled channels",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		shutdownTelemetry(flushCtx)
	}()

	store, err := openStore(cfg.Sessions)
	if err != nil {
		slog.Error("failed to open session store", "error", err, "backend", cfg.Sessions.Backend)
		os.Exit(1)
	}
	defer store.Close()

	provider, err := buildProvider(cfg.Providers)
	if err != nil {
		slog.Error("failed to configure inference provider", "error", err)
		os.Exit(1)
	}

	var searcher retrieval.Searcher
	if cfg.Retrieval.Enabled() {
		searcher = retrieval.NewHTTPSearcher(cfg.Retrieval.Endpoint, cfg.Retrieval.APIKey)
		slog.Info("retrieval enabled", "endpoint", cfg.Retrieval.Endpoint, "top_k", cfg.Retrieval.TopK)
	} else {
		slog.Info("retrieval disabled: no endpoint configured")
	}
	retriever := retrieval.NewOrchestrator(
		searcher,
		cfg.Retrieval.TopK,
		cfg.Retrieval.ScoreThreshold,
		time.Duration(cfg.Retrieval.TimeoutSecs)*time.Second,
	)

	guard := guardrail.NewEngine(
		guardrail.NewKeywordClassifier(),
		cfg.Guardrail.ConfidenceThreshold,
		cfg.Retrieval.ScoreThreshold,
		cfg.Retrieval.Enabled(),
	)

	composer := compose.New(provider, compose.TemplatesFromConfig(cfg.Templates), compose.Options{
		MaxTokens:     cfg.Providers.MaxTokens,
		Temperature:   cfg.Providers.Temperature,
		SafetyProfile: cfg.Providers.SafetyProfile,
		Timeout:       time.Duration(cfg.Providers.TimeoutSecs) * time.Second,
		HistoryLimit:  cfg.Sessions.HistoryLimit,
		Denylist:      cfg.Guardrail.Denylist,
	})

	pipe := pipeline.New(store, retriever, guard, composer, pipeline.Options{
		TTL:           time.Duration(cfg.Sessions.TTLHours) * time.Hour,
		CommitRetries: cfg.Sessions.CommitRetries,
	})

	dispatcher := dispatch.New(dispatch.Options{})

	server := gateway.NewServer(cfg.Gateway)
	server.SetHealthCheck(store.Ping)
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Channels.WhatsApp.Enabled {
		wa := cfg.Channels.WhatsApp
		dispatcher.Register(whatsapp.NewSender(wa.AccountSID, wa.AuthToken, wa.From))
		var verifier whatsapp.Verifier = whatsapp.NewTwilioVerifier(wa.AuthToken)
		if !wa.ValidateSignature {
			slog.Warn("whatsapp signature validation disabled")
			verifier = whatsapp.AllowAllVerifier{}
		}
		server.Register(whatsapp.NewWebhook(verifier, pipe, dispatcher))
	}

	if cfg.Channels.Discord.Enabled {
		dc := cfg.Channels.Discord
		sender := discord.NewSender(dc.ApplicationID)
		dispatcher.Register(sender)
		webhook, err := discord.NewWebhook(dc.PublicKey, dc.ValidateSignature, pipe, dispatcher)
		if err != nil {
			slog.Error("discord channel setup failed", "error", err)
			os.Exit(1)
		}
		server.Register(webhook)
	}

	if cfg.Channels.Webchat.Enabled {
		server.Register(webchat.NewWebhook(pipe))
	}

	if cfg.Channels.Telegram.Enabled {
		tg, err := telegram.New(cfg.Channels.Telegram, pipe, dispatcher)
		if err != nil {
			slog.Error("telegram channel setup failed", "error", err)
			os.Exit(1)
		}
		dispatcher.Register(telegram.NewSender(tg.Bot()))
		g.Go(func() error {
			if err := tg.Start(gctx); err != nil {
				return fmt.Errorf("telegram: %w", err)
			}
			<-gctx.Done()
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer stopCancel()
			return tg.Stop(stopCtx)
		})
	}

	if schedule := cfg.Maintenance.SweepSchedule; schedule != "" {
		sweeper, err := session.NewSweeper(store, schedule)
		if err != nil {
			slog.Error("invalid sweep schedule", "error", err, "schedule", schedule)
			os.Exit(1)
		}
		g.Go(func() error {
			sweeper.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		return server.Start(gctx)
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	if err := g.Wait(); err != nil {
		slog.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("gateway stopped")
}

// openStore selects the session backend. SQLite is the default so a bare
// binary works without external services.
func openStore(cfg config.SessionsConfig) (session.Store, error) {
	switch cfg.Backend {
	case "memory":
		return memory.New(), nil
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres backend requires TANYA_POSTGRES_DSN")
		}
		return pg.Open(cfg.PostgresDSN)
	case "", "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = "tanya.db"
		}
		return sqlite.Open(config.ExpandHome(path))
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

func buildProvider(cfg config.ProvidersConfig) (providers.Provider, error) {
	switch cfg.Default {
	case "", "anthropic":
		if cfg.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires TANYA_ANTHROPIC_API_KEY")
		}
		var opts []providers.AnthropicOption
		if cfg.Anthropic.Model != "" {
			opts = append(opts, providers.WithAnthropicModel(cfg.Anthropic.Model))
		}
		if cfg.Anthropic.BaseURL != "" {
			opts = append(opts, providers.WithAnthropicBaseURL(cfg.Anthropic.BaseURL))
		}
		return providers.NewAnthropicProvider(cfg.Anthropic.APIKey, opts...), nil
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires TANYA_OPENAI_API_KEY")
		}
		var opts []providers.OpenAIOption
		if cfg.OpenAI.Model != "" {
			opts = append(opts, providers.WithOpenAIModel(cfg.OpenAI.Model))
		}
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, providers.WithOpenAIBaseURL(cfg.OpenAI.BaseURL))
		}
		return providers.NewOpenAIProvider(cfg.OpenAI.APIKey, opts...), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Default)
	}
}
