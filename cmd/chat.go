package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sawitlab/tanya/internal/bus"
	"github.com/sawitlab/tanya/internal/compose"
	"github.com/sawitlab/tanya/internal/config"
	"github.com/sawitlab/tanya/internal/guardrail"
	"github.com/sawitlab/tanya/internal/pipeline"
	"github.com/sawitlab/tanya/internal/retrieval"
	"github.com/sawitlab/tanya/internal/session/memory"
)

func chatCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Run turns against a local in-memory session (for trying out config)",
		Long:  "Processes one message per line through the full turn pipeline with an in-memory session store. Pass a message as an argument for a single turn, or run without arguments for an interactive loop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			provider, err := buildProvider(cfg.Providers)
			if err != nil {
				return err
			}

			var searcher retrieval.Searcher
			if cfg.Retrieval.Enabled() {
				searcher = retrieval.NewHTTPSearcher(cfg.Retrieval.Endpoint, cfg.Retrieval.APIKey)
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

			store := memory.New()
			defer store.Close()

			pipe := pipeline.New(store, retriever, guard, composer, pipeline.Options{
				TTL:           time.Duration(cfg.Sessions.TTLHours) * time.Hour,
				CommitRetries: cfg.Sessions.CommitRetries,
			})

			turn := func(text string) {
				reply := pipe.Process(context.Background(), bus.InboundMessage{
					Channel:        bus.ChannelWebchat,
					ExternalUserID: user,
					MessageID:      uuid.NewString(),
					Text:           text,
					ReceivedAt:     time.Now().UTC(),
					ReplyTarget:    user,
				})
				fmt.Println(reply.Text)
				if reply.Metadata["escalated"] == "true" {
					slog.Info("session marked for human follow-up")
				}
			}

			if len(args) > 0 {
				turn(strings.Join(args, " "))
				return nil
			}

			fmt.Println("Interactive mode. Ctrl-D to exit.")
			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					fmt.Println()
					return scanner.Err()
				}
				text := strings.TrimSpace(scanner.Text())
				if text == "" {
					continue
				}
				turn(text)
			}
		},
	}
	cmd.Flags().StringVar(&user, "user", "localtester", "external user id for the session key")
	return cmd
}
