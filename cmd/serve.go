package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/guppy/internal/actor"
	"github.com/nextlevelbuilder/guppy/internal/agentrt"
	"github.com/nextlevelbuilder/guppy/internal/chat"
	"github.com/nextlevelbuilder/guppy/internal/chat/discordref"
	"github.com/nextlevelbuilder/guppy/internal/chat/telegramref"
	"github.com/nextlevelbuilder/guppy/internal/compaction"
	"github.com/nextlevelbuilder/guppy/internal/config"
	"github.com/nextlevelbuilder/guppy/internal/eventbus"
	"github.com/nextlevelbuilder/guppy/internal/inspect"
	"github.com/nextlevelbuilder/guppy/internal/orchestrator"
	"github.com/nextlevelbuilder/guppy/internal/store"
	"github.com/nextlevelbuilder/guppy/internal/threadid"
	"github.com/nextlevelbuilder/guppy/internal/tracing"
)

var (
	discordToken  string
	telegramToken string
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Orchestrator, Event Bus, and Thread Store against --data-dir",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&discordToken, "discord-token", os.Getenv("GUPPY_DISCORD_TOKEN"), "Discord bot token (reference adapter)")
	cmd.Flags().StringVar(&telegramToken, "telegram-token", os.Getenv("GUPPY_TELEGRAM_TOKEN"), "Telegram bot token (reference adapter)")
	return cmd
}

func runServe(ctx context.Context) error {
	setupLogging()

	cfg, err := config.Load(filepath.Join(dataDir, "config.json"))
	if err != nil {
		return fmt.Errorf("guppy serve: load config: %w", err)
	}
	cfg.DataDir = dataDir

	shutdownTracing, err := tracing.Init(ctx, "guppy")
	if err != nil {
		slog.Warn("guppy serve: tracing disabled", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer shutdownTracing(context.Background())

	st, err := store.New(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("guppy serve: create store: %w", err)
	}

	handle := newChatHandle()

	var discordAdapter *discordref.Adapter
	if discordToken != "" {
		discordAdapter, err = discordref.New(discordref.Config{Token: discordToken})
		if err != nil {
			return fmt.Errorf("guppy serve: discord adapter: %w", err)
		}
		handle.register("discord", discordAdapter.Info(), discordAdapter.Channel, discordAdapter.ResolveThread)
	}

	var telegramAdapter *telegramref.Adapter
	if telegramToken != "" {
		telegramAdapter, err = telegramref.New(telegramref.Config{Token: telegramToken})
		if err != nil {
			return fmt.Errorf("guppy serve: telegram adapter: %w", err)
		}
		handle.register("telegram", telegramAdapter.Info(), telegramAdapter.Channel, telegramAdapter.ResolveThread)
	}

	var signer *inspect.Signer
	if cfg.Inspect.BaseURL != "" && cfg.Inspect.Secret != "" {
		signer = inspect.New(cfg.Inspect.BaseURL, cfg.Inspect.Secret)
	}

	factory := func(meta threadid.Meta) *actor.Actor {
		return actor.New(meta, actor.Deps{
			Store: st,
			Agent: unconfiguredAgentFactory,
			Compaction: compaction.Settings{
				Enabled:          cfg.Compaction.Enabled,
				ContextWindow:    cfg.Compaction.ContextWindow,
				ReserveTokens:    cfg.Compaction.ReserveTokens,
				KeepRecentTokens: cfg.Compaction.KeepRecentTokens,
			},
			Settings: actor.Settings{
				MaxQueueDepth: cfg.Actor.MaxQueueDepth,
				InspectURL:    inspectURLFunc(signer),
				PostRateLimit: rate.NewLimiter(rate.Limit(cfg.Actor.PostRateLimitPerSecond), 1),
			},
		})
	}

	orch := orchestrator.New(handle, factory)

	bus := eventbus.New(filepath.Join(cfg.DataDir, "events"), orch.DispatchEvent)
	if err := bus.Start(); err != nil {
		return fmt.Errorf("guppy serve: start event bus: %w", err)
	}
	defer bus.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if discordAdapter != nil {
		if err := discordAdapter.Start(runCtx, inboundHandler(st, orch, handle, "discord", func(in discordref.Inbound) chat.FileAttachment {
			return chat.FileAttachment{}
		})); err != nil {
			return fmt.Errorf("guppy serve: start discord adapter: %w", err)
		}
		slog.Info("discord adapter started")
	}
	if telegramAdapter != nil {
		if err := telegramAdapter.Start(runCtx, telegramInboundHandler(st, orch, handle)); err != nil {
			return fmt.Errorf("guppy serve: start telegram adapter: %w", err)
		}
		defer telegramAdapter.Stop()
		slog.Info("telegram adapter started")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	slog.Info("guppy serving", "dataDir", cfg.DataDir)
	select {
	case sig := <-sigCh:
		slog.Info("shutdown initiated", "signal", sig)
	case <-ctx.Done():
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	orch.Shutdown(shutdownCtx)
	return nil
}

func inspectURLFunc(signer *inspect.Signer) func(string) string {
	if signer == nil {
		return nil
	}
	return signer.URL
}

// unconfiguredAgentFactory is the default agentrt.Factory: this core types
// the boundary to an LLM agent runner but does not implement one itself
// (spec.md §1 Non-goals). A real deployment supplies its own Factory to
// actor.Deps.Agent instead of calling serveCmd directly.
func unconfiguredAgentFactory(context.Context, string) (agentrt.Agent, error) {
	return nil, fmt.Errorf("guppy: no agent runtime configured; wire actor.Deps.Agent to a real agentrt.Factory")
}
