package cmd

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nimbusworks/aviary/internal/channels"
	"github.com/nimbusworks/aviary/internal/chat"
	"github.com/nimbusworks/aviary/internal/config"
	"github.com/nimbusworks/aviary/internal/gateway"
	"github.com/nimbusworks/aviary/internal/lifecycle"
	"github.com/nimbusworks/aviary/internal/providers"
	"github.com/nimbusworks/aviary/internal/store"
	"github.com/nimbusworks/aviary/internal/store/pg"
	"github.com/nimbusworks/aviary/internal/store/sqlite"
	"github.com/nimbusworks/aviary/internal/tracing"
	"github.com/nimbusworks/aviary/internal/ws"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		slog.Warn("tracing.init_failed", "error", err)
	} else {
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer flushCancel()
			_ = shutdownTracing(flushCtx)
		}()
	}

	db, stores, err := openStores(cfg)
	if err != nil {
		slog.Error("failed to open database", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("store.opened", "driver", cfg.Database.Driver)

	hub := ws.NewHub()
	var pub ws.Publisher
	if cfg.Server.BroadcastURL != "" {
		pub = ws.NewLoopbackPublisher(cfg.Server.BroadcastURL)
		slog.Info("broadcast.loopback", "url", cfg.Server.BroadcastURL)
	} else {
		pub = &ws.HubPublisher{Hub: hub}
	}
	chatSvc := chat.NewService(stores.Chat, pub)

	factory := providers.NewFactory(providers.Config{
		OpenAIAPIKey:    cfg.Providers.OpenAIAPIKey,
		AnthropicAPIKey: cfg.Providers.AnthropicAPIKey,
		GroqAPIKey:      cfg.Providers.GroqAPIKey,
		GoogleAPIKey:    cfg.Providers.GoogleAPIKey,
		OpenAIBaseURL:   cfg.Providers.OpenAIBaseURL,
		OllamaBaseURL:   cfg.Providers.OllamaBaseURL,
	})

	manager := lifecycle.NewManager(stores.Agents, factory, cfg.Agents.DefaultCharacterPath)
	if err := manager.Startup(ctx); err != nil {
		slog.Error("agent startup failed", "error", err)
		os.Exit(1)
	}
	defer manager.Shutdown()

	startChannels(ctx, cfg, manager)

	server := gateway.NewServer(cfg, manager, stores, chatSvc, hub)

	// Hot reload: only API tokens apply live, everything else on restart.
	go func() {
		if err := config.Watch(ctx, cfgPath, func(next *config.Config) {
			server.ReplaceTokens(next.Auth.Tokens)
		}); err != nil && ctx.Err() == nil {
			slog.Warn("config.watch_unavailable", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		cancel()
	}()

	slog.Info("aviary starting",
		"version", Version,
		"addr", cfg.Addr(),
		"agents", manager.Count(),
	)

	if err := server.Start(ctx); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

// openStores opens the configured backend. SQLite applies its schema on
// open; Postgres expects `aviary migrate up` to have run.
func openStores(cfg *config.Config) (*sql.DB, store.Stores, error) {
	if cfg.Database.Driver == "postgres" {
		db, err := pg.OpenDB(cfg.Database.PostgresDSN)
		if err != nil {
			return nil, store.Stores{}, err
		}
		return db, pg.NewStores(db), nil
	}
	db, err := sqlite.OpenDB(cfg.Database.SQLitePath)
	if err != nil {
		return nil, store.Stores{}, err
	}
	return db, sqlite.NewStores(db), nil
}

// startChannels connects the enabled native platform channels. Channel
// failures are logged, not fatal: the HTTP surface still serves.
func startChannels(ctx context.Context, cfg *config.Config, manager *lifecycle.Manager) {
	var active []channels.Channel

	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.BotToken != "" {
		dc, err := channels.NewDiscord(cfg.Channels.Discord.BotToken, manager)
		if err != nil {
			slog.Error("discord channel init failed", "error", err)
		} else {
			active = append(active, dc)
		}
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.BotToken != "" {
		tg, err := channels.NewTelegram(cfg.Channels.Telegram.BotToken, manager)
		if err != nil {
			slog.Error("telegram channel init failed", "error", err)
		} else {
			active = append(active, tg)
		}
	}

	for _, ch := range active {
		if err := ch.Start(ctx); err != nil {
			slog.Error("channel start failed", "channel", ch.Name(), "error", err)
			continue
		}
		slog.Info("channel.started", "channel", ch.Name())

		ch := ch
		go func() {
			<-ctx.Done()
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			if err := ch.Stop(stopCtx); err != nil {
				slog.Warn("channel stop failed", "channel", ch.Name(), "error", err)
			}
		}()
	}
}
