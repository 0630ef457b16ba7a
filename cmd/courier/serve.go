package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/courier/internal/accounts"
	"github.com/memohai/courier/internal/assistant"
	"github.com/memohai/courier/internal/assistant/openai"
	"github.com/memohai/courier/internal/channel"
	"github.com/memohai/courier/internal/channel/adapters/common"
	"github.com/memohai/courier/internal/channel/adapters/instagram"
	"github.com/memohai/courier/internal/channel/adapters/telegram"
	"github.com/memohai/courier/internal/channel/adapters/whatsapp"
	"github.com/memohai/courier/internal/config"
	"github.com/memohai/courier/internal/conversation"
	"github.com/memohai/courier/internal/conversation/flow"
	"github.com/memohai/courier/internal/dedupe"
	"github.com/memohai/courier/internal/handlers"
	channelchecker "github.com/memohai/courier/internal/healthcheck/checkers/channel"
	storagechecker "github.com/memohai/courier/internal/healthcheck/checkers/storage"
	"github.com/memohai/courier/internal/logger"
	"github.com/memohai/courier/internal/server"
	"github.com/memohai/courier/internal/threads"
	"github.com/memohai/courier/internal/version"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server, Telegram receivers and dispatcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func runServe(configPath string) error {
	app := fx.New(
		fx.Provide(
			func() (config.Config, error) { return loadConfig(context.Background(), configPath) },
			provideLogger,
			provideStorage,
			provideThreadStore,
			provideAccountStore,
			provideAccountWriter,
			provideOpenAIClient,
			provideAssistantBackend,
			provideAssistantSession,
			provideChannelRegistry,
			provideTransport,
			provideProcessor,
			provideDispatcher,
			provideDedupeCache,
			provideChannelManager,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(handlers.NewThreadsHandler),
			provideServerHandler(provideDispatchHandler),
			provideServerHandler(provideHealthHandler),
			provideServerHandler(provideAccountsHandler),
			provideServerHandler(provideInstagramWebhook),
			provideServerHandler(provideWhatsAppWebhook),
			provideServer,
		),
		fx.Invoke(
			startDispatcher,
			startChannelManager,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideStorage(lc fx.Lifecycle, cfg config.Config) (*storage, error) {
	s, err := openStorage(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return s.Close() }})
	return s, nil
}

func provideThreadStore(s *storage) (threads.Store, error) { return s.threadStore() }

func provideAccountStore(cfg config.Config, s *storage) (accounts.Store, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.Accounts.Source), "file") {
		return accounts.NewFileStore(cfg.Accounts.File)
	}
	return s.accountsStore()
}

// provideAccountWriter is nil when accounts come from a file.
func provideAccountWriter(store accounts.Store) accounts.Writer {
	if w, ok := store.(accounts.Writer); ok {
		return w
	}
	return nil
}

func provideOpenAIClient(log *slog.Logger, cfg config.Config) (*openai.Client, error) {
	return openai.New(log, openai.Config{
		BaseURL: cfg.Assistant.BaseURL,
		APIKey:  cfg.Assistant.APIKey,
		Model:   cfg.Assistant.Model,
		Timeout: config.Duration(cfg.Outbound.Timeout, 10*time.Second),
	})
}

func provideAssistantBackend(client *openai.Client) assistant.Backend { return client }

func provideAssistantSession(log *slog.Logger, backend assistant.Backend, store threads.Store, cfg config.Config) *assistant.Session {
	return assistant.NewSession(log, backend, store, assistant.SessionConfig{
		Instructions:    cfg.Assistant.Instructions,
		PollInterval:    config.Duration(cfg.Assistant.PollInterval, assistant.DefaultPollInterval),
		MaxPollDuration: config.Duration(cfg.Assistant.MaxPollDuration, assistant.DefaultMaxPollDuration),
	})
}

func provideChannelRegistry(log *slog.Logger, cfg config.Config) *channel.Registry {
	client := common.NewHTTPClient(config.Duration(cfg.Outbound.Timeout, 10*time.Second))
	registry := channel.NewRegistry()
	registry.MustRegister(instagram.NewInstagramAdapter(log, client, cfg.Channels.Instagram.GraphURL))
	registry.MustRegister(whatsapp.NewWhatsAppAdapter(log, client))
	registry.MustRegister(telegram.NewTelegramAdapter(log))
	return registry
}

func provideTransport(log *slog.Logger, registry *channel.Registry, cfg config.Config) *channel.Transport {
	return channel.NewTransport(log, registry, channel.OutboundPolicy{
		RetryMax:     cfg.Outbound.RetryMax,
		RetryBackoff: config.Duration(cfg.Outbound.RetryBackoff, time.Second),
	})
}

func provideProcessor(log *slog.Logger, store accounts.Store, session *assistant.Session, transport *channel.Transport) *flow.Processor {
	return flow.NewProcessor(log, store, session, transport)
}

func provideDispatcher(log *slog.Logger, processor *flow.Processor, cfg config.Config) *conversation.Dispatcher {
	return conversation.NewDispatcher(log, processor, conversation.Options{
		MaxActiveWorkers: cfg.Dispatch.MaxActiveWorkers,
	})
}

func provideDedupeCache(lc fx.Lifecycle, cfg config.Config) *dedupe.Cache {
	cache := dedupe.New(config.Duration(cfg.Webhook.DedupeTTL, 10*time.Minute), cfg.Webhook.DedupeSize)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { cache.Close(); return nil }})
	return cache
}

func provideChannelManager(log *slog.Logger, registry *channel.Registry, store accounts.Store, dispatcher *conversation.Dispatcher, cfg config.Config) *channel.Manager {
	submit := func(ctx context.Context, _ channel.ChannelConfig, msg channel.InboundMessage) error {
		return dispatcher.Submit(ctx, msg)
	}
	return channel.NewManager(log, registry, store, submit, channel.ManagerOptions{
		RefreshSchedule: cfg.Channels.Telegram.RefreshSchedule,
	})
}

func provideDispatchHandler(log *slog.Logger, dispatcher *conversation.Dispatcher, manager *channel.Manager) *handlers.DispatchHandler {
	return handlers.NewDispatchHandler(log, dispatcher, manager)
}

func provideHealthHandler(log *slog.Logger, s *storage, manager *channel.Manager) *handlers.HealthHandler {
	var pinger storagechecker.Pinger
	if s.driver != "memory" {
		pinger = s
	}
	return handlers.NewHealthHandler(log,
		storagechecker.NewChecker(log, s.driver, pinger),
		channelchecker.NewChecker(log, manager),
	)
}

func provideAccountsHandler(log *slog.Logger, store accounts.Store, writer accounts.Writer, client *openai.Client) *handlers.AccountsHandler {
	return handlers.NewAccountsHandler(log, store, writer, client)
}

func provideInstagramWebhook(log *slog.Logger, dispatcher *conversation.Dispatcher, cache *dedupe.Cache, cfg config.Config) *instagram.WebhookHandler {
	return instagram.NewWebhookHandler(log, dispatcher, cache, cfg.Channels.Instagram.VerifyToken)
}

func provideWhatsAppWebhook(log *slog.Logger, dispatcher *conversation.Dispatcher, cache *dedupe.Cache, cfg config.Config) *whatsapp.WebhookHandler {
	return whatsapp.NewWebhookHandler(log, dispatcher, cache, cfg.Channels.WhatsApp.WebhookToken)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) (*server.Server, error) {
	if strings.TrimSpace(params.Config.Auth.JWTSecret) == "" {
		return nil, errors.New("auth.jwt_secret is required")
	}
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Auth.JWTSecret, params.ServerHandlers...), nil
}

func startDispatcher(lc fx.Lifecycle, dispatcher *conversation.Dispatcher) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error { return dispatcher.Shutdown(ctx) },
	})
}

func startChannelManager(lc fx.Lifecycle, manager *channel.Manager) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { return manager.Start(context.Background()) },
		OnStop:  func(ctx context.Context) error { return manager.Stop(ctx) },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	logger.Info("starting courier", slog.String("version", version.GetInfo()), slog.String("addr", cfg.Server.Addr))
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
