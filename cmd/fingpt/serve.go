package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/Protocol-Lattice/fingpt-relay/src/dispatch"
	"github.com/Protocol-Lattice/fingpt-relay/src/metrics"
	"github.com/Protocol-Lattice/fingpt-relay/src/telegram"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(v)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			allowed, err := cfg.Telegram.AllowedChatIDs()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Warn("shutdown_error", "error", err.Error())
				}
			}()
			metrics.RegisterConversationGauge(a.store.Len)

			api := telegram.New(cfg.Telegram.Token,
				telegram.WithBaseURL(cfg.Telegram.BaseURL),
				telegram.WithLogger(logger),
			)
			me, err := api.GetMe(ctx)
			if err != nil {
				return err
			}
			logger.Info("telegram_ready", "bot", me.Username, "allowed_chats", len(allowed))

			d := dispatch.New(api, a.relay,
				dispatch.WithLogger(logger),
				dispatch.WithConcurrency(cfg.Dispatch.MaxConcurrency),
				dispatch.WithAllowedChats(allowed),
				dispatch.WithPollTimeout(cfg.Telegram.PollTimeout),
				dispatch.WithMaxFileBytes(cfg.Dispatch.MaxFileBytes),
				dispatch.WithPlainReplies(cfg.Reply.Format == "plain"),
			)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return d.Run(gctx) })
			g.Go(func() error {
				a.store.Janitor(gctx, janitorInterval(cfg.Conversation.IdleTTL))
				return nil
			})
			if cfg.HTTP.Addr != "" {
				var opts []metrics.ServerOption
				if cfg.Tracing.Enabled {
					opts = append(opts, metrics.WithTracing(cfg.Tracing.ServiceName, otel.GetTracerProvider()))
				}
				srv := metrics.NewServer(cfg.HTTP.Addr, logger, opts...)
				g.Go(func() error { return srv.Run(gctx) })
			}
			err = g.Wait()
			logger.Info("serve_stopped")
			return err
		},
	}
	return cmd
}

func janitorInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	if iv := ttl / 4; iv > time.Minute {
		return iv
	}
	return time.Minute
}
