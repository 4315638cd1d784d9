package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Protocol-Lattice/fingpt-relay/src/attachment"
	"github.com/Protocol-Lattice/fingpt-relay/src/config"
	"github.com/Protocol-Lattice/fingpt-relay/src/conversation"
	"github.com/Protocol-Lattice/fingpt-relay/src/journal"
	"github.com/Protocol-Lattice/fingpt-relay/src/models"
	"github.com/Protocol-Lattice/fingpt-relay/src/relay"
	"github.com/Protocol-Lattice/fingpt-relay/src/render"
	"github.com/Protocol-Lattice/fingpt-relay/src/tracing"
)

// app holds the components shared by serve and ask.
type app struct {
	backend models.Backend
	journal journal.Journal
	store   *conversation.Store
	relay   *relay.Relay

	shutdownTracing func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return nil, &relay.Error{Kind: relay.ConfigError, Op: "init tracing", Err: err}
	}

	backend, err := models.NewBackend(ctx, models.BackendOptions{
		Provider:   cfg.Backend.Provider,
		Model:      cfg.Backend.Model,
		APIKey:     cfg.Backend.APIKey,
		Host:       cfg.Backend.Host,
		Timeout:    cfg.Backend.Timeout,
		Generation: models.DefaultGenerationConfig(),
	})
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, &relay.Error{Kind: relay.ConfigError, Op: "create backend", Err: err}
	}

	j, err := journal.Open(ctx, journal.Options{
		Driver:             cfg.Journal.Driver,
		DSN:                cfg.Journal.DSN,
		Database:           cfg.Journal.Database,
		Collection:         cfg.Journal.Collection,
		MaxPerConversation: cfg.Conversation.HistoryTurns,
	})
	if err != nil {
		_ = backend.Close()
		_ = shutdownTracing(ctx)
		return nil, &relay.Error{Kind: relay.ConfigError, Op: "open journal", Err: err}
	}

	store := conversation.NewStore(backend,
		conversation.WithJournal(j, cfg.Conversation.HistoryTurns),
		conversation.WithLimits(cfg.Conversation.Max, cfg.Conversation.IdleTTL),
		conversation.WithLogger(logger),
	)
	rl := relay.New(store,
		relay.WithRenderer(render.New(cfg.Render.Dir, cfg.Render.Filename)),
		relay.WithLoader(&attachment.Loader{MaxBytes: cfg.Dispatch.MaxFileBytes, Logger: logger}),
		relay.WithLogger(logger),
		relay.WithTimeout(cfg.Backend.Timeout),
		relay.WithWarnDropped(cfg.Relay.WarnDropped),
	)
	logger.Info("backend_ready",
		"provider", backend.Name(),
		"model", cfg.Backend.Model,
		"journal", cfg.Journal.Driver,
		"tracing", cfg.Tracing.Enabled,
	)
	return &app{backend: backend, journal: j, store: store, relay: rl, shutdownTracing: shutdownTracing}, nil
}

// Close releases idle conversations, then the journal, the backend and the
// tracer provider, which flushes pending spans.
func (a *app) Close() error {
	a.store.Close()
	var errs []error
	if err := a.journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close journal: %w", err))
	}
	if err := a.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close backend: %w", err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdownTracing(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
	}
	return errors.Join(errs...)
}
