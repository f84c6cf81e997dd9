// Package app provides the top-level application lifecycle management for the
// auction engine. It wires together all dependencies (store, bus, locks,
// timers, notifications, server) and runs them until the context is
// cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vmtien/bidhub/internal/config"
	"github.com/vmtien/bidhub/internal/engine"
	"github.com/vmtien/bidhub/internal/notify"
	"github.com/vmtien/bidhub/internal/server"
	"github.com/vmtien/bidhub/internal/server/handler"
	"github.com/vmtien/bidhub/internal/server/ws"
	"github.com/vmtien/bidhub/internal/timer"
)

// shutdownTimeout bounds how long in-flight HTTP requests may finish after a
// termination signal.
const shutdownTimeout = 10 * time.Second

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, recovers armed
// timers for live auctions, starts the gateway, notification worker, and
// HTTP server, and blocks until the context is cancelled. On return it runs
// all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("log_level", a.cfg.LogLevel),
		slog.Bool("in_memory", a.cfg.Database.InMemory),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	queue := notify.NewQueue(deps.Notifier, a.cfg.Auction.NotifyQueueSize, a.logger)

	eng := engine.New(deps.Store, deps.Bus, queue, deps.Audit, a.logger)
	timers := timer.NewRegistry(eng, deps.Store, deps.Bus, deps.Locks, a.cfg.Auction.TickInterval.Duration, a.logger)
	eng.WithTimers(timers)
	a.closers = append(a.closers, timers.Shutdown)

	// Re-arm timers for auctions that were live before the restart. Overdue
	// ones settle immediately.
	if err := timers.Recover(ctx); err != nil {
		return fmt.Errorf("app: timer recovery: %w", err)
	}

	hub := ws.NewHub(deps.Store, deps.Bus, a.logger)

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Store, a.logger),
		Auctions: handler.NewAuctionHandler(eng, deps.Store, a.logger),
		Admin:    handler.NewAdminHandler(deps.Store, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:          a.cfg.Server.Port,
		CORSOrigins:   a.cfg.Server.CORSOrigins,
		APIKey:        a.cfg.Server.APIKey,
		BidRateLimit:  a.cfg.Auction.BidRateLimit,
		BidRateWindow: a.cfg.Auction.BidRateWindow.Duration,
	}, handlers, hub, deps.Limiter, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		return queue.Run(ctx)
	})
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
