// Package app implements lifecycle management and component orchestration
// for gardenbot: the HTTP API and the task scheduler.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds how long in-flight requests may take to finish.
const shutdownTimeout = 10 * time.Second

// TaskScheduler is the part of the scheduler the orchestrator drives.
type TaskScheduler interface {
	Start(ctx context.Context) error
	Stop() error
}

// App represents the running application and manages its components' lifecycle.
type App struct {
	logger    *slog.Logger
	server    *http.Server
	scheduler TaskScheduler
}

// New creates an App. server or scheduler may be nil to run without them.
func New(logger *slog.Logger, server *http.Server, scheduler TaskScheduler) *App {
	return &App{
		logger:    logger.With("component", "orchestrator"),
		server:    server,
		scheduler: scheduler,
	}
}

// Run starts all components and blocks until ctx is cancelled or one of
// them fails, then shuts the others down.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting orchestrator...")

	g, gCtx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			a.logger.Info("Starting HTTP server...", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("HTTP server failed", "error", err)
				return fmt.Errorf("http server: %w", err)
			}
			a.logger.Info("HTTP server stopped.")
			return nil
		})

		g.Go(func() error {
			<-gCtx.Done()
			a.logger.Info("Shutdown signal received, stopping HTTP server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("Error stopping HTTP server", "error", err)
			}
			return nil
		})
	}

	if a.scheduler != nil {
		g.Go(func() error {
			a.logger.Info("Starting scheduler...")
			if err := a.scheduler.Start(gCtx); err != nil {
				a.logger.Error("Failed to start scheduler", "error", err)
				return fmt.Errorf("failed to start scheduler: %w", err)
			}

			<-gCtx.Done()
			a.logger.Info("Shutdown signal received, stopping scheduler...")

			if err := a.scheduler.Stop(); err != nil {
				a.logger.Error("Error stopping scheduler", "error", err)
			}
			return nil
		})
	}

	a.logger.Info("Orchestrator running. Waiting for shutdown signal or error...")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Orchestrator stopped due to error", "error", err)
		return err
	}

	a.logger.Info("Orchestrator stopped gracefully.")
	return nil
}
