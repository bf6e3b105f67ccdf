// Package app provides application lifecycle management for the integration engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/stacklok/integration-sync/internal/config"
)

// IntegrationApp encapsulates all components needed to run the integration engine
// It provides lifecycle management and graceful shutdown capabilities
type IntegrationApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server

	// cleanup releases the store, the dashboard cache and telemetry
	cleanup func()

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
	background sync.WaitGroup
}

// Start starts the scheduler, the health refresher and the HTTP server.
// This method blocks until the HTTP server stops or encounters an error
func (app *IntegrationApp) Start() error {
	app.background.Add(2)
	go func() {
		defer app.background.Done()
		if err := app.components.Scheduler.Start(app.ctx); err != nil {
			slog.Error("Job scheduler failed", "error", err)
		}
	}()
	go func() {
		defer app.background.Done()
		if err := app.components.Monitor.Start(app.ctx); err != nil {
			slog.Error("Health monitor failed", "error", err)
		}
	}()

	slog.Info("Server listening", "address", app.httpServer.Addr)
	if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// Stop gracefully stops the application with the given timeout.
// Background work stops first, then the HTTP server drains, then storage is released.
func (app *IntegrationApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	if err := app.components.Scheduler.Stop(); err != nil {
		slog.Error("Failed to stop job scheduler", "error", err)
	}
	app.components.Monitor.Stop()

	if app.cancelFunc != nil {
		app.cancelFunc()
	}
	app.background.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := app.httpServer.Shutdown(shutdownCtx)

	app.components.Subscriptions.Close()
	if app.cleanup != nil {
		app.cleanup()
	}

	if err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server shutdown complete")
	return nil
}

// GetConfig returns the application configuration
func (app *IntegrationApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *IntegrationApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// Components returns the wired application components
func (app *IntegrationApp) Components() *AppComponents {
	return app.components
}
