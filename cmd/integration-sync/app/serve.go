package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	intapp "github.com/stacklok/integration-sync/internal/app"
	"github.com/stacklok/integration-sync/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the integration engine",
	Long: `Start the job scheduler, the health monitor and the HTTP API.

The server requires a configuration file (--config) that specifies:
- The external sources and their credentials
- Scheduled sync jobs and webhook subscriptions
- Storage, enrichment, health and telemetry settings

See examples/ directory for sample configurations.`,
	RunE: runServe,
}

const defaultGracefulTimeout = 30 * time.Second

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (overrides server.address)")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address"))
	if err != nil {
		slog.Error("Failed to bind address flag", "error", err)
	}
	err = viper.BindPFlag("config", serveCmd.Flags().Lookup("config"))
	if err != nil {
		slog.Error("Failed to bind config flag", "error", err)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Stop on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configPath := viper.GetString("config")
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	slog.Info("Loaded configuration", "path", configPath, "sources", len(cfg.Sources), "jobs", len(cfg.Jobs))

	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown telemetry", "error", err)
		}
	}()

	opts := []intapp.AppOption{
		intapp.WithConfig(cfg),
		intapp.WithMeterProvider(tel.MeterProvider()),
		intapp.WithTracerProvider(tel.TracerProvider()),
	}
	if h := tel.MetricsHandler(); h != nil {
		opts = append(opts, intapp.WithMetricsHandler(h))
	}
	if address := viper.GetString("address"); address != "" {
		opts = append(opts, intapp.WithAddress(address))
	}

	app, err := intapp.NewIntegrationApp(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Start()
	}()

	select {
	case err := <-errChan:
		// the listener failed before any signal arrived
		if stopErr := app.Stop(defaultGracefulTimeout); stopErr != nil {
			slog.Error("Failed to stop application", "error", stopErr)
		}
		return err
	case <-ctx.Done():
	}

	if err := app.Stop(defaultGracefulTimeout); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}
	return <-errChan
}
