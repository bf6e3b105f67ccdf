package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	intapp "github.com/stacklok/integration-sync/internal/app"
	"github.com/stacklok/integration-sync/internal/config"
	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/sync/scheduler"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one manual sync and exit",
	Long: `Run a single manual sync of one source, print the resulting execution as JSON
and exit. The exit status is non-zero when the execution failed.

Examples:
  # Sync everything the source offers
  integration-sync sync --config config.yaml --source tenable

  # Sync under the concurrency guard of a configured job
  integration-sync sync --config config.yaml --source tenable --job tenable-nightly`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		configPath, err := cmd.Flags().GetString("config")
		if err != nil {
			return fmt.Errorf("failed to get config flag: %w", err)
		}
		source, err := cmd.Flags().GetString("source")
		if err != nil {
			return fmt.Errorf("failed to get source flag: %w", err)
		}
		jobID, err := cmd.Flags().GetString("job")
		if err != nil {
			return fmt.Errorf("failed to get job flag: %w", err)
		}

		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		return runSyncOnce(cmd.Context(), cfg, source, jobID, cmd.OutOrStdout())
	},
}

const syncShutdownTimeout = 10 * time.Second

func init() {
	syncCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	syncCmd.Flags().String("source", "", "Name of the source to sync (required)")
	syncCmd.Flags().String("job", "", "Run under the concurrency guard and filters of this job")

	for _, name := range []string{"config", "source"} {
		if err := syncCmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}
}

// runSyncOnce wires the engine without serving, runs one manual sync and writes the execution to out.
// A job id reuses that job's filters when the job is configured.
func runSyncOnce(ctx context.Context, cfg *config.Config, source, jobID string, out io.Writer) error {
	app, err := intapp.NewIntegrationApp(ctx, intapp.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	defer func() {
		if err := app.Stop(syncShutdownTimeout); err != nil {
			slog.Error("Failed to stop application", "error", err)
		}
	}()

	req := scheduler.ManualSyncRequest{JobID: jobID}
	for i := range cfg.Jobs {
		if job := &cfg.Jobs[i]; jobID != "" && job.ID == jobID {
			if job.Source != source {
				return fmt.Errorf("job %s belongs to source %s, not %s", jobID, job.Source, source)
			}
			req.Filters = job.Filters
		}
	}

	exec, err := app.Components().Scheduler.TriggerManualSync(ctx, source, req)
	if err != nil {
		return fmt.Errorf("sync of %s failed to start: %w", source, err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(exec); err != nil {
		return fmt.Errorf("failed to write execution: %w", err)
	}

	if exec.Status == models.ExecutionFailed {
		return fmt.Errorf("sync of %s failed", source)
	}
	return nil
}
