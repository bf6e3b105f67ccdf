package app

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stacklok/integration-sync/database"
	"github.com/stacklok/integration-sync/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration tool",
	Long:  `Database migration tool for managing schema versions. Use with 'up' or 'down' subcommands.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Usage()
	},
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending database migrations",
	Long: `Apply all pending database migrations to bring the schema up to date.
The database connection parameters are read from the config file.`,
	RunE: runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Migrate the database down",
	Long: `Migrate the database schema down by reverting migrations.
WARNING: This operation can result in data loss. Use with caution.

Examples:
  # Migrate down by 1 step
  integration-sync migrate down --config config.yaml --num-steps 1 --yes

  # Migrate down all the way (WARNING: destroys all data)
  integration-sync migrate down --config config.yaml --yes`,
	RunE: runMigrateDown,
}

func init() {
	migrateCmd.PersistentFlags().BoolP("yes", "y", false, "Answer yes to all questions")
	migrateCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format, required)")
	migrateDownCmd.Flags().UintP("num-steps", "n", 0, "Number of steps to migrate down (0 = all)")

	if err := migrateCmd.MarkPersistentFlagRequired("config"); err != nil {
		panic(err)
	}

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

// migrationTarget loads the config and returns its database section and connection string
func migrationTarget(cmd *cobra.Command) (*config.DatabaseConfig, string, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, "", fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, "", err
	}
	if cfg.Database == nil {
		return nil, "", fmt.Errorf("database configuration is required")
	}
	connString, err := cfg.Database.GetConnectionString()
	if err != nil {
		return nil, "", fmt.Errorf("failed to build connection string: %w", err)
	}
	return cfg.Database, connString, nil
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	db, connString, err := migrationTarget(cmd)
	if err != nil {
		return err
	}

	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return fmt.Errorf("failed to get yes flag: %w", err)
	}
	prompt := fmt.Sprintf("About to apply migrations to database %s@%s:%d/%s. Continue?",
		db.User, db.Host, db.Port, db.Database)
	if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), prompt) {
		slog.Info("Migration cancelled by user")
		return nil
	}

	slog.Info("Applying database migrations...")
	if err := database.MigrateUp(cmd.Context(), connString); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	_, connString, err := migrationTarget(cmd)
	if err != nil {
		return err
	}

	numSteps, err := cmd.Flags().GetUint("num-steps")
	if err != nil {
		return fmt.Errorf("failed to get num-steps flag: %w", err)
	}
	if numSteps > math.MaxInt32 {
		return fmt.Errorf("number of steps exceeds maximum allowed value")
	}

	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return fmt.Errorf("failed to get yes flag: %w", err)
	}
	if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), downPrompt(numSteps)) {
		slog.Info("Migration cancelled")
		return fmt.Errorf("migration cancelled by user")
	}

	if numSteps == 0 {
		slog.Warn("Migrating down all steps - this will remove all schema!")
		return database.MigrateDownAll(cmd.Context(), connString)
	}
	slog.Info("Migrating down", "steps", numSteps)
	return database.MigrateDown(cmd.Context(), connString, int(numSteps))
}

func downPrompt(numSteps uint) string {
	if numSteps == 0 {
		return "WARNING: This will migrate down ALL steps and may result in complete data loss. Continue?"
	}
	return fmt.Sprintf("WARNING: This will migrate down %d step(s) and may result in data loss. Continue?", numSteps)
}

// confirm asks a yes/no question and reports whether the answer was yes
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	_, _ = fmt.Fprintf(out, "%s (yes/no): ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "yes", "y":
		return true
	default:
		return false
	}
}
