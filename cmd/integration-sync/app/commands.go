// Package app provides the command line of the integration-sync engine.
package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/integration-sync/internal/config"
	"github.com/stacklok/integration-sync/internal/versions"
)

var rootCmd = &cobra.Command{
	Use:               "integration-sync",
	DisableAutoGenTag: true,
	Short:             "External integration and synchronization engine",
	Long: `integration-sync pulls assets, vulnerabilities and compliance records from
external systems, reconciles them into canonical entities and keeps them current
through scheduled jobs and inbound webhooks.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			slog.Error("Error displaying help", "error", err)
		}
	},
}

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	if err != nil {
		slog.Error("Error binding debug flag", "error", err)
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(syncCmd)

	return rootCmd
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			return fmt.Errorf("failed to get format flag: %w", err)
		}
		return writeVersion(cmd.OutOrStdout(), format)
	},
}

func init() {
	versionCmd.Flags().String("format", "", "Output format (json)")
}

// writeVersion prints the build information as JSON or as a single line
func writeVersion(out io.Writer, format string) error {
	info := versions.GetVersionInfo()
	switch format {
	case "json":
		output, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format version info as JSON: %w", err)
		}
		_, err = fmt.Fprintln(out, string(output))
		return err
	case "":
		_, err := fmt.Fprintln(out, info.String())
		return err
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

// loadConfig loads and validates the configuration file
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.LoadConfig(config.WithConfigPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
