// Package cli provides the command-line interface for jobpilot.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/jobpilot/internal/client"
	"github.com/raphaelgruber/jobpilot/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	// Global config and daemon client
	cfg       config.Config
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "jobpilot",
	Short: "Browser job application autopilot",
	Long: `jobpilot scans job sites for postings, asks a chat assistant whether each
one fits your resume and fills in the application forms.

Run 'jobpilot serve' to start the daemon that drives Chrome; the other
commands talk to that daemon.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}

		url := serverURL
		if url == "" {
			url = cfg.ServerURL
		}
		apiClient = client.New(url)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "daemon URL (default $JOBPILOT_SERVER_URL)")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(watchCmd)
}

