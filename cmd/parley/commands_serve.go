package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that starts the server.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the parley server",
		Long: `Start the parley server.

The server will:
1. Load configuration from the specified file (or parley.yaml)
2. Open the chat database and apply pending migrations
3. Connect the presence store (memory, redis or nats)
4. Start the attachment upload workers
5. Serve websockets, the chat API, health checks and metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  parley serve

  # Start with custom config
  parley serve --config /etc/parley/production.yaml

  # Start with debug logging
  parley serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			explicit := cmd.Flags().Changed("config")
			return runServe(cmd.Context(), resolveConfigPath(configPath, explicit), explicit, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")
	return cmd
}
