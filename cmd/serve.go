package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"toolplane/internal/app"
)

var (
	serveDebug      bool
	serveConfigPath string
	serveHost       string
	servePort       int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the toolplane control plane",
	Long: `Starts the control plane: loads the service table, adopts providers left
running by a previous incarnation, auto-starts the services marked for it,
discovers their tools, and serves the control API.

Configuration is read from config.yaml in the config directory (see
--config-path) and hot-reloaded on change. The process runs until SIGINT
or SIGTERM, then drains in-flight requests and exits.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(serveDebug, serveConfigPath, serveHost, servePort)

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().StringVar(&serveConfigPath, "config-path", "", "Directory containing config.yaml (default: user config directory)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Override the control API listen host")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Override the control API listen port")
}
