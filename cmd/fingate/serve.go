package main

import (
	"github.com/spf13/cobra"

	"github.com/saas2guys/fingate/bootstrap"
	"github.com/saas2guys/fingate/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Long: `Start the fingate gateway.

The server will:
  - Load configuration from fingate.yaml (or --config)
  - Fall back to FINGATE_* environment variables when no file exists
  - Open the configured database and cache backends
  - Serve the /api/v1 data surface and the billing webhook

Environment variables (for container deployments):
  POLYGON_API_KEY          - Polygon credential
  FMP_API_KEY              - FMP credential
  SIGNING_KEY              - HMAC secret for bearer tokens
  FINGATE_SERVER_PORT      - Listen port (default: 8080)
  FINGATE_DATABASE_DSN     - SQLite path

Examples:
  fingate serve
  fingate serve --config /etc/fingate/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return err
	}

	app, err := bootstrap.New(cfg)
	if err != nil {
		return err
	}
	return app.Run()
}
