package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "fingate",
	Short: "Unified market-data gateway over Polygon and FMP",
	Long: `Fingate fronts multiple market-data providers behind a single API.

It resolves credentials, enforces plan quotas, caches responses by
endpoint class and normalizes every provider reply into one envelope.

Quick start:
  fingate serve         # Start the gateway
  fingate routes        # Print the endpoint table
  fingate validate      # Check the configuration`,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "fingate.yaml", "config file path")
}
