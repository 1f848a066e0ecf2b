package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saas2guys/fingate/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return err
	}

	fmt.Printf("configuration OK\n")
	fmt.Printf("  environment: %s\n", cfg.Environment)
	fmt.Printf("  providers:   %d\n", len(cfg.Providers))
	fmt.Printf("  plans:       %d\n", len(cfg.Plans))
	fmt.Printf("  cache:       %s\n", cfg.Cache.Mode)
	fmt.Printf("  database:    %s\n", cfg.Database.Driver)
	fmt.Printf("  billing:     %s\n", cfg.Billing.Mode)
	return nil
}
