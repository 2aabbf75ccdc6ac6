package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"hrportal/internal/platform/config"
)

var rootCmd = &cobra.Command{
	Use:           "hrportal",
	Short:         "HR portal backend",
	Long:          `Serves the HR portal API and runs operator tasks against its database.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(offboardCmd)
}

func loadConfig() (config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
