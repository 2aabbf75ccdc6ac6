package main

import (
	"github.com/spf13/cobra"

	"hrportal/internal/platform/db"
	"hrportal/internal/platform/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [command] [args...]",
	Short: "Run goose migrations (up, down, status, redo, version, up-to, down-to)",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logger.New(logger.Options{Service: "hrportal-migrate", Level: cfg.LogLevel, Format: cfg.LogFormat})
		ctx := log.WithContext(cmd.Context())

		command := "up"
		if len(args) > 0 {
			command, args = args[0], args[1:]
		}

		pool, err := db.Connect(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := db.Migrate(ctx, pool, command, args...); err != nil {
			return err
		}
		log.Info().Str("command", command).Msg("migrations applied")
		return nil
	},
}
