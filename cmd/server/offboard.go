package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"hrportal/internal/domain/auth"
	"hrportal/internal/domain/offboarding"
	"hrportal/internal/platform/db"
	"hrportal/internal/platform/logger"
)

var (
	offboardDryRun bool
	offboardVerify bool
	offboardActor  string
)

var offboardCmd = &cobra.Command{
	Use:   "offboard <user_id>",
	Short: "Delete an employee and every record that references them",
	Long: `Runs the same tiered deletion as POST /api/v1/admin/delete-user and prints
the report as JSON. Re-running after a failure finishes the remaining tiers.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logger.New(logger.Options{Service: "hrportal-offboard", Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr})
		ctx := log.WithContext(cmd.Context())

		pool, err := db.Connect(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		svc := offboarding.NewService(
			offboarding.NewStore(pool),
			auth.NewStore(pool),
			offboarding.WithConcurrency(cfg.OffboardingConcurrency),
		)
		userID := args[0]
		out := json.NewEncoder(cmd.OutOrStdout())
		out.SetIndent("", "  ")

		if offboardDryRun {
			return printRemaining(cmd, svc, userID, out)
		}

		report, runErr := svc.DeleteEmployee(ctx, userID, offboardActor)
		if err := out.Encode(report); err != nil {
			return err
		}
		if runErr != nil {
			return fmt.Errorf("offboarding %s stopped at %s: %w", userID, offboarding.FailedStep(runErr), runErr)
		}

		if offboardVerify {
			return printRemaining(cmd, svc, userID, out)
		}
		return nil
	},
}

func init() {
	offboardCmd.Flags().BoolVar(&offboardDryRun, "dry-run", false, "only count the rows that still reference the user")
	offboardCmd.Flags().BoolVar(&offboardVerify, "verify", false, "count leftovers after the run and fail if any remain")
	offboardCmd.Flags().StringVar(&offboardActor, "actor", "", "profile id recorded as the requester")
}

func printRemaining(cmd *cobra.Command, svc *offboarding.Service, userID string, out *json.Encoder) error {
	remaining, identityExists, err := svc.Remaining(cmd.Context(), userID)
	if err != nil {
		return err
	}
	if err := out.Encode(map[string]any{
		"userId":         userID,
		"remaining":      remaining,
		"identityExists": identityExists,
	}); err != nil {
		return err
	}
	if offboardVerify && (len(remaining) > 0 || identityExists) {
		return fmt.Errorf("user %s still has %d referencing tables (identity present: %t)", userID, len(remaining), identityExists)
	}
	return nil
}
