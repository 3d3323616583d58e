package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupKeepDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale test instances",
	Long: `Remove test-environment containers and volumes older than the retention
period. Development and production resources are never touched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, closer, err := newOrchestrator()
		if err != nil {
			return err
		}
		defer closer()

		if err := orch.Cleanup(cmd.Context(), cleanupKeepDays); err != nil {
			return err
		}
		fmt.Printf("Cleaned up test resources older than %d days.\n", cleanupKeepDays)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupKeepDays, "keep-days", 7, "Retention period in days")
}
