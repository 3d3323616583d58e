package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neopod/neopod/models"
)

var stopEnvironment string

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a database instance",
	Long:  "Stop the container for an environment and release its allocated ports. Data volumes are kept.",
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, closer, err := newOrchestrator()
		if err != nil {
			return err
		}
		defer closer()

		if err := orch.StopEnvironment(cmd.Context(), stopEnvironment); err != nil {
			return err
		}
		fmt.Printf("Stopped %s instance.\n", stopEnvironment)
		return nil
	},
}

func init() {
	stopCmd.Flags().StringVarP(&stopEnvironment, "env", "e", models.EnvDevelopment, "Environment (development, test, production)")
}
