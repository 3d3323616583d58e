package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neopod/neopod/internal/data"
	"github.com/neopod/neopod/models"
)

var (
	importEnvironment string
	importPassword    string
	importForce       bool
	importBackup      bool
)

var importCmd = &cobra.Command{
	Use:   "import <path>",
	Short: "Import database contents from an archive",
	Long: `Replace the database of an environment with the contents of a previously
exported archive.

Format and engine version compatibility are checked before any data is
touched; --force skips the checks. With --backup the current data is
exported next to the archive first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, closer, err := startForDataOp(cmd, importEnvironment, importPassword)
		if err != nil {
			return err
		}
		defer closer()

		err = inst.ImportData(cmd.Context(), args[0], data.ImportOptions{
			Validate: true,
			Force:    importForce,
			Backup:   importBackup,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Imported %s into the %s database.\n", args[0], importEnvironment)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVarP(&importEnvironment, "env", "e", models.EnvDevelopment, "Environment (development, test, production)")
	importCmd.Flags().StringVarP(&importPassword, "password", "p", "", "Database password (or NEOPOD_PASSWORD)")
	importCmd.Flags().BoolVar(&importForce, "force", false, "Skip compatibility validation")
	importCmd.Flags().BoolVar(&importBackup, "backup", false, "Export current data before importing")
}
