package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var listOutputFormat string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List managed instances",
	Long:  "List every managed container known to the Docker daemon, running or stopped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, closer, err := newOrchestrator()
		if err != nil {
			return err
		}
		defer closer()

		statuses, err := orch.Status(cmd.Context())
		if err != nil {
			return err
		}

		if len(statuses) == 0 {
			fmt.Println("No instances found.")
			return nil
		}

		switch listOutputFormat {
		case "json":
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(statuses)
		case "yaml":
			return yaml.NewEncoder(os.Stdout).Encode(statuses)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tENVIRONMENT\tSTATE\tBOLT\tHTTP\tCREATED")
		for _, s := range statuses {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
				s.Name,
				s.Environment,
				s.State,
				s.BoltPort,
				s.HTTPPort,
				s.Created.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

func init() {
	listCmd.Flags().StringVarP(&listOutputFormat, "output", "o", "table", "Output format (table, json, yaml)")
}
