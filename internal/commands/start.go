package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/neopod/neopod/internal/orchestrator"
	"github.com/neopod/neopod/models"
)

var (
	startEnvironment string
	startPassword    string
	startUsername    string
	startMemory      string
	startPlugins     []string
	startWait        bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a database instance",
	Long: `Start a Neo4j instance for an environment.

If a container for the environment already exists it is reused; a stopped
container is restarted. Otherwise a new container is created with freshly
allocated host ports.

With --wait the command blocks until interrupted and stops the instance on
the way out.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVarP(&startEnvironment, "env", "e", models.EnvDevelopment, "Environment (development, test, production)")
	startCmd.Flags().StringVarP(&startPassword, "password", "p", "", "Database password (or NEOPOD_PASSWORD)")
	startCmd.Flags().StringVarP(&startUsername, "username", "u", "", "Database user (default from config)")
	startCmd.Flags().StringVarP(&startMemory, "memory", "m", "", "Heap and page cache size, e.g. 2G (default from config)")
	startCmd.Flags().StringSliceVar(&startPlugins, "plugins", nil, "Neo4j plugins to enable, e.g. apoc")
	startCmd.Flags().BoolVarP(&startWait, "wait", "w", false, "Block until interrupted, then stop the instance")
}

func runStart(cmd *cobra.Command, args []string) error {
	password := startPassword
	if password == "" {
		password = os.Getenv("NEOPOD_PASSWORD")
	}
	if password == "" {
		return fmt.Errorf("no password given: use --password or NEOPOD_PASSWORD")
	}

	orch, closer, err := newOrchestrator()
	if err != nil {
		return err
	}
	defer closer()

	inst, err := orch.Start(cmd.Context(), models.ContainerConfig{
		Environment: startEnvironment,
		Password:    password,
		Username:    startUsername,
		Memory:      startMemory,
		Plugins:     startPlugins,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Instance ready\n\n")
	fmt.Printf("  Environment:  %s\n", inst.Environment)
	fmt.Printf("  Container:    %s\n", orchestrator.ShortID(inst.ContainerID))
	fmt.Printf("  Bolt:         %s\n", inst.BoltURI)
	fmt.Printf("  Browser:      %s\n", inst.HTTPURI)
	fmt.Printf("  Volume:       %s\n", inst.Volume)

	if !startWait {
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	fmt.Println("\nPress Ctrl+C to stop the instance.")
	<-ctx.Done()
	stop()

	fmt.Println("\nStopping instance...")
	return orch.StopAll(cmd.Context())
}
