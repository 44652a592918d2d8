package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var composeFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "catalogdrop: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalogdrop",
		Short: "CatalogDrop operations and development CLI",
		Long: `catalogdrop ingests product CSV files, inspects and re-runs imports, and wraps the
docker compose workflow used to develop the api and worker services.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&composeFile, "compose-file", "f", "docker-compose.yml", "Compose file to use for stack commands")
	cmd.AddCommand(
		newIngestCmd(),
		newStatusCmd(),
		newListCmd(),
		newReprocessCmd(),
		newProcessCmd(),
		newMigrateCmd(),
		newComposeCmd("build", "Build Docker images via docker compose", "no-cache", "--no-cache", "Disable Docker build cache"),
		newUpCmd(),
		newComposeCmd("down", "Stop the docker compose stack", "volumes", "-v", "Remove stack volumes"),
		newComposeCmd("logs", "Show logs from docker compose services", "follow", "--follow", "Stream logs continuously"),
		newTestCmd(),
		newRunCmd(),
	)
	return cmd
}

// newComposeCmd wraps a docker compose subcommand with one boolean flag that
// forwards arg when set.
func newComposeCmd(verb, short, flag, arg, usage string) *cobra.Command {
	var enabled bool
	cmd := &cobra.Command{
		Use:   verb + " [service...]",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			composeArgs := []string{"compose", "-f", composeFile, verb}
			if enabled {
				composeArgs = append(composeArgs, arg)
			}
			composeArgs = append(composeArgs, args...)
			return runCommand(cmd.Context(), "docker", composeArgs...)
		},
	}
	cmd.Flags().BoolVar(&enabled, flag, false, usage)
	return cmd
}

func newUpCmd() *cobra.Command {
	var detach, skipBuild bool
	cmd := &cobra.Command{
		Use:   "up [service...]",
		Short: "Start postgres, redis, minio, api and worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			composeArgs := []string{"compose", "-f", composeFile, "up"}
			if !skipBuild {
				composeArgs = append(composeArgs, "--build")
			}
			if detach {
				composeArgs = append(composeArgs, "-d")
			}
			composeArgs = append(composeArgs, args...)
			return runCommand(cmd.Context(), "docker", composeArgs...)
		},
	}
	cmd.Flags().BoolVarP(&detach, "detached", "d", true, "Run docker compose in detached mode")
	cmd.Flags().BoolVar(&skipBuild, "skip-build", false, "Skip rebuilding images before starting")
	return cmd
}

func newTestCmd() *cobra.Command {
	var race, cover bool
	cmd := &cobra.Command{
		Use:   "test [packages]",
		Short: "Run Go tests (defaults to ./...)",
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs := args
			if len(pkgs) == 0 {
				pkgs = []string{"./..."}
			}
			goArgs := []string{"test"}
			if race {
				goArgs = append(goArgs, "-race")
			}
			if cover {
				goArgs = append(goArgs, "-cover")
			}
			return runCommand(cmd.Context(), "go", append(goArgs, pkgs...)...)
		},
	}
	cmd.Flags().BoolVar(&race, "race", false, "Enable Go race detector")
	cmd.Flags().BoolVar(&cover, "cover", false, "Collect coverage data")
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the api or worker binary directly",
	}
	for _, name := range []string{"api", "worker"} {
		path := "./cmd/" + name
		cmd.AddCommand(&cobra.Command{
			Use:   name,
			Short: "go run " + path,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCommand(cmd.Context(), "go", append([]string{"run", path}, args...)...)
			},
		})
	}
	return cmd
}

func runCommand(ctx context.Context, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}
