package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/fixturectl/internal/ports"
	"github.com/loykin/fixturectl/internal/registry"
)

// exitLeak is returned when teardown left processes running.
const exitLeak = 3

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root := buildRoot(newCommand())
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, registry.ErrLeak) {
			os.Exit(exitLeak)
		}
		os.Exit(1)
	}
}

// buildRoot creates the root command and its subcommands.
func buildRoot(c command) *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createUpCommand(c, globalFlags, &UpFlags{}),
		createStatusCommand(c, &StatusFlags{}),
		createTerminateCommand(c, &TerminateFlags{}),
		createPortsCommand(c, &PortsFlags{}),
		createWaitFilesCommand(c, &WaitFilesFlags{}),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "fixturectl",
		Short: "Bring up and tear down integration test fixtures",
		Long: `fixturectl starts the server processes an integration test needs, waits
until each one reports healthy, prints where they listen and tears them down
again, failing loudly if anything is left running.

Examples:
  fixturectl up --config fixture.toml --api 127.0.0.1:8088
  fixturectl status --api-url http://127.0.0.1:8088/api
  fixturectl ports -n 3
  fixturectl wait-files --timeout 30s /tmp/mysql.sock`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML fixture file")
	return root
}

func createUpCommand(c command, global *GlobalFlags, f *UpFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start a fixture and keep it running until released",
		Long: `Start every process in the fixture file, wait until each is healthy and
print the manifest as one JSON line on stdout. The fixture is torn down when a
line is read from stdin or on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = global.ConfigPath
			return c.Up(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.APIListen, "api", "", "serve the control API on this address (overrides run.api_listen)")
	cmd.Flags().StringVar(&f.RunID, "run-id", "", "run identifier (generated when empty)")
	cmd.Flags().StringVar(&f.LeakCheck, "leak-name", "fixturectl up", "name reported by the leak check")
	return cmd
}

func createStatusCommand(c command, f *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show members of a running fixture",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "show a single member")
	cmd.Flags().StringVar(&f.Pattern, "pattern", "", "glob filter on member names")
	cmd.Flags().BoolVar(&f.Manifest, "manifest", false, "print the manifest instead of statuses")
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "http://127.0.0.1:8088/api", "control API URL")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return cmd
}

func createTerminateCommand(c command, f *TerminateFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "terminate",
		Short: "Stop one member of a running fixture",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Terminate(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "member name (required)")
	cmd.Flags().BoolVar(&f.Force, "force", false, "send SIGKILL instead of SIGTERM")
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "http://127.0.0.1:8088/api", "control API URL")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	return cmd
}

func createPortsCommand(c command, f *PortsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ports",
		Short: "Reserve and print free ports, one per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Ports(*f)
		},
	}
	cmd.Flags().IntVarP(&f.Count, "count", "n", 1, "number of ports")
	cmd.Flags().IntVar(&f.Base, "base", ports.DefaultBase, "first candidate port")
	cmd.Flags().StringVar(&f.Host, "host", "127.0.0.1", "host to probe")
	cmd.Flags().BoolVar(&f.Probe, "probe", true, "skip ports that are already bound")
	return cmd
}

func createWaitFilesCommand(c command, f *WaitFilesFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wait-files PATH...",
		Short: "Wait until every path exists",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.WaitFiles(cmd.Context(), *f, args)
		},
	}
	cmd.Flags().DurationVar(&f.Timeout, "timeout", 30*time.Second, "give up after this long")
	cmd.Flags().DurationVar(&f.Interval, "interval", time.Second, "time between checks")
	return cmd
}
