package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
}

// RunFlags holds flags for the launch command
type RunFlags struct {
	TUI         bool
	Open        bool
	ResourceDir string
}

// ResolveFlags holds flags for the resolve command
type ResolveFlags struct {
	ResourceDir string
}

// ProbeFlags holds flags for the probe command
type ProbeFlags struct {
	Wait time.Duration
}

// HistoryFlags holds flags for the history command
type HistoryFlags struct {
	Limit int
	JSON  bool
}

// StatusFlags holds flags for the status command
type StatusFlags struct {
	Addr string
}

// DevServerFlags holds flags for the devserver command
type DevServerFlags struct {
	Addr  string
	Delay time.Duration
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}

	livualsCommand := command{global: globalFlags}

	root := createRootCommand(livualsCommand, globalFlags, runFlags)
	root.AddCommand(
		createRunCommand(livualsCommand, runFlags),
		createResolveCommand(livualsCommand, &ResolveFlags{}),
		createProbeCommand(livualsCommand, &ProbeFlags{}),
		createHistoryCommand(livualsCommand, &HistoryFlags{}),
		createStatusCommand(livualsCommand, &StatusFlags{}),
		createDevServerCommand(livualsCommand, &DevServerFlags{}),
	)
	return root
}

// createRootCommand creates the root command; without a subcommand it launches.
func createRootCommand(livualsCommand command, flags *GlobalFlags, runFlags *RunFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "livuals",
		Short: "Desktop launcher for the Livuals backend",
		Long: `Livuals locates its runtime files, installs the backend environment on
first run, starts the backend and waits until it answers before handing the
address to the UI.

Examples:
  livuals                          # launch with console output
  livuals run --tui --open         # progress screen, open browser when ready
  livuals resolve                  # show where the runtime root is found
  livuals probe --wait=30s         # wait for an already running backend
  livuals history --limit=5        # recent launches
  livuals status                   # ask a running launcher`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return livualsCommand.Run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), *runFlags)
		},
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	addRunFlags(root, runFlags)
	return root
}

// createRunCommand creates the run subcommand
func createRunCommand(livualsCommand command, runFlags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Launch the backend and hand it to the UI",
		Long: `Run the startup sequence: resolve the runtime root, install the backend
environment when missing, start the backend and wait for GET /api/status.
The backend is terminated when livuals exits.

Examples:
  livuals run
  livuals run --tui
  livuals run --resource-dir=/opt/livuals/resources --open`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return livualsCommand.Run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), *runFlags)
		},
	}
	addRunFlags(cmd, runFlags)
	return cmd
}

func addRunFlags(cmd *cobra.Command, f *RunFlags) {
	cmd.Flags().BoolVar(&f.TUI, "tui", false, "show a terminal progress screen")
	cmd.Flags().BoolVar(&f.Open, "open", false, "open the default browser when the backend is ready")
	cmd.Flags().StringVar(&f.ResourceDir, "resource-dir", "", "packaged resource directory (overrides layout.resource_dir)")
}

// createResolveCommand creates the resolve subcommand
func createResolveCommand(livualsCommand command, flags *ResolveFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show runtime root candidates and the chosen root",
		Long: `List every directory the launcher considers as runtime root, in search
order, with what each contains, then the root a launch would use.
Useful when several installations are present on one machine.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return livualsCommand.Resolve(cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.ResourceDir, "resource-dir", "", "packaged resource directory (overrides layout.resource_dir)")
	return cmd
}

// createProbeCommand creates the probe subcommand
func createProbeCommand(livualsCommand command, flags *ProbeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check whether the backend answers its status endpoint",
		Long: `Send one readiness check to the configured backend address, or keep
polling until --wait elapses. Exits non-zero when the backend is not ready.

Examples:
  livuals probe
  livuals probe --wait=2m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return livualsCommand.Probe(cmd.Context(), cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().DurationVar(&flags.Wait, "wait", 0, "keep polling for this long (0 checks once)")
	return cmd
}

// createHistoryCommand creates the history subcommand
func createHistoryCommand(livualsCommand command, flags *HistoryFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent launches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return livualsCommand.History(cmd.Context(), cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().IntVar(&flags.Limit, "limit", 10, "number of launches to show")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print JSON instead of a table")
	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(livualsCommand command, flags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Ask a running launcher for its launch state",
		Long: `Query the status API of a running launcher (enabled with server.addr).
Exits non-zero when the backend is not ready.

Example:
  livuals status --addr=127.0.0.1:7861`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return livualsCommand.Status(cmd.Context(), cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Addr, "addr", "", "status API address (defaults to server.addr)")
	return cmd
}

// createDevServerCommand creates the devserver subcommand
func createDevServerCommand(livualsCommand command, flags *DevServerFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Serve a stand-in backend for launcher development",
		Long: `Answer GET /api/status like the real backend so launcher scripts can be
tested without the full installation. With --delay the endpoint reports 503
until the delay has passed.

Example launcher script:
  #!/bin/bash
  exec livuals devserver --addr="$HOST:$PORT" --delay=3s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return livualsCommand.DevServer(cmd.Context(), cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Addr, "addr", "127.0.0.1:7860", "listen address")
	cmd.Flags().DurationVar(&flags.Delay, "delay", 0, "report 503 for this long after start")
	return cmd
}
