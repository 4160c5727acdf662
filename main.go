package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"buddy/app"
)

const version = "0.3.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts app.RunOptions

	root := &cobra.Command{
		Use:     "buddy",
		Short:   "An interactive agentic coding assistant",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a TOML config file")
	root.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")
	root.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "bind address for a /metrics endpoint (e.g. :9090); disabled when empty")

	root.AddCommand(newSessionCommand(&opts))
	return root
}

func runInteractive(ctx context.Context, opts app.RunOptions) error {
	application, err := app.Bootstrap(ctx, opts)
	if err != nil {
		return fmt.Errorf("buddy: %w", err)
	}
	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("buddy: %w", err)
	}
	return nil
}

func newSessionCommand(opts *app.RunOptions) *cobra.Command {
	session := &cobra.Command{
		Use:   "session",
		Short: "Inspect or resume persisted sessions",
	}

	session.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List persisted sessions, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.ListSessions()
		},
	})

	resume := &cobra.Command{
		Use:   "resume [session-id]",
		Short: "Resume a session (most recent if no id given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			local := *opts
			if len(args) == 1 {
				local.ResumeID = args[0]
			} else {
				local.ResumeLast = true
			}
			return runInteractive(cmd.Context(), local)
		},
	}
	session.AddCommand(resume)

	return session
}
