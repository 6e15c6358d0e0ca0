package main

import (
	"strings"

	"github.com/spf13/cobra"

	"maichart/internal/daemonrun"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var noWorkers bool
	var logLevel string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and, unless --no-workers, the queue workers)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.RunServe(cmd.Context(), cfg, daemonrun.Options{
				LogLevel: logLevel,
				Workers:  !noWorkers,
			})
		},
	}

	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "Serve the API only; run `maichart worker` separately")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	return cmd
}

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:       "worker [role...]",
		Short:     "Run queue workers without the API (roles: " + strings.Join(daemonrun.Roles, ", ") + ")",
		ValidArgs: daemonrun.Roles,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.RunWorker(cmd.Context(), cfg, args, daemonrun.Options{LogLevel: logLevel})
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	return cmd
}
