package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var wait bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show a session's processing status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.newClient()
			if err != nil {
				return err
			}
			if wait {
				return waitForSession(cmd, ctx, c, args[0], timeout)
			}
			st, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("status %s: %w", args[0], err)
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, st)
			}
			out := cmd.OutOrStdout()
			renderSessionStatus(out, st, shouldColorize(out))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Poll until the session completes or fails")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "How long --wait polls before giving up")
	return cmd
}

func newTranscriptCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "transcript <session-id>",
		Short: "Print a completed session's transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.newClient()
			if err != nil {
				return err
			}
			tr, err := c.Transcript(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("transcript %s: %w", args[0], err)
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, tr)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tr.Transcript.Text)
			return nil
		},
	}
}
