package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"maichart/internal/api"
	"maichart/internal/client"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var wait bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a recording for transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.newClient()
			if err != nil {
				return err
			}
			res, err := c.UploadFile(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("upload %s: %w", args[0], err)
			}
			if !wait {
				if ctx.JSONMode() {
					return writeJSON(cmd, res)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Uploaded %s (%d bytes)\n", res.Filename, res.Size)
				fmt.Fprintf(out, "Session ID: %s\n", res.ID)
				fmt.Fprintf(out, "Status: %s\n", res.Status)
				return nil
			}
			if !ctx.JSONMode() {
				fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s as session %s; waiting for transcription\n", res.Filename, res.ID)
			}
			return waitForSession(cmd, ctx, c, res.ID, timeout)
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for processing to finish")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "How long --wait polls before giving up")
	return cmd
}

// waitForSession polls until the session is terminal and prints the outcome.
// A timeout leaves the session running on the server.
func waitForSession(cmd *cobra.Command, ctx *commandContext, c *client.Client, id string, timeout time.Duration) error {
	out := cmd.OutOrStdout()
	policy := client.DefaultPolicy()
	if timeout > 0 {
		attempts := int(timeout / policy.Interval)
		if attempts < 1 {
			attempts = 1
		}
		policy.MaxAttempts = attempts
	}
	last := ""
	if !ctx.JSONMode() {
		policy.OnStatus = func(st api.SessionStatus) {
			step := st.Status
			if st.Step != "" {
				step += " (" + st.Step + ")"
			}
			if step != last {
				fmt.Fprintf(out, "  %s\n", step)
				last = step
			}
		}
	}

	result := c.Poll(cmd.Context(), id, policy)
	if ctx.JSONMode() {
		if err := writeJSON(cmd, result); err != nil {
			return err
		}
	} else if result.Status != nil {
		renderSessionStatus(out, result.Status, shouldColorize(out))
	}

	switch result.Outcome {
	case client.OutcomeSuccess:
		return nil
	case client.OutcomeTimedOut:
		return fmt.Errorf("session %s: %s after %d attempts; check again with `maichart status %s`", id, result.Reason, result.Attempts, id)
	case client.OutcomePending:
		return fmt.Errorf("session %s still %s: %s", id, statusOf(result), result.Reason)
	default:
		return fmt.Errorf("session %s failed: %s", id, result.Reason)
	}
}

func statusOf(result client.PollResult) string {
	if result.Status == nil {
		return "pending"
	}
	return result.Status.Status
}
