package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"maichart/internal/preflight"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Query the running API's health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.newClient()
			if err != nil {
				return err
			}
			resp, err := c.Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("health: %w", err)
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("maichart "+c.BaseURL(), colorize) {
				fmt.Fprintln(out, line)
			}
			overall := statusOK
			switch resp.Status {
			case "degraded":
				overall = statusWarn
			case "unhealthy":
				overall = statusError
			}
			fmt.Fprintln(out, renderStatusLine("Overall", overall, resp.Status, colorize))
			s := resp.Sessions
			fmt.Fprintln(out, renderStatusLine("Sessions", statusInfo,
				fmt.Sprintf("%d total, %d queued, %d processing, %d completed, %d failed", s.Total, s.Queued, s.Processing, s.Completed, s.Failed), colorize))
			queueKind, queueDetail := statusOK, fmt.Sprintf("%d messages", resp.Queue.TotalMessages)
			if !resp.Queue.Healthy {
				queueKind = statusError
				if resp.Queue.Error != "" {
					queueDetail = resp.Queue.Error
				}
			}
			fmt.Fprintln(out, renderStatusLine("Queue", queueKind, queueDetail, colorize))
			if resp.Workflow != nil {
				for _, st := range resp.Workflow.StageHealth {
					kind := statusOK
					if !st.Ready {
						kind = statusWarn
					}
					fmt.Fprintln(out, renderStatusLine("Stage "+st.Name, kind, st.Detail, colorize))
				}
			}
			return nil
		},
	}
}

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run local preflight checks (directories, API keys)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg, preflight.Options{Probe: probe})
			if ctx.JSONMode() {
				return writeJSON(cmd, results)
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			failed := 0
			for _, r := range results {
				kind := statusOK
				if !r.Passed {
					kind = statusError
					failed++
				}
				fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}
			if failed > 0 {
				return fmt.Errorf("%d preflight check(s) failed", failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&probe, "probe", false, "Contact the transcription and extraction APIs")
	return cmd
}
