package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"maichart/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the work queues",
	}
	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))
	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show backlog per queue from the running API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.newClient()
			if err != nil {
				return err
			}
			resp, err := c.QueueStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("queue status: %w", err)
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, resp)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Queue", "Stream", "Length", "Pending", "In flight", "Dead"},
				queueRows(resp.Queues),
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
}

func queueRows(queues map[string]queue.StreamStats) [][]string {
	names := make([]string, 0, len(queues))
	for name := range queues {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		stats := queues[name]
		var inFlight, dead int
		for _, g := range stats.Groups {
			inFlight += g.InFlight
			dead += g.DeadLettered
		}
		rows = append(rows, []string{
			name,
			stats.Stream,
			strconv.Itoa(stats.Length),
			strconv.Itoa(stats.PendingMessages),
			strconv.Itoa(inFlight),
			strconv.Itoa(dead),
		})
	}
	return rows
}

// newQueueHealthCommand opens the queue database directly so it works while
// the API is down.
func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check queue database health (tables, integrity)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := queue.Open(cfg)
			if err != nil {
				return fmt.Errorf("open queue: %w", err)
			}
			defer store.Close()

			resp, err := store.CheckHealth(cmd.Context())
			if err != nil && resp.Error == "" {
				resp.Error = err.Error()
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Database path: %s\n", resp.DBPath)
			fmt.Fprintf(out, "Database exists: %s\n", yesNo(resp.DatabaseExists))
			fmt.Fprintf(out, "Readable: %s\n", yesNo(resp.DatabaseReadable))
			if len(resp.TablesPresent) > 0 {
				tables := append([]string(nil), resp.TablesPresent...)
				sort.Strings(tables)
				fmt.Fprintf(out, "Tables: %s\n", strings.Join(tables, ", "))
			}
			if len(resp.MissingTables) > 0 {
				missing := append([]string(nil), resp.MissingTables...)
				sort.Strings(missing)
				fmt.Fprintf(out, "Missing tables: %s\n", strings.Join(missing, ", "))
			} else {
				fmt.Fprintln(out, "Missing tables: none")
			}
			fmt.Fprintf(out, "Integrity check: %s\n", yesNo(resp.IntegrityCheck))
			fmt.Fprintf(out, "Total messages: %d\n", resp.TotalMessages)
			if resp.Error != "" {
				fmt.Fprintf(out, "Error: %s\n", resp.Error)
			}
			return nil
		},
	}
}
