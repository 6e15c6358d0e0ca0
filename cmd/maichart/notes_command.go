package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"maichart/internal/api"
)

func newNotesCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "notes",
		Short: "List completed consultation notes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := ctx.newClient()
			if err != nil {
				return err
			}
			resp, err := c.Notes(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list notes: %w", err)
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			if len(resp.Notes) == 0 {
				fmt.Fprintln(out, "No notes yet")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Session", "Created", "File", "Words", "Duration", "Mode", "Extraction"},
				notesRows(resp.Notes),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of notes to list")
	return cmd
}

func notesRows(notes []api.Note) [][]string {
	rows := make([][]string, 0, len(notes))
	for _, n := range notes {
		rows = append(rows, []string{
			shortID(n.SessionID),
			n.CreatedAt,
			n.Filename,
			strconv.Itoa(n.WordCount),
			formatSeconds(n.Duration),
			humanize(n.RecordingMode),
			humanize(n.MedicalExtractionStatus),
		})
	}
	return rows
}

func shortID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatSeconds(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	total := int(seconds + 0.5)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
