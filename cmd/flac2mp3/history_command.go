package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"flac2mp3/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "List recent runs, or the files of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return &exitError{code: exitSetup, err: err}
			}
			store, err := history.Open(cfg)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				if _, err := store.GetRun(cmd.Context(), args[0]); err != nil {
					return err
				}
				records, err := store.Jobs(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(records))
				for _, rec := range records {
					detail := rec.Output
					if rec.Reason != "" {
						detail = rec.Reason
					}
					rows = append(rows, []string{
						rec.Outcome,
						rec.Input,
						formatSeconds(rec.Elapsed),
						humanize.IBytes(uint64(max(rec.OutputBytes, 0))),
						detail,
					})
				}
				fmt.Fprintln(out, renderTable(out, []string{"Outcome", "Input", "Time", "Size", "Output / Reason"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft}))
				return nil
			}

			runs, err := store.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					run.ID,
					humanize.Time(run.StartedAt),
					run.Status,
					formatSeconds(run.Duration()),
					strconv.Itoa(run.Succeeded),
					strconv.Itoa(run.Skipped),
					strconv.Itoa(run.Failed),
					strconv.Itoa(run.Aborted),
					humanize.IBytes(uint64(max(run.OutputBytes, 0))),
				})
			}
			fmt.Fprintln(out, renderTable(out,
				[]string{"Run", "Started", "Status", "Time", "OK", "Skipped", "Failed", "Aborted", "Written"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight}))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}

func formatSeconds(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}
