package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"flaccapture/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded capture jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := history.Open(cfg.HistoryPath())
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if ctx.jsonMode() {
				if records == nil {
					records = []history.Record{}
				}
				return writeJSON(cmd, records)
			}

			w := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(w, "No captures recorded")
				return nil
			}
			fmt.Fprintln(w, renderTable([]column{
				right("ID"),
				left("Finished"),
				left("Playlist").wrap(40),
				left("Status"),
				right("Streams"),
				left("Output").wrap(50),
				right("Size"),
				right("Took"),
			}, historyRows(records)))

			summary, err := store.Summarize(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%d jobs: %d succeeded, %d failed, %s captured\n",
				summary.Total, summary.Succeeded, summary.Failed, humanize.IBytes(uint64(summary.Bytes)))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", history.DefaultListLimit, "Maximum number of jobs to show")
	return cmd
}

func historyRows(records []history.Record) [][]string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		status := rec.Status
		if rec.ErrorKind != "" {
			status += " (" + rec.ErrorKind + ")"
		} else if rec.EncodeError != "" {
			status += " (wav only)"
		}
		output := "-"
		if rec.OutputPath != "" {
			output = filepath.Base(rec.OutputPath)
		}
		rows = append(rows, []string{
			strconv.FormatInt(rec.ID, 10),
			rec.FinishedAt.Local().Format(time.DateTime),
			filepath.Base(rec.Playlist),
			status,
			fmt.Sprintf("%d/%d", rec.Fetched, rec.Streams),
			output,
			humanize.IBytes(uint64(rec.OutputBytes)),
			rec.Duration().Round(time.Second).String(),
		})
	}
	return rows
}
