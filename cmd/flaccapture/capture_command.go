package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"flaccapture/internal/capture"
	"flaccapture/internal/config"
	"flaccapture/internal/history"
	"flaccapture/internal/logging"
	"flaccapture/internal/playlist"
	"flaccapture/internal/services"
)

// defaultOneShotPrefix marks files produced outside the watch daemon.
const defaultOneShotPrefix = "capture_"

type captureSummary struct {
	JobID       string   `json:"job_id"`
	Playlist    string   `json:"playlist"`
	Status      string   `json:"status"`
	Aborted     bool     `json:"aborted,omitempty"`
	States      []string `json:"states"`
	Output      string   `json:"output,omitempty"`
	OutputBytes int64    `json:"output_bytes"`
	Streams     int      `json:"streams"`
	Fetched     int      `json:"fetched"`
	EncodeError string   `json:"encode_error,omitempty"`
	Error       string   `json:"error,omitempty"`
	Elapsed     string   `json:"elapsed"`
}

func newCaptureCommand(ctx *commandContext) *cobra.Command {
	var (
		outputDir string
		prefix    string
		noConvert bool
		keepWAV   bool
		parallel  int
		noHistory bool
	)

	cmd := &cobra.Command{
		Use:   "capture <playlist.m3u>",
		Short: "Capture a single playlist without the daemon",
		Long: "Fetch every stream in the playlist, join them into one WAV and (unless\n" +
			"--no-convert) compress it to FLAC. The playlist itself is left in place.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			local := *cfg
			if strings.TrimSpace(outputDir) != "" {
				expanded, err := config.ExpandPath(outputDir)
				if err != nil {
					return fmt.Errorf("resolve output dir: %w", err)
				}
				local.Paths.OutputDir = expanded
			}
			switch {
			case cmd.Flags().Changed("prefix"):
				local.Capture.OutputPrefix = prefix
			case local.Capture.OutputPrefix == "":
				local.Capture.OutputPrefix = defaultOneShotPrefix
			}
			if noConvert {
				local.Encoding.AutoConvert = false
			}
			if keepWAV {
				local.Encoding.AutoDeleteWAV = false
			}
			if parallel > 0 {
				local.Capture.FetchParallelism = parallel
			}
			if err := local.EnsureDirectories(); err != nil {
				return err
			}

			logger, err := ctx.commandLogger(&local)
			if err != nil {
				return err
			}

			job, err := playlist.Load(args[0], time.Now())
			if err != nil {
				return err
			}

			// The first interrupt stops the fetch queue and the streams
			// fetched so far are still assembled. Signal handling is then
			// restored, so a second interrupt ends the process.
			runCtx := cmd.Context()
			stopCtx, stopSignals := signal.NotifyContext(runCtx, syscall.SIGINT, syscall.SIGTERM)
			defer stopSignals()
			context.AfterFunc(stopCtx, stopSignals)

			out := capture.NewFromConfig(&local, logger).RunUntil(runCtx, job, stopCtx.Done())

			if !noHistory {
				recordCapture(context.WithoutCancel(runCtx), logger, local.HistoryPath(), out)
			}

			summary := summarizeCapture(out)
			if ctx.jsonMode() {
				if err := writeJSON(cmd, summary); err != nil {
					return err
				}
			} else {
				printCaptureSummary(cmd, summary)
			}
			if !out.Succeeded() {
				return fmt.Errorf("capture failed: %w", out.Err)
			}
			if out.Aborted {
				return fmt.Errorf("capture interrupted after %d of %d streams; kept %s: %w",
					out.Fetched(), out.Requested, out.OutputPath(), services.ErrCancelled)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Directory for the captured audio (defaults to paths.output_dir)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Output file name prefix (default \"capture_\" unless capture.output_prefix is set)")
	cmd.Flags().BoolVar(&noConvert, "no-convert", false, "Keep the WAV and skip FLAC conversion")
	cmd.Flags().BoolVar(&keepWAV, "keep-wav", false, "Keep the WAV after a successful conversion")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "Download this many streams concurrently")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record the job in the history database")
	return cmd
}

func recordCapture(ctx context.Context, logger *slog.Logger, path string, out *capture.Outcome) {
	store, err := history.Open(path)
	if err != nil {
		logger.Warn("history unavailable", logging.Error(err))
		return
	}
	defer store.Close()
	if _, err := store.Insert(ctx, history.FromOutcome(out, "")); err != nil {
		logger.Warn("failed to record capture history",
			logging.String(logging.FieldPlaylist, out.Playlist),
			logging.Error(err),
			logging.String(logging.FieldImpact, "history command will not list this job"),
		)
	}
}

func summarizeCapture(out *capture.Outcome) captureSummary {
	summary := captureSummary{
		JobID:       out.JobID,
		Playlist:    out.Playlist,
		Status:      string(out.Status),
		Aborted:     out.Aborted,
		Output:      out.OutputPath(),
		OutputBytes: out.OutputBytes(),
		Streams:     max(out.Requested, len(out.Fetches)),
		Fetched:     out.Fetched(),
		Elapsed:     out.Duration().Round(time.Millisecond).String(),
	}
	for _, s := range out.States {
		summary.States = append(summary.States, string(s))
	}
	if out.EncodeErr != nil {
		summary.EncodeError = out.EncodeErr.Error()
	}
	if out.Err != nil {
		summary.Error = out.Err.Error()
	}
	return summary
}

func printCaptureSummary(cmd *cobra.Command, s captureSummary) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Playlist: %s\n", s.Playlist)
	fmt.Fprintf(w, "Status:   %s (%s)\n", s.Status, strings.Join(s.States, " → "))
	fmt.Fprintf(w, "Streams:  %d fetched of %d\n", s.Fetched, s.Streams)
	if s.Aborted {
		fmt.Fprintln(w, "Aborted:  fetching was interrupted; the remaining streams were skipped")
	}
	if s.Output != "" {
		fmt.Fprintf(w, "Output:   %s (%s)\n", s.Output, humanize.IBytes(uint64(s.OutputBytes)))
	}
	if s.EncodeError != "" {
		fmt.Fprintf(w, "Encoding: %s\n", s.EncodeError)
	}
	if s.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", s.Error)
	}
	fmt.Fprintf(w, "Elapsed:  %s\n", s.Elapsed)
}
