package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"flaccapture/internal/encoding"
)

type convertSummary struct {
	Input      string  `json:"input"`
	Output     string  `json:"output"`
	InputSize  int64   `json:"input_bytes"`
	OutputSize int64   `json:"output_bytes"`
	Reduction  float64 `json:"reduction_percent"`
	Method     string  `json:"method"`
	Attempts   int     `json:"attempts"`
	Deleted    bool    `json:"source_deleted"`
}

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var (
		quality      int
		deleteSource bool
		external     bool
	)

	cmd := &cobra.Command{
		Use:   "convert <file.wav> [out.flac]",
		Short: "Compress a WAV file to FLAC",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.commandLogger(cfg)
			if err != nil {
				return err
			}

			opts := encoding.OptionsFromConfig(cfg)
			if cmd.Flags().Changed("quality") {
				opts.Quality = quality
			}
			if external {
				opts.DisableNative = true
			}

			input := args[0]
			output := encoding.OutputPathFor(input)
			if len(args) == 2 && strings.TrimSpace(args[1]) != "" {
				output = args[1]
			}

			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			result, err := encoding.New(opts, logger).Encode(runCtx, input, output)
			if err != nil {
				return err
			}

			summary := convertSummary{
				Input:      result.InputPath,
				Output:     result.OutputPath,
				InputSize:  result.InputSize,
				OutputSize: result.OutputSize,
				Reduction:  result.Ratio(),
				Method:     string(result.Method),
				Attempts:   result.Attempts,
			}
			if deleteSource {
				if err := encoding.DeleteSource(result); err != nil {
					return fmt.Errorf("delete source: %w", err)
				}
				summary.Deleted = true
			}

			if ctx.jsonMode() {
				return writeJSON(cmd, summary)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Encoded %s → %s\n", summary.Input, summary.Output)
			fmt.Fprintf(w, "Size: %s → %s (%.1f%% smaller, %s encoder)\n",
				humanize.IBytes(uint64(summary.InputSize)),
				humanize.IBytes(uint64(summary.OutputSize)),
				summary.Reduction,
				summary.Method,
			)
			if summary.Deleted {
				fmt.Fprintln(w, "Source WAV deleted")
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&quality, "quality", "q", 100, "Compression quality 0-100 (maps to FLAC levels 0-8)")
	cmd.Flags().BoolVar(&deleteSource, "delete-source", false, "Delete the WAV after a successful encode")
	cmd.Flags().BoolVar(&external, "external", false, "Skip the built-in encoder and use the flac binary")
	return cmd
}
