package main

import (
	"github.com/spf13/cobra"

	"flaccapture/internal/daemonrun"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var development bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the inbox and capture playlists until interrupted",
		Long: "Run the capture daemon in the foreground. Playlists dropped into the inbox are\n" +
			"captured one at a time and moved to processed/ or failed/ afterwards.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    ctx.logLevel(cfg),
				LogFormat:   ctx.logFormat(cfg),
				Development: development,
			})
		},
	}
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log output")
	return cmd
}
