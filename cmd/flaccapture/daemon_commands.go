package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"flaccapture/internal/daemonctl"
)

const (
	startWaitTimeout = 10 * time.Second
	stopGracePeriod  = 30 * time.Second
)

func newStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the watch daemon in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			opts := daemonctl.LaunchOptions{}
			if ctx.configSeen {
				opts.ConfigPath = ctx.configPath
			}
			if ctx.logLevelFlag != nil {
				opts.LogLevel = *ctx.logLevelFlag
			}
			result, err := daemonctl.EnsureStarted(cfg, exe, opts, startWaitTimeout)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			switch result.State {
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintf(w, "Daemon already running (pid %d)\n", result.PID)
			default:
				fmt.Fprintf(w, "Daemon started (pid %d), watching %s\n", result.PID, cfg.Paths.InputDir)
			}
			return nil
		},
	}
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background watch daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(cfg, stopGracePeriod)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(w, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(w, "Daemon (pid %d) did not exit within %s and was killed\n", result.PID, stopGracePeriod)
				return nil
			}
			fmt.Fprintf(w, "Daemon (pid %d) stopped\n", result.PID)
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon state, pending playlists and capture totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			snap, err := daemonctl.BuildStatusSnapshot(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if ctx.jsonMode() {
				return writeJSON(cmd, snap)
			}

			w := cmd.OutOrStdout()
			if snap.Running {
				fmt.Fprintf(w, "Daemon:   running (pid %d)\n", snap.PID)
			} else {
				fmt.Fprintln(w, "Daemon:   stopped")
			}
			fmt.Fprintf(w, "Inbox:    %s (%d pending)\n", snap.InputDir, snap.Pending)
			if snap.History != nil {
				fmt.Fprintf(w, "History:  %d jobs, %d succeeded, %d failed, %s captured\n",
					snap.History.Total, snap.History.Succeeded, snap.History.Failed, humanize.IBytes(uint64(snap.History.Bytes)))
			} else {
				fmt.Fprintln(w, "History:  none")
			}

			rows := make([][]string, 0, len(snap.Checks)+len(snap.Dependencies))
			for _, check := range snap.Checks {
				detail := check.Detail
				if check.Passed {
					detail = "ok"
				}
				rows = append(rows, []string{check.Name, yesNo(check.Passed), detail})
			}
			for _, dep := range snap.Dependencies {
				detail := dep.Detail
				if dep.Available {
					detail = "ok"
					if dep.Version != "" {
						detail = dep.Version
					}
				}
				rows = append(rows, []string{dep.Name, yesNo(dep.Available), detail})
			}
			fmt.Fprintln(w, renderTable([]column{left("Check"), left("OK"), left("Detail").wrap(60)}, rows))
			return nil
		},
	}
}
