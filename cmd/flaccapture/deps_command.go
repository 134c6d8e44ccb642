package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"flaccapture/internal/preflight"
)

type depStatus struct {
	Name      string `json:"name"`
	Command   string `json:"command"`
	Available bool   `json:"available"`
	Optional  bool   `json:"optional"`
	Version   string `json:"version,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

func newDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check external tools used for conversion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			statuses := preflight.CheckSystemDeps(cfg)
			report := make([]depStatus, 0, len(statuses))
			for _, s := range statuses {
				report = append(report, depStatus{
					Name:      s.Name,
					Command:   s.Command,
					Available: s.Available,
					Optional:  s.Optional,
					Version:   s.Version,
					Detail:    s.Detail,
				})
			}
			if ctx.jsonMode() {
				return writeJSON(cmd, report)
			}

			rows := make([][]string, 0, len(report))
			for _, d := range report {
				detail := d.Detail
				if d.Available {
					detail = "ok"
					if d.Version != "" {
						detail = d.Version
					}
				}
				rows = append(rows, []string{d.Name, d.Command, yesNo(d.Available), yesNo(d.Optional), detail})
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, renderTable([]column{
				left("Dependency"),
				left("Command").wrap(50),
				left("Available"),
				left("Optional"),
				left("Detail").wrap(60),
			}, rows))
			fmt.Fprintf(w, "Built-in FLAC encoder: %s\n", map[bool]string{true: "enabled", false: "disabled"}[cfg.Encoding.Native])
			for _, d := range report {
				if !d.Available {
					fmt.Fprintln(w, "Install flac from https://xiph.org/flac/download.html or your package manager to enable the fallback encoder.")
					break
				}
			}
			return nil
		},
	}
}
