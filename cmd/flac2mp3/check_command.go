package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"flac2mp3/internal/deps"
	"flac2mp3/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify required programs and directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return &exitError{code: exitSetup, err: err}
			}
			out := cmd.OutOrStdout()

			statuses := preflight.CheckSystemDeps(cfg)
			rows := make([][]string, 0, len(statuses))
			for _, s := range statuses {
				location := s.Path
				if !s.Available {
					location = s.Detail
				}
				rows = append(rows, []string{s.Name, yesNo(s.Available), location, s.Description})
			}
			fmt.Fprintln(out, renderTable(out, []string{"Program", "Found", "Location", "Purpose"}, rows, nil))

			results := preflight.RunAll(cfg)
			dirRows := make([][]string, 0, len(results))
			for _, r := range results {
				dirRows = append(dirRows, []string{r.Name, yesNo(r.Passed), r.Detail})
			}
			fmt.Fprintln(out, renderTable(out, []string{"Directory", "OK", "Detail"}, dirRows, nil))

			if missing := deps.Missing(statuses); len(missing) > 0 {
				return &exitError{code: exitSetup, err: fmt.Errorf("missing required programs: %v", missing)}
			}
			if len(preflight.Failed(results)) > 0 {
				return &exitError{code: exitSetup, err: errors.New("directory checks failed")}
			}
			fmt.Fprintln(out, "All checks passed")
			return nil
		},
	}
}
