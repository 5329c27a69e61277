package main

import (
	"log"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"ticklist/internal/tui"
)

func tuiCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive task list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if e.verbose {
				// the alternate screen owns the terminal, so verbose logs go to a file instead
				f, err := tea.LogToFile(filepath.Join(filepath.Dir(e.cfgPath), "tui.log"), "ticklist ")
				if err != nil {
					return err
				}
				defer f.Close()
				e.logger.SetOutput(f)
				e.logger.SetFlags(log.LstdFlags)
			}
			return tui.Run(cmd.Context(), e.api, e.cfg, e.logger)
		},
	}
}
