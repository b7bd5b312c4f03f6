package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/votesmart/undine/internal/models"
	"github.com/votesmart/undine/internal/services/borg"
)

var unitsCmd = &cobra.Command{
	Use:   "units",
	Short: "List the configured units and the archive each one creates",
	RunE:  listUnits,
}

func listUnits(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(cfg.Units) == 0 {
		_, _ = fmt.Fprintln(out, "No units configured.")
		return nil
	}
	_, _ = fmt.Fprintln(out, unitsTable(*cfg))
	return nil
}

func unitsTable(cfg models.Config) string {
	var rows [][]string
	for _, unit := range cfg.SortedUnits() {
		rows = append(rows, []string{unit.Name, unit.Path, borg.ArchiveName(cfg.Repos, unit.Name)})
	}
	return renderTable([]string{"Unit", "Path", "Archive"}, rows)
}
