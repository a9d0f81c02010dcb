package main

import (
	"fmt"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/workers"
)

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List available workers",
	Long: `List the workers plans may assign steps to.

Workers named in approval.gated_workers are marked as gated; any step whose
task matches approval.sensitive_patterns is gated as well.`,
	RunE: runWorkersList,
}

func runWorkersList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Listing needs no model client.
	reg := workers.DefaultRegistry(nil)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tGATED\tDESCRIPTION")
	for _, info := range reg.List() {
		gated := "no"
		if slices.Contains(cfg.Approval.GatedWorkers, info.Name) {
			gated = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", info.Name, gated, info.Description)
	}
	return w.Flush()
}
