package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/conductor/internal/state"
	"github.com/ShayCichocki/conductor/pkg/models"
)

var (
	runsSession     string
	runsLimit       int
	runsInterrupted bool
	runsIdle        string
	runsOlderThan   string
	runsOutput      string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect and recover checkpointed runs",
	Long: `Inspect workflow runs saved in the state database.

Every round of every run is checkpointed. A run that stopped before
synthesis (crash, interrupt, deploy) can be resumed: steps that already
have results are kept and only the remaining steps are dispatched.`,
	RunE: runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print a run's saved state",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsResumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume an interrupted run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsResume,
}

var runsCleanCmd = &cobra.Command{
	Use:   "clean <run-id>",
	Short: "Delete a run and its step results",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsClean,
}

var runsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete runs older than --older-than",
	RunE:  runRunsPurge,
}

func init() {
	runsCmd.Flags().StringVar(&runsSession, "for-session", "", "Only runs of this session")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to list (0 = all)")
	runsCmd.Flags().BoolVar(&runsInterrupted, "interrupted", false, "Only unfinished runs idle for --idle")
	runsCmd.Flags().StringVar(&runsIdle, "idle", "5m", "Idle time before an unfinished run counts as interrupted")
	runsPurgeCmd.Flags().StringVar(&runsOlderThan, "older-than", "30d", "Age cutoff (e.g. 72h, 30d)")

	runsShowCmd.Flags().StringVarP(&runsOutput, "output", "o", "yaml", "Output format: yaml or json")

	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsResumeCmd)
	runsCmd.AddCommand(runsCleanCmd)
	runsCmd.AddCommand(runsPurgeCmd)
}

// openStateOnly opens the state database without the rest of the stack.
func openStateOnly() (*state.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, errors.New("state persistence is disabled (state.path is empty)")
	}
	return db, nil
}

func runRunsList(cmd *cobra.Command, args []string) error {
	db, err := openStateOnly()
	if err != nil {
		return err
	}
	defer db.Close()
	ctx := context.Background()

	if runsInterrupted {
		idle, err := parseDuration(runsIdle)
		if err != nil {
			return fmt.Errorf("invalid --idle: %w", err)
		}
		runs, err := state.NewRecoveryManager(db).CheckForInterrupted(ctx, idle)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No interrupted runs.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tSESSION\tPLAN\tPHASE\tSTEPS\tLAST ACTIVITY")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
				r.RunID, r.SessionID, r.PlanName, r.Phase, r.Completed, r.Total, formatAge(r.LastActivity))
		}
		return w.Flush()
	}

	runs, err := db.ListRuns(ctx, state.RunFilter{SessionID: runsSession, Limit: runsLimit})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSESSION\tPLAN\tPHASE\tROUND\tUPDATED")
	for _, r := range runs {
		phase := string(r.Phase)
		if r.Done() {
			phase = color.GreenString(phase)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.RunID, r.SessionID, r.PlanName, phase, r.CurrentRound, formatAge(r.UpdatedAt))
	}
	return w.Flush()
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	db, err := openStateOnly()
	if err != nil {
		return err
	}
	defer db.Close()

	s, err := db.LoadState(context.Background(), args[0])
	if err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("run %s not found", args[0])
	}
	return writeState(cmd.OutOrStdout(), s, runsOutput)
}

// writeState encodes s as yaml or json. Both use the json field names.
func writeState(w io.Writer, s *models.WorkflowState, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "yaml":
		raw, err := json.Marshal(s)
		if err != nil {
			return err
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (want yaml or json)", format)
	}
}

func runRunsResume(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()
	if a.db == nil {
		return errors.New("state persistence is disabled (state.path is empty)")
	}

	final, err := state.NewRecoveryManager(a.db).Resume(ctx, args[0], a.engine)
	if err != nil {
		return err
	}
	printStatus("✓", fmt.Sprintf("Run %s finished (%d steps)", final.RunID, len(final.CompletedResults)), color.FgGreen)
	fmt.Println()
	fmt.Println(final.FinalOutput)
	return nil
}

func runRunsClean(cmd *cobra.Command, args []string) error {
	db, err := openStateOnly()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := state.NewRecoveryManager(db).Clean(context.Background(), args[0]); err != nil {
		return err
	}
	printStatus("✓", "Deleted run "+args[0], color.FgGreen)
	return nil
}

func runRunsPurge(cmd *cobra.Command, args []string) error {
	olderThan, err := parseDuration(runsOlderThan)
	if err != nil {
		return fmt.Errorf("invalid --older-than: %w", err)
	}
	db, err := openStateOnly()
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := db.PurgeOldRuns(context.Background(), olderThan)
	if err != nil {
		return err
	}
	printStatus("✓", fmt.Sprintf("Purged %d run(s) older than %s", n, runsOlderThan), color.FgGreen)
	return nil
}

// formatAge renders how long ago t was.
func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
