package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/tui"
	"github.com/ShayCichocki/conductor/internal/workflow"
	"github.com/ShayCichocki/conductor/pkg/models"
)

var (
	runTemplate string
	runStream   bool
	runTUI      bool
	runVerbose  bool
)

var runCmd = &cobra.Command{
	Use:   "run <request>",
	Short: "Plan and execute one workflow in-process",
	Long: `Plan and execute a single workflow without starting the server.

The request is planned from --template when it names a known template,
otherwise the model builds a plan. Steps run in dependency rounds and the
synthesized result is printed.

Output modes:
  (default)  Print the synthesized result when the run finishes
  --stream   Print worker output as it arrives, grouped by step
  --tui      Show live round and step progress, then the result

Steps are not gated here: the operator running the command approves by
running it. With --session the turn is added to that session's history.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWorkflow,
}

func init() {
	runCmd.Flags().StringVarP(&runTemplate, "template", "t", "", "Workflow template name")
	runCmd.Flags().BoolVar(&runStream, "stream", false, "Stream worker output as it arrives")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show a live progress view")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print the plan and per-step results")
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	if runStream && runTUI {
		return errors.New("--stream and --tui are mutually exclusive")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt, shutting down...")
		cancel()
	}()

	opts := appOptions{}
	if runTUI {
		opts.events = 256
	}
	a, err := newApp(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	req := workflow.Request{
		Messages:     []models.Message{{Role: models.RoleUser, Content: strings.Join(args, " ")}},
		SessionID:    sessionID,
		TemplateName: runTemplate,
	}

	switch {
	case runStream:
		return streamWorkflow(ctx, a, req)
	case runTUI:
		return runWorkflowTUI(ctx, a, req)
	}

	final, err := a.engine.Run(ctx, req)
	if err != nil {
		return err
	}
	printRun(final, runVerbose)
	printUsage(a)
	return nil
}

func streamWorkflow(ctx context.Context, a *app, req workflow.Request) error {
	for chunk := range a.engine.Stream(ctx, req) {
		if chunk.Err != nil {
			return chunk.Err
		}
		fmt.Print(chunk.Content)
		if chunk.Done {
			fmt.Println()
		}
	}
	printUsage(a)
	return nil
}

func runWorkflowTUI(ctx context.Context, a *app, req workflow.Request) error {
	program, monitor := tui.NewProgressProgram(a.events.Events())

	go func() {
		final, err := a.engine.Run(ctx, req)
		a.events.Close()
		out := ""
		if final != nil {
			out = final.FinalOutput
		}
		program.Send(tui.RunDoneMsg{Output: out, Err: err})
	}()

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("progress view: %w", err)
	}
	if monitor.Err() != nil {
		return monitor.Err()
	}
	if out := monitor.Output(); out != "" {
		fmt.Println(out)
	}
	return nil
}

// printRun prints the synthesized result, and the plan when verbose.
func printRun(s *models.WorkflowState, verbose bool) {
	if verbose && s.Plan != nil {
		fmt.Printf("%s %s (%d steps, %d rounds)\n", color.CyanString("Plan:"), s.Plan.Name, len(s.Plan.Steps), s.CurrentRound)
		if s.Plan.Reasoning != "" {
			fmt.Printf("  %s\n", s.Plan.Reasoning)
		}
		for _, r := range s.CompletedResults {
			symbol, attr := "✓", color.FgGreen
			if stepFailed(r) {
				symbol, attr = "✗", color.FgRed
			}
			printStatus(symbol, fmt.Sprintf("%s (%s)", r.StepID, r.Worker), attr)
		}
		fmt.Println()
	}
	fmt.Println(s.FinalOutput)
}

func printUsage(a *app) {
	if !runVerbose {
		return
	}
	tracker := a.client.Tracker()
	in, out := tracker.Total()
	fmt.Printf("\n%s %d calls, %d input / %d output tokens, ~$%.4f\n",
		color.New(color.Faint).Sprint("usage:"), tracker.Calls(), in, out, tracker.Cost())
}

// stepFailed reports whether a result records a missing or failing worker.
func stepFailed(r models.WorkerResult) bool {
	prefix := "Worker '" + r.Worker + "' "
	return r.Output == prefix+"not found." || strings.HasPrefix(r.Output, prefix+"failed: ")
}
