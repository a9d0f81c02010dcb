package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/graph"
	"github.com/ShayCichocki/conductor/internal/templates"
	"github.com/ShayCichocki/conductor/pkg/models"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List workflow templates",
	Long: `List the workflow templates found in workflow.templates_dir.

Use 'conductor templates show <name>' to print a template's steps.`,
	RunE: runTemplatesList,
}

var templatesShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a template's steps",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplatesShow,
}

func init() {
	templatesCmd.AddCommand(templatesShowCmd)
}

func loadTemplates() (*templates.Registry, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return templates.Load(cfg.Workflow.TemplatesDir)
}

func runTemplatesList(cmd *cobra.Command, args []string) error {
	reg, err := loadTemplates()
	if err != nil {
		return err
	}
	infos := reg.List()
	if len(infos) == 0 {
		fmt.Printf("No templates in %s\n", reg.Dir())
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTEPS\tDESCRIPTION")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%d\t%s\n", info.Name, info.Steps, info.Description)
	}
	return w.Flush()
}

func runTemplatesShow(cmd *cobra.Command, args []string) error {
	reg, err := loadTemplates()
	if err != nil {
		return err
	}
	plan, ok := reg.Get(args[0])
	if !ok {
		return fmt.Errorf("template %q not found in %s", args[0], reg.Dir())
	}

	return writeTemplate(os.Stdout, plan)
}

// writeTemplate prints a plan's steps in execution order with the number
// of rounds the scheduler will need.
func writeTemplate(w io.Writer, plan models.WorkflowPlan) error {
	g, err := graph.FromPlan(plan)
	if err != nil {
		return err
	}
	order, err := g.TopologicalSort()
	if err != nil {
		return err
	}
	byID := make(map[string]models.WorkflowStep, len(plan.Steps))
	for _, step := range plan.Steps {
		byID[step.ID] = step
	}

	fmt.Fprintf(w, "%s (%d steps, %d rounds)\n", plan.Name, len(plan.Steps), g.Depth())
	if plan.Reasoning != "" {
		fmt.Fprintf(w, "  %s\n", plan.Reasoning)
	}
	fmt.Fprintln(w)
	for _, id := range order {
		step := byID[id]
		deps := "-"
		if len(step.DependsOn) > 0 {
			deps = strings.Join(step.DependsOn, ", ")
		}
		fmt.Fprintf(w, "  %s [%s] after: %s\n", step.ID, step.Worker, deps)
		fmt.Fprintf(w, "    %s\n", step.Task)
	}
	return nil
}
