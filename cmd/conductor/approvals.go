package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/httpapi"
	"github.com/ShayCichocki/conductor/internal/tui"
	"github.com/ShayCichocki/conductor/pkg/models"
)

var approvalComment string

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Review pending approval requests",
	Long: `Review the approval queue of a running server.

Requests are scoped to a session: pass --session (or set
CONDUCTOR_SESSION) to the session the gated workflow runs in.

With no subcommand, opens the interactive review console.`,
	RunE: runApprovalsReview,
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending requests",
	RunE:  runApprovalsList,
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a pending request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveApproval(args[0], true)
	},
}

var approvalsRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a pending request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveApproval(args[0], false)
	},
}

func init() {
	approvalsApproveCmd.Flags().StringVarP(&approvalComment, "comment", "m", "", "Reviewer comment")
	approvalsRejectCmd.Flags().StringVarP(&approvalComment, "comment", "m", "", "Reviewer comment")

	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsApproveCmd)
	approvalsCmd.AddCommand(approvalsRejectCmd)
}

func newAPIClient() (*httpapi.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return httpapi.NewClient(resolveServerURL(cfg), resolveSession(), nil), nil
}

func runApprovalsReview(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	model, err := tui.RunReview(context.Background(), client)
	if err != nil {
		return err
	}
	if n := model.Resolved(); n > 0 {
		fmt.Printf("%s Resolved %d request(s)\n", color.GreenString("✓"), n)
	}
	return nil
}

func runApprovalsList(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pending, err := client.Pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Printf("No pending requests for session %s\n", client.SessionID())
		return nil
	}
	printApprovals(pending, time.Now())
	return nil
}

func printApprovals(reqs []*models.ApprovalRequest, now time.Time) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tACTION\tEXPIRES IN\tDESCRIPTION")
	for _, r := range reqs {
		left := r.ExpiresAt.Sub(now).Round(time.Second)
		if left < 0 {
			left = 0
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.ActionType, left, r.ActionDescription)
	}
	w.Flush()
}

func resolveApproval(id string, approve bool) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var req *models.ApprovalRequest
	if approve {
		req, err = client.Approve(ctx, id, approvalComment)
	} else {
		req, err = client.Reject(ctx, id, approvalComment)
	}
	if err != nil {
		return err
	}

	attr := color.FgGreen
	if req.Status != models.ApprovalApproved {
		attr = color.FgYellow
	}
	printStatus("✓", fmt.Sprintf("%s is now %s", req.ID, color.New(attr).Sprint(req.Status)), color.FgGreen)
	return nil
}
