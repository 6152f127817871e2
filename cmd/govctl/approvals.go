package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stewardlabs/governd/pkg/client"
)

var (
	decisionRationale string
	decisionSignature string
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Review and decide pending approval actions",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending approval actions for your tenant",
	Long: `List pending approval actions for your tenant.

Examples:
  govctl approvals list --user bob --tenant acme`,
	Args: cobra.NoArgs,
	RunE: runApprovalsList,
}

var approvalsShowCmd = &cobra.Command{
	Use:   "show <action-id>",
	Short: "Show one approval action and its decision, if taken",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprovalsShow,
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve <action-id>",
	Short: "Approve a pending action; an attached tool runs immediately",
	Long: `Approve a pending action. If the action carries a deferred tool
invocation, it executes before the command returns.

Examples:
  govctl approvals approve act-42 --user bob --tenant acme --role cycle-owner --rationale "numbers reconciled"`,
	Args: cobra.ExactArgs(1),
	RunE: decisionRunner(client.DecisionApproved),
}

var approvalsRejectCmd = &cobra.Command{
	Use:   "reject <action-id>",
	Short: "Reject a pending action",
	Args:  cobra.ExactArgs(1),
	RunE:  decisionRunner(client.DecisionRejected),
}

var approvalsDeferCmd = &cobra.Command{
	Use:   "defer <action-id>",
	Short: "Defer a pending action without executing it",
	Args:  cobra.ExactArgs(1),
	RunE:  decisionRunner(client.DecisionDeferred),
}

var approvalsExpireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Sweep pending actions whose TTL has lapsed",
	Args:  cobra.NoArgs,
	RunE:  runApprovalsExpire,
}

func init() {
	for _, cmd := range []*cobra.Command{approvalsApproveCmd, approvalsRejectCmd, approvalsDeferCmd} {
		cmd.Flags().StringVar(&decisionRationale, "rationale", "", "rationale recorded with the decision")
		cmd.Flags().StringVar(&decisionSignature, "signature", "", "sign-off signature recorded with the decision")
	}
	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsShowCmd)
	approvalsCmd.AddCommand(approvalsApproveCmd)
	approvalsCmd.AddCommand(approvalsRejectCmd)
	approvalsCmd.AddCommand(approvalsDeferCmd)
	approvalsCmd.AddCommand(approvalsExpireCmd)
}

func runApprovalsList(cmd *cobra.Command, args []string) error {
	if err := requireIdentity(); err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}

	actions, err := c.ListApprovals(cmd.Context())
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		fmt.Println("No pending actions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tTITLE\tREQUESTED BY\tEXPIRES")
	for _, a := range actions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Type, a.Title, a.RequestedBy, formatExpiry(a.ExpiresAt))
	}
	return w.Flush()
}

func runApprovalsShow(cmd *cobra.Command, args []string) error {
	if err := requireIdentity(); err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}

	action, result, err := c.GetApproval(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("ID:            %s\n", action.ID)
	fmt.Printf("Type:          %s\n", action.Type)
	fmt.Printf("Status:        %s\n", action.Status)
	fmt.Printf("Title:         %s\n", action.Title)
	if action.Description != "" {
		fmt.Printf("Description:   %s\n", action.Description)
	}
	if action.Impact != "" {
		fmt.Printf("Impact:        %s\n", action.Impact)
	}
	if action.RequiredRole != "" {
		fmt.Printf("Required role: %s\n", action.RequiredRole)
	}
	if action.EntityType != "" {
		fmt.Printf("Entity:        %s %s\n", action.EntityType, action.EntityID)
	}
	if action.Rationale != "" {
		fmt.Printf("Rationale:     %s\n", action.Rationale)
	}
	fmt.Printf("Requested by:  %s\n", action.RequestedBy)
	fmt.Printf("Created:       %s\n", action.CreatedAt.Local().Format(time.RFC3339))
	fmt.Printf("Expires:       %s\n", formatExpiry(action.ExpiresAt))

	if result != nil {
		fmt.Println()
		fmt.Printf("Decision:      %s by %s at %s\n",
			result.Decision, result.DecidedBy, result.DecidedAt.Local().Format(time.RFC3339))
		if result.Rationale != "" {
			fmt.Printf("Rationale:     %s\n", result.Rationale)
		}
		if result.ToolResult != nil {
			fmt.Printf("Tool:          %s (success=%v)\n", result.ToolResult.Name, result.ToolResult.Success)
			if result.ToolResult.Error != "" {
				fmt.Printf("Tool error:    %s\n", result.ToolResult.Error)
			}
		}
	}
	return nil
}

// decisionRunner builds the RunE for approve, reject, and defer.
func decisionRunner(decision string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := requireIdentity(); err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}

		result, err := c.Decide(cmd.Context(), args[0], client.DecisionRequest{
			Decision:  decision,
			Rationale: decisionRationale,
			Signature: decisionSignature,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Action %s %s by %s\n", result.ActionID, result.Decision, result.DecidedBy)
		if result.ToolResult != nil {
			if result.ToolResult.Success {
				fmt.Printf("Attached tool %s executed\n", result.ToolResult.Name)
			} else {
				fmt.Fprintf(os.Stderr, "Attached tool %s failed: %s\n", result.ToolResult.Name, result.ToolResult.Error)
			}
		}
		return nil
	}
}

func runApprovalsExpire(cmd *cobra.Command, args []string) error {
	if err := requireIdentity(); err != nil {
		return err
	}
	c, err := newClient()
	if err != nil {
		return err
	}

	report, err := c.ExpireApprovals(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Expired %d action(s)\n", report.Expired)
	for _, id := range report.IDs {
		fmt.Printf("  %s\n", id)
	}
	return nil
}

func formatExpiry(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	remaining := time.Until(t).Round(time.Minute)
	if remaining <= 0 {
		return t.Local().Format(time.RFC3339) + " (lapsed)"
	}
	return fmt.Sprintf("%s (in %s)", t.Local().Format(time.RFC3339), remaining)
}
