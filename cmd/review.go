package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
)

// promptConfirm asks a yes/no question. Answering no is not an error.
func promptConfirm(label string, in io.Reader, out io.Writer) (bool, error) {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
		Stdin:     nopReadCloser{in},
		Stdout:    nopWriteCloser{out},
	}
	if _, err := prompt.Run(); err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func newPlansCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "plans <project>",
		Short: "List the project's plan reviews",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plans, err := a.client().ListPlans(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(plans) == 0 {
				fmt.Fprintln(out, dimStyle.Render("No plans"))
				return nil
			}
			for i := range plans {
				fmt.Fprintln(out, renderReview(&plans[i]))
			}
			return nil
		},
	}
}

func newApproveCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "approve <plan_id>",
		Short: "Approve a pending plan and resume its run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return decide(cmd, a, args[0], yes, "Approve", func(planID string) (*domain.PlanReview, error) {
				return a.client().ApprovePlan(cmd.Context(), planID)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func newRejectCmd(a *app) *cobra.Command {
	var (
		yes    bool
		reason string
	)
	cmd := &cobra.Command{
		Use:   "reject <plan_id>",
		Short: "Reject a pending plan and stop its run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return decide(cmd, a, args[0], yes, "Reject", func(planID string) (*domain.PlanReview, error) {
				return a.client().RejectPlan(cmd.Context(), planID, reason)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the run log")
	return cmd
}

func decide(cmd *cobra.Command, a *app, planID string, yes bool, verb string, apply func(string) (*domain.PlanReview, error)) error {
	out := cmd.OutOrStdout()
	if !yes {
		review, err := a.client().GetPlan(cmd.Context(), planID)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, renderReview(review))
		ok, err := a.confirm(verb+" this plan", cmd.InOrStdin(), out)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, dimStyle.Render("Nothing changed"))
			return nil
		}
	}

	review, err := apply(planID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Plan %s is %s\n", review.PlanID, review.Status)
	return nil
}

type nopReadCloser struct{ io.Reader }

func (nopReadCloser) Close() error { return nil }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
