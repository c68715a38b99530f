package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/xiaot623/gogo/autopilot/internal/apiclient"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
)

const pollInterval = 500 * time.Millisecond

func newStartCmd(a *app) *cobra.Command {
	var (
		god    bool
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "start <project> <objective>",
		Short: "Start a run for a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &domain.StartRunRequest{Objective: args[1]}
			if god {
				req.Mode = string(domain.RunModeGod)
			}
			run, err := a.client().StartRun(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Started %s (%s)\n", run.RunID, run.Mode)
			if !follow {
				return nil
			}
			return followRun(cmd, a.client(), args[0], pollInterval)
		},
	}
	cmd.Flags().BoolVar(&god, "god", false, "stop for plan review before executing")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "print log lines until the run stops")
	return cmd
}

// followRun prints new log lines until the run is no longer active. In god
// mode it also stops once the run is waiting for review.
func followRun(cmd *cobra.Command, client *apiclient.Client, projectID string, interval time.Duration) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	seen := 0
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		run, err := client.GetRun(ctx, projectID)
		if err != nil {
			return err
		}
		if seen > len(run.Logs) {
			seen = 0
		}
		for _, entry := range run.Logs[seen:] {
			fmt.Fprintln(out, renderLog(entry))
		}
		seen = len(run.Logs)

		if !run.Status.IsActive() || run.Status == domain.RunStatusAwaitingReview {
			fmt.Fprint(out, "\n"+renderRun(run))
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func newStatusCmd(a *app) *cobra.Command {
	var logs bool
	cmd := &cobra.Command{
		Use:   "status <project>",
		Short: "Show the project's current run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := a.client().GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, renderRun(run))
			if logs && len(run.Logs) > 0 {
				fmt.Fprintln(out, "\n"+titleStyle.Render("Logs"))
				for _, entry := range run.Logs {
					fmt.Fprintln(out, renderLog(entry))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&logs, "logs", false, "include the run log")
	return cmd
}

func newCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <project>",
		Short: "Cancel the project's active run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := a.client().CancelRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Project %s is %s\n", args[0], statusBadge(run.Status))
			return nil
		},
	}
}
