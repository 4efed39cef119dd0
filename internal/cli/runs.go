package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		format, _ := cmd.Flags().GetString("format")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		store, err := a.store()
		if err != nil {
			return err
		}
		runs, err := store.List(status)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if format == "json" {
			data, _ := json.MarshalIndent(runs, "", "  ")
			fmt.Fprintln(w, string(data))
			return nil
		}
		if len(runs) == 0 {
			fmt.Fprintln(w, "No runs found.")
			return nil
		}

		fmt.Fprintf(w, "%-18s %-20s %-5s %-20s %s\n", "RUN", "STATUS", "ITER", "CREATED", "REASON")
		fmt.Fprintf(w, "%-18s %-20s %-5s %-20s %s\n",
			strings.Repeat("-", 18),
			strings.Repeat("-", 20),
			strings.Repeat("-", 5),
			strings.Repeat("-", 20),
			strings.Repeat("-", 6))
		for _, r := range runs {
			reason := r.Reason
			if len(reason) > 50 {
				reason = reason[:47] + "..."
			}
			fmt.Fprintf(w, "%-18s %-20s %-5s %-20s %s\n",
				r.RunID, r.Status, fmt.Sprintf("%d/%d", r.Iterations, r.Max),
				r.CreatedAt.Format("2006-01-02 15:04:05"), reason)
		}
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show RUN_ID",
	Short: "Show a stored run's ticket, report, or audit events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		showReport, _ := cmd.Flags().GetBool("report")
		showEvents, _ := cmd.Flags().GetBool("events")
		format, _ := cmd.Flags().GetString("format")
		plain, _ := cmd.Flags().GetBool("plain")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		w := cmd.OutOrStdout()

		if showEvents {
			audit, err := a.openAudit()
			if err != nil {
				return err
			}
			defer audit.Close()
			events, err := audit.GetRunEvents(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if format == "json" {
				data, _ := json.MarshalIndent(events, "", "  ")
				fmt.Fprintln(w, string(data))
				return nil
			}
			for _, e := range events {
				flag := ""
				if e.Escalated {
					flag = " escalated: " + e.Reason
				}
				fmt.Fprintf(w, "%s  %-10s -> %-10s iter=%d %dms%s\n",
					e.Timestamp, e.Stage, e.NextStage, e.Iteration, e.DurationMs, flag)
			}
			return nil
		}

		store, err := a.store()
		if err != nil {
			return err
		}
		if showReport {
			md, err := store.Report(args[0])
			if err != nil {
				return err
			}
			return renderMarkdown(w, md, plain)
		}

		t, err := store.Get(args[0])
		if err != nil {
			return err
		}
		var data []byte
		if format == "yaml" {
			data, err = yaml.Marshal(t)
		} else {
			data, err = json.MarshalIndent(t, "", "  ")
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(w, strings.TrimRight(string(data), "\n"))
		return nil
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete RUN_ID",
	Short: "Delete a stored run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keepWorktree, _ := cmd.Flags().GetBool("keep-worktree")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		store, err := a.store()
		if err != nil {
			return err
		}

		t, err := store.Get(args[0])
		if err != nil {
			return err
		}
		if !keepWorktree {
			mgr, err := a.worktrees()
			if err != nil {
				return err
			}
			if mgr.Owns(t.RepoRef) {
				if err := mgr.Remove(t.RunID); err != nil {
					return fmt.Errorf("remove worktree (use --keep-worktree to skip): %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed worktree %s.\n", mgr.Path(t.RunID))
			}
		}

		if err := store.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s.\n", args[0])
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by status (success, failed, stopped_for_review, running)")
	runsListCmd.Flags().String("format", "text", "output format (text, json)")

	runsShowCmd.Flags().Bool("report", false, "show the final report")
	runsShowCmd.Flags().Bool("events", false, "show stage events from the audit database")
	runsShowCmd.Flags().Bool("plain", false, "print the report as plain markdown")
	runsShowCmd.Flags().String("format", "json", "ticket or event format (json, yaml; text for events)")

	runsDeleteCmd.Flags().Bool("keep-worktree", false, "leave the run's worktree and branch in place")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDeleteCmd)
}
