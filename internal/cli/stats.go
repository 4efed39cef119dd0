package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/fixloop/internal/analytics"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise outcomes, stage durations, and escalations across runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetDuration("since")
		top, _ := cmd.Flags().GetInt("top")
		format, _ := cmd.Flags().GetString("format")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		audit, err := a.openAudit()
		if err != nil {
			return err
		}
		defer audit.Close()

		cutoff := ""
		if since > 0 {
			cutoff = time.Now().UTC().Add(-since).Format("2006-01-02T15:04:05Z")
		}

		outcomes, err := analytics.QueryOutcomes(audit, cutoff)
		if err != nil {
			return err
		}
		durations, err := analytics.QueryStageDurations(audit, cutoff)
		if err != nil {
			return err
		}
		reasons, err := analytics.QueryEscalationReasons(audit, cutoff, top)
		if err != nil {
			return err
		}
		rates, err := analytics.QueryToolRunRates(audit, cutoff)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if format == "json" {
			data, _ := json.MarshalIndent(map[string]any{
				"outcomes":           outcomes,
				"stage_durations":    durations,
				"escalation_reasons": reasons,
				"tool_runs":          rates,
			}, "", "  ")
			fmt.Fprintln(w, string(data))
			return nil
		}

		if len(outcomes) == 0 {
			fmt.Fprintln(w, "No runs recorded.")
			return nil
		}

		header(w, "OUTCOMES")
		fmt.Fprintf(w, "%-20s %6s %7s %9s\n", "STATUS", "RUNS", "PCT", "AVG ITER")
		for _, o := range outcomes {
			fmt.Fprintf(w, "%-20s %6d %6.1f%% %9.2f\n", o.Status, o.Count, o.Pct, o.AvgIterations)
		}

		header(w, "STAGE DURATIONS (seconds)")
		fmt.Fprintf(w, "%-12s %6s %8s %8s %8s\n", "STAGE", "COUNT", "AVG", "P50", "P95")
		for _, d := range durations {
			fmt.Fprintf(w, "%-12s %6d %8.2f %8.2f %8.2f\n", d.Stage, d.Count, d.Avg, d.P50, d.P95)
		}

		header(w, "TOOL RUNS")
		fmt.Fprintf(w, "%-10s %6s %8s %8s %8s %8s\n", "TYPE", "TOTAL", "SUCCESS", "FAIL", "TIMEOUT", "ERROR")
		for _, r := range rates {
			fmt.Fprintf(w, "%-10s %6d %7.1f%% %7.1f%% %7.1f%% %7.1f%%\n",
				r.RunType, r.Total, r.SuccessPct, r.FailPct, r.TimeoutPct, r.ErrorPct)
		}

		if len(reasons) > 0 {
			header(w, "ESCALATION REASONS")
			for _, r := range reasons {
				fmt.Fprintf(w, "%6d  %s\n", r.Count, r.Reason)
			}
		}
		return nil
	},
}

func header(w io.Writer, title string) {
	fmt.Fprintf(w, "\n%s\n%s\n", title, strings.Repeat("=", len(title)))
}

func init() {
	statsCmd.Flags().Duration("since", 0, "only include runs from this far back, e.g. 168h (default: all time)")
	statsCmd.Flags().Int("top", 10, "number of escalation reasons to show")
	statsCmd.Flags().String("format", "text", "output format (text, json)")
}
