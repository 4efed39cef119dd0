// Package report derives the final status of a run and renders the markdown report.
package report

import (
	"fmt"
	"strings"

	"github.com/lucasnoah/fixloop/internal/ticket"
)

const (
	// MaxDiffChars caps each diff shown in the report.
	MaxDiffChars = 3000
	shownPatches = 2
	shownHypos   = 2
	shownChecks  = 5
)

// DeriveStatus computes the canonical final status: escalation wins, then the last test run decides.
func DeriveStatus(t *ticket.Ticket) ticket.FinalStatus {
	if t.HITL.Required {
		return ticket.FinalStoppedForReview
	}
	if last, ok := t.LastTestRun(); ok && last.ExitCode != nil && *last.ExitCode == 0 {
		return ticket.FinalSuccess
	}
	return ticket.FinalFailed
}

// Render builds the markdown report for the given status.
func Render(t *ticket.Ticket, status ticket.FinalStatus) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("FINAL STATUS: %s", status)
	line("")
	if t.HITL.Required {
		line("- HITL required: %s", t.HITL.Reason)
		line("")
	}
	line("# Remediation Report")
	line("")
	line("**Task:** %s", t.TaskPrompt)
	line("**Run:** `%s` · **Repository:** `%s`", t.RunID, t.RepoRef)
	line("**Iterations used:** %d of %d", t.Iteration.Count, t.Iteration.Max)
	if t.Iteration.StopReason != "" {
		line("**Stop reason:** %s", t.Iteration.StopReason)
	}
	line("")

	if len(t.Hypotheses) > 0 {
		line("## Diagnosis")
		for _, h := range lastN(t.Hypotheses, shownHypos) {
			line("- %s (confidence=%.2f)", h.Summary, h.Confidence)
			for _, loc := range h.Locations {
				if loc.Symbol != "" {
					line("  - Location: `%s` lines %d-%d (`%s`)", loc.Path, loc.StartLine, loc.EndLine, loc.Symbol)
				} else {
					line("  - Location: `%s` lines %d-%d", loc.Path, loc.StartLine, loc.EndLine)
				}
			}
		}
		line("")
	}

	if len(t.Patches) > 0 {
		line("## Patch")
		for _, p := range lastN(t.Patches, shownPatches) {
			line("- %s (confidence=%.2f)", p.Summary, p.Confidence)
			line("```diff")
			line("%s", truncate(strings.TrimSpace(p.DiffUnified), MaxDiffChars))
			line("```")
		}
		if n := len(t.Patches); n > shownPatches {
			line("")
			line("_%d earlier patches omitted; files touched: %s_", n-shownPatches, strings.Join(t.TouchedFiles(), ", "))
		}
		line("")
	}

	line("## Verification")
	if last, ok := t.LastTestRun(); ok {
		line("- Command: `%s`", last.Command)
		line("- Status: `%s` (exit_code=%s)", last.Status, exitCode(last.ExitCode))
		line("- Test runs: %d", t.CountRuns(ticket.RunTest))
		if last.Status != ticket.StatusSuccess && len(last.FailuresParsed) > 0 {
			line("- Failures:")
			for _, f := range last.FailuresParsed {
				line("  - %s", firstLine(f))
			}
		}
	} else {
		line("- Tests were not executed.")
	}
	line("")

	if advisory := advisoryRuns(t); len(advisory) > 0 {
		line("## Other Checks")
		for _, r := range advisory {
			name := r.Name
			if name == "" {
				name = string(r.RunType)
			}
			line("- %s (`%s`): `%s`", name, r.Command, r.Status)
			for i, f := range r.FailuresParsed {
				if i >= shownChecks {
					line("  - … %d more", len(r.FailuresParsed)-shownChecks)
					break
				}
				line("  - %s", firstLine(f))
			}
		}
		line("")
	}

	line("## Notes / Risks")
	if !t.SafetyOK {
		line("- Safety gate triggered; requires human approval.")
	} else {
		line("- No safety flags triggered in this run.")
	}
	for _, f := range t.RiskFlags {
		line("- Risk flag: `%s`", f)
	}
	for _, a := range t.Assumptions {
		line("- Assumption: %s", a)
	}

	if len(t.OpenQuestions) > 0 {
		line("")
		line("## Open Questions")
		for _, q := range t.OpenQuestions {
			line("- %s", q)
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// advisoryRuns returns the latest run of each named lint or typecheck check.
func advisoryRuns(t *ticket.Ticket) []ticket.ToolRun {
	latest := make(map[string]int)
	var order []string
	for i, r := range t.ToolRuns {
		if r.RunType != ticket.RunLint && r.RunType != ticket.RunTypecheck {
			continue
		}
		key := string(r.RunType) + "/" + r.Name
		if _, ok := latest[key]; !ok {
			order = append(order, key)
		}
		latest[key] = i
	}
	out := make([]ticket.ToolRun, 0, len(order))
	for _, k := range order {
		out = append(out, t.ToolRuns[latest[k]])
	}
	return out
}

func lastN[T any](s []T, n int) []T {
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}

func exitCode(c *int) string {
	if c == nil {
		return "none"
	}
	return fmt.Sprintf("%d", *c)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
