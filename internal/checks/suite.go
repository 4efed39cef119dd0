package checks

import (
	"context"

	"github.com/lucasnoah/fixloop/internal/ticket"
)

// SuiteResult summarises a batch of advisory checks.
type SuiteResult struct {
	Passed bool
	Runs   []ticket.ToolRun
	Failed []string
}

// RunSuite executes every check in order, collecting one ToolRun per check.
// With stopOnFail set it returns after the first failing check.
func (r *Runner) RunSuite(ctx context.Context, dir string, checks []CheckConfig, stopOnFail bool) SuiteResult {
	res := SuiteResult{Passed: true}
	for _, chk := range checks {
		if ctx.Err() != nil {
			break
		}
		run := r.Run(ctx, dir, chk)
		res.Runs = append(res.Runs, run)
		if run.Status != ticket.StatusSuccess {
			res.Passed = false
			res.Failed = append(res.Failed, chk.Name)
			if stopOnFail {
				break
			}
		}
	}
	return res
}
