package stage

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	appctx "github.com/lucasnoah/fixloop/internal/context"
	"github.com/lucasnoah/fixloop/internal/oracle"
	"github.com/lucasnoah/fixloop/internal/prompt"
	"github.com/lucasnoah/fixloop/internal/ticket"
)

// Select diagnoses the latest failure and asks the oracle which files to edit.
// The oracle's answer is filtered through the path policy before it is recorded.
func (e *Engine) Select(ctx context.Context, t *ticket.Ticket) {
	if h, ok := e.diagnoser.Extract(ctx, t); ok {
		if err := t.AppendHypothesis(h); err != nil {
			e.logger.Warn("dropping hypothesis", zap.Error(err))
		} else {
			e.logf("diagnosis: %s", h.Summary)
		}
	}

	sel, err := e.selectOnce(ctx, e.builder.SelectionVars(t, ""))
	if err != nil && ctx.Err() == nil {
		e.logger.Info("retrying file selection", zap.Error(err))
		sel, err = e.selectOnce(ctx, e.builder.SelectionVars(t, appctx.SelectReminder))
	}
	if err != nil {
		e.fail(ctx, t, "file selection returned invalid output", err)
		return
	}

	allowed, rejected := e.policy.Filter(sel.Files)
	for _, p := range sortedKeys(rejected) {
		t.AddOpenQuestion(fmt.Sprintf("Rejected selected path %s (%s).", p, rejected[p]))
	}
	if len(allowed) == 0 {
		t.Escalate("file selection produced no allowed files", map[string]any{
			"rationale": sel.Rationale,
			"rejected":  rejected,
		})
		return
	}

	t.SetSelectedFiles(allowed)
	t.AddOpenQuestion(fmt.Sprintf("Selection rationale (confidence %.2f): %s", sel.Confidence, sel.Rationale))
	e.logf("selected %v", allowed)
}

func (e *Engine) selectOnce(ctx context.Context, vars prompt.Vars) (*oracle.Selection, error) {
	raw, err := e.ask(ctx, prompt.SelectSystem, prompt.SelectUser, vars)
	if err != nil {
		return nil, err
	}
	return oracle.ParseSelection(raw)
}

// ask renders a system/user template pair and sends it to the oracle.
func (e *Engine) ask(ctx context.Context, system, user string, vars prompt.Vars) (string, error) {
	sys, err := prompt.LoadAndRender(system, e.opts.TemplatesDir, vars)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", system, err)
	}
	usr, err := prompt.LoadAndRender(user, e.opts.TemplatesDir, vars)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", user, err)
	}
	return e.oracle.Complete(ctx, oracle.Request{System: sys, User: usr})
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
