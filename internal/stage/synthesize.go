package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	appctx "github.com/lucasnoah/fixloop/internal/context"
	"github.com/lucasnoah/fixloop/internal/oracle"
	"github.com/lucasnoah/fixloop/internal/patch"
	"github.com/lucasnoah/fixloop/internal/prompt"
	"github.com/lucasnoah/fixloop/internal/ticket"
)

// errPolicy marks an update that targets a path the run may not edit.
var errPolicy = errors.New("policy violation")

// change is one validated, normalized file update.
type change struct {
	path string
	old  string
	new  string
}

// Synthesize asks the oracle for full replacement content of the selected files and
// records one Patch per file that actually changed. Every update is validated before
// anything is written. A pass that changes nothing leaves the ticket untouched.
func (e *Engine) Synthesize(ctx context.Context, t *ticket.Ticket) {
	targets, rejected := e.policy.Filter(t.SelectedFiles)
	if len(rejected) > 0 {
		t.Escalate("policy violation: selected files are not editable", map[string]any{"rejected": rejected})
		return
	}
	if len(targets) == 0 {
		t.Escalate("no files selected for synthesis", nil)
		return
	}

	in, err := e.builder.SynthesisInput(t, targets, "")
	if err != nil {
		e.fail(ctx, t, "read selected files", err)
		return
	}
	if len(in.Targets) == 0 {
		t.Escalate("selected files do not exist in the repository", map[string]any{"selected_files": targets})
		return
	}

	ps, changes, err := e.synthesizeOnce(ctx, in, in.Vars)
	if err != nil && !errors.Is(err, errPolicy) && ctx.Err() == nil {
		e.logger.Info("retrying synthesis", zap.Error(err))
		ps, changes, err = e.synthesizeOnce(ctx, in, withReminder(in.Vars, appctx.SynthesizeReminder))
	}
	if errors.Is(err, errPolicy) {
		t.Escalate(err.Error(), map[string]any{"targets": in.Targets})
		return
	}
	if err != nil {
		e.fail(ctx, t, "patch synthesis returned invalid output", err)
		return
	}

	if len(changes) == 0 {
		e.logf("synthesis produced no effective changes")
		return
	}

	confidence := DefaultPatchConfidence
	if ps.Confidence != nil {
		confidence = *ps.Confidence
	}
	for _, c := range changes {
		p, ok, err := patch.Build(c.path, c.old, c.new, ps.Summary, confidence)
		if err != nil {
			t.Escalate(fmt.Sprintf("diff failed for %s: %v", c.path, err), nil)
			return
		}
		if !ok {
			continue
		}
		if err := e.files.Write(t.RepoRef, c.path, c.new); err != nil {
			t.Escalate(fmt.Sprintf("write failed for %s: %v", c.path, err), nil)
			return
		}
		if err := t.AppendPatch(p); err != nil {
			t.Escalate(fmt.Sprintf("record patch for %s: %v", c.path, err), nil)
			return
		}
		e.logf("patched %s", c.path)
	}
}

// synthesizeOnce requests updates and validates all of them against the targets.
func (e *Engine) synthesizeOnce(ctx context.Context, in *appctx.Synthesis, vars prompt.Vars) (*oracle.PatchSet, []change, error) {
	raw, err := e.ask(ctx, prompt.SynthesizeSystem, prompt.SynthesizeUser, vars)
	if err != nil {
		return nil, nil, err
	}
	ps, err := oracle.ParseUpdates(raw)
	if err != nil {
		return nil, nil, err
	}

	allowedTarget := make(map[string]bool, len(in.Targets))
	for _, p := range in.Targets {
		allowedTarget[p] = true
	}

	var (
		changes []change
		index   = make(map[string]int)
	)
	for _, u := range ps.Updates {
		path := strings.TrimPrefix(strings.ReplaceAll(strings.TrimSpace(u.Path), "\\", "/"), "./")
		if v := e.policy.Check(path); !v.Allowed {
			return nil, nil, fmt.Errorf("%w: update for %s rejected (%s)", errPolicy, u.Path, v.Reason)
		}
		if !allowedTarget[path] {
			return nil, nil, fmt.Errorf("%w: update for %s is outside the selected files", errPolicy, u.Path)
		}
		old := in.Originals[path]
		updated := patch.Normalize(*u.Content, old)
		if i, dup := index[path]; dup {
			changes[i].new = updated
			continue
		}
		index[path] = len(changes)
		changes = append(changes, change{path: path, old: old, new: updated})
	}

	effective := changes[:0]
	for _, c := range changes {
		if c.new != c.old {
			effective = append(effective, c)
		}
	}
	return ps, effective, nil
}

func withReminder(vars prompt.Vars, reminder string) prompt.Vars {
	out := make(prompt.Vars, len(vars)+1)
	for k, v := range vars {
		out[k] = v
	}
	out["reminder"] = reminder
	return out
}
