package orchestrator

import (
	"fmt"

	"github.com/lucasnoah/fixloop/internal/ticket"
)

// State is a node of the remediation graph.
type State string

const (
	StateScan       State = "scan"
	StateIntake     State = "intake"
	StateVerify     State = "verify"
	StateSelect     State = "select"
	StateSynthesize State = "synthesize"
	StateGate       State = "gate"
	StateReport     State = "report"
	StateDone       State = "done"
)

// Escalation and stop reasons set by routing.
const (
	ReasonMaxIterations = "max iterations reached"
	ReasonStepLimit     = "orchestrator step limit exceeded"
	StopTestsPassed     = "tests passed"
)

// Decision is the outcome of a routing function. Routing functions never mutate the
// ticket; the orchestrator applies the decision.
type Decision struct {
	Next State
	// IncrementIteration consumes one iteration.
	IncrementIteration bool
	// Escalate, when set, requires human review with this reason.
	Escalate   string
	StopReason string
	// NoopStreak is the consecutive no-op synthesis count after this step.
	NoopStreak int
}

// toReport stops the loop because the ticket is already escalated.
func toReport(t *ticket.Ticket) Decision {
	return Decision{Next: StateReport, StopReason: t.HITL.Reason, NoopStreak: t.Iteration.NoopStreak}
}

// RouteLinear handles the unconditional edges Scan→Intake→Verify. An escalation at
// any boundary routes straight to Report.
func RouteLinear(t *ticket.Ticket, next State) Decision {
	if t.Escalated() {
		return toReport(t)
	}
	return Decision{Next: next, NoopStreak: t.Iteration.NoopStreak}
}

// RouteAfterVerify passes on a zero exit code; otherwise it consumes an iteration and
// either loops back to selection or stops once the iteration budget is spent.
func RouteAfterVerify(t *ticket.Ticket) Decision {
	if t.Escalated() {
		return toReport(t)
	}
	if last, ok := t.LastTestRun(); ok && last.ExitCode != nil && *last.ExitCode == 0 {
		return Decision{Next: StateReport, StopReason: StopTestsPassed, NoopStreak: t.Iteration.NoopStreak}
	}
	d := Decision{Next: StateSelect, IncrementIteration: true, NoopStreak: t.Iteration.NoopStreak}
	if t.Iteration.Count+1 >= t.Iteration.Max {
		d.Next = StateReport
		d.Escalate = ReasonMaxIterations
		d.StopReason = ReasonMaxIterations
	}
	return d
}

// RouteAfterSelect proceeds to synthesis unless selection escalated.
func RouteAfterSelect(t *ticket.Ticket) Decision {
	return RouteLinear(t, StateSynthesize)
}

// RouteAfterSynthesize tracks consecutive passes that produced no patch. With a positive
// noopLimit the run escalates once the streak reaches it.
func RouteAfterSynthesize(t *ticket.Ticket, patchesBefore, noopLimit int) Decision {
	if t.Escalated() {
		return toReport(t)
	}
	if len(t.Patches) > patchesBefore {
		return Decision{Next: StateGate}
	}
	streak := t.Iteration.NoopStreak + 1
	if noopLimit > 0 && streak >= noopLimit {
		reason := fmt.Sprintf("no effective changes in %d consecutive synthesis passes", streak)
		return Decision{Next: StateReport, Escalate: reason, StopReason: reason, NoopStreak: streak}
	}
	return Decision{Next: StateGate, NoopStreak: streak}
}

// RouteAfterGate re-verifies unless the gate escalated.
func RouteAfterGate(t *ticket.Ticket) Decision {
	return RouteLinear(t, StateVerify)
}
