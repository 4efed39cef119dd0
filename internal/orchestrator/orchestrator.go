// Package orchestrator drives a ticket through the remediation graph:
//
//	Scan → Intake → Verify ─┬─ pass ────────────────────────────→ Report
//	                        └─ fail → Select → Synthesize → Gate ─┬→ Verify
//	                                                              └→ Report
//
// Every run terminates: iterations are bounded by the ticket's max, escalation is
// terminal at any boundary, and a step guard catches routing bugs.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lucasnoah/fixloop/internal/ticket"
)

// ReasonCancelled is the escalation reason when the run context ends between stages.
const ReasonCancelled = "run cancelled"

// Stages performs the work of each state. Implementations record failures on the ticket.
type Stages interface {
	Scan(ctx context.Context, t *ticket.Ticket)
	Intake(ctx context.Context, t *ticket.Ticket)
	Verify(ctx context.Context, t *ticket.Ticket)
	Select(ctx context.Context, t *ticket.Ticket)
	Synthesize(ctx context.Context, t *ticket.Ticket)
	Gate(ctx context.Context, t *ticket.Ticket)
	Report(ctx context.Context, t *ticket.Ticket)
}

// Event is the audit record of one executed stage.
type Event struct {
	RunID     string        `json:"run_id"`
	Stage     State         `json:"stage"`
	Next      State         `json:"next"`
	Iteration int           `json:"iteration"`
	Escalated bool          `json:"escalated"`
	Reason    string        `json:"reason,omitempty"`
	Duration  time.Duration `json:"duration"`
	At        time.Time     `json:"at"`
}

// EventSink receives stage events.
type EventSink interface {
	RecordEvent(ctx context.Context, e Event) error
}

// Snapshotter persists the ticket after each stage.
type Snapshotter interface {
	Snapshot(t *ticket.Ticket) error
}

// Recorder receives metrics.
type Recorder interface {
	StageDone(stage string, d time.Duration)
	Escalated(stage string)
	ToolRun(runType, status string)
	RunDone(status string, iterations int)
}

// Options configures optional behavior and hooks. Nil hooks are skipped.
type Options struct {
	// NoopLimit escalates after this many consecutive synthesis passes without a patch; 0 disables.
	NoopLimit int
	Events    EventSink
	Snapshots Snapshotter
	Metrics   Recorder
	Tracer    trace.Tracer
	Logger    *zap.Logger
}

// Orchestrator owns the run loop.
type Orchestrator struct {
	stages    Stages
	noopLimit int
	events    EventSink
	snapshots Snapshotter
	metrics   Recorder
	tracer    trace.Tracer
	logger    *zap.Logger
}

// New creates an Orchestrator.
func New(stages Stages, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/lucasnoah/fixloop/internal/orchestrator")
	}
	return &Orchestrator{
		stages:    stages,
		noopLimit: opts.NoopLimit,
		events:    opts.Events,
		snapshots: opts.Snapshots,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		logger:    opts.Logger,
	}
}

// Result summarises a finished run.
type Result struct {
	RunID      string             `json:"run_id"`
	Status     ticket.FinalStatus `json:"status"`
	Iterations int                `json:"iterations"`
	Steps      int                `json:"steps"`
	Reason     string             `json:"reason,omitempty"`
	Duration   time.Duration      `json:"duration"`
}

// MaxSteps bounds the number of stages one run may execute.
func MaxSteps(maxIterations int) int {
	if maxIterations < 1 {
		maxIterations = 1
	}
	return 4*maxIterations + 8
}

// Run drives t until the Report stage has run. It never returns an error: every
// failure ends up on the ticket.
func (o *Orchestrator) Run(ctx context.Context, t *ticket.Ticket) *Result {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "fixloop.run", trace.WithAttributes(
		attribute.String("run_id", t.RunID),
		attribute.Int("max_iterations", t.Iteration.Max),
	))
	defer span.End()

	o.logger.Info("run started",
		zap.String("run_id", t.RunID),
		zap.String("repo", t.RepoRef),
		zap.Int("max_iterations", t.Iteration.Max),
	)

	limit := MaxSteps(t.Iteration.Max)
	state := StateScan
	steps := 0
	for state != StateDone {
		if state != StateReport {
			if steps >= limit {
				t.Escalate(ReasonStepLimit, map[string]any{"steps": steps})
				o.logger.Error("step limit exceeded", zap.String("run_id", t.RunID), zap.Int("steps", steps))
				state = StateReport
			} else if ctx.Err() != nil {
				t.Escalate(ReasonCancelled, nil)
				state = StateReport
			}
		}
		state = o.step(ctx, t, state)
		steps++
	}

	res := &Result{
		RunID:      t.RunID,
		Status:     t.Final(),
		Iterations: t.Iteration.Count,
		Steps:      steps,
		Reason:     t.HITL.Reason,
		Duration:   time.Since(start),
	}
	if res.Status == "" {
		o.logger.Error("run ended without a final status", zap.String("run_id", t.RunID))
	}
	if o.metrics != nil {
		o.metrics.RunDone(string(res.Status), res.Iterations)
	}
	span.SetAttributes(
		attribute.String("final_status", string(res.Status)),
		attribute.Int("iterations", res.Iterations),
	)
	o.logger.Info("run finished",
		zap.String("run_id", t.RunID),
		zap.String("status", string(res.Status)),
		zap.Int("iterations", res.Iterations),
		zap.Int("steps", steps),
		zap.Duration("duration", res.Duration),
	)
	return res
}

// step executes one stage, routes, and applies the decision.
func (o *Orchestrator) step(ctx context.Context, t *ticket.Ticket, state State) State {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "stage."+string(state), trace.WithAttributes(
		attribute.Int("iteration", t.Iteration.Count),
	))
	defer span.End()

	escalatedBefore := t.Escalated()
	patchesBefore := len(t.Patches)
	runsBefore := len(t.ToolRuns)

	o.execute(ctx, t, state)

	var d Decision
	switch state {
	case StateScan:
		d = RouteLinear(t, StateIntake)
	case StateIntake:
		d = RouteLinear(t, StateVerify)
	case StateVerify:
		d = RouteAfterVerify(t)
	case StateSelect:
		d = RouteAfterSelect(t)
	case StateSynthesize:
		d = RouteAfterSynthesize(t, patchesBefore, o.noopLimit)
	case StateGate:
		d = RouteAfterGate(t)
	case StateReport:
		d = Decision{Next: StateDone, NoopStreak: t.Iteration.NoopStreak}
	default:
		t.Escalate(fmt.Sprintf("unknown state %q", state), nil)
		d = toReport(t)
	}
	o.apply(t, d)

	elapsed := time.Since(start)
	escalatedNow := !escalatedBefore && t.Escalated()
	if escalatedNow {
		span.SetStatus(codes.Error, t.HITL.Reason)
		o.logger.Warn("escalated",
			zap.String("run_id", t.RunID),
			zap.String("stage", string(state)),
			zap.String("reason", t.HITL.Reason),
		)
	}
	o.logger.Debug("stage finished",
		zap.String("run_id", t.RunID),
		zap.String("stage", string(state)),
		zap.String("next", string(d.Next)),
		zap.Int("iteration", t.Iteration.Count),
		zap.Duration("duration", elapsed),
	)

	if o.metrics != nil {
		o.metrics.StageDone(string(state), elapsed)
		for _, r := range t.ToolRuns[runsBefore:] {
			o.metrics.ToolRun(string(r.RunType), string(r.Status))
		}
		if escalatedNow {
			o.metrics.Escalated(string(state))
		}
	}
	if o.events != nil {
		ev := Event{
			RunID:     t.RunID,
			Stage:     state,
			Next:      d.Next,
			Iteration: t.Iteration.Count,
			Escalated: t.Escalated(),
			Duration:  elapsed,
			At:        start.UTC(),
		}
		if escalatedNow {
			ev.Reason = t.HITL.Reason
		}
		if err := o.events.RecordEvent(ctx, ev); err != nil {
			o.logger.Warn("record event", zap.Error(err))
		}
	}
	if o.snapshots != nil {
		if err := o.snapshots.Snapshot(t); err != nil {
			o.logger.Warn("snapshot ticket", zap.Error(err))
		}
	}
	return d.Next
}

// execute runs the stage for state, converting a panic into an escalation.
func (o *Orchestrator) execute(ctx context.Context, t *ticket.Ticket, state State) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("stage panicked", zap.String("stage", string(state)), zap.Any("panic", r))
			t.Escalate(fmt.Sprintf("stage %s panicked: %v", state, r), nil)
		}
	}()
	switch state {
	case StateScan:
		o.stages.Scan(ctx, t)
	case StateIntake:
		o.stages.Intake(ctx, t)
	case StateVerify:
		o.stages.Verify(ctx, t)
	case StateSelect:
		o.stages.Select(ctx, t)
	case StateSynthesize:
		o.stages.Synthesize(ctx, t)
	case StateGate:
		o.stages.Gate(ctx, t)
	case StateReport:
		o.stages.Report(ctx, t)
	}
}

// apply is the only place routing mutates the ticket.
func (o *Orchestrator) apply(t *ticket.Ticket, d Decision) {
	if d.IncrementIteration {
		t.IncrementIteration()
	}
	if d.Escalate != "" {
		t.Escalate(d.Escalate, map[string]any{
			"iteration_count": t.Iteration.Count,
			"iteration_max":   t.Iteration.Max,
		})
	}
	if d.StopReason != "" && t.Iteration.StopReason == "" {
		t.Iteration.StopReason = d.StopReason
	}
	t.Iteration.NoopStreak = d.NoopStreak
	t.Iteration.LastRoute = string(d.Next)
}
