// Package stage implements the individual steps of a remediation run.
//
// Stages never return errors: every failure is recorded on the ticket as a ToolRun,
// a note, or an escalation, and routing decides what happens next.
package stage

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/lucasnoah/fixloop/internal/checks"
	appctx "github.com/lucasnoah/fixloop/internal/context"
	"github.com/lucasnoah/fixloop/internal/diagnose"
	"github.com/lucasnoah/fixloop/internal/oracle"
	"github.com/lucasnoah/fixloop/internal/policy"
	"github.com/lucasnoah/fixloop/internal/report"
	"github.com/lucasnoah/fixloop/internal/safety"
	"github.com/lucasnoah/fixloop/internal/scanner"
	"github.com/lucasnoah/fixloop/internal/ticket"
)

// ReasonCancelled is the escalation reason used when the run context ends.
const ReasonCancelled = "run cancelled"

// DefaultPatchConfidence applies when the oracle omits a confidence.
const DefaultPatchConfidence = 0.6

// RepoScanner produces the repository map.
type RepoScanner interface {
	Scan(ctx context.Context, root string) (*ticket.RepoMap, error)
}

// Files reads and writes repository files by relative path.
type Files interface {
	Read(root, rel string) (string, error)
	Write(root, rel, content string) error
}

// Options are the per-deployment stage settings.
type Options struct {
	// VerifyCommand overrides the framework default.
	VerifyCommand string
	// VerifyParser overrides the framework's failure parser.
	VerifyParser string
	// InstallCommand runs once during intake when set.
	InstallCommand string
	// Checks are advisory lint/typecheck commands run after each verification.
	Checks        []checks.CheckConfig
	SourceRoots   []string
	MaxCandidates int
	TemplatesDir  string
}

// Deps are the collaborators an Engine drives.
type Deps struct {
	Scanner RepoScanner
	Checks  *checks.Runner
	Oracle  oracle.Client
	Files   Files
	Policy  *policy.Policy
	Gate    *safety.Gate
	Logger  *zap.Logger
}

// Engine executes stages against a ticket.
type Engine struct {
	scanner   RepoScanner
	checker   *checks.Runner
	oracle    oracle.Client
	files     Files
	policy    *policy.Policy
	gate      *safety.Gate
	builder   *appctx.Builder
	diagnoser *diagnose.Extractor
	opts      Options
	logger    *zap.Logger
	progress  io.Writer // live progress output; nil = silent
}

// NewEngine creates a stage engine.
func NewEngine(d Deps, opts Options) *Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Policy == nil {
		d.Policy = policy.Default()
	}
	if d.Gate == nil {
		d.Gate = safety.New(d.Policy, nil, d.Logger)
	}
	return &Engine{
		scanner:   d.Scanner,
		checker:   d.Checks,
		oracle:    d.Oracle,
		files:     d.Files,
		policy:    d.Policy,
		gate:      d.Gate,
		builder:   appctx.NewBuilder(d.Files, d.Policy, opts.SourceRoots, opts.MaxCandidates),
		diagnoser: diagnose.New(d.Files, d.Policy, d.Logger),
		opts:      opts,
		logger:    d.Logger,
	}
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (e *Engine) SetProgress(w io.Writer) {
	e.progress = w
}

// logf prints a progress line if a progress writer is configured.
func (e *Engine) logf(format string, args ...interface{}) {
	if e.progress != nil {
		fmt.Fprintf(e.progress, "  → "+format+"\n", args...)
	}
}

// Scan records the repository map.
func (e *Engine) Scan(ctx context.Context, t *ticket.Ticket) {
	m, err := e.scanner.Scan(ctx, t.RepoRef)
	if err != nil {
		e.fail(ctx, t, "repository scan failed", err)
		return
	}
	if err := t.SetRepoMap(m); err != nil {
		e.logger.Warn("repo map already set", zap.String("run_id", t.RunID))
		return
	}
	e.logf("scanned %d files (framework: %s)", len(m.Files), orNone(m.TestFramework))
}

// frameworkDefaults maps a detected framework to its verification command and parser.
var frameworkDefaults = map[string]struct{ command, parser string }{
	scanner.FrameworkPytest: {"pytest -q", "pytest"},
	scanner.FrameworkGo:     {"go test ./...", "gotest"},
	scanner.FrameworkJest:   {"npx jest --ci", "generic"},
	scanner.FrameworkVitest: {"npx vitest run", "vitest"},
	scanner.FrameworkCargo:  {"cargo test", "generic"},
	scanner.FrameworkNPM:    {"npm test", "generic"},
}

// VerifyCommand resolves the verification command and parser for a repository.
// Without an override or a detected framework it falls back to pytest.
func VerifyCommand(m *ticket.RepoMap, override, parserOverride string) (command, parser string) {
	framework := ""
	if m != nil {
		framework = m.TestFramework
	}
	d, ok := frameworkDefaults[framework]
	if !ok {
		d = frameworkDefaults[scanner.FrameworkPytest]
	}
	command, parser = d.command, d.parser
	if override != "" && override != command {
		command = override
		if !ok {
			parser = "generic"
		}
	}
	if parserOverride != "" {
		parser = parserOverride
	}
	return command, parser
}

// Intake resolves the verification command and runs the optional install step.
func (e *Engine) Intake(ctx context.Context, t *ticket.Ticket) {
	command, _ := VerifyCommand(t.RepoMap, e.opts.VerifyCommand, e.opts.VerifyParser)
	t.SetVerifyCommand(command)
	t.AddAssumption(fmt.Sprintf("Use `%s` as the primary verification command.", t.VerifyCommand))
	if t.RepoMap == nil || t.RepoMap.TestFramework == "" {
		t.AddAssumption("No test framework detected; defaulted verification command.")
	}

	if e.opts.InstallCommand == "" {
		return
	}
	e.logf("installing dependencies: %s", e.opts.InstallCommand)
	run := e.checker.Run(ctx, t.RepoRef, checks.CheckConfig{
		Name:    "install",
		RunType: ticket.RunInstall,
		Command: e.opts.InstallCommand,
		Parser:  "generic",
		Timeout: t.Timeout(),
	})
	e.record(ctx, t, run)
	if run.Status != ticket.StatusSuccess {
		t.AddAssumption(fmt.Sprintf("Install command `%s` ended with status %s; continuing.", run.Command, run.Status))
	}
}

// Verify runs the test command once, then any advisory checks.
func (e *Engine) Verify(ctx context.Context, t *ticket.Ticket) {
	command, parser := VerifyCommand(t.RepoMap, t.VerifyCommand, e.opts.VerifyParser)
	e.logf("verifying: %s", command)
	run := e.checker.Run(ctx, t.RepoRef, checks.CheckConfig{
		Name:    "tests",
		RunType: ticket.RunTest,
		Command: command,
		Parser:  parser,
		Timeout: t.Timeout(),
	})
	if !e.record(ctx, t, run) {
		return
	}
	e.logf("verification %s (%d failures parsed)", run.Status, len(run.FailuresParsed))

	if len(e.opts.Checks) == 0 || ctx.Err() != nil {
		return
	}
	suite := e.checker.RunSuite(ctx, t.RepoRef, e.opts.Checks, false)
	for _, r := range suite.Runs {
		if !e.record(ctx, t, r) {
			return
		}
	}
	if !suite.Passed {
		e.logf("advisory checks failing: %v", suite.Failed)
	}
}

// Gate evaluates the cumulative change set.
func (e *Engine) Gate(ctx context.Context, t *ticket.Ticket) {
	e.gate.Evaluate(t)
	if !t.SafetyOK {
		e.logf("safety gate triggered: %v", t.RiskFlags)
	}
}

// Report derives the final status and renders the report. It finalizes the ticket once.
func (e *Engine) Report(ctx context.Context, t *ticket.Ticket) {
	if t.FinalStatus != nil {
		return
	}
	status := report.DeriveStatus(t)
	if err := t.Finalize(status, report.Render(t, status)); err != nil {
		e.logger.Error("finalize ticket", zap.Error(err))
		return
	}
	e.logf("final status: %s", status)
}

// record appends a ToolRun, escalating when the ledger rejects it.
func (e *Engine) record(ctx context.Context, t *ticket.Ticket, run ticket.ToolRun) bool {
	if err := t.AppendToolRun(run); err != nil {
		e.fail(ctx, t, "record tool run", err)
		return false
	}
	return true
}

// fail escalates with reason and err, preferring the cancellation reason when ctx is done.
func (e *Engine) fail(ctx context.Context, t *ticket.Ticket, reason string, err error) {
	if ctx.Err() != nil {
		t.Escalate(ReasonCancelled, nil)
		return
	}
	msg := reason
	if err != nil {
		msg = fmt.Sprintf("%s: %v", reason, err)
	}
	e.logger.Warn("escalating", zap.String("run_id", t.RunID), zap.String("reason", msg))
	t.Escalate(msg, nil)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
