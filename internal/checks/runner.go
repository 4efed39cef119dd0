package checks

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/lucasnoah/fixloop/internal/sandbox"
	"github.com/lucasnoah/fixloop/internal/ticket"
)

// MaxTail caps stdout_tail and stderr_tail in recorded runs.
const MaxTail = 20000

// DefaultTimeout applies when a check has no timeout configured.
const DefaultTimeout = 2 * time.Minute

// Exit codes the shell uses when it cannot run the command at all.
const (
	exitNotExecutable = 126
	exitNotFound      = 127
)

// CheckConfig mirrors config.Check with the fields the runner needs.
type CheckConfig struct {
	Name    string
	RunType ticket.RunType
	Command string
	Parser  string
	Timeout time.Duration
}

// Runner executes verification commands through a gateway and wraps the result into a ToolRun.
type Runner struct {
	gw      sandbox.Gateway
	parsers map[string]Parser
	logger  *zap.Logger
}

// NewRunner creates a Runner with the given gateway.
func NewRunner(gw sandbox.Gateway, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		gw:      gw,
		parsers: make(map[string]Parser),
		logger:  logger,
	}
	r.parsers["pytest"] = &PytestParser{}
	r.parsers["gotest"] = &GoTestParser{}
	r.parsers["vitest"] = &VitestParser{}
	r.parsers["eslint"] = &ESLintParser{}
	r.parsers["typescript"] = &TypeScriptParser{}
	r.parsers["prettier"] = &PrettierParser{}
	r.parsers["generic"] = &GenericParser{}
	return r
}

// ParserNames lists the registered parser names.
func ParserNames() []string {
	return []string{"pytest", "gotest", "vitest", "eslint", "typescript", "prettier", "generic"}
}

// Run executes a single check in dir and returns its audit record. It never fails:
// gateway problems are classified into the record's status.
func (r *Runner) Run(ctx context.Context, dir string, cfg CheckConfig) ticket.ToolRun {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runType := cfg.RunType
	if runType == "" {
		runType = ticket.RunTest
	}

	res := r.gw.Run(ctx, dir, cfg.Command, timeout)

	run := ticket.ToolRun{
		RunID:       ticket.NewID("tr"),
		RunType:     runType,
		Name:        cfg.Name,
		Command:     cfg.Command,
		Status:      res.Status,
		ExitCode:    res.ExitCode,
		DurationSec: res.Duration.Seconds(),
		StdoutTail:  Tail(res.Stdout, MaxTail),
		StderrTail:  Tail(res.Stderr, MaxTail),
	}

	switch {
	case res.Status == ticket.StatusTimeout:
		run.ExitCode = nil
		run.Summary = fmt.Sprintf("timeout after %s", timeout)
	case res.Status == ticket.StatusError:
		run.ExitCode = nil
		run.Summary = "could not run command"
		if res.Err != nil {
			run.Summary = res.Err.Error()
		}
	case res.ExitCode == nil:
		run.Status = ticket.StatusError
		run.Summary = "command finished without an exit code"
	case *res.ExitCode == exitNotFound || *res.ExitCode == exitNotExecutable:
		run.Status = ticket.StatusError
		run.Summary = fmt.Sprintf("command not runnable (shell exit %d)", *res.ExitCode)
		run.ExitCode = nil
	}

	if run.Status == ticket.StatusSuccess || run.Status == ticket.StatusFail {
		parsed := r.parse(cfg.Parser, res.Stdout, res.Stderr, *run.ExitCode)
		run.Summary = parsed.Summary
		run.FailuresParsed = parsed.Excerpts
	} else {
		run.FailuresParsed = ExtractExcerpts(res.Stdout + "\n" + res.Stderr)
	}
	if run.FailuresParsed == nil {
		run.FailuresParsed = []string{}
	}

	r.logger.Info("check finished",
		zap.String("check", cfg.Name),
		zap.String("run_type", string(run.RunType)),
		zap.String("status", string(run.Status)),
		zap.Float64("duration_sec", run.DurationSec),
		zap.Int("excerpts", len(run.FailuresParsed)),
	)
	return run
}

func (r *Runner) parse(name, stdout, stderr string, exitCode int) ParseResult {
	parser, ok := r.parsers[name]
	if !ok {
		parser = r.parsers["generic"]
	}
	parsed := parser.Parse(stdout, stderr, exitCode)
	if exitCode != 0 && len(parsed.Excerpts) == 0 {
		parsed.Excerpts = ExtractExcerpts(stdout + "\n" + stderr)
	}
	if len(parsed.Excerpts) > MaxExcerpts {
		parsed.Excerpts = parsed.Excerpts[:MaxExcerpts]
	}
	return parsed
}

// Tail keeps the last max bytes of s without splitting a UTF-8 sequence.
func Tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[len(s)-max:]
	for len(s) > 0 && !utf8.RuneStart(s[0]) {
		s = s[1:]
	}
	return s
}

func clip(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
