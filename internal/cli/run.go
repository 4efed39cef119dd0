package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucasnoah/fixloop/internal/config"
	"github.com/lucasnoah/fixloop/internal/metrics"
	"github.com/lucasnoah/fixloop/internal/oracle"
	"github.com/lucasnoah/fixloop/internal/orchestrator"
	"github.com/lucasnoah/fixloop/internal/sandbox"
	"github.com/lucasnoah/fixloop/internal/telemetry"
	"github.com/lucasnoah/fixloop/internal/ticket"
	"github.com/lucasnoah/fixloop/internal/worktree"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the remediation loop against a repository",
	Long: `Scan the repository, run its tests, and while they fail ask the suggestion
model for a minimal fix. The run ends with a report and one of three statuses:

  success             tests pass (exit 0)
  failed              tests still fail and nothing needs review (exit 1)
  stopped_for_review  the run escalated to a human (exit 2)`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	repo, _ := cmd.Flags().GetString("repo")
	task, _ := cmd.Flags().GetString("task")
	taskType, _ := cmd.Flags().GetString("task-type")
	priority, _ := cmd.Flags().GetString("priority")
	maxIter, _ := cmd.Flags().GetInt("max-iterations")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	runID, _ := cmd.Flags().GetString("run-id")
	replay, _ := cmd.Flags().GetString("replay")
	plain, _ := cmd.Flags().GetBool("plain")
	format, _ := cmd.Flags().GetString("format")
	useWorktree, _ := cmd.Flags().GetBool("worktree")

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if maxIter > 0 {
		a.cfg.Run.MaxIterations = maxIter
	}
	if timeout > 0 {
		a.cfg.Run.Timeout = config.Duration(timeout)
	}
	if replay != "" {
		a.cfg.Oracle.Provider = oracle.ProviderReplay
		a.cfg.Oracle.ReplayFile = replay
	}
	if errs := config.Validate(a.cfg); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}

	root, err := filepath.Abs(repo)
	if err != nil {
		return fmt.Errorf("resolve repo: %w", err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return fmt.Errorf("repo %s is not a directory", root)
	}

	if runID == "" {
		runID = ticket.NewID("run")
	}
	var wt *worktree.Worktree
	if useWorktree {
		mgr, err := a.worktrees()
		if err != nil {
			return err
		}
		if wt, err = mgr.Create(root, runID); err != nil {
			return err
		}
		root = wt.Dir
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		StdoutTrace: a.cfg.Telemetry.StdoutTrace,
		Writer:      cmd.ErrOrStderr(),
		Version:     version,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			a.logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	client, err := oracle.New(a.cfg.OracleSettings(), a.logger)
	if err != nil {
		return err
	}

	store, err := a.store()
	if err != nil {
		return err
	}
	audit := a.auditOrNil()
	if audit != nil {
		defer audit.Close()
	}

	engine := a.engine(sandbox.NewShell(a.logger), client)
	if format != "json" {
		engine.SetProgress(cmd.ErrOrStderr())
	}

	t := ticket.New(ticket.Params{
		RunID:         runID,
		RepoRef:       root,
		TaskPrompt:    task,
		TaskType:      taskType,
		Priority:      priority,
		TimeoutSec:    a.cfg.TimeoutSec(),
		MaxIterations: a.cfg.Run.MaxIterations,
	})
	if wt != nil {
		t.AddAssumption(fmt.Sprintf("Working in worktree `%s` on branch `%s`; the original checkout is untouched.", wt.Path, wt.Branch))
	}

	m := metrics.New()
	opts := orchestrator.Options{
		NoopLimit: a.cfg.NoopLimit(),
		Snapshots: &snapshotter{ctx: context.WithoutCancel(ctx), store: store, audit: audit},
		Metrics:   m,
		Logger:    a.logger,
	}
	if audit != nil {
		opts.Events = audit
	}

	res := orchestrator.New(engine, opts).Run(ctx, t)

	if path := a.cfg.Metrics.Textfile; path != "" {
		if err := m.WriteTextfile(path); err != nil {
			a.logger.Warn("write metrics textfile", zap.String("path", path), zap.Error(err))
		}
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	} else {
		if err := renderMarkdown(out, t.FinalReport, plain); err != nil {
			return err
		}
		color := !plain && isTerminal(out)
		fmt.Fprintf(out, "\n%s run %s: %d iteration(s), %d step(s) in %s\n",
			statusBadge(res.Status, color), res.RunID, res.Iterations, res.Steps, res.Duration.Round(time.Millisecond))
		if res.Reason != "" {
			fmt.Fprintf(out, "reason: %s\n", res.Reason)
		}
		fmt.Fprintf(out, "state: %s\n", filepath.Join(store.BaseDir(), res.RunID))
		if wt != nil {
			fmt.Fprintf(out, "worktree: %s (branch %s)\n", wt.Path, wt.Branch)
		}
	}

	if code := exitCodeFor(res.Status); code != ExitSuccess {
		return &ExitError{Code: code}
	}
	return nil
}

func init() {
	runCmd.Flags().String("repo", ".", "repository to remediate")
	runCmd.Flags().String("task", "", "task description passed to the suggestion model")
	runCmd.Flags().String("task-type", "bugfix", "task type recorded on the ticket")
	runCmd.Flags().String("priority", "standard", "priority recorded on the ticket")
	runCmd.Flags().Int("max-iterations", 0, "maximum failed verifications before stopping (default from config)")
	runCmd.Flags().Duration("timeout", 0, "per-command timeout (default from config)")
	runCmd.Flags().String("run-id", "", "run identifier (default: generated)")
	runCmd.Flags().String("replay", "", "answer oracle requests from a JSON array of canned responses")
	runCmd.Flags().Bool("worktree", false, "run in a new git worktree at HEAD instead of editing the checkout")
	runCmd.Flags().Bool("plain", false, "print the report as plain markdown")
	runCmd.Flags().String("format", "text", "output format (text, json)")
	_ = runCmd.MarkFlagRequired("task")
}
