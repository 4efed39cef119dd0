package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/lucasnoah/fixloop/internal/ticket"
)

func executeCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer resetFlags(rootCmd)
	err := rootCmd.Execute()
	return buf.String(), err
}

// resetFlags restores every flag set by the last Execute, --help included,
// since rootCmd is shared across tests.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if f.Changed {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// testEnv writes a config file pointing all state into a temp dir and a small repo.
type testEnv struct {
	dir    string
	repo   string
	config string
}

func newTestEnv(t *testing.T, verifyCommand string, replies ...string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{dir: dir, repo: filepath.Join(dir, "repo"), config: filepath.Join(dir, "fixloop.yaml")}

	for name, content := range map[string]string{
		"src/calc.py":        "def add(a, b):\n    return a - b\n",
		"tests/test_calc.py": "from src.calc import add\n\ndef test_add():\n    assert add(1, 2) == 3\n",
	} {
		p := filepath.Join(env.repo, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	quoted := make([]string, len(replies))
	for i, r := range replies {
		quoted[i] = fmt.Sprintf("%q", r)
	}
	replay := filepath.Join(dir, "replay.json")
	if err := os.WriteFile(replay, []byte("["+strings.Join(quoted, ",")+"]"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := fmt.Sprintf(`run:
  max_iterations: 2
  timeout: 10s
  state_dir: %s
verification:
  command: %q
  parser: generic
oracle:
  provider: replay
  replay_file: %s
audit:
  dsn: %s
log:
  level: error
`, filepath.Join(dir, "runs"), verifyCommand, replay, filepath.Join(dir, "audit.db"))
	if err := os.WriteFile(env.config, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return env
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedSubcommands := []string{
		"run", "scan", "verify", "runs", "stats",
		"config", "db", "templates", "version",
	}
	for _, sub := range expectedSubcommands {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestRunsSubcommands(t *testing.T) {
	subcmds := []string{"list", "show", "delete"}
	for _, sub := range subcmds {
		out, err := executeCommand("runs", sub, "--help")
		if err != nil {
			t.Errorf("runs %s --help failed: %v", sub, err)
		}
		if out == "" {
			t.Errorf("runs %s --help produced no output", sub)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := executeCommand("nonexistent")
	if err == nil {
		t.Error("expected error for unknown command, got nil")
	}
}

func TestRunRequiresTask(t *testing.T) {
	env := newTestEnv(t, "true")
	_, err := executeCommand("run", "-c", env.config, "--repo", env.repo)
	if err == nil || !strings.Contains(err.Error(), "task") {
		t.Errorf("expected missing --task error, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	env := newTestEnv(t, "true")
	out, err := executeCommand("config", "validate", "-c", env.config)
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Configuration is valid") {
		t.Errorf("unexpected output: %s", out)
	}

	bad := filepath.Join(env.dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("run:\n  max_iterations: -1\noracle:\n  provider: nope\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err = executeCommand("config", "validate", "-c", bad)
	if err == nil {
		t.Fatal("expected validation failure")
	}
	for _, field := range []string{"run.max_iterations", "oracle.provider"} {
		if !strings.Contains(out, field) {
			t.Errorf("expected %s in output: %s", field, out)
		}
	}
}

func TestRun_PassingRepoSucceeds(t *testing.T) {
	env := newTestEnv(t, "true")
	out, err := executeCommand("run", "-c", env.config, "--repo", env.repo, "--task", "fix add",
		"--run-id", "run-pass", "--replay", "", "--format", "text", "--plain")
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, out)
	}
	if ExitCode(err) != ExitSuccess {
		t.Errorf("expected exit 0, got %d", ExitCode(err))
	}
	if !strings.Contains(out, "FINAL STATUS: success") || !strings.Contains(out, "[SUCCESS]") {
		t.Errorf("unexpected output:\n%s", out)
	}

	out, err = executeCommand("runs", "list", "-c", env.config, "--status", "", "--format", "text")
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	if !strings.Contains(out, "run-pass") {
		t.Errorf("expected run-pass listed, got:\n%s", out)
	}

	out, err = executeCommand("runs", "show", "run-pass", "-c", env.config, "--report", "--events=false", "--plain")
	if err != nil {
		t.Fatalf("runs show: %v", err)
	}
	if !strings.HasPrefix(out, "FINAL STATUS: success") {
		t.Errorf("expected stored report, got:\n%s", out)
	}

	out, err = executeCommand("stats", "-c", env.config, "--format", "text", "--since", "0s")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "OUTCOMES") || !strings.Contains(out, "success") {
		t.Errorf("unexpected stats output:\n%s", out)
	}
}

func TestRun_MalformedSuggestionsStopForReview(t *testing.T) {
	env := newTestEnv(t, "false", "not json", "still not json")
	out, err := executeCommand("run", "-c", env.config, "--repo", env.repo, "--task", "fix add",
		"--run-id", "run-review", "--replay", "", "--format", "text", "--plain")
	if got := ExitCode(err); got != ExitReview {
		t.Fatalf("expected exit %d, got %d (err %v)\n%s", ExitReview, got, err, out)
	}
	if !strings.Contains(out, "[STOPPED_FOR_REVIEW]") {
		t.Errorf("expected review badge, got:\n%s", out)
	}

	data, err := os.ReadFile(filepath.Join(env.repo, "src/calc.py"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "a - b") {
		t.Error("repository should be unchanged")
	}
}

func TestScanCommand(t *testing.T) {
	env := newTestEnv(t, "true")
	out, err := executeCommand("scan", "-c", env.config, "--repo", env.repo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "src/calc.py") {
		t.Errorf("expected repo map to list src/calc.py, got:\n%s", out)
	}
}

func TestVerifyCommand(t *testing.T) {
	env := newTestEnv(t, "true")
	if _, err := executeCommand("verify", "-c", env.config, "--repo", env.repo, "--command", "true"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := executeCommand("verify", "-c", env.config, "--repo", env.repo, "--command", "false")
	if ExitCode(err) != ExitFailed {
		t.Errorf("expected exit %d, got %v", ExitFailed, err)
	}
}

func TestVerifyCommand_AfterHelp(t *testing.T) {
	env := newTestEnv(t, "true")
	if _, err := executeCommand("verify", "--help"); err != nil {
		t.Fatalf("help: %v", err)
	}
	out, err := executeCommand("verify", "-c", env.config, "--repo", env.repo, "--command", "false")
	if ExitCode(err) != ExitFailed {
		t.Errorf("expected exit %d after an earlier --help, got %v\n%s", ExitFailed, err, out)
	}
}

func TestVerifyCommand_SubSecondTimeout(t *testing.T) {
	env := newTestEnv(t, "true")
	out, err := executeCommand("verify", "-c", env.config, "--repo", env.repo,
		"--command", "sleep 5", "--timeout", "500ms")
	if ExitCode(err) != ExitFailed {
		t.Fatalf("expected exit %d, got %v", ExitFailed, err)
	}
	if !strings.Contains(out, `"status": "timeout"`) {
		t.Errorf("expected a timed out run, got:\n%s", out)
	}
}

func TestTemplatesExport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "templates")
	out, err := executeCommand("templates", "export", dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Count(out, "wrote ") != 4 {
		t.Errorf("expected four templates written, got:\n%s", out)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitSuccess},
		{errors.New("boom"), ExitFailed},
		{&ExitError{Code: ExitReview}, ExitReview},
		{fmt.Errorf("wrapped: %w", &ExitError{Code: ExitReview}), ExitReview},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}

	if exitCodeFor(ticket.FinalSuccess) != ExitSuccess ||
		exitCodeFor(ticket.FinalFailed) != ExitFailed ||
		exitCodeFor(ticket.FinalStoppedForReview) != ExitReview {
		t.Error("unexpected final status mapping")
	}
}

func TestStatusBadgePlain(t *testing.T) {
	if got := statusBadge(ticket.FinalFailed, false); got != "[FAILED]" {
		t.Errorf("unexpected badge %q", got)
	}
}
