package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/fixloop/internal/checks"
	"github.com/lucasnoah/fixloop/internal/oracle"
	"github.com/lucasnoah/fixloop/internal/patch"
	"github.com/lucasnoah/fixloop/internal/policy"
	"github.com/lucasnoah/fixloop/internal/sandbox"
	"github.com/lucasnoah/fixloop/internal/scanner"
	"github.com/lucasnoah/fixloop/internal/stage"
	"github.com/lucasnoah/fixloop/internal/ticket"
)

const (
	brokenCalc = "def add(a, b):\n    return a - b\n"
	fixedCalc  = "def add(a, b):\n    return a + b\n"
	// the "test suite" passes once the source contains the fix
	grepVerify = `grep -q "a + b" src/calc.py`
)

// writeRepo lays out a small python project in a temp dir.
func writeRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"src/calc.py":        brokenCalc,
		"tests/test_calc.py": "from calc import add\n\n\ndef test_add():\n    assert add(1, 2) == 3\n",
		"README.md":          "# calc\n",
	}
	for rel, content := range files {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func selection(files ...string) string {
	data, _ := json.Marshal(map[string]any{"files": files, "confidence": 0.8, "rationale": "add is wrong"})
	return string(data)
}

func updates(path, content string) string {
	data, _ := json.Marshal(map[string]any{
		"updates":    []map[string]string{{"path": path, "content": content}},
		"summary":    "Fix add",
		"confidence": 0.7,
	})
	return string(data)
}

func runEndToEnd(t *testing.T, root string, max int, responses ...string) (*ticket.Ticket, *Result, *oracle.Replay) {
	t.Helper()
	replay := oracle.NewReplay(responses...)
	engine := stage.NewEngine(stage.Deps{
		Scanner: scanner.New(nil),
		Checks:  checks.NewRunner(sandbox.NewShell(nil), nil),
		Oracle:  replay,
		Files:   patch.Files{},
		Policy:  policy.Default(),
	}, stage.Options{VerifyCommand: grepVerify, VerifyParser: "generic"})

	tk := ticket.New(ticket.Params{RepoRef: root, TaskPrompt: "fix add", TimeoutSec: 30, MaxIterations: max})
	res := New(engine, Options{NoopLimit: 2}).Run(context.Background(), tk)
	return tk, res, replay
}

func TestEndToEnd_FixInOneIteration(t *testing.T) {
	root := writeRepo(t)
	tk, res, _ := runEndToEnd(t, root, 5, selection("src/calc.py"), updates("src/calc.py", fixedCalc))

	require.Equal(t, ticket.FinalSuccess, res.Status, "hitl: %s", tk.HITL.Reason)
	assert.Equal(t, 1, tk.Iteration.Count)
	assert.Equal(t, 2, tk.CountRuns(ticket.RunTest))
	assert.Equal(t, []string{"src/calc.py"}, tk.SelectedFiles)
	require.Len(t, tk.Patches, 1)
	assert.Contains(t, tk.Patches[0].DiffUnified, "+    return a + b")
	assert.True(t, tk.SafetyOK)

	data, err := os.ReadFile(filepath.Join(root, "src/calc.py"))
	require.NoError(t, err)
	assert.Equal(t, fixedCalc, string(data))

	assert.True(t, strings.HasPrefix(tk.FinalReport, "FINAL STATUS: success"))
}

func TestEndToEnd_MalformedSelectionStopsForReview(t *testing.T) {
	root := writeRepo(t)
	tk, res, replay := runEndToEnd(t, root, 5, "not json", "still not json")

	assert.Equal(t, ticket.FinalStoppedForReview, res.Status)
	assert.True(t, strings.HasPrefix(tk.HITL.Reason, "file selection returned invalid output"), tk.HITL.Reason)
	assert.Empty(t, tk.SelectedFiles)
	assert.Empty(t, tk.Patches)
	assert.Equal(t, 1, tk.CountRuns(ticket.RunTest))
	assert.Len(t, replay.Requests(), 2)

	data, err := os.ReadFile(filepath.Join(root, "src/calc.py"))
	require.NoError(t, err)
	assert.Equal(t, brokenCalc, string(data))
}

func TestEndToEnd_WrongFixExhaustsIterations(t *testing.T) {
	root := writeRepo(t)
	wrong := "def add(a, b):\n    return a * b\n"
	tk, res, _ := runEndToEnd(t, root, 2, selection("src/calc.py"), updates("src/calc.py", wrong))

	assert.Equal(t, ticket.FinalStoppedForReview, res.Status)
	assert.Equal(t, ReasonMaxIterations, tk.HITL.Reason)
	assert.Equal(t, 2, tk.Iteration.Count)
	assert.Equal(t, 2, tk.CountRuns(ticket.RunTest))
	require.Len(t, tk.Patches, 1)
	assert.Contains(t, tk.FinalReport, "**Iterations used:** 2 of 2")
}

func TestEndToEnd_TestFileSelectionRejected(t *testing.T) {
	root := writeRepo(t)
	tk, res, _ := runEndToEnd(t, root, 5, selection("tests/test_calc.py"))

	assert.Equal(t, ticket.FinalStoppedForReview, res.Status)
	assert.Equal(t, "file selection produced no allowed files", tk.HITL.Reason)
	assert.Empty(t, tk.Patches)
}
