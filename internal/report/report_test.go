package report

import (
	"strings"
	"testing"

	"github.com/lucasnoah/fixloop/internal/ticket"
)

func newTicket(t *testing.T) *ticket.Ticket {
	t.Helper()
	return ticket.New(ticket.Params{RunID: "run-1", RepoRef: "/repo", TaskPrompt: "fix rounding", MaxIterations: 5})
}

func addTest(t *testing.T, tk *ticket.Ticket, code int) {
	t.Helper()
	r := ticket.ToolRun{RunType: ticket.RunTest, Command: "pytest -q", ExitCode: ticket.IntPtr(code)}
	if code == 0 {
		r.Status = ticket.StatusSuccess
	} else {
		r.Status = ticket.StatusFail
		r.FailuresParsed = []string{"FAILED tests/test_pricing.py::test_round - assert 1 == 2\nmore detail"}
	}
	if err := tk.AppendToolRun(r); err != nil {
		t.Fatal(err)
	}
}

func TestDeriveStatus(t *testing.T) {
	tk := newTicket(t)
	if got := DeriveStatus(tk); got != ticket.FinalFailed {
		t.Errorf("no test run: expected failed, got %s", got)
	}

	addTest(t, tk, 1)
	if got := DeriveStatus(tk); got != ticket.FinalFailed {
		t.Errorf("expected failed, got %s", got)
	}

	addTest(t, tk, 0)
	if got := DeriveStatus(tk); got != ticket.FinalSuccess {
		t.Errorf("expected success, got %s", got)
	}

	tk.Escalate("max iterations reached", nil)
	if got := DeriveStatus(tk); got != ticket.FinalStoppedForReview {
		t.Errorf("escalation must win, got %s", got)
	}
}

func TestDeriveStatus_TimeoutIsFailed(t *testing.T) {
	tk := newTicket(t)
	if err := tk.AppendToolRun(ticket.ToolRun{RunType: ticket.RunTest, Command: "pytest -q", Status: ticket.StatusTimeout}); err != nil {
		t.Fatal(err)
	}
	if got := DeriveStatus(tk); got != ticket.FinalFailed {
		t.Errorf("expected failed, got %s", got)
	}
}

func TestRender_Sections(t *testing.T) {
	tk := newTicket(t)
	addTest(t, tk, 1)
	if err := tk.AppendHypothesis(ticket.Hypothesis{
		Summary:    "Failure traced to round_price",
		Confidence: 0.8,
		Locations:  []ticket.CodeLocation{{Path: "src/pricing.py", StartLine: 3, EndLine: 9, Symbol: "round_price"}},
	}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := tk.AppendPatch(ticket.Patch{
			Summary:      "patch",
			DiffUnified:  "--- a/src/pricing.py\n+++ b/src/pricing.py\n@@ -1 +1 @@\n-x\n+" + strings.Repeat("y", 4000) + "\n",
			FilesTouched: []string{"src/pricing.py"},
			Confidence:   0.6,
		}); err != nil {
			t.Fatal(err)
		}
	}
	tk.AddOpenQuestion("Selection rationale: traceback")
	tk.Escalate("max iterations reached", nil)
	tk.AddRiskFlag(ticket.RiskSensitiveFile)
	tk.SafetyOK = false

	out := Render(tk, DeriveStatus(tk))
	for _, want := range []string{
		"FINAL STATUS: stopped_for_review",
		"- HITL required: max iterations reached",
		"**Task:** fix rounding",
		"## Diagnosis",
		"`src/pricing.py` lines 3-9 (`round_price`)",
		"## Patch",
		"1 earlier patches omitted",
		"## Verification",
		"exit_code=1",
		"FAILED tests/test_pricing.py::test_round - assert 1 == 2",
		"Safety gate triggered",
		"Risk flag: `sensitive_file_touched`",
		"## Open Questions",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q", want)
		}
	}
	if strings.Contains(out, "more detail") {
		t.Error("failure excerpts should show only their first line")
	}
	if strings.Count(out, "```diff") != 2 {
		t.Errorf("expected the last 2 patches, got %d", strings.Count(out, "```diff"))
	}
	if strings.Contains(out, strings.Repeat("y", MaxDiffChars)) {
		t.Error("diff was not truncated")
	}
}

func TestRender_NoTests(t *testing.T) {
	out := Render(newTicket(t), ticket.FinalFailed)
	if !strings.Contains(out, "Tests were not executed.") {
		t.Errorf("unexpected report:\n%s", out)
	}
	if !strings.Contains(out, "No safety flags triggered") {
		t.Errorf("unexpected report:\n%s", out)
	}
}

func TestRender_AdvisoryChecks(t *testing.T) {
	tk := newTicket(t)
	addTest(t, tk, 0)
	for _, code := range []int{1, 0} {
		status := ticket.StatusFail
		if code == 0 {
			status = ticket.StatusSuccess
		}
		if err := tk.AppendToolRun(ticket.ToolRun{RunType: ticket.RunLint, Name: "ruff", Command: "ruff check .", Status: status, ExitCode: ticket.IntPtr(code)}); err != nil {
			t.Fatal(err)
		}
	}
	out := Render(tk, DeriveStatus(tk))
	if !strings.Contains(out, "- ruff (`ruff check .`): `success`") {
		t.Errorf("expected latest advisory run, got:\n%s", out)
	}
	if strings.Count(out, "ruff check .") != 1 {
		t.Error("expected one line per check")
	}
}
