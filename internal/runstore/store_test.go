package runstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lucasnoah/fixloop/internal/ticket"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func newTicket(runID string) *ticket.Ticket {
	return ticket.New(ticket.Params{RunID: runID, RepoRef: "/repo", TaskPrompt: "fix", TimeoutSec: 30, MaxIterations: 5})
}

func TestSnapshotAndGet(t *testing.T) {
	s := newTestStore(t)
	tk := newTicket("run-a")
	tk.IncrementIteration()
	tk.SetSelectedFiles([]string{"src/calc.py"})

	if err := s.Snapshot(tk); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	got, err := s.Get("run-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Iteration.Count != 1 {
		t.Errorf("Iteration.Count = %d, want 1", got.Iteration.Count)
	}
	if len(got.SelectedFiles) != 1 || got.SelectedFiles[0] != "src/calc.py" {
		t.Errorf("SelectedFiles = %v", got.SelectedFiles)
	}

	// no report until the run is final
	if _, err := os.Stat(filepath.Join(s.BaseDir(), "run-a", reportFile)); !os.IsNotExist(err) {
		t.Errorf("report.md should not exist yet, stat err = %v", err)
	}
	if _, err := s.Report("run-a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Report err = %v, want ErrNotFound", err)
	}
}

func TestSnapshotWritesReportWhenFinal(t *testing.T) {
	s := newTestStore(t)
	tk := newTicket("run-b")
	if err := tk.Finalize(ticket.FinalSuccess, "FINAL STATUS: success\n"); err != nil {
		t.Fatal(err)
	}
	if err := s.Snapshot(tk); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	report, err := s.Report("run-b")
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if report != "FINAL STATUS: success\n" {
		t.Errorf("Report = %q", report)
	}
}

func TestSnapshotOverwrites(t *testing.T) {
	s := newTestStore(t)
	tk := newTicket("run-c")
	for i := 0; i < 3; i++ {
		tk.IncrementIteration()
		if err := s.Snapshot(tk); err != nil {
			t.Fatalf("Snapshot %d: %v", i, err)
		}
	}
	got, err := s.Get("run-c")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Iteration.Count != 3 {
		t.Errorf("Iteration.Count = %d, want 3", got.Iteration.Count)
	}
	entries, err := os.ReadDir(filepath.Join(s.BaseDir(), "run-c"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only ticket.json, got %d entries", len(entries))
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get err = %v, want ErrNotFound", err)
	}
}

func TestInvalidRunID(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"", "..", "../escape", `a\b`} {
		if _, err := s.Get(id); err == nil || errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%q) err = %v, want invalid id error", id, err)
		}
	}
	tk := newTicket("x")
	tk.RunID = "../../etc"
	if err := s.Snapshot(tk); err == nil {
		t.Error("expected Snapshot to reject a traversing run id")
	}
}

func TestList(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	done := newTicket("run-old")
	done.CreatedAt = base
	done.Escalate("max iterations reached", nil)
	if err := done.Finalize(ticket.FinalStoppedForReview, "r"); err != nil {
		t.Fatal(err)
	}
	live := newTicket("run-new")
	live.CreatedAt = base.Add(time.Hour)
	for _, tk := range []*ticket.Ticket{done, live} {
		if err := s.Snapshot(tk); err != nil {
			t.Fatal(err)
		}
	}
	// stray entries are skipped
	if err := os.MkdirAll(filepath.Join(s.BaseDir(), "broken"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.BaseDir(), "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	runs, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("List returned %d runs, want 2", len(runs))
	}
	if runs[0].RunID != "run-new" || runs[0].Status != StatusRunning {
		t.Errorf("runs[0] = %+v, want newest running run first", runs[0])
	}
	if runs[1].Reason != "max iterations reached" {
		t.Errorf("runs[1].Reason = %q", runs[1].Reason)
	}

	runs, err = s.List(string(ticket.FinalStoppedForReview))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "run-old" {
		t.Errorf("filtered List = %+v", runs)
	}
}

func TestListMissingBaseDir(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nope"))
	runs, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected no runs, got %d", len(runs))
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	if err := s.Snapshot(newTicket("run-d")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("run-d"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("run-d"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete err = %v", err)
	}
	if err := s.Delete("run-d"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete err = %v, want ErrNotFound", err)
	}
}
