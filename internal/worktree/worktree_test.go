package worktree

import (
	"errors"
	"fmt"
	"testing"
)

type mockGit struct {
	calls   []gitCall
	results []mockResult
	idx     int
}

type gitCall struct {
	Dir  string
	Args []string
}

type mockResult struct {
	Output string
	Err    error
}

func (m *mockGit) Run(dir string, args ...string) (string, error) {
	m.calls = append(m.calls, gitCall{Dir: dir, Args: args})
	if m.idx >= len(m.results) {
		return "", nil
	}
	r := m.results[m.idx]
	m.idx++
	return r.Output, r.Err
}

func TestCreate_HappyPath(t *testing.T) {
	git := &mockGit{
		results: []mockResult{
			{Output: "/repo"}, // rev-parse --show-toplevel
			{Output: ""},      // worktree add
		},
	}

	mgr := NewManager(git, "/state/worktrees")
	wt, err := mgr.Create("/repo", "run-abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if wt.Path != "/state/worktrees/run-abc123" {
		t.Errorf("expected path /state/worktrees/run-abc123, got %q", wt.Path)
	}
	if wt.Dir != wt.Path {
		t.Errorf("expected dir to equal path, got %q", wt.Dir)
	}
	if wt.Branch != "fixloop/run-abc123" {
		t.Errorf("expected branch fixloop/run-abc123, got %q", wt.Branch)
	}

	if len(git.calls) != 2 {
		t.Fatalf("expected 2 git calls, got %d", len(git.calls))
	}
	assertArgs(t, git.calls[0].Args, "rev-parse", "--show-toplevel")
	call := git.calls[1]
	if call.Dir != "/repo" {
		t.Errorf("expected dir /repo, got %q", call.Dir)
	}
	assertArgs(t, call.Args, "worktree", "add", "-b", "fixloop/run-abc123", "/state/worktrees/run-abc123", "HEAD")
}

func TestCreate_Subdirectory(t *testing.T) {
	git := &mockGit{results: []mockResult{{Output: "/repo"}, {Output: ""}}}

	mgr := NewManager(git, "/state/worktrees")
	wt, err := mgr.Create("/repo/services/api", "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wt.Dir != "/state/worktrees/run-1/services/api" {
		t.Errorf("expected offset preserved, got %q", wt.Dir)
	}
	if git.calls[1].Dir != "/repo" {
		t.Errorf("worktree add should run at the repository root, got %q", git.calls[1].Dir)
	}
}

func TestCreate_NotARepo(t *testing.T) {
	git := &mockGit{results: []mockResult{{Err: fmt.Errorf("fatal: not a git repository")}}}

	mgr := NewManager(git, "/state/worktrees")
	_, err := mgr.Create("/tmp/plain", "run-1")
	if !errors.Is(err, ErrNotRepo) {
		t.Fatalf("expected ErrNotRepo, got %v", err)
	}
	if len(git.calls) != 1 {
		t.Errorf("expected no worktree add after failed rev-parse, got %d calls", len(git.calls))
	}
}

func TestCreate_AddError(t *testing.T) {
	git := &mockGit{
		results: []mockResult{
			{Output: "/repo"},
			{Err: fmt.Errorf("fatal: a branch named 'fixloop/run-1' already exists")},
		},
	}

	mgr := NewManager(git, "/state/worktrees")
	if _, err := mgr.Create("/repo", "run-1"); err == nil {
		t.Fatal("expected error")
	}
}

func TestCreate_InvalidRunID(t *testing.T) {
	git := &mockGit{}
	mgr := NewManager(git, "/state/worktrees")

	if _, err := mgr.Create("/repo", "../.."); err == nil {
		t.Fatal("expected error for run id with no safe characters")
	}
	if len(git.calls) != 0 {
		t.Errorf("expected no git calls, got %d", len(git.calls))
	}
}

func TestRemove_HappyPath(t *testing.T) {
	git := &mockGit{
		results: []mockResult{
			{Output: "/repo/.git"},         // rev-parse --git-common-dir
			{Output: "fixloop/run-abc123"}, // rev-parse --abbrev-ref HEAD
			{Output: ""},                   // worktree remove
			{Output: ""},                   // branch -D
		},
	}

	mgr := NewManager(git, "/state/worktrees")
	if err := mgr.Remove("run-abc123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(git.calls) != 4 {
		t.Fatalf("expected 4 git calls, got %d", len(git.calls))
	}
	if git.calls[0].Dir != "/state/worktrees/run-abc123" {
		t.Errorf("expected lookup inside the worktree, got %q", git.calls[0].Dir)
	}
	assertArgs(t, git.calls[2].Args, "worktree", "remove", "--force", "/state/worktrees/run-abc123")
	if git.calls[2].Dir != "/repo" {
		t.Errorf("expected remove from /repo, got %q", git.calls[2].Dir)
	}
	assertArgs(t, git.calls[3].Args, "branch", "-D", "fixloop/run-abc123")
}

func TestRemove_KeepsForeignBranch(t *testing.T) {
	git := &mockGit{
		results: []mockResult{
			{Output: "/repo/.git"},
			{Output: "main"},
			{Output: ""},
		},
	}

	mgr := NewManager(git, "/state/worktrees")
	if err := mgr.Remove("run-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(git.calls) != 3 {
		t.Errorf("expected no branch deletion, got %d calls", len(git.calls))
	}
}

func TestRemove_BranchDeleteError(t *testing.T) {
	git := &mockGit{
		results: []mockResult{
			{Output: "/repo/.git"},
			{Output: "fixloop/run-1"},
			{Output: ""},
			{Err: fmt.Errorf("branch locked")},
		},
	}

	mgr := NewManager(git, "/state/worktrees")
	if err := mgr.Remove("run-1"); err == nil {
		t.Fatal("expected error when branch deletion fails")
	}
}

func TestRemove_MissingWorktree(t *testing.T) {
	git := &mockGit{results: []mockResult{{Err: fmt.Errorf("cannot change to dir")}}}

	mgr := NewManager(git, "/state/worktrees")
	if err := mgr.Remove("run-1"); err == nil {
		t.Fatal("expected error")
	}
	if len(git.calls) != 1 {
		t.Errorf("expected to stop after lookup, got %d calls", len(git.calls))
	}
}

func TestOwns(t *testing.T) {
	mgr := NewManager(&mockGit{}, "/state/worktrees")
	tests := []struct {
		dir  string
		want bool
	}{
		{"/state/worktrees/run-1", true},
		{"/state/worktrees/run-1/services/api", true},
		{"/state/worktrees", false},
		{"/state/other", false},
		{"/repo", false},
	}
	for _, tt := range tests {
		if got := mgr.Owns(tt.dir); got != tt.want {
			t.Errorf("Owns(%q) = %v, want %v", tt.dir, got, tt.want)
		}
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"run-abc123", "run-abc123"},
		{"run/with spaces", "run-with-spaces"},
		{"../../etc", "etc"},
		{"---", ""},
	}
	for _, tt := range tests {
		if got := sanitize(tt.input); got != tt.want {
			t.Errorf("sanitize(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

// assertArgs verifies exact argument match (no substring false positives).
func assertArgs(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("args length mismatch: got %v, want %v", got, want)
		return
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("arg[%d] mismatch: got %q, want %q", i, got[i], want[i])
		}
	}
}
