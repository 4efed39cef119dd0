// Package worktree gives a run its own git worktree so the caller's checkout is never edited.
package worktree

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// BranchPrefix namespaces the branches created for runs.
const BranchPrefix = "fixloop/"

// ErrNotRepo is returned when the target directory is not inside a git repository.
var ErrNotRepo = errors.New("not a git repository")

// GitRunner provides git commands. Interface for testing.
type GitRunner interface {
	Run(dir string, args ...string) (string, error)
}

// ExecGit implements GitRunner using exec.Command.
type ExecGit struct{}

func (g *ExecGit) Run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Manager creates and removes per-run worktrees under baseDir.
type Manager struct {
	git     GitRunner
	baseDir string
}

// NewManager creates a worktree manager.
func NewManager(git GitRunner, baseDir string) *Manager {
	return &Manager{git: git, baseDir: baseDir}
}

// DefaultBaseDir returns ~/.fixloop/worktrees.
func DefaultBaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".fixloop", "worktrees"), nil
}

// Worktree is a checkout created for one run.
type Worktree struct {
	// Path is the worktree root.
	Path string
	// Dir is where the run operates: Path plus the target's offset inside its repository.
	Dir    string
	Branch string
}

// Create adds a worktree for runID at HEAD of the repository containing target,
// on a new branch fixloop/<runID>. Uncommitted changes in target are not carried over.
func (m *Manager) Create(target, runID string) (*Worktree, error) {
	name := sanitize(runID)
	if name == "" {
		return nil, fmt.Errorf("invalid run id %q", runID)
	}

	top, err := m.git.Run(target, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRepo, target)
	}
	rel, err := filepath.Rel(top, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = "."
	}

	path := m.Path(runID)
	branch := BranchPrefix + name
	if _, err := m.git.Run(top, "worktree", "add", "-b", branch, path, "HEAD"); err != nil {
		return nil, fmt.Errorf("create worktree: %w", err)
	}

	return &Worktree{Path: path, Dir: filepath.Join(path, rel), Branch: branch}, nil
}

// Owns reports whether dir lies inside a worktree this manager created.
func (m *Manager) Owns(dir string) bool {
	rel, err := filepath.Rel(m.baseDir, dir)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// Remove force-removes the worktree for runID and deletes its fixloop/ branch.
func (m *Manager) Remove(runID string) error {
	path := m.Path(runID)

	common, err := m.git.Run(path, "rev-parse", "--path-format=absolute", "--git-common-dir")
	if err != nil {
		return fmt.Errorf("locate repository of %s: %w", path, err)
	}
	repo := filepath.Dir(common)

	branch, _ := m.git.Run(path, "rev-parse", "--abbrev-ref", "HEAD")

	if _, err := m.git.Run(repo, "worktree", "remove", "--force", path); err != nil {
		return fmt.Errorf("remove worktree: %w", err)
	}

	// never touch branches we did not create
	if strings.HasPrefix(branch, BranchPrefix) {
		if _, err := m.git.Run(repo, "branch", "-D", branch); err != nil {
			return fmt.Errorf("delete branch %q: %w", branch, err)
		}
	}
	return nil
}

// Path returns the worktree path for a run.
func (m *Manager) Path(runID string) string {
	return filepath.Join(m.baseDir, sanitize(runID))
}

var nonAlphaNum = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// sanitize makes a run id safe as both a directory and a branch name component.
func sanitize(name string) string {
	s := nonAlphaNum.ReplaceAllString(name, "-")
	s = strings.Trim(s, "-")
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}
