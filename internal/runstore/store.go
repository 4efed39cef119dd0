// Package runstore persists tickets and reports under ~/.fixloop/runs/<run_id>/.
package runstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lucasnoah/fixloop/internal/fsutil"
	"github.com/lucasnoah/fixloop/internal/ticket"
)

const (
	ticketFile = "ticket.json"
	reportFile = "report.md"
)

// ErrNotFound is returned when a run has no stored ticket.
var ErrNotFound = errors.New("run not found")

// Store manages run state on disk.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.fixloop/runs, creating the directory if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".fixloop", "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) runDir(runID string) (string, error) {
	if runID == "" || runID == "." || runID == ".." || strings.ContainsAny(runID, `/\`) {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	return filepath.Join(s.baseDir, runID), nil
}

// Snapshot writes the ticket, and the report once the run is final.
func (s *Store) Snapshot(t *ticket.Ticket) error {
	dir, err := s.runDir(t.RunID)
	if err != nil {
		return err
	}
	if err := fsutil.WriteJSON(filepath.Join(dir, ticketFile), t); err != nil {
		return fmt.Errorf("write %s: %w", ticketFile, err)
	}
	if t.FinalReport == "" {
		return nil
	}
	if err := fsutil.WriteAtomic(filepath.Join(dir, reportFile), []byte(t.FinalReport), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", reportFile, err)
	}
	return nil
}

// Get reads the stored ticket for a run.
func (s *Store) Get(runID string) (*ticket.Ticket, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}
	var t ticket.Ticket
	if err := fsutil.ReadJSON(filepath.Join(dir, ticketFile), &t); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, err
	}
	return &t, nil
}

// Report returns the rendered report of a finished run.
func (s *Store) Report(runID string) (string, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(dir, reportFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: no report for %s", ErrNotFound, runID)
		}
		return "", err
	}
	return string(data), nil
}

// Summary is the listing view of a stored run.
type Summary struct {
	RunID      string    `json:"run_id"`
	Repo       string    `json:"repo"`
	Status     string    `json:"status"`
	Iterations int       `json:"iterations"`
	Max        int       `json:"max_iterations"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// StatusRunning labels runs without a final status.
const StatusRunning = "running"

// List returns stored runs, newest first, optionally filtered by status.
// Pass "" for statusFilter to return all runs.
func (s *Store) List(statusFilter string) ([]Summary, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var runs []Summary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		t, err := s.Get(entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		sum := Summary{
			RunID:      t.RunID,
			Repo:       t.RepoRef,
			Status:     string(t.Final()),
			Iterations: t.Iteration.Count,
			Max:        t.Iteration.Max,
			Reason:     t.HITL.Reason,
			CreatedAt:  t.CreatedAt,
		}
		if sum.Status == "" {
			sum.Status = StatusRunning
		}
		if statusFilter == "" || sum.Status == statusFilter {
			runs = append(runs, sum)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].RunID < runs[j].RunID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs, nil
}

// Delete removes a run's directory.
func (s *Store) Delete(runID string) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return err
	}
	return os.RemoveAll(dir)
}
