package ticket

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAlreadyFinal      = errors.New("ticket already finalized")
	ErrRepoMapSet        = errors.New("repo map already set")
	ErrInvalidPatch      = errors.New("invalid patch")
	ErrInvalidRun        = errors.New("invalid tool run")
	ErrInvalidHypothesis = errors.New("invalid hypothesis")
)

// Params holds the immutable inputs of a run.
type Params struct {
	RunID         string
	RepoRef       string
	TaskPrompt    string
	TaskType      string
	Priority      string
	TimeoutSec    int
	MaxIterations int
}

// New creates a ticket with empty collections and no escalation.
func New(p Params) *Ticket {
	if p.RunID == "" {
		p.RunID = NewID("run")
	}
	if p.TaskType == "" {
		p.TaskType = "bugfix"
	}
	if p.Priority == "" {
		p.Priority = "standard"
	}
	return &Ticket{
		RunID:         p.RunID,
		RepoRef:       p.RepoRef,
		TaskPrompt:    p.TaskPrompt,
		TaskType:      p.TaskType,
		Priority:      p.Priority,
		TimeoutSec:    p.TimeoutSec,
		CreatedAt:     time.Now().UTC(),
		Assumptions:   []string{},
		OpenQuestions: []string{},
		CodeLocations: []CodeLocation{},
		Hypotheses:    []Hypothesis{},
		Patches:       []Patch{},
		ToolRuns:      []ToolRun{},
		SelectedFiles: []string{},
		RiskFlags:     []string{},
		SafetyOK:      true,
		Iteration:     Iteration{Max: p.MaxIterations},
	}
}

// NewID returns a short random identifier with the given prefix.
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}

// Timeout returns the per-command timeout.
func (t *Ticket) Timeout() time.Duration {
	return time.Duration(t.TimeoutSec) * time.Second
}

// SetRepoMap records the scan result. It may be called only once.
func (t *Ticket) SetRepoMap(m *RepoMap) error {
	if t.RepoMap != nil {
		return ErrRepoMapSet
	}
	t.RepoMap = m
	return nil
}

// SetVerifyCommand records the resolved verification command.
func (t *Ticket) SetVerifyCommand(cmd string) {
	if t.VerifyCommand == "" {
		t.VerifyCommand = cmd
	}
}

func (t *Ticket) AddAssumption(s string) {
	t.Assumptions = append(t.Assumptions, s)
}

func (t *Ticket) AddOpenQuestion(s string) {
	t.OpenQuestions = append(t.OpenQuestions, s)
}

// AppendToolRun adds a run to the audit log after checking the status/exit code pairing.
func (t *Ticket) AppendToolRun(r ToolRun) error {
	switch r.Status {
	case StatusSuccess:
		if r.ExitCode == nil || *r.ExitCode != 0 {
			return fmt.Errorf("%w: success requires exit code 0", ErrInvalidRun)
		}
	case StatusFail:
		if r.ExitCode == nil || *r.ExitCode == 0 {
			return fmt.Errorf("%w: fail requires a non-zero exit code", ErrInvalidRun)
		}
	case StatusTimeout, StatusError:
		if r.ExitCode != nil {
			return fmt.Errorf("%w: %s must not carry an exit code", ErrInvalidRun, r.Status)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRun, r.Status)
	}
	if r.RunID == "" {
		r.RunID = NewID("tr")
	}
	if r.FailuresParsed == nil {
		r.FailuresParsed = []string{}
	}
	t.ToolRuns = append(t.ToolRuns, r)
	return nil
}

// AppendHypothesis records a diagnosis.
func (t *Ticket) AppendHypothesis(h Hypothesis) error {
	if h.Confidence < 0 || h.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.2f out of range", ErrInvalidHypothesis, h.Confidence)
	}
	for _, loc := range h.Locations {
		if loc.StartLine > loc.EndLine {
			return fmt.Errorf("%w: %s start line %d after end line %d", ErrInvalidHypothesis, loc.Path, loc.StartLine, loc.EndLine)
		}
	}
	if h.ID == "" {
		h.ID = NewID("h")
	}
	t.Hypotheses = append(t.Hypotheses, h)
	t.CodeLocations = append(t.CodeLocations, h.Locations...)
	return nil
}

// AppendPatch records an applied change.
func (t *Ticket) AppendPatch(p Patch) error {
	if len(p.FilesTouched) == 0 {
		return fmt.Errorf("%w: files_touched is empty", ErrInvalidPatch)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.2f out of range", ErrInvalidPatch, p.Confidence)
	}
	if p.PatchID == "" {
		p.PatchID = NewID("p")
	}
	t.Patches = append(t.Patches, p)
	t.Quality.OverallConfidence = p.Confidence
	return nil
}

// SetSelectedFiles overwrites the current selection.
func (t *Ticket) SetSelectedFiles(files []string) {
	t.SelectedFiles = append([]string{}, files...)
}

// AddRiskFlag adds a flag, keeping the set sorted and unique.
func (t *Ticket) AddRiskFlag(flag string) {
	for _, f := range t.RiskFlags {
		if f == flag {
			return
		}
	}
	t.RiskFlags = append(t.RiskFlags, flag)
	sort.Strings(t.RiskFlags)
}

// Escalate requires human review. The first reason wins; later calls only merge payload keys.
func (t *Ticket) Escalate(reason string, payload map[string]any) {
	if !t.HITL.Required {
		t.HITL.Required = true
		t.HITL.Reason = reason
	}
	if len(payload) == 0 {
		return
	}
	if t.HITL.Payload == nil {
		t.HITL.Payload = make(map[string]any, len(payload))
	}
	for k, v := range payload {
		if _, ok := t.HITL.Payload[k]; !ok {
			t.HITL.Payload[k] = v
		}
	}
}

// Escalated reports whether the run is stopped for review.
func (t *Ticket) Escalated() bool {
	return t.HITL.Required
}

// IncrementIteration consumes one iteration after a failed verification.
func (t *Ticket) IncrementIteration() int {
	t.Iteration.Count++
	return t.Iteration.Count
}

// Finalize sets the terminal status and report. It may be called only once.
func (t *Ticket) Finalize(status FinalStatus, report string) error {
	if t.FinalStatus != nil {
		return ErrAlreadyFinal
	}
	s := status
	t.FinalStatus = &s
	t.FinalReport = report
	return nil
}

// Final returns the terminal status or "" while the run is in progress.
func (t *Ticket) Final() FinalStatus {
	if t.FinalStatus == nil {
		return ""
	}
	return *t.FinalStatus
}

// LastRun returns the most recent run of the given type.
func (t *Ticket) LastRun(rt RunType) (ToolRun, bool) {
	for i := len(t.ToolRuns) - 1; i >= 0; i-- {
		if t.ToolRuns[i].RunType == rt {
			return t.ToolRuns[i], true
		}
	}
	return ToolRun{}, false
}

// LastTestRun returns the most recent test run.
func (t *Ticket) LastTestRun() (ToolRun, bool) {
	return t.LastRun(RunTest)
}

// CountRuns returns how many runs of the given type were recorded.
func (t *Ticket) CountRuns(rt RunType) int {
	n := 0
	for _, r := range t.ToolRuns {
		if r.RunType == rt {
			n++
		}
	}
	return n
}

// TouchedFiles returns the sorted union of files_touched across every patch.
func (t *Ticket) TouchedFiles() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range t.Patches {
		for _, f := range p.FilesTouched {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (t *Ticket) Clone() (*Ticket, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal ticket: %w", err)
	}
	var out Ticket
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal ticket: %w", err)
	}
	return &out, nil
}

// IntPtr is a convenience for building exit codes.
func IntPtr(v int) *int {
	return &v
}
