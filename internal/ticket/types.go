package ticket

import "time"

// RunType identifies what a ToolRun was executed for.
type RunType string

const (
	RunInstall   RunType = "install"
	RunTest      RunType = "test"
	RunLint      RunType = "lint"
	RunTypecheck RunType = "typecheck"
)

// RunStatus is the classified outcome of a single command execution.
type RunStatus string

const (
	StatusSuccess RunStatus = "success"
	StatusFail    RunStatus = "fail"
	StatusTimeout RunStatus = "timeout"
	StatusError   RunStatus = "error"
)

// FinalStatus is the canonical terminal status of a run.
type FinalStatus string

const (
	FinalSuccess          FinalStatus = "success"
	FinalFailed           FinalStatus = "failed"
	FinalStoppedForReview FinalStatus = "stopped_for_review"
)

// Risk flags set by the safety gate.
const (
	RiskSensitiveFile = "sensitive_file_touched"
	RiskSecretInPatch = "secret_in_patch"
)

// FileEntry is one file of the scanned repository.
type FileEntry struct {
	Path     string `json:"path"`
	Language string `json:"language,omitempty"`
	Size     int64  `json:"size"`
}

// RepoMap summarises the repository layout. Set once by the scan stage.
type RepoMap struct {
	Root          string      `json:"root"`
	Files         []FileEntry `json:"files"`
	ConfigsFound  []string    `json:"configs_found"`
	TestFramework string      `json:"test_framework,omitempty"`
	Entrypoints   []string    `json:"entrypoints,omitempty"`
	Branch        string      `json:"branch,omitempty"`
}

// Paths returns the repository-relative paths of all scanned files.
func (m *RepoMap) Paths() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.Files))
	for _, f := range m.Files {
		out = append(out, f.Path)
	}
	return out
}

// CodeLocation is an inclusive line range inside a repository file.
type CodeLocation struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Symbol    string `json:"symbol,omitempty"`
	// Reason says why the location is implicated.
	Reason string `json:"reason"`
}

// Hypothesis is a diagnosis of why verification fails.
type Hypothesis struct {
	ID         string         `json:"id"`
	Summary    string         `json:"summary"`
	Locations  []CodeLocation `json:"locations"`
	Confidence float64        `json:"confidence"`
}

// Patch is one recorded change to a single file.
type Patch struct {
	PatchID      string   `json:"patch_id"`
	Summary      string   `json:"summary"`
	DiffUnified  string   `json:"diff_unified"`
	FilesTouched []string `json:"files_touched"`
	Confidence   float64  `json:"confidence"`
}

// ToolRun is the audit record of one command execution.
type ToolRun struct {
	RunID          string    `json:"run_id"`
	RunType        RunType   `json:"run_type"`
	Name           string    `json:"name,omitempty"`
	Command        string    `json:"command"`
	Status         RunStatus `json:"status"`
	ExitCode       *int      `json:"exit_code"`
	DurationSec    float64   `json:"duration_sec"`
	StdoutTail     string    `json:"stdout_tail"`
	StderrTail     string    `json:"stderr_tail"`
	FailuresParsed []string  `json:"failures_parsed"`
	Summary        string    `json:"summary,omitempty"`
}

// Output returns stdout and stderr joined, the way failure context is presented downstream.
func (r ToolRun) Output() string {
	switch {
	case r.StdoutTail == "":
		return r.StderrTail
	case r.StderrTail == "":
		return r.StdoutTail
	}
	return r.StdoutTail + "\n" + r.StderrTail
}

// HITL records a human-in-the-loop escalation.
type HITL struct {
	Required bool           `json:"required"`
	Reason   string         `json:"reason,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Iteration tracks the bounded retry loop.
type Iteration struct {
	Count      int    `json:"count"`
	Max        int    `json:"max"`
	LastRoute  string `json:"last_route,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
	NoopStreak int    `json:"noop_streak"`
}

// Quality is an informational confidence summary.
type Quality struct {
	OverallConfidence float64 `json:"overall_confidence"`
}

// Ticket is the single mutable ledger of one run.
// It is owned by one orchestrator and is not safe for concurrent use.
type Ticket struct {
	RunID      string    `json:"run_id"`
	RepoRef    string    `json:"repo_ref"`
	TaskPrompt string    `json:"task_prompt"`
	TaskType   string    `json:"task_type"`
	Priority   string    `json:"priority"`
	TimeoutSec int       `json:"timeout_sec"`
	CreatedAt  time.Time `json:"created_at"`

	RepoMap       *RepoMap       `json:"repo_map,omitempty"`
	Assumptions   []string       `json:"assumptions"`
	OpenQuestions []string       `json:"open_questions"`
	CodeLocations []CodeLocation `json:"code_locations"`
	Hypotheses    []Hypothesis   `json:"hypotheses"`
	Patches       []Patch        `json:"patches"`
	ToolRuns      []ToolRun      `json:"tool_runs"`
	SelectedFiles []string       `json:"selected_files"`
	RiskFlags     []string       `json:"risk_flags"`
	SafetyOK      bool           `json:"safety_ok"`
	HITL          HITL           `json:"hitl"`
	Iteration     Iteration      `json:"iteration"`
	Quality       Quality        `json:"quality"`
	VerifyCommand string         `json:"verify_command,omitempty"`

	FinalStatus *FinalStatus `json:"final_status"`
	FinalReport string       `json:"final_report,omitempty"`
}
