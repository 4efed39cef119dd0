// Package context assembles the prompt variables the oracle stages render.
package context

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"

	"github.com/lucasnoah/fixloop/internal/policy"
	"github.com/lucasnoah/fixloop/internal/prompt"
	"github.com/lucasnoah/fixloop/internal/ticket"
)

// Prompt size caps.
const (
	maxFailureOutput   = 6000
	maxCandidates      = 2000
	maxFailuresCompact = 2500
	maxParsedItems     = 12
	maxParsedChars     = 2200
	maxTestsChars      = 8000
	maxFilesChars      = 12000
	maxReadOnlyTests   = 2
	maxHypotheses      = 3
)

// Reminders appended on the single retry after a malformed response.
const (
	SelectReminder     = "REMINDER: output JSON only."
	SynthesizeReminder = "REMINDER: Output JSON only. No markdown. No extra text."
)

// FileSource reads repository files.
type FileSource interface {
	Read(root, rel string) (string, error)
}

// Builder assembles prompt variables from the ticket.
type Builder struct {
	files       FileSource
	policy      *policy.Policy
	sourceRoots []string
	candidates  int
}

// NewBuilder creates a Builder. sourceRoots restricts the listing offered for selection;
// empty means "src/" when the repository has it, else everything.
func NewBuilder(files FileSource, pol *policy.Policy, sourceRoots []string, maxCandidateFiles int) *Builder {
	if maxCandidateFiles <= 0 {
		maxCandidateFiles = maxCandidates
	}
	return &Builder{files: files, policy: pol, sourceRoots: sourceRoots, candidates: maxCandidateFiles}
}

// SelectionVars builds the variables for the file selection templates.
func (b *Builder) SelectionVars(t *ticket.Ticket, reminder string) prompt.Vars {
	roots := b.roots(t.RepoMap)
	return prompt.Vars{
		"task":              t.TaskPrompt,
		"failure_output":    failureOutput(t),
		"hypotheses":        formatHypotheses(t.Hypotheses),
		"repo_files":        strings.Join(b.Candidates(t.RepoMap), "\n"),
		"max_files":         "5",
		"sensitive_markers": strings.Join(policy.DefaultSensitiveMarkers, ", "),
		"source_roots":      strings.Join(roots, ", "),
		"reminder":          reminder,
	}
}

// Candidates lists editable files under the source roots, capped.
func (b *Builder) Candidates(m *ticket.RepoMap) []string {
	roots := b.roots(m)
	var out []string
	for _, p := range m.Paths() {
		if !underRoots(p, roots) || !b.policy.Allowed(p) {
			continue
		}
		out = append(out, p)
		if len(out) >= b.candidates {
			break
		}
	}
	return out
}

func (b *Builder) roots(m *ticket.RepoMap) []string {
	if len(b.sourceRoots) > 0 {
		return b.sourceRoots
	}
	for _, p := range m.Paths() {
		if strings.HasPrefix(p, "src/") {
			return []string{"src/"}
		}
	}
	return nil
}

func underRoots(p string, roots []string) bool {
	if len(roots) == 0 {
		return true
	}
	low := policy.Normalize(p)
	for _, r := range roots {
		r = policy.Normalize(r)
		if r == "" || r == "." || r == "./" || strings.HasPrefix(low, strings.TrimSuffix(r, "/")+"/") {
			return true
		}
	}
	return false
}

// Synthesis is the assembled input for one synthesis request.
type Synthesis struct {
	Vars prompt.Vars
	// Targets are the editable files that were read, in selection order.
	Targets []string
	// Originals holds each target's current content.
	Originals map[string]string
	// ReadOnlyTests are the test files included for reference.
	ReadOnlyTests []string
}

// SynthesisInput reads the targets and builds the synthesis variables.
// Missing targets are skipped.
func (b *Builder) SynthesisInput(t *ticket.Ticket, targets []string, reminder string) (*Synthesis, error) {
	s := &Synthesis{Originals: make(map[string]string)}

	var fileBlocks []string
	for _, p := range targets {
		content, err := b.files.Read(t.RepoRef, p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		s.Targets = append(s.Targets, p)
		s.Originals[p] = content
		fileBlocks = append(fileBlocks, fmt.Sprintf("=== %s ===\n%s\n", p, content))
	}

	output := ""
	last, hasTest := t.LastTestRun()
	if hasTest {
		output = last.Output()
	}

	var testBlocks []string
	for _, p := range ReadOnlyTestPaths(output, t.RepoMap) {
		content, err := b.files.Read(t.RepoRef, p)
		if err != nil {
			continue
		}
		s.ReadOnlyTests = append(s.ReadOnlyTests, p)
		testBlocks = append(testBlocks, fmt.Sprintf("=== READ-ONLY TEST: %s ===\n%s\n", p, content))
	}

	parsed := "(none)"
	if hasTest {
		if f := formatParsed(last.FailuresParsed); f != "" {
			parsed = f
		}
	}

	s.Vars = prompt.Vars{
		"task":             t.TaskPrompt,
		"reminder":         reminder,
		"run_info":         runInfo(last, hasTest),
		"failures_compact": CompactFailures(output, maxFailuresCompact),
		"failures_parsed":  parsed,
		"hypotheses":       formatHypotheses(t.Hypotheses),
		"advisory":         advisorySummary(t),
		"tests":            truncate(strings.Join(testBlocks, "\n"), maxTestsChars),
		"files":            truncate(strings.Join(fileBlocks, "\n"), maxFilesChars),
	}
	return s, nil
}

// CompactFailures returns the output from the FAILURES banner onwards, capped.
func CompactFailures(text string, max int) string {
	t := strings.TrimSpace(text)
	if i := strings.Index(t, "FAILURES"); i >= 0 {
		t = t[i:]
	}
	return truncate(t, max)
}

var (
	testDirPathRe  = regexp.MustCompile(`((?:[\w.\-]+[\\/])*(?:tests?|__tests__|spec)[\\/][\w.\-\\/]+\.(?:py|go|js|jsx|ts|tsx|rs|rb))`)
	testFilePathRe = regexp.MustCompile(`([\w.\-\\/]*(?:_test\.go|\btest_\w+\.py|\.(?:test|spec)\.[jt]sx?))`)
)

// ReadOnlyTestPaths extracts up to two test file paths mentioned in failure output.
// When a repo map is available, only paths it contains are returned.
func ReadOnlyTestPaths(output string, m *ticket.RepoMap) []string {
	known := make(map[string]bool)
	for _, p := range m.Paths() {
		known[p] = true
	}
	seen := make(map[string]bool)
	var out []string
	for _, re := range []*regexp.Regexp{testDirPathRe, testFilePathRe} {
		for _, match := range re.FindAllStringSubmatch(output, -1) {
			p := strings.TrimPrefix(strings.ReplaceAll(match[1], "\\", "/"), "./")
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			if len(known) > 0 && !known[p] {
				// go test prints bare file names
				if p = uniqueSuffixMatch(m.Paths(), p); p == "" || seen[p] {
					continue
				}
				seen[p] = true
			}
			out = append(out, p)
			if len(out) >= maxReadOnlyTests {
				return out
			}
		}
	}
	return out
}

func uniqueSuffixMatch(paths []string, name string) string {
	found := ""
	for _, p := range paths {
		if strings.HasSuffix(p, "/"+name) {
			if found != "" {
				return ""
			}
			found = p
		}
	}
	return found
}

func failureOutput(t *ticket.Ticket) string {
	last, ok := t.LastTestRun()
	if !ok {
		return "(no verification output)"
	}
	out := strings.TrimSpace(last.Output())
	if len(out) > maxFailureOutput {
		out = out[len(out)-maxFailureOutput:]
	}
	return out
}

func runInfo(last ticket.ToolRun, ok bool) string {
	if !ok {
		return "(no verification run)"
	}
	exit := "none"
	if last.ExitCode != nil {
		exit = fmt.Sprintf("%d", *last.ExitCode)
	}
	return fmt.Sprintf("COMMAND: %s\nSTATUS: %s\nEXIT_CODE: %s\nDURATION_SEC: %.2f", last.Command, last.Status, exit, last.DurationSec)
}

func formatParsed(items []string) string {
	var chunks []string
	for i, it := range items {
		if i >= maxParsedItems {
			break
		}
		if it = strings.TrimSpace(it); it != "" {
			chunks = append(chunks, it)
		}
	}
	return truncate(strings.Join(chunks, "\n\n---\n\n"), maxParsedChars)
}

func formatHypotheses(hs []ticket.Hypothesis) string {
	if len(hs) == 0 {
		return ""
	}
	if len(hs) > maxHypotheses {
		hs = hs[len(hs)-maxHypotheses:]
	}
	var sb strings.Builder
	for _, h := range hs {
		fmt.Fprintf(&sb, "- %s (confidence %.2f)\n", h.Summary, h.Confidence)
		for _, loc := range h.Locations {
			fmt.Fprintf(&sb, "  - %s:%d-%d", loc.Path, loc.StartLine, loc.EndLine)
			if loc.Symbol != "" {
				fmt.Fprintf(&sb, " (%s)", loc.Symbol)
			}
			if loc.Reason != "" {
				fmt.Fprintf(&sb, ": %s", loc.Reason)
			}
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// advisorySummary lists the latest failing lint and typecheck runs.
func advisorySummary(t *ticket.Ticket) string {
	var lines []string
	for _, rt := range []ticket.RunType{ticket.RunLint, ticket.RunTypecheck} {
		r, ok := t.LastRun(rt)
		if !ok || r.Status == ticket.StatusSuccess {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s (%s): %s", rt, r.Command, r.Summary))
		for i, e := range r.FailuresParsed {
			if i >= 5 {
				break
			}
			lines = append(lines, "  "+e)
		}
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
