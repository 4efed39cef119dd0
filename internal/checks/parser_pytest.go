package checks

import (
	"fmt"
	"regexp"
	"strings"
)

// PytestParser parses `pytest -q` output.
type PytestParser struct{}

// =========================== 2 failed, 3 passed in 0.12s ===========================
var pytestSummaryRe = regexp.MustCompile(`(?m)^=*\s*(.*\b(?:passed|failed|error|errors)\b.*?)\s*=*$`)

func (p *PytestParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	text := stdout + "\n" + stderr
	if exitCode == 0 {
		return ParseResult{Passed: true, Summary: pytestSummary(text, "passed")}
	}

	var excerpts []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "FAILED ") || strings.HasPrefix(line, "ERROR ") {
			excerpts = append(excerpts, clip(line, maxExcerptLen))
		}
	}
	// The short summary only names tests; pair it with the assertion context.
	excerpts = append(excerpts, ExtractExcerpts(failuresSection(text))...)
	if len(excerpts) > MaxExcerpts {
		excerpts = excerpts[:MaxExcerpts]
	}

	return ParseResult{
		Passed:   false,
		Summary:  pytestSummary(text, fmt.Sprintf("exit code %d", exitCode)),
		Excerpts: excerpts,
	}
}

func pytestSummary(text, fallback string) string {
	m := pytestSummaryRe.FindAllStringSubmatch(text, -1)
	if len(m) == 0 {
		return fallback
	}
	return strings.TrimSpace(m[len(m)-1][1])
}

// failuresSection returns the text from the FAILURES banner up to the short test summary.
func failuresSection(text string) string {
	i := strings.Index(text, "FAILURES")
	if i < 0 {
		return ""
	}
	s := text[i:]
	if j := strings.Index(s, "short test summary"); j > 0 {
		s = s[:j]
	}
	return s
}
