package checks

import (
	"fmt"
	"strings"
)

// GenericParser is the fallback parser: it scans output for failure markers.
type GenericParser struct{}

const (
	// MaxExcerpts caps failures_parsed.
	MaxExcerpts = 12
	// maxExcerptLen caps a single excerpt.
	maxExcerptLen = 1200
	linesBefore   = 2
	linesAfter    = 5
)

// failureMarkers are substrings that start a failure excerpt.
var failureMarkers = []string{
	"FAILED",
	"FAIL:",
	"--- FAIL",
	"FAIL ",
	"ERROR",
	"Error:",
	"Traceback (most recent call last)",
	"AssertionError",
	"panic:",
	"✗",
	"✕",
	"error[",
}

func (p *GenericParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	passed := exitCode == 0
	summary := fmt.Sprintf("exit code %d, stdout=%d bytes, stderr=%d bytes", exitCode, len(stdout), len(stderr))
	if passed {
		return ParseResult{Passed: true, Summary: "passed (exit code 0)"}
	}
	return ParseResult{
		Passed:   false,
		Summary:  summary,
		Excerpts: ExtractExcerpts(stdout + "\n" + stderr),
	}
}

// ExtractExcerpts captures a fixed window of lines around every marker line.
// Overlapping windows are merged. Best effort only.
func ExtractExcerpts(text string) []string {
	lines := strings.Split(text, "\n")
	var out []string
	next := 0
	for i, line := range lines {
		if i < next || !hasMarker(line) {
			continue
		}
		start := i - linesBefore
		if start < next {
			start = next
		}
		if start < 0 {
			start = 0
		}
		end := i + linesAfter + 1
		if end > len(lines) {
			end = len(lines)
		}
		excerpt := clip(strings.Join(lines[start:end], "\n"), maxExcerptLen)
		if excerpt != "" {
			out = append(out, excerpt)
		}
		next = end
		if len(out) >= MaxExcerpts {
			break
		}
	}
	return out
}

func hasMarker(line string) bool {
	for _, m := range failureMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}
