package checks

import (
	"fmt"
	"regexp"
	"strings"
)

// TypeScriptParser parses tsc --noEmit output.
type TypeScriptParser struct{}

// tsc output format: src/auth.ts(42,5): error TS2345: Argument of type...
var tscLineRe = regexp.MustCompile(`^(.+)\((\d+),(\d+)\):\s+error\s+(TS\d+):\s+(.+)$`)

func (p *TypeScriptParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var errs int
	var excerpts []string

	// tsc writes diagnostics to stdout
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if tscLineRe.MatchString(line) {
			errs++
			if len(excerpts) < MaxExcerpts {
				excerpts = append(excerpts, clip(line, maxExcerptLen))
			}
		}
	}

	if exitCode == 0 {
		return ParseResult{Passed: true, Summary: "no errors"}
	}
	return ParseResult{
		Passed:   false,
		Summary:  fmt.Sprintf("%d errors", errs),
		Excerpts: excerpts,
	}
}
