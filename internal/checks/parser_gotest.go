package checks

import (
	"fmt"
	"strings"
)

// GoTestParser parses plain `go test` output.
type GoTestParser struct{}

func (p *GoTestParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	text := stdout + "\n" + stderr
	lines := strings.Split(text, "\n")

	var failed, pkgFailed int
	var excerpts []string
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "--- FAIL:"):
			failed++
			end := i + 1
			for end < len(lines) && end-i <= linesAfter && strings.HasPrefix(lines[end], "    ") {
				end++
			}
			excerpts = append(excerpts, clip(strings.Join(lines[i:end], "\n"), maxExcerptLen))
		case strings.HasPrefix(trimmed, "FAIL\t"):
			pkgFailed++
		case strings.HasPrefix(trimmed, "panic:"), strings.Contains(trimmed, "[build failed]"), strings.HasPrefix(trimmed, "# "):
			end := i + linesAfter + 1
			if end > len(lines) {
				end = len(lines)
			}
			excerpts = append(excerpts, clip(strings.Join(lines[i:end], "\n"), maxExcerptLen))
		}
	}
	if len(excerpts) > MaxExcerpts {
		excerpts = excerpts[:MaxExcerpts]
	}

	if exitCode == 0 {
		return ParseResult{Passed: true, Summary: "ok"}
	}
	return ParseResult{
		Passed:   false,
		Summary:  fmt.Sprintf("%d failed tests in %d packages", failed, pkgFailed),
		Excerpts: excerpts,
	}
}
