package checks

import (
	"fmt"
	"strings"
)

// PrettierParser parses prettier --check output.
type PrettierParser struct{}

func (p *PrettierParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	// [warn] src/auth.ts
	// [warn] Code style issues found in the above file(s). Forgot to run Prettier?
	var files []string
	for _, line := range strings.Split(stdout+"\n"+stderr, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "[warn] ") {
			continue
		}
		file := strings.TrimPrefix(line, "[warn] ")
		if strings.Contains(file, "Code style issues") || strings.Contains(file, "Forgot to run") {
			continue
		}
		files = append(files, file)
	}

	if exitCode == 0 {
		return ParseResult{Passed: true, Summary: "all files formatted"}
	}
	var excerpts []string
	for _, f := range files {
		excerpts = append(excerpts, "needs formatting: "+f)
	}
	return ParseResult{
		Passed:   false,
		Summary:  fmt.Sprintf("%d files need formatting", len(files)),
		Excerpts: excerpts,
	}
}
