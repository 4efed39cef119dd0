package checks

import (
	"encoding/json"
	"fmt"
)

// ESLintParser parses ESLint JSON output (eslint -f json).
type ESLintParser struct{}

type eslintFile struct {
	FilePath string          `json:"filePath"`
	Messages []eslintMessage `json:"messages"`
}

type eslintMessage struct {
	RuleID   string `json:"ruleId"`
	Severity int    `json:"severity"` // 1=warning, 2=error
	Message  string `json:"message"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
}

func (p *ESLintParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var files []eslintFile
	if err := json.Unmarshal([]byte(stdout), &files); err != nil {
		return ParseResult{
			Passed:  exitCode == 0,
			Summary: fmt.Sprintf("exit code %d (could not parse ESLint JSON)", exitCode),
		}
	}

	var errs, warnings int
	var excerpts []string
	for _, f := range files {
		for _, m := range f.Messages {
			sev := "warning"
			if m.Severity == 2 {
				sev = "error"
				errs++
			} else {
				warnings++
			}
			if m.Severity == 2 && len(excerpts) < MaxExcerpts {
				excerpts = append(excerpts, fmt.Sprintf("%s:%d:%d %s %s: %s", f.FilePath, m.Line, m.Column, sev, m.RuleID, m.Message))
			}
		}
	}

	return ParseResult{
		Passed:   errs == 0,
		Summary:  fmt.Sprintf("%d errors, %d warnings", errs, warnings),
		Excerpts: excerpts,
	}
}
