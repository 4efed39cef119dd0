package checks

import (
	"encoding/json"
	"fmt"
	"strings"
)

// VitestParser parses vitest/jest JSON reporter output.
type VitestParser struct{}

type vitestOutput struct {
	NumTotalTests   int                 `json:"numTotalTests"`
	NumPassedTests  int                 `json:"numPassedTests"`
	NumFailedTests  int                 `json:"numFailedTests"`
	NumPendingTests int                 `json:"numPendingTests"`
	TestResults     []vitestSuiteResult `json:"testResults"`
}

type vitestSuiteResult struct {
	Name             string                  `json:"name"`
	Status           string                  `json:"status"`
	Message          string                  `json:"message"`
	AssertionResults []vitestAssertionResult `json:"assertionResults"`
}

type vitestAssertionResult struct {
	FullName        string   `json:"fullName"`
	Status          string   `json:"status"`
	FailureMessages []string `json:"failureMessages"`
}

func (p *VitestParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var raw vitestOutput
	if err := json.Unmarshal([]byte(jsonPayload(stdout)), &raw); err != nil {
		return ParseResult{
			Passed:  exitCode == 0,
			Summary: fmt.Sprintf("exit code %d (could not parse test JSON)", exitCode),
		}
	}

	var excerpts []string
	for _, suite := range raw.TestResults {
		if suite.Status == "failed" && len(suite.AssertionResults) == 0 && suite.Message != "" {
			excerpts = append(excerpts, clip(suite.Name+": "+suite.Message, maxExcerptLen))
		}
		for _, a := range suite.AssertionResults {
			if a.Status != "failed" {
				continue
			}
			msg := ""
			if len(a.FailureMessages) > 0 {
				msg = a.FailureMessages[0]
			}
			excerpts = append(excerpts, clip(fmt.Sprintf("%s > %s\n%s", suite.Name, a.FullName, msg), maxExcerptLen))
		}
	}
	if len(excerpts) > MaxExcerpts {
		excerpts = excerpts[:MaxExcerpts]
	}

	return ParseResult{
		Passed:   exitCode == 0 && raw.NumFailedTests == 0,
		Summary:  fmt.Sprintf("%d passed, %d failed, %d skipped out of %d", raw.NumPassedTests, raw.NumFailedTests, raw.NumPendingTests, raw.NumTotalTests),
		Excerpts: excerpts,
	}
}

// jsonPayload drops any banner text printed before the JSON document.
func jsonPayload(s string) string {
	if i := strings.Index(s, "{"); i > 0 {
		return s[i:]
	}
	return s
}
