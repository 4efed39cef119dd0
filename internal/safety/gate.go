// Package safety evaluates the cumulative change set before verification runs again.
package safety

import (
	"sort"
	"strings"

	"github.com/zricethezav/gitleaks/v8/detect"
	"go.uber.org/zap"

	"github.com/lucasnoah/fixloop/internal/policy"
	"github.com/lucasnoah/fixloop/internal/ticket"
)

// Escalation reasons.
const (
	ReasonSensitive = "safety gate: sensitive files touched"
	ReasonSecret    = "safety gate: possible secret in patch"
)

// SecretScanner finds secrets in text and returns the ids of the rules that matched.
type SecretScanner interface {
	Scan(text string) ([]string, error)
}

// Gitleaks scans with the gitleaks default rule set.
type Gitleaks struct {
	detector *detect.Detector
}

// NewGitleaks loads the default gitleaks configuration.
func NewGitleaks() (*Gitleaks, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, err
	}
	return &Gitleaks{detector: d}, nil
}

// Scan returns the sorted, unique rule ids of all findings.
func (g *Gitleaks) Scan(text string) ([]string, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, f := range g.detector.DetectString(text) {
		if !seen[f.RuleID] {
			seen[f.RuleID] = true
			ids = append(ids, f.RuleID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Gate is the safety gate. A nil secret scanner disables secret scanning.
type Gate struct {
	policy  *policy.Policy
	secrets SecretScanner
	logger  *zap.Logger
}

// New creates a Gate.
func New(pol *policy.Policy, secrets SecretScanner, logger *zap.Logger) *Gate {
	if pol == nil {
		pol = policy.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{policy: pol, secrets: secrets, logger: logger}
}

// Evaluate re-checks every file touched so far and escalates on sensitive paths or leaked secrets.
func (g *Gate) Evaluate(t *ticket.Ticket) {
	ok := true
	touched := t.TouchedFiles()
	sensitive := g.policy.Sensitive(touched)
	if len(sensitive) > 0 {
		ok = false
		t.AddRiskFlag(ticket.RiskSensitiveFile)
		t.Escalate(ReasonSensitive, map[string]any{
			"files_touched":   touched,
			"sensitive_files": sensitive,
		})
		g.logger.Warn("sensitive files touched", zap.Strings("files", sensitive))
	}

	if g.secrets != nil {
		rules, err := g.secrets.Scan(AddedLines(t.Patches))
		if err != nil {
			g.logger.Warn("secret scan failed", zap.Error(err))
		}
		if len(rules) > 0 {
			ok = false
			t.AddRiskFlag(ticket.RiskSecretInPatch)
			t.Escalate(ReasonSecret, map[string]any{"secret_rules": rules})
			g.logger.Warn("possible secret in patch", zap.Strings("rules", rules))
		}
	}

	t.SafetyOK = ok
}

// AddedLines returns the lines each diff adds, without the leading '+'.
func AddedLines(patches []ticket.Patch) string {
	var sb strings.Builder
	for _, p := range patches {
		for _, ln := range strings.Split(p.DiffUnified, "\n") {
			if strings.HasPrefix(ln, "+") && !strings.HasPrefix(ln, "+++ ") {
				sb.WriteString(ln[1:])
				sb.WriteByte('\n')
			}
		}
	}
	return sb.String()
}
