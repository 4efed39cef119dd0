// Package policy decides which repository paths the remediation loop may edit.
package policy

import (
	"path"
	"sort"
	"strings"
)

// DefaultSensitiveMarkers flag paths that must never be edited automatically.
var DefaultSensitiveMarkers = []string{
	"security",
	"secret",
	"token",
	"auth",
	".env",
	"credential",
	"password",
	"id_rsa",
	".pem",
	".key",
}

// DefaultTestDirs are path segments that mark test code.
var DefaultTestDirs = []string{"tests", "test", "__tests__", "testdata", "spec"}

// DefaultDocExtensions are documentation file extensions.
var DefaultDocExtensions = []string{".md", ".rst", ".txt", ".adoc"}

// Policy is the path allow-list. The zero value is not useful; use New.
type Policy struct {
	sensitive []string
	testDirs  map[string]bool
	docExts   map[string]bool
}

// Options extends the defaults.
type Options struct {
	ExtraSensitiveMarkers []string
	TestDirs              []string
	DocExtensions         []string
}

// New builds a policy from the defaults plus any configured additions.
func New(opts Options) *Policy {
	p := &Policy{
		testDirs: make(map[string]bool),
		docExts:  make(map[string]bool),
	}
	p.sensitive = append(p.sensitive, DefaultSensitiveMarkers...)
	for _, m := range opts.ExtraSensitiveMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			p.sensitive = append(p.sensitive, m)
		}
	}
	testDirs := opts.TestDirs
	if len(testDirs) == 0 {
		testDirs = DefaultTestDirs
	}
	for _, d := range testDirs {
		p.testDirs[strings.ToLower(d)] = true
	}
	docExts := opts.DocExtensions
	if len(docExts) == 0 {
		docExts = DefaultDocExtensions
	}
	for _, e := range docExts {
		p.docExts[strings.ToLower(e)] = true
	}
	return p
}

// Default returns a policy with only the built-in rules.
func Default() *Policy {
	return New(Options{})
}

// Normalize lower-cases a path and converts backslashes to forward slashes.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")
	return strings.ToLower(p)
}

// Verdict explains a policy decision.
type Verdict struct {
	Allowed bool
	Reason  string
}

// Check classifies one repository-relative path.
func (p *Policy) Check(rel string) Verdict {
	n := Normalize(rel)
	if n == "" {
		return Verdict{Reason: "empty path"}
	}
	if path.IsAbs(n) || strings.HasPrefix(n, "../") || n == ".." || strings.Contains(n, "/../") {
		return Verdict{Reason: "outside repository"}
	}
	if m := p.SensitiveMarker(n); m != "" {
		return Verdict{Reason: "sensitive marker " + m}
	}
	if p.isTestPath(n) {
		return Verdict{Reason: "test file"}
	}
	if p.isDoc(n) {
		return Verdict{Reason: "documentation"}
	}
	return Verdict{Allowed: true}
}

// Allowed reports whether the path may be edited.
func (p *Policy) Allowed(rel string) bool {
	return p.Check(rel).Allowed
}

// SensitiveMarker returns the first sensitivity marker contained in the path, or "".
func (p *Policy) SensitiveMarker(rel string) string {
	n := Normalize(rel)
	for _, m := range p.sensitive {
		if strings.Contains(n, m) {
			return m
		}
	}
	return ""
}

// Sensitive returns the sorted subset of paths that contain a sensitivity marker.
func (p *Policy) Sensitive(paths []string) []string {
	var out []string
	for _, f := range paths {
		if p.SensitiveMarker(f) != "" {
			out = append(out, Normalize(f))
		}
	}
	sort.Strings(out)
	return out
}

// Filter splits paths into allowed and rejected, preserving order and dropping duplicates.
func (p *Policy) Filter(paths []string) (allowed []string, rejected map[string]string) {
	seen := make(map[string]bool)
	rejected = make(map[string]string)
	for _, f := range paths {
		f = strings.TrimPrefix(strings.ReplaceAll(strings.TrimSpace(f), "\\", "/"), "./")
		if seen[f] {
			continue
		}
		seen[f] = true
		v := p.Check(f)
		if v.Allowed {
			allowed = append(allowed, f)
		} else {
			rejected[f] = v.Reason
		}
	}
	return allowed, rejected
}

func (p *Policy) isTestPath(n string) bool {
	parts := strings.Split(n, "/")
	for _, seg := range parts[:len(parts)-1] {
		if p.testDirs[seg] {
			return true
		}
	}
	base := parts[len(parts)-1]
	switch {
	case strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py"):
		return true
	case strings.HasSuffix(base, "_test.py"), strings.HasSuffix(base, "_test.go"):
		return true
	case strings.Contains(base, ".test."), strings.Contains(base, ".spec."):
		return true
	case base == "conftest.py":
		return true
	}
	return false
}

func (p *Policy) isDoc(n string) bool {
	base := path.Base(n)
	if strings.HasPrefix(base, "readme") || strings.HasPrefix(base, "changelog") || base == "license" {
		return true
	}
	return p.docExts[path.Ext(base)]
}
