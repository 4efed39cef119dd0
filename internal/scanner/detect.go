package scanner

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Test framework identifiers recorded in the repo map.
const (
	FrameworkPytest = "pytest"
	FrameworkGo     = "go"
	FrameworkVitest = "vitest"
	FrameworkJest   = "jest"
	FrameworkCargo  = "cargo"
	FrameworkNPM    = "npm"
)

// languages by file extension
var languages = map[string]string{
	".py":   "python",
	".go":   "go",
	".js":   "javascript",
	".jsx":  "javascript",
	".mjs":  "javascript",
	".cjs":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".rs":   "rust",
	".java": "java",
	".rb":   "ruby",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".cs":   "csharp",
	".sh":   "shell",
}

// configMarkers are project files recorded in configs_found when present at the root.
var configMarkers = []string{
	"pyproject.toml",
	"setup.py",
	"setup.cfg",
	"requirements.txt",
	"pytest.ini",
	"tox.ini",
	"conftest.py",
	"package.json",
	"tsconfig.json",
	"vitest.config.ts",
	"vitest.config.js",
	"jest.config.js",
	"jest.config.ts",
	"go.mod",
	"Cargo.toml",
	"Makefile",
}

// entrypointNames are base names that usually start a program.
var entrypointNames = map[string]bool{
	"main.py":     true,
	"app.py":      true,
	"manage.py":   true,
	"__main__.py": true,
	"main.go":     true,
	"index.js":    true,
	"index.ts":    true,
	"main.rs":     true,
	"server.js":   true,
}

// ignoredDirs are never descended into, matched as path segments.
var ignoredDirs = map[string]bool{
	".git":          true,
	"node_modules":  true,
	".venv":         true,
	"venv":          true,
	"__pycache__":   true,
	".pytest_cache": true,
	".mypy_cache":   true,
	".tox":          true,
	"vendor":        true,
	"dist":          true,
	"build":         true,
	"target":        true,
	".idea":         true,
	".fixloop":      true,
}

// Language maps a path to a language name, or "" when unknown.
func Language(p string) string {
	return languages[strings.ToLower(path.Ext(p))]
}

func isIgnored(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if ignoredDirs[seg] {
			return true
		}
	}
	return false
}

// detectConfigs returns the config markers present among the root-level paths.
func detectConfigs(paths []string) []string {
	present := make(map[string]bool)
	for _, p := range paths {
		if !strings.Contains(p, "/") {
			present[p] = true
		}
	}
	found := []string{}
	for _, m := range configMarkers {
		if present[m] {
			found = append(found, m)
		}
	}
	return found
}

func detectEntrypoints(paths []string) []string {
	var out []string
	for _, p := range paths {
		base := path.Base(p)
		if !entrypointNames[base] {
			continue
		}
		// shallow files only, plus Go's cmd/<name>/main.go layout
		depth := strings.Count(p, "/")
		if depth <= 1 || (base == "main.go" && strings.HasPrefix(p, "cmd/") && depth == 2) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// detectFramework picks the test framework from config markers and file layout.
// root is read only to inspect package.json and pyproject.toml.
func detectFramework(root string, configs []string, paths []string) string {
	has := make(map[string]bool, len(configs))
	for _, c := range configs {
		has[c] = true
	}

	switch {
	case has["pytest.ini"] || has["conftest.py"]:
		return FrameworkPytest
	case has["pyproject.toml"] && fileContains(root, "pyproject.toml", "pytest"):
		return FrameworkPytest
	case has["go.mod"]:
		return FrameworkGo
	case has["Cargo.toml"]:
		return FrameworkCargo
	case has["vitest.config.ts"] || has["vitest.config.js"]:
		return FrameworkVitest
	case has["jest.config.js"] || has["jest.config.ts"]:
		return FrameworkJest
	case has["package.json"]:
		switch {
		case fileContains(root, "package.json", "vitest"):
			return FrameworkVitest
		case fileContains(root, "package.json", "jest"):
			return FrameworkJest
		case fileContains(root, "package.json", `"test"`):
			return FrameworkNPM
		}
	}

	for _, p := range paths {
		base := path.Base(p)
		if strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py") {
			return FrameworkPytest
		}
	}
	if has["setup.py"] || has["requirements.txt"] || has["pyproject.toml"] {
		return FrameworkPytest
	}
	return ""
}

func fileContains(root, name, needle string) bool {
	data, err := os.ReadFile(filepath.Join(root, name))
	if err != nil {
		return false
	}
	return strings.Contains(string(data), needle)
}
