package patch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucasnoah/fixloop/internal/fsutil"
	"github.com/lucasnoah/fixloop/internal/ticket"
)

var (
	// ErrOutsideRoot is returned for paths that resolve outside the repository.
	ErrOutsideRoot = errors.New("path escapes repository root")
	// ErrRoundTrip is returned when a recorded diff does not reproduce the written content.
	ErrRoundTrip = errors.New("diff round-trip mismatch")
)

// Files reads and writes repository files by repository-relative path.
type Files struct{}

// Read returns the file content. Missing files yield an error matching fs.ErrNotExist.
func (Files) Read(root, rel string) (string, error) {
	p, err := resolve(root, rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Write replaces the file content atomically, creating parent directories as needed.
func (Files) Write(root, rel, content string) error {
	p, err := resolve(root, rel)
	if err != nil {
		return err
	}
	return fsutil.WriteAtomic(p, []byte(content), 0o644)
}

// Exists reports whether rel names a regular file under root.
func (Files) Exists(root, rel string) bool {
	p, err := resolve(root, rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func resolve(root, rel string) (string, error) {
	rel = strings.ReplaceAll(rel, "\\", "/")
	if rel == "" || filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, rel)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	p := filepath.Join(absRoot, filepath.FromSlash(rel))
	r, err := filepath.Rel(absRoot, p)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, rel)
	}
	return p, nil
}

// Normalize makes model output match the file's conventions: line endings follow the
// original and non-empty content ends with a newline.
func Normalize(content, original string) string {
	crlf := strings.Contains(original, "\r\n")
	content = strings.ReplaceAll(content, "\r\n", "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if crlf {
		content = strings.ReplaceAll(content, "\n", "\r\n")
	}
	return content
}

// Build creates the Patch recording a change to one file. ok is false when nothing changed.
// The diff is replayed against the old content before it is returned.
func Build(path, oldContent, newContent, summary string, confidence float64) (p ticket.Patch, ok bool, err error) {
	d := Diff(oldContent, newContent, path)
	if d == "" {
		return ticket.Patch{}, false, nil
	}
	replayed, err := Apply(oldContent, d)
	if err != nil {
		return ticket.Patch{}, false, fmt.Errorf("%w: %s: %v", ErrRoundTrip, path, err)
	}
	if replayed != newContent {
		return ticket.Patch{}, false, fmt.Errorf("%w: %s", ErrRoundTrip, path)
	}
	if summary == "" {
		summary = "Update " + path
	}
	return ticket.Patch{
		PatchID:      ticket.NewID("p"),
		Summary:      summary,
		DiffUnified:  d,
		FilesTouched: []string{path},
		Confidence:   clamp(confidence),
	}, true, nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// IsNotExist reports whether err means the file is missing.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
