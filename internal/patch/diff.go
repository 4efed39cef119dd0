// Package patch produces and replays unified diffs and writes file updates into the repository.
package patch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	godiff "github.com/sourcegraph/go-diff/diff"
)

// ContextLines is the number of unchanged lines around each hunk.
const ContextLines = 3

const noNewlineMarker = `\ No newline at end of file`

// ErrMismatch is returned when a diff does not apply to the given content.
var ErrMismatch = errors.New("diff does not apply")

// Diff renders a unified diff from old to new with a/ and b/ prefixed headers.
// It returns "" when the contents are identical.
func Diff(oldContent, newContent, path string) string {
	if oldContent == newContent {
		return ""
	}
	a := splitKeepEOL(oldContent)
	b := splitKeepEOL(newContent)

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- a/%s\n+++ b/%s\n", path, path)
	for _, group := range difflib.NewMatcher(a, b).GetGroupedOpCodes(ContextLines) {
		first, last := group[0], group[len(group)-1]
		fmt.Fprintf(&sb, "@@ -%s +%s @@\n", formatRange(first.I1, last.I2), formatRange(first.J1, last.J2))
		for _, c := range group {
			switch c.Tag {
			case 'e':
				writeLines(&sb, ' ', a[c.I1:c.I2])
			case 'r':
				writeLines(&sb, '-', a[c.I1:c.I2])
				writeLines(&sb, '+', b[c.J1:c.J2])
			case 'd':
				writeLines(&sb, '-', a[c.I1:c.I2])
			case 'i':
				writeLines(&sb, '+', b[c.J1:c.J2])
			}
		}
	}
	return sb.String()
}

// formatRange renders a hunk range: a single line omits the count, an empty range points at the line before.
func formatRange(start, stop int) string {
	beginning := start + 1
	length := stop - start
	if length == 1 {
		return fmt.Sprintf("%d", beginning)
	}
	if length == 0 {
		beginning--
	}
	return fmt.Sprintf("%d,%d", beginning, length)
}

func writeLines(sb *strings.Builder, prefix byte, lines []string) {
	for _, ln := range lines {
		sb.WriteByte(prefix)
		sb.WriteString(ln)
		if !strings.HasSuffix(ln, "\n") {
			sb.WriteString("\n" + noNewlineMarker + "\n")
		}
	}
}

// splitKeepEOL splits s into lines, each keeping its "\n".
func splitKeepEOL(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Apply replays a single-file unified diff onto oldContent.
// Context and removed lines must match exactly.
func Apply(oldContent, unified string) (string, error) {
	if strings.TrimSpace(unified) == "" {
		return oldContent, nil
	}
	fd, err := godiff.ParseFileDiff([]byte(unified))
	if err != nil {
		return "", fmt.Errorf("parse diff: %w", err)
	}

	bodies := hunkBodies(unified)
	if len(bodies) != len(fd.Hunks) {
		return "", fmt.Errorf("parse diff: found %d hunk bodies for %d hunks", len(bodies), len(fd.Hunks))
	}

	old, oldEOL := splitLines(oldContent)
	out := make([]string, 0, len(old))
	cursor := 0
	reachedEnd := false

	for i, h := range fd.Hunks {
		idx := int(h.OrigStartLine) - 1
		if h.OrigLines == 0 {
			idx = int(h.OrigStartLine)
		}
		if idx < cursor || idx > len(old) {
			return "", fmt.Errorf("%w: hunk at line %d out of order", ErrMismatch, h.OrigStartLine)
		}
		out = append(out, old[cursor:idx]...)
		pos := idx

		for _, ln := range bodies[i] {
			if ln == "" || ln == noNewlineMarker {
				continue
			}
			text := ln[1:]
			switch ln[0] {
			case ' ', '-':
				if pos >= len(old) || old[pos] != text {
					return "", fmt.Errorf("%w: line %d: expected %q", ErrMismatch, pos+1, text)
				}
				if ln[0] == ' ' {
					out = append(out, text)
				}
				pos++
			case '+':
				out = append(out, text)
			default:
				return "", fmt.Errorf("%w: unexpected line %q", ErrMismatch, ln)
			}
		}
		cursor = pos
		reachedEnd = pos == len(old)
	}
	out = append(out, old[cursor:]...)

	newEOL := oldEOL
	if reachedEnd {
		newEOL = !newSideMissingEOL(unified)
	}
	if len(out) == 0 {
		return "", nil
	}
	result := strings.Join(out, "\n")
	if newEOL {
		result += "\n"
	}
	return result, nil
}

// hunkBodies returns the body lines of each hunk, cut from the raw diff text.
// go-diff drops the "\r" of CRLF body lines, so Hunk.Body cannot be compared against CRLF content.
func hunkBodies(unified string) [][]string {
	var bodies [][]string
	for _, ln := range strings.Split(unified, "\n") {
		if strings.HasPrefix(ln, "@@ ") {
			bodies = append(bodies, []string{})
			continue
		}
		if len(bodies) == 0 {
			continue
		}
		bodies[len(bodies)-1] = append(bodies[len(bodies)-1], ln)
	}
	return bodies
}

// splitLines splits content into lines without terminators and reports whether it ended with one.
func splitLines(s string) ([]string, bool) {
	if s == "" {
		return nil, true
	}
	eol := strings.HasSuffix(s, "\n")
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n"), eol
}

// newSideMissingEOL reports whether a no-newline marker follows a line present in the new file.
func newSideMissingEOL(unified string) bool {
	prev := byte(0)
	for _, ln := range strings.Split(unified, "\n") {
		if ln == noNewlineMarker {
			if prev == '+' || prev == ' ' {
				return true
			}
			continue
		}
		if ln != "" {
			prev = ln[0]
		}
	}
	return false
}
