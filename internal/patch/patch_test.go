package patch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff_Format(t *testing.T) {
	old := "def add(a, b):\n    return a - b\n"
	updated := "def add(a, b):\n    return a + b\n"
	want := "--- a/src/calc.py\n+++ b/src/calc.py\n@@ -1,2 +1,2 @@\n def add(a, b):\n-    return a - b\n+    return a + b\n"
	assert.Equal(t, want, Diff(old, updated, "src/calc.py"))
	assert.Empty(t, Diff(old, old, "src/calc.py"))
}

func TestDiff_NewFileRange(t *testing.T) {
	d := Diff("", "x = 1\n", "src/new.py")
	assert.Contains(t, d, "@@ -0,0 +1 @@")
}

func TestApply_RoundTrip(t *testing.T) {
	long := func(n int, change int) string {
		var sb strings.Builder
		for i := 0; i < n; i++ {
			if i == change {
				sb.WriteString("changed\n")
				continue
			}
			sb.WriteString("line\n")
		}
		return sb.String()
	}
	cases := map[string][2]string{
		"single line":           {"a\n", "b\n"},
		"append":                {"a\nb\n", "a\nb\nc\n"},
		"delete all":            {"a\nb\n", ""},
		"from empty":            {"", "x\ny\n"},
		"old missing newline":   {"a\nb", "a\nc\n"},
		"new missing newline":   {"a\nb\n", "a\nc"},
		"both missing newline":  {"a\nb", "a\nc"},
		"context missing eol":   {"a\nb\nc\nd\ne\nf", "A\nb\nc\nd\ne\nf"},
		"crlf":                  {"a\r\nb\r\n", "a\r\nc\r\n"},
		"crlf insert":           {"a\r\nb\r\nc\r\n", "a\r\nb\r\nnew\r\nc\r\n"},
		"crlf blank context":    {"a\r\n\r\nb\r\n", "a\r\n\r\nc\r\n"},
		"crlf missing newline":  {"a\r\nb", "a\r\nc\r\n"},
		"two hunks":             {long(30, -1), strings.Replace(long(30, 2), "line\n", "x\n", 1)},
		"far apart edits":       {long(40, 5), long(40, 35)},
		"insert in middle":      {"a\nb\nc\n", "a\nb\nnew\nc\n"},
		"trailing only differs": {"a\nb", "a\nb\n"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			d := Diff(c[0], c[1], "f.txt")
			require.NotEmpty(t, d)
			got, err := Apply(c[0], d)
			require.NoError(t, err)
			assert.Equal(t, c[1], got)
		})
	}
}

func TestApply_Mismatch(t *testing.T) {
	d := Diff("a\nb\n", "a\nc\n", "f.txt")
	_, err := Apply("a\nzzz\n", d)
	assert.ErrorIs(t, err, ErrMismatch)
}

func TestApply_Empty(t *testing.T) {
	got, err := Apply("same\n", "")
	require.NoError(t, err)
	assert.Equal(t, "same\n", got)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "x\n", Normalize("x", "y\n"))
	assert.Equal(t, "x\ny\n", Normalize("x\r\ny", "a\n"))
	assert.Equal(t, "x\r\ny\r\n", Normalize("x\ny", "a\r\nb\r\n"))
	assert.Equal(t, "", Normalize("", "a\n"))
}

func TestBuild(t *testing.T) {
	p, ok, err := Build("src/calc.py", "x = 1\n", "x = 2\n", "", 1.5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"src/calc.py"}, p.FilesTouched)
	assert.Equal(t, "Update src/calc.py", p.Summary)
	assert.Equal(t, 1.0, p.Confidence)
	assert.NotEmpty(t, p.PatchID)

	_, ok, err = Build("src/calc.py", "x = 1\n", "x = 1\n", "", 0.5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBuild_CRLF(t *testing.T) {
	old := "def f():\r\n    return 1\r\n"
	updated := Normalize("def f():\n    return 2\n", old)
	require.Equal(t, "def f():\r\n    return 2\r\n", updated)

	p, ok, err := Build("src/app.py", old, updated, "", 0.5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, p.DiffUnified, "-    return 1\r\n")

	got, err := Apply(old, p.DiffUnified)
	require.NoError(t, err)
	assert.Equal(t, updated, got)
}

func TestApply_CRLFMismatch(t *testing.T) {
	d := Diff("a\r\nb\r\n", "a\r\nc\r\n", "f.txt")
	_, err := Apply("a\nb\n", d)
	assert.ErrorIs(t, err, ErrMismatch)
}

func TestFiles(t *testing.T) {
	root := t.TempDir()
	var f Files

	_, err := f.Read(root, "src/missing.py")
	assert.True(t, IsNotExist(err))

	require.NoError(t, f.Write(root, "src/pkg/mod.py", "x = 1\n"))
	got, err := f.Read(root, "src/pkg/mod.py")
	require.NoError(t, err)
	assert.Equal(t, "x = 1\n", got)
	assert.True(t, f.Exists(root, "src/pkg/mod.py"))
	assert.False(t, f.Exists(root, "src/pkg"))

	data, err := os.ReadFile(filepath.Join(root, "src", "pkg", "mod.py"))
	require.NoError(t, err)
	assert.Equal(t, "x = 1\n", string(data))

	assert.ErrorIs(t, f.Write(root, "../escape.py", "x"), ErrOutsideRoot)
	_, err = f.Read(root, "/etc/passwd")
	assert.ErrorIs(t, err, ErrOutsideRoot)
}
