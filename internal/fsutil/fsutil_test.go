package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAtomic_CreatesDirsAndKeepsMode(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a", "b", "run.sh")
	if err := WriteAtomic(p, []byte("echo 1\n"), 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := WriteAtomic(p, []byte("echo 2\n"), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, err := os.Stat(p)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("expected existing mode kept, got %v", info.Mode().Perm())
	}
	data, _ := os.ReadFile(p)
	if string(data) != "echo 2\n" {
		t.Errorf("unexpected content %q", data)
	}
	entries, _ := os.ReadDir(filepath.Dir(p))
	if len(entries) != 1 {
		t.Errorf("expected temp files cleaned up, got %d entries", len(entries))
	}
}

func TestJSONRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.json")
	in := map[string]int{"a": 1}
	if err := WriteJSON(p, in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out map[string]int
	if err := ReadJSON(p, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["a"] != 1 {
		t.Errorf("unexpected %v", out)
	}
}
