//go:build unix

package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/lucasnoah/fixloop/internal/ticket"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestShell_Success(t *testing.T) {
	s := NewShell(nil)
	res := s.Run(context.Background(), t.TempDir(), "echo hello; echo oops >&2", 5*time.Second)
	if res.Status != ticket.StatusSuccess {
		t.Fatalf("expected success, got %s (%v)", res.Status, res.Err)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Errorf("expected exit 0, got %v", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("unexpected stdout: %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "oops" {
		t.Errorf("unexpected stderr: %q", res.Stderr)
	}
}

func TestShell_NonZeroExit(t *testing.T) {
	s := NewShell(nil)
	res := s.Run(context.Background(), t.TempDir(), "exit 3", 5*time.Second)
	if res.Status != ticket.StatusFail {
		t.Fatalf("expected fail, got %s", res.Status)
	}
	if res.ExitCode == nil || *res.ExitCode != 3 {
		t.Errorf("expected exit 3, got %v", res.ExitCode)
	}
}

func TestShell_Timeout(t *testing.T) {
	s := NewShell(nil)
	s.GracePeriod = 100 * time.Millisecond
	start := time.Now()
	res := s.Run(context.Background(), t.TempDir(), "sleep 30 & sleep 30", 200*time.Millisecond)
	if res.Status != ticket.StatusTimeout {
		t.Fatalf("expected timeout, got %s", res.Status)
	}
	if res.ExitCode != nil {
		t.Errorf("expected nil exit code on timeout, got %d", *res.ExitCode)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took too long: %s", elapsed)
	}
}

func TestShell_MissingDir(t *testing.T) {
	s := NewShell(nil)
	res := s.Run(context.Background(), "/nonexistent/dir/for/test", "true", time.Second)
	if res.Status != ticket.StatusError {
		t.Fatalf("expected error, got %s", res.Status)
	}
	if res.ExitCode != nil {
		t.Error("expected nil exit code on error")
	}
}

func TestShell_CancelledContext(t *testing.T) {
	s := NewShell(nil)
	s.GracePeriod = 100 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	res := s.Run(ctx, t.TempDir(), "sleep 30", 10*time.Second)
	if res.Status != ticket.StatusError {
		t.Fatalf("expected error on cancellation, got %s", res.Status)
	}
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(5)
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defg"))
	if got := b.String(); got != "cdefg" {
		t.Errorf("expected cdefg, got %q", got)
	}
	_, _ = b.Write([]byte("0123456789"))
	if got := b.String(); got != "56789" {
		t.Errorf("expected 56789, got %q", got)
	}
}
