// Package sandbox runs shell commands inside the target repository with a hard timeout.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/fixloop/internal/ticket"
)

// DefaultGracePeriod is how long a timed-out process group gets between SIGTERM and SIGKILL.
const DefaultGracePeriod = 2 * time.Second

// DefaultMaxOutput caps how many bytes of each stream are retained in memory.
const DefaultMaxOutput = 1 << 20

// Result is the raw outcome of one command.
type Result struct {
	Status   ticket.RunStatus
	ExitCode *int
	Duration time.Duration
	Stdout   string
	Stderr   string
	// Err is set when the command could not be started or waited on.
	Err error
}

// Gateway executes commands. Implementations must never leave a process running after Run returns.
type Gateway interface {
	Run(ctx context.Context, dir string, command string, timeout time.Duration) Result
}

// Shell implements Gateway with "sh -c".
type Shell struct {
	GracePeriod time.Duration
	MaxOutput   int
	Env         []string
	logger      *zap.Logger
}

// NewShell creates a Shell gateway.
func NewShell(logger *zap.Logger) *Shell {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Shell{
		GracePeriod: DefaultGracePeriod,
		MaxOutput:   DefaultMaxOutput,
		logger:      logger,
	}
}

// Run executes command in dir. A non-positive timeout means no deadline beyond ctx.
func (s *Shell) Run(ctx context.Context, dir string, command string, timeout time.Duration) Result {
	if _, err := os.Stat(dir); err != nil {
		return Result{Status: ticket.StatusError, Err: fmt.Errorf("working directory: %w", err)}
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	stdout := newTailBuffer(s.maxOutput())
	stderr := newTailBuffer(s.maxOutput())

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.WaitDelay = s.grace()
	configureProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{
			Status:   ticket.StatusError,
			Duration: time.Since(start),
			Err:      fmt.Errorf("start command: %w", err),
		}
	}

	waitDone := make(chan error, 1)
	go func() {
		waitDone <- cmd.Wait()
	}()

	var runErr error
	timedOut := false
	select {
	case runErr = <-waitDone:
	case <-runCtx.Done():
		timedOut = ctx.Err() == nil
		s.logger.Warn("terminating command",
			zap.String("command", command),
			zap.Bool("timeout", timedOut),
			zap.Duration("after", time.Since(start)),
		)
		terminate(cmd, s.grace(), waitDone, &runErr)
	}

	res := Result{
		Duration: time.Since(start),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	switch {
	case timedOut:
		res.Status = ticket.StatusTimeout
	case ctx.Err() != nil:
		res.Status = ticket.StatusError
		res.Err = fmt.Errorf("command cancelled: %w", ctx.Err())
	case runErr == nil:
		res.Status = ticket.StatusSuccess
		res.ExitCode = ticket.IntPtr(0)
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) && exitErr.ExitCode() >= 0 {
			res.Status = ticket.StatusFail
			res.ExitCode = ticket.IntPtr(exitErr.ExitCode())
		} else {
			res.Status = ticket.StatusError
			res.Err = fmt.Errorf("wait command: %w", runErr)
		}
	}
	return res
}

func (s *Shell) grace() time.Duration {
	if s.GracePeriod <= 0 {
		return DefaultGracePeriod
	}
	return s.GracePeriod
}

func (s *Shell) maxOutput() int {
	if s.MaxOutput <= 0 {
		return DefaultMaxOutput
	}
	return s.MaxOutput
}

// terminate stops the process group and waits for Wait to return.
func terminate(cmd *exec.Cmd, grace time.Duration, waitDone <-chan error, runErr *error) {
	signalGroup(cmd, false)
	select {
	case *runErr = <-waitDone:
		return
	case <-time.After(grace):
	}
	signalGroup(cmd, true)
	*runErr = <-waitDone
}
