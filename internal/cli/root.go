package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/fixloop/internal/ticket"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

// Process exit codes.
const (
	ExitSuccess = 0
	ExitFailed  = 1
	ExitReview  = 2
)

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps an Execute error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitFailed
}

// exitCodeFor maps a final status to a process exit code.
func exitCodeFor(status ticket.FinalStatus) int {
	switch status {
	case ticket.FinalSuccess:
		return ExitSuccess
	case ticket.FinalStoppedForReview:
		return ExitReview
	default:
		return ExitFailed
	}
}

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "fixloop",
	Short: "Bounded, auditable test-failure remediation",
	Long: `fixloop runs a repository's tests, and while they fail, asks a suggestion model
which files to change and what to change them to. Every edit is recorded as a
unified diff, every command as an audit record, and anything risky stops the
run for human review.

Run state is stored in ~/.fixloop/ (JSON tickets and reports per run, SQLite
audit database).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config file (default: ./fixloop.yaml, ~/.fixloop/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(templatesCmd)
}
