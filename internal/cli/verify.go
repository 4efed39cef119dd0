package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/fixloop/internal/config"
	"github.com/lucasnoah/fixloop/internal/sandbox"
	"github.com/lucasnoah/fixloop/internal/ticket"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run the verification command once without changing anything",
	Long: `Scan the repository, resolve the verification command, and run it once
together with any configured advisory checks. The tool runs are printed as
JSON. Exits 1 when the tests do not pass.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, _ := cmd.Flags().GetString("repo")
		command, _ := cmd.Flags().GetString("command")
		parser, _ := cmd.Flags().GetString("parser")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if command != "" {
			a.cfg.Verification.Command = command
		}
		if parser != "" {
			a.cfg.Verification.Parser = parser
		}
		if timeout > 0 {
			a.cfg.Run.Timeout = config.Duration(timeout)
		}

		root, err := filepath.Abs(repo)
		if err != nil {
			return err
		}

		engine := a.engine(sandbox.NewShell(a.logger), nil)
		engine.SetProgress(cmd.ErrOrStderr())

		t := ticket.New(ticket.Params{
			RepoRef:       root,
			TaskPrompt:    "verify",
			TimeoutSec:    a.cfg.TimeoutSec(),
			MaxIterations: 1,
		})
		ctx := cmd.Context()
		engine.Scan(ctx, t)
		if t.Escalated() {
			return fmt.Errorf("scan: %s", t.HITL.Reason)
		}
		engine.Intake(ctx, t)
		engine.Verify(ctx, t)

		data, err := json.MarshalIndent(t.ToolRuns, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))

		last, ok := t.LastTestRun()
		if !ok {
			return fmt.Errorf("verification did not run: %s", t.HITL.Reason)
		}
		if last.Status != ticket.StatusSuccess {
			return &ExitError{Code: ExitFailed}
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().String("repo", ".", "repository to verify")
	verifyCmd.Flags().String("command", "", "verification command (default: detected)")
	verifyCmd.Flags().String("parser", "", "failure parser for the command output")
	verifyCmd.Flags().Duration("timeout", 0, "command timeout (default from config)")
}
