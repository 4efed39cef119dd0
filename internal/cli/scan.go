package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/fixloop/internal/scanner"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Print the repository map as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, _ := cmd.Flags().GetString("repo")
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		root, err := filepath.Abs(repo)
		if err != nil {
			return err
		}
		m, err := scanner.New(a.logger).Scan(cmd.Context(), root)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	scanCmd.Flags().String("repo", ".", "repository to scan")
}
