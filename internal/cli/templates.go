package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/fixloop/internal/prompt"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage the prompt templates sent to the suggestion model",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List built-in template names",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range prompt.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

var templatesExportCmd = &cobra.Command{
	Use:   "export DIR",
	Short: "Write the built-in templates to DIR for editing (existing files are kept)",
	Long: `Write the built-in templates to DIR. Point oracle.templates_dir at DIR to
use the edited copies; templates missing from DIR fall back to the built-ins.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		written, err := prompt.Export(args[0])
		if err != nil {
			return err
		}
		for _, p := range written {
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", p)
		}
		if len(written) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "All templates already exist.")
		}
		return nil
	},
}

func init() {
	templatesCmd.AddCommand(templatesListCmd)
	templatesCmd.AddCommand(templatesExportCmd)
}
