package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/netresearch/ipa-admin-portal/internal/excel"
)

var templateOut string

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Write the bulk import spreadsheet template",
	Long: `Write the .xlsx template operators fill in for bulk account creation.

Columns: full name (surname first), email, phone, title, comma-separated groups.

Examples:
  ipa-portal template
  ipa-portal template --out /tmp/users.xlsx`,
	RunE: runTemplate,
}

func init() {
	templateCmd.Flags().StringVarP(&templateOut, "out", "o", excel.TemplateFilename, "output file")
}

func runTemplate(cmd *cobra.Command, _ []string) error {
	f, err := os.Create(templateOut)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", templateOut, err)
	}
	if err := excel.WriteTemplate(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write template: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", templateOut, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Template written to %s\n", templateOut)
	return nil
}
