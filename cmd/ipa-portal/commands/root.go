// Package commands implements the ipa-portal CLI.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "ipa-portal",
	Short: "Administrative portal for FreeIPA accounts",
	Long: `ipa-portal serves an HTTP API for operators to create, disable, enable,
delete and reset the passwords of FreeIPA accounts, singly or in bulk from
pasted lists and spreadsheets, and to download account reports.

Configuration is read from --config (YAML), then IPA_PORTAL_* environment
variables, e.g. IPA_PORTAL_DIRECTORY_SERVER=ipa.example.com.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); environment variables override it")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(templateCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
