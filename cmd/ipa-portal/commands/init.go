package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/netresearch/ipa-admin-portal/internal/config"
)

var (
	initForce  bool
	initServer string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with default values",
	Long: `Write a configuration file holding every setting at its default value.

Examples:
  ipa-portal init --config /etc/ipa-portal/config.yaml --server ipa.example.com
  ipa-portal init --config ./config.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
	initCmd.Flags().StringVar(&initServer, "server", "ipa.example.com", "directory server address")
}

func runInit(cmd *cobra.Command, _ []string) error {
	path := cfgFile
	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := config.SaveConfig(config.Default(initServer), path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created at: %s\n", path)
	fmt.Fprintf(cmd.OutOrStdout(), "Start the portal with: ipa-portal serve --config %s\n", path)
	return nil
}
