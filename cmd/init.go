package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/menusql/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize menusql configuration with an interactive wizard",
	Long:  `Runs an interactive wizard to choose a provider, rules directory and data directory, and writes a .menusql.yml file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard(cfgFile)
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
