package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bastion",
	Short: "Bastion is a local encrypted vault engine",
	Long: `A local, offline vault engine: passphrase-derived keys, device binding
and sealed records. Complete documentation is available at
https://github.com/bastionvault/bastion`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
