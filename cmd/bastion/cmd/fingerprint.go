package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bastionvault/bastion/device"
	"github.com/bastionvault/bastion/internal/util"
)

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Show this machine's device binding fingerprint",
	Long: `Computes the hardware fingerprint that device-bound vaults mix into
key derivation. The fingerprint is not secret, but a vault bound to it
cannot be opened on a machine that produces a different one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fp, err := device.NewOracle().Fingerprint()
		if err != nil {
			return fmt.Errorf("this machine cannot be fingerprinted: %w", err)
		}
		fmt.Printf("fingerprint: %s\n", util.HexEncode(fp.Bytes))
		fmt.Printf("source:      %s\n", fp.Source)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fingerprintCmd)
}
