package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bastionvault/bastion/config"
	"github.com/bastionvault/bastion/secmem"
	bboltstorage "github.com/bastionvault/bastion/storage/bbolt"
	"github.com/bastionvault/bastion/vault"
)

var (
	dataDir    string
	configPath string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the vault's on-disk and runtime status",
	RunE: func(cmd *cobra.Command, args []string) error {
		policy := vault.DefaultPolicy()
		if configPath != "" {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			policy = loaded
		}

		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := bboltstorage.NewStoreFromFile(filepath.Join(dataDir, "vault.db"), nil)
		if err != nil {
			return fmt.Errorf("failed to open vault storage: %w", err)
		}
		defer store.Close()

		v := vault.New(store, policy)
		initialized, err := v.Initialized()
		if err != nil {
			return err
		}

		fmt.Printf("initialized:        %t\n", initialized)
		fmt.Printf("device binding:     %t\n", policy.DeviceBindingEnabled)
		fmt.Printf("kdf profile:        %s\n", policy.KDFProfile)
		fmt.Printf("session timeout:    %ds\n", policy.SessionTimeoutSeconds)
		fmt.Printf("memory protection:  %t\n", secmem.NewContainer().HardwareProtected())
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./data", "Directory holding the vault database")
	statusCmd.Flags().StringVarP(&configPath, "config", "c", "", "Policy file (YAML); defaults apply when omitted")
	rootCmd.AddCommand(statusCmd)
}
