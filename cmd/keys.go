package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"scanci/internal/audit"
)

var keysDir string

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage journal signing keys",
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new ed25519 signing key pair",
	RunE: func(_ *cobra.Command, _ []string) error {
		if err := os.MkdirAll(keysDir, 0o700); err != nil {
			return fmt.Errorf("create key dir: %w", err)
		}
		pubPath := filepath.Join(keysDir, "scanci.pub")
		privPath := filepath.Join(keysDir, "scanci.key")
		if _, err := os.Stat(privPath); err == nil {
			return fmt.Errorf("refusing to overwrite existing key %s", privPath)
		}

		pub, priv, err := audit.GenerateKeyPair()
		if err != nil {
			return err
		}
		if err := audit.SaveKeyPair(pub, priv, pubPath, privPath); err != nil {
			return err
		}
		logger.Info("key pair generated", "public", pubPath, "private", privPath)
		return nil
	},
}

func init() {
	keysGenerateCmd.Flags().StringVar(&keysDir, "dir", "keys", "directory to write the key pair into")
	keysCmd.AddCommand(keysGenerateCmd)
	rootCmd.AddCommand(keysCmd)
}
