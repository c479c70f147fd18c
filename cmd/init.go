package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/vaultsearch/internal/config"
	"github.com/ziadkadry99/vaultsearch/internal/keys"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize vaultsearch configuration with an interactive wizard",
	Long: `Runs an interactive wizard that writes a .vaultsearch.yml file and
generates a key file in the data directory if none exists.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.RunWizard(cfgFile)
		if err != nil {
			return err
		}
		return ensureKeyFile(cfg.Keys.File)
	},
}

// ensureKeyFile creates a fresh key file at path unless one already exists.
func ensureKeyFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Using existing key file %s\n", path)
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	f, err := keys.Generate()
	if err != nil {
		return err
	}
	if err := keys.WriteFile(path, f); err != nil {
		return err
	}
	fmt.Printf("Generated key file %s\n", path)
	fmt.Println("Back it up: records cannot be decrypted or searched without it.")
	return nil
}

func init() {
	rootCmd.AddCommand(initCmd)
}
