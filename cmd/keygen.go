package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/vaultsearch/internal/config"
	"github.com/ziadkadry99/vaultsearch/internal/keys"
)

var (
	keygenOut   string
	keygenPrint bool
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new cipher and index key pair",
	Long: `Writes a fresh random key pair to the configured key file (or --out).
An existing file is never overwritten. With --print the keys are written to
stdout as environment assignments instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if keygenPrint {
			f, err := keys.Generate()
			if err != nil {
				return err
			}
			fmt.Printf("%sKEYS__CIPHER_KEY=%s\n", config.EnvPrefix, f.CipherKey)
			fmt.Printf("%sKEYS__INDEX_KEY=%s\n", config.EnvPrefix, f.IndexKey)
			return nil
		}

		path := keygenOut
		if path == "" {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			path = cfg.Keys.File
		}
		return ensureKeyFile(path)
	},
}

func init() {
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "", "key file path (defaults to keys.file)")
	keygenCmd.Flags().BoolVar(&keygenPrint, "print", false, "print keys as environment variables instead of writing a file")
	rootCmd.AddCommand(keygenCmd)
}
