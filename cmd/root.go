package cmd

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "vaultsearch",
	Short: "Searchable encrypted record vault with a tamper-evident ledger",
	Long: `vaultsearch stores bank records encrypted at rest and finds them by
prefix through a keyed blind index, without decrypting the corpus. Every
search, upload and administrative action is appended to a hash-chained
ledger that can be verified at any time, and search activity feeds a
per-user risk score.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", ".vaultsearch.yml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
