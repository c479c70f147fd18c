package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the integrity chain for tampering",
	Long: `Recomputes every block hash from the genesis sentinel and reports the
first block whose stored hash or link does not match. Exits non-zero when
tampering is detected.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		res, err := a.chain.Verify(cmd.Context())
		if err != nil {
			return err
		}

		if res.OK() {
			fmt.Printf("%s: %d blocks, tail %s\n", res.Status, res.TotalBlocks, res.LastHash)
			return nil
		}
		fmt.Printf("%s: first bad block %d of %d\n", res.Status, *res.FirstBadBlockID, res.TotalBlocks)
		return fmt.Errorf("integrity chain has been tampered with")
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
