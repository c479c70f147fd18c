package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/vaultsearch/internal/config"
)

var (
	resetAdmin string
	resetYes   bool
)

var resetCmd = &cobra.Command{
	Use:   "reset-risk <actor>",
	Short: "Reset an actor's search count and risk score",
	Long: `Zeroes the activity counter of the given actor. The reset itself is
recorded on the ledger as a RISK_RESET block by the administrator.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := args[0]
		if !resetYes && !config.Confirm(fmt.Sprintf("Reset risk score for %s", target)) {
			fmt.Println("Aborted.")
			return nil
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		admin := resetAdmin
		if admin == "" {
			admin = defaultActor()
		}

		block, err := a.scorer.Reset(cmd.Context(), a.chain, admin, target)
		if err != nil {
			return err
		}
		fmt.Printf("Risk score for %s reset (block %d)\n", target, block.ID)
		return nil
	},
}

func init() {
	resetCmd.Flags().StringVar(&resetAdmin, "as", "", "administrator recorded on the ledger (defaults to the OS user)")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "skip the confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}
