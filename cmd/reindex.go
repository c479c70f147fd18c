package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/vaultsearch/internal/progress"
)

var reindexActor string

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild every search token from the stored records",
	Long: `Decrypts the indexed fields of every record and replaces the whole
blind index in one REINDEX block. Run it after changing index.fields.`,
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

		actor := reindexActor
		if actor == "" {
			actor = defaultActor()
		}

		rep := progress.NewReporter("Reindexing")
		res, err := a.reindexer.Reindex(cmd.Context(), actor, progress.Track(rep, "deriving tokens"))
		rep.Finish()
		if err != nil {
			return err
		}

		fmt.Printf("Reindexed %d records into %d tokens", res.Records-res.Skipped, res.Tokens)
		if res.Skipped > 0 {
			fmt.Printf(" (%d undecryptable records skipped)", res.Skipped)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	reindexCmd.Flags().StringVar(&reindexActor, "as", "", "actor recorded on the ledger (defaults to the OS user)")
	rootCmd.AddCommand(reindexCmd)
}
