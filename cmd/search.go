package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	searchActor string
	searchLimit int
	searchJSON  bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find records by exact value or prefix",
	Long: `Searches the blind index for the given text. The query matches a whole
indexed value or a prefix of at least three characters, case-insensitively.
The search is recorded on the ledger and counts toward the actor's risk score.`,
	Args: cobra.MinimumNArgs(1),
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

		actor := searchActor
		if actor == "" {
			actor = defaultActor()
		}

		res, err := a.search.Search(cmd.Context(), actor, strings.Join(args, " "), searchLimit)
		if err != nil {
			return err
		}

		if searchJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}

		if res.Count == 0 {
			fmt.Println("No matching records.")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tACCOUNT\tCITY\tBANK\tBRANCH")
		for _, s := range res.Results {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.CustomerName, s.Account, s.City, s.Bank, s.Branch)
		}
		tw.Flush()
		fmt.Printf("\n%d results in %vms\n", res.Count, res.TimeMS)
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchActor, "as", "", "actor recorded on the ledger (defaults to the OS user)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum token rows to read (defaults to search.result_cap)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "print the raw JSON result")
	rootCmd.AddCommand(searchCmd)
}
