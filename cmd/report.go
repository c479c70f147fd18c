package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var reportJSON bool

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show per-user risk scores, alerts and the recent search timeline",
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

		rep, err := a.classifier.Report(cmd.Context())
		if err != nil {
			return err
		}

		if reportJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ACTOR\tSEARCHES\tSCORE\tLEVEL\tLAST ACTION")
		for _, u := range rep.Users {
			fmt.Fprintf(tw, "%s\t%d\t%v\t%s\t%s\n", u.Actor, u.Searches, u.Score, u.Level, u.LastAction.Format("2006-01-02 15:04:05"))
		}
		tw.Flush()

		if len(rep.Alerts) > 0 {
			fmt.Println()
			for _, alert := range rep.Alerts {
				fmt.Println("! " + alert)
			}
		}

		fmt.Println("\nSearches per minute:")
		for _, b := range rep.Timeline {
			fmt.Printf("  %s %s %d\n", b.Label, strings.Repeat("#", min(b.Count, 60)), b.Count)
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "print the raw JSON report")
	rootCmd.AddCommand(reportCmd)
}
