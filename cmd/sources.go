package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List configured data sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CODE\tNAME\tENABLED\tPRIORITY\tRPS\tCREDENTIALS")
		for _, sc := range cfg.Sources {
			creds := "-"
			if sc.RequiresCredentials {
				if sc.APIKey != "" {
					creds = "configured"
				} else {
					creds = "missing"
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%.1f\t%s\n",
				sc.Code, sc.DisplayName, sc.Enabled, sc.Priority, sc.RateLimitRPS, creds)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}
