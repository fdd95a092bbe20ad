package main

import (
	"github.com/spf13/cobra"
)

// newRootCmd creates the root command and attaches subcommands.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adcrawler",
		Short: "Harvests structured ad records from an ad transparency library.",
		Long: `adcrawler walks the paginated search results of an ad transparency library
for an advertiser or keyword, fetches each ad's detail page, and emits one
structured record per ad together with periodic progress checkpoints.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "path to a YAML config file")
	cmd.AddCommand(newCrawlCmd())
	return cmd
}
