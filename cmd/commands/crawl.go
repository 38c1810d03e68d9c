package commands

import (
	"github.com/spf13/cobra"

	"insta_spider/internal/app"
)

var crawlOpts app.CrawlOptions

func init() {
	crawlCmd.Flags().BoolVar(&crawlOpts.Overwrite, "overwrite", false, "Replace stored items instead of stopping at the first one already stored.")
	crawlCmd.Flags().IntVar(&crawlOpts.Workers, "workers", 0, "Worker count. Zero picks twice the CPU count plus one.")
	crawlCmd.Flags().StringSliceVar(&crawlOpts.Entities, "entity", nil, "Crawl these profiles instead of the stored target list.")
	rootCmd.AddCommand(crawlCmd)
}

var crawlCmd = &cobra.Command{
	Use:   "crawl [--overwrite] [--workers N] [--entity name...]",
	Short: "Crawls every target once and records failures for a later retry.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, logger, err := openApp()
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				logger.Warn("close failed", "err", err)
			}
		}()

		_, err = a.Crawl(cmd.Context(), crawlOpts)
		return err
	},
}
