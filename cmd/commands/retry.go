package commands

import (
	"github.com/spf13/cobra"

	"insta_spider/internal/app"
)

var retryOpts app.RetryOptions

func init() {
	retryCmd.Flags().BoolVar(&retryOpts.Overwrite, "overwrite", false, "Replace stored items instead of stopping at the first one already stored.")
	retryCmd.Flags().IntVar(&retryOpts.Workers, "workers", 0, "Worker count. Zero picks the CPU count.")
	rootCmd.AddCommand(retryCmd)
}

var retryCmd = &cobra.Command{
	Use:   "retry [--overwrite] [--workers N]",
	Short: "Drains the failure ledger and crawls each recorded profile again.",
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

		_, err = a.Retry(cmd.Context(), retryOpts)
		return err
	},
}
