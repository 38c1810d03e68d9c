package commands

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var ledgerLimit int

func init() {
	ledgerCmd.Flags().IntVar(&ledgerLimit, "limit", 50, "Show at most this many entries. Zero shows all.")
	rootCmd.AddCommand(ledgerCmd)
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger [--limit N]",
	Short: "Lists pending failure records, oldest first, without removing them.",
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

		records, err := a.Pending(cmd.Context(), ledgerLimit)
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetStyle(table.StyleRounded)
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"#", "Username", "Date", "Error"})
		for i, rec := range records {
			t.AppendRow(table.Row{i + 1, rec.Username, rec.Date, rec.Error})
		}
		t.AppendFooter(table.Row{"", "", "pending", len(records)})
		t.Render()
		return nil
	},
}
