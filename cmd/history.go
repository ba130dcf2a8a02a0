package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/brogergvhs/mangacache/internal/config"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	flagHistorySeries string
	flagHistoryLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently completed chapters",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := loadApp(config.Options{CacheRoot: flagCacheRoot})
		if err != nil {
			return err
		}
		defer closeApp()

		entries, err := a.History.List(context.Background(), flagHistorySeries, flagHistoryLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No chapters recorded yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		_, _ = fmt.Fprintln(w, "WHEN\tSERIES\tCHAPTER\tPAGES")
		for _, e := range entries {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", humanize.Time(e.CompletedAt), e.SeriesSlug, e.Title, e.Pages)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().StringVar(&flagHistorySeries, "series", "", "only this series slug")
	historyCmd.Flags().IntVar(&flagHistoryLimit, "limit", 25, "maximum rows, 0 for all")
	historyCmd.Flags().StringVar(&flagCacheRoot, "cache-root", "", "cache directory")
	rootCmd.AddCommand(historyCmd)
}
