package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brogergvhs/mangacache/internal/config"
	"github.com/brogergvhs/mangacache/internal/ui"
	"github.com/brogergvhs/mangacache/internal/util"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and resume unfinished download operations",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := loadApp(config.Options{CacheRoot: flagCacheRoot})
		if err != nil {
			return err
		}
		defer closeApp()

		ops := a.Queue.LoadQueue()
		if len(ops) == 0 {
			fmt.Println("Queue is empty.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		_, _ = fmt.Fprintln(w, "ID\tSERIES\tSTATUS\tDONE\tUPDATED\tERROR")
		for _, op := range ops {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
				op.ID, a.SeriesTitle(op), op.Status,
				len(op.CompletedChapters), len(op.Chapters),
				humanize.Time(op.UpdatedAt), op.Error)
		}
		return w.Flush()
	},
}

var queueResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume every queued operation that still has work",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := loadApp(config.Options{CacheRoot: flagCacheRoot})
		if err != nil {
			return err
		}
		defer closeApp()

		ctx, cancel := util.InterruptContext(context.Background())
		defer cancel()

		a.Start(ctx)
		if err := a.WaitForNetwork(ctx); err != nil {
			return err
		}

		pm := ui.NewProgressManager()
		start := time.Now()
		n, err := a.Recover(ctx, newBarHooks(pm, a.Stats).Hooks())
		pm.Close()

		a.Stats.PrintSummary(os.Stdout, time.Since(start))
		if err != nil {
			return explainStop(err)
		}
		fmt.Printf("\nFinished %d operations.\n", n)
		if left := len(a.Queue.LoadQueue()); left > 0 {
			fmt.Printf("%d operations remain queued.\n", left)
		}
		return nil
	},
}

var queueRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Drop an operation from the queue (an ID prefix is enough)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := loadApp(config.Options{CacheRoot: flagCacheRoot})
		if err != nil {
			return err
		}
		defer closeApp()

		op, err := a.Queue.Find(args[0])
		if err != nil {
			return err
		}
		if _, err := a.Queue.Remove(op.ID); err != nil {
			return err
		}

		fmt.Printf("Removed %s (%s). Cached chapters are kept.\n", op.ID, a.SeriesTitle(op))
		return nil
	},
}

func init() {
	queueCmd.PersistentFlags().StringVar(&flagCacheRoot, "cache-root", "", "cache directory")
	queueCmd.AddCommand(queueListCmd, queueResumeCmd, queueRemoveCmd)
	rootCmd.AddCommand(queueCmd)
}
