package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/brogergvhs/mangacache/internal/cache"
	"github.com/brogergvhs/mangacache/internal/config"

	"github.com/dustin/go-humanize"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

var flagShowChapters bool

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and prune the chapter cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached series with their size and incomplete chapters",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := loadApp(config.Options{CacheRoot: flagCacheRoot})
		if err != nil {
			return err
		}
		defer closeApp()

		series, err := a.Root.Scan()
		if err != nil {
			return err
		}
		if len(series) == 0 {
			fmt.Printf("Cache at %s is empty.\n", a.Root.Dir())
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		_, _ = fmt.Fprintln(w, "SERIES\tCHAPTERS\tINCOMPLETE\tSIZE\tPATH")

		var total int64
		for _, s := range series {
			total += s.Size
			_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n",
				s.Title, len(s.Chapters), s.BrokenCount(), humanize.Bytes(uint64(s.Size)), s.Path)

			if !flagShowChapters {
				continue
			}
			for _, c := range s.Chapters {
				state := ""
				if c.Broken {
					state = "incomplete"
				}
				_, _ = fmt.Fprintf(w, "  %s\t%d pages\t%s\t%s\t\n", c.Name, c.Pages, state, humanize.Bytes(uint64(c.Size)))
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Printf("\nTotal: %s in %d series\n", humanize.Bytes(uint64(total)), len(series))
		return nil
	},
}

var cacheDeleteCmd = &cobra.Command{
	Use:   "delete [path...]",
	Short: "Delete cached series or chapters; without arguments pick them interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, closeApp, err := loadApp(config.Options{CacheRoot: flagCacheRoot})
		if err != nil {
			return err
		}
		defer closeApp()

		paths := args
		if len(paths) == 0 {
			series, err := a.Root.Scan()
			if err != nil {
				return err
			}
			if paths, err = pickCachePaths(series); err != nil {
				return err
			}
			if len(paths) == 0 {
				fmt.Println("Nothing selected.")
				return nil
			}
		}

		confirm := promptui.Prompt{
			Label:     fmt.Sprintf("Delete %d paths", len(paths)),
			IsConfirm: true,
		}
		if _, err := confirm.Run(); err != nil {
			fmt.Println("Aborted.")
			return nil
		}

		freed, err := a.DeleteCached(context.Background(), paths)
		fmt.Printf("Freed %s\n", humanize.Bytes(uint64(freed)))
		if errors.Is(err, cache.ErrOutsideRoot) {
			return fmt.Errorf("%w (cache root is %s)", err, a.Root.Dir())
		}
		return err
	},
}

type cacheItem struct {
	Label string
	Path  string
	Size  string
	Mark  string
}

// pickCachePaths toggles entries in a promptui list until "Delete selected".
func pickCachePaths(series []cache.CachedSeries) ([]string, error) {
	var items []*cacheItem
	for _, s := range series {
		items = append(items, &cacheItem{Label: s.Title, Path: s.Path, Size: humanize.Bytes(uint64(s.Size))})
		for _, c := range s.Chapters {
			label := "  " + c.Name
			if c.Broken {
				label += " (incomplete)"
			}
			items = append(items, &cacheItem{Label: label, Path: c.Path, Size: humanize.Bytes(uint64(c.Size))})
		}
	}
	if len(items) == 0 {
		return nil, errors.New("cache is empty")
	}

	done := &cacheItem{Label: "Delete selected"}
	all := append([]*cacheItem{done}, items...)

	cursor := 0
	for {
		sel := promptui.Select{
			Label: "Select entries to delete",
			Items: all,
			Size:  15,
			Templates: &promptui.SelectTemplates{
				Active:   `> {{ .Mark | red }} {{ .Label | cyan }} {{ .Size | faint }}`,
				Inactive: `  {{ .Mark | red }} {{ .Label }} {{ .Size | faint }}`,
				Selected: `{{ .Label }}`,
			},
			CursorPos:    cursor,
			HideSelected: true,
		}

		idx, _, err := sel.Run()
		if err != nil {
			return nil, fmt.Errorf("selection cancelled")
		}
		if idx == 0 {
			break
		}

		it := all[idx]
		if it.Mark == "" {
			it.Mark = "[x]"
		} else {
			it.Mark = ""
		}
		cursor = idx
	}

	var out []string
	for _, it := range items {
		if it.Mark != "" {
			out = append(out, it.Path)
		}
	}
	return out, nil
}

func init() {
	cacheCmd.PersistentFlags().StringVar(&flagCacheRoot, "cache-root", "", "cache directory")
	cacheListCmd.Flags().BoolVar(&flagShowChapters, "chapters", false, "list every chapter")
	cacheCmd.AddCommand(cacheListCmd, cacheDeleteCmd)
	rootCmd.AddCommand(cacheCmd)
}
