package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/brogergvhs/mangacache/internal/cache"
	"github.com/brogergvhs/mangacache/internal/packaging"

	"github.com/spf13/cobra"
)

var (
	flagRetagTitle string
	flagRetagForce bool
)

var cbzCmd = &cobra.Command{
	Use:   "cbz",
	Short: "Work with existing CBZ archives",
}

var cbzRetagCmd = &cobra.Command{
	Use:   "retag <file.cbz>...",
	Short: "Add ComicInfo.xml with chapter bookmarks to CBZ files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var failed int
		for _, path := range args {
			title := flagRetagTitle
			if title == "" {
				title = cache.TitleFromSlug(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
			}

			pages, chs, err := packaging.RetagCBZ(path, title, flagRetagForce)
			switch {
			case errors.Is(err, packaging.ErrHasComicInfo):
				fmt.Printf("%s: already tagged, use --force to rewrite\n", path)
			case err != nil:
				fmt.Printf("%s: %v\n", path, err)
				failed++
			default:
				fmt.Printf("%s: %d pages in %d chapters\n", path, pages, chs)
			}
		}

		if failed > 0 {
			return fmt.Errorf("%d archives failed", failed)
		}
		return nil
	},
}

var cbzChaptersCmd = &cobra.Command{
	Use:   "chapters <file.cbz>",
	Short: "List the chapters stored in a CBZ",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := packaging.ArchiveChapters(args[0])
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}

func init() {
	cbzRetagCmd.Flags().StringVar(&flagRetagTitle, "title", "", "series title, defaults to the file name")
	cbzRetagCmd.Flags().BoolVar(&flagRetagForce, "force", false, "replace an existing ComicInfo.xml")
	cbzCmd.AddCommand(cbzRetagCmd, cbzChaptersCmd)
	rootCmd.AddCommand(cbzCmd)
}
