package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brogergvhs/mangacache/internal/app"
	"github.com/brogergvhs/mangacache/internal/chapters"
	"github.com/brogergvhs/mangacache/internal/config"
	"github.com/brogergvhs/mangacache/internal/downloader"
	"github.com/brogergvhs/mangacache/internal/netguard"
	"github.com/brogergvhs/mangacache/internal/ui"
	"github.com/brogergvhs/mangacache/internal/util"

	"github.com/spf13/cobra"
)

var (
	// selection
	flagURL      string
	flagChapter  string
	flagRange    string
	flagList     string
	flagExclude  []string
	flagAllowExt string
	flagTitle    string

	// runtime
	flagOutput    string
	flagCacheRoot string
	flagWorkers   int
	flagFormat    string
	flagDryRun    bool
	flagForce     bool
	flagRefresh   bool
	flagSync      string
	flagNoResume  bool

	// network
	flagCookie     string
	flagCookieFile string
	flagUserAgent  string
	flagProxy      string
)

func init() {
	downloadCmd := &cobra.Command{
		Use:   "download",
		Short: "Download chapters into the cache and package them. Uses the defaults from the selected config, overwritten by CLI flags",
		RunE:  runDownload,
	}

	f := downloadCmd.Flags()

	// selection
	f.StringVar(&flagURL, "url", "", "manga series page or single chapter URL")
	f.StringVar(&flagChapter, "chapter", "", "download single chapter by index or label (e.g. 5 or 28.5)")
	f.StringVar(&flagRange, "range", "", "download range of chapters by index (e.g. 5-12)")
	f.StringVar(&flagList, "list", "", "download specific chapter indices (e.g. 1,3,5)")
	f.StringSliceVar(&flagExclude, "exclude", nil, "chapter URL slugs to skip (e.g. chapter-12)")
	f.StringVar(&flagAllowExt, "allow-ext", "", "allowed image extensions (e.g. \"webp|jpg|png\")")
	f.StringVar(&flagTitle, "title", "", "series title used for metadata and the archive name")

	// runtime
	f.StringVar(&flagOutput, "output", "", "output folder for archives")
	f.StringVar(&flagCacheRoot, "cache-root", "", "cache directory")
	f.IntVar(&flagWorkers, "workers", 0, "parallel image downloads per chapter")
	f.StringVar(&flagFormat, "format", "", "cbz, epub or none")
	f.BoolVar(&flagDryRun, "dry-run", false, "show what would be downloaded, don't download")
	f.BoolVar(&flagForce, "force", false, "fetch chapters again even when they are complete")
	f.BoolVar(&flagRefresh, "refresh", false, "ignore the cached chapter list")
	f.StringVar(&flagSync, "sync", "", "only download chapters missing from this CBZ")
	f.BoolVar(&flagNoResume, "no-resume", false, "don't resume queued operations first")

	// network
	f.StringVar(&flagCookie, "cookie", "", "cookie string, e.g. \"key=value; other=123\"")
	f.StringVar(&flagCookieFile, "cookie-file", "", "path to a text file with cookies (one header line)")
	f.StringVar(&flagUserAgent, "user-agent", "", "override User-Agent")
	f.StringVar(&flagProxy, "proxy", "", "route traffic through this proxy and enable the kill switch")

	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, _ []string) error {
	cfg, used, err := loadConfig(config.Options{
		CacheRoot:    flagCacheRoot,
		Output:       flagOutput,
		Workers:      flagWorkers,
		Format:       flagFormat,
		DefaultURL:   flagURL,
		DefaultRange: flagRange,
		DefaultList:  flagList,
		Exclude:      flagExclude,
		Cookie:       flagCookie,
		CookieFile:   flagCookieFile,
		UserAgent:    flagUserAgent,
		ProxyAddress: flagProxy,
	})
	if err != nil {
		return err
	}
	if flagAllowExt != "" {
		cfg.AllowExt = splitExt(flagAllowExt)
	}
	if cfg.DefaultURL == "" {
		return errors.New("missing --url and no default_url in config")
	}

	fmt.Printf("Config file: %s\n", used)
	if cfg.Debug {
		cfg.Print(os.Stdout)
		fmt.Println()
	}

	a, closeApp, err := openApp(cfg, used)
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
	hooks := newBarHooks(pm, a.Stats)
	start := time.Now()

	if !flagNoResume && !flagDryRun {
		if n, err := a.Recover(ctx, hooks.Hooks()); err != nil {
			pm.Close()
			return explainStop(err)
		} else if n > 0 {
			a.Log.Infof("finished %d queued operations", n)
		}
	}

	op, err := a.Plan(ctx, app.Request{
		URL:   cfg.DefaultURL,
		Title: flagTitle,
		Selection: chapters.Selection{
			Chapter: flagChapter,
			Range:   cfg.DefaultRange,
			List:    cfg.DefaultList,
			Exclude: cfg.DefaultExclude,
		},
		Workers:     cfg.Workers,
		Format:      cfg.Format,
		DryRun:      flagDryRun,
		Force:       flagForce,
		Refresh:     flagRefresh,
		SyncArchive: flagSync,
	})
	if err != nil {
		pm.Close()
		return err
	}

	if flagDryRun {
		pm.Close()
		printDryRun(op.Chapters)
		return nil
	}

	fmt.Printf("Queued %d chapters of %s (operation %s)\n\n", len(op.Chapters), a.SeriesTitle(op), op.ID)

	res, err := a.RunOperation(ctx, op, hooks.Hooks())
	pm.Close()

	a.Stats.PrintSummary(os.Stdout, time.Since(start))
	if res != nil && len(res.FailedChapters) > 0 {
		printFailures(res)
	}

	if err != nil {
		return explainStop(err)
	}
	if res != nil && len(res.FailedChapters) > 0 {
		return fmt.Errorf("%d chapters incomplete, run `mangacache queue resume` to retry", len(res.FailedChapters))
	}

	fmt.Println("\nAll done.")
	return nil
}

func explainStop(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return errors.New("interrupted, progress is kept in the queue")
	case errors.Is(err, netguard.ErrBlocked):
		return fmt.Errorf("proxy went down, downloads halted: %w", err)
	case errors.Is(err, downloader.ErrSeriesBusy):
		return fmt.Errorf("series is being downloaded elsewhere: %w", err)
	}
	return err
}

func printDryRun(m map[string]string) {
	list := chapters.FromMap(m)
	fmt.Printf("Dry-run: %d chapters selected.\n\n", len(list))
	for i, ch := range list {
		fmt.Printf("%3d) %s  [%s]\n    %s\n", i+1, ch.Title, ch.Label, ch.URL)
	}
}

func printFailures(res *downloader.Result) {
	titles := make([]string, 0, len(res.FailedChapters))
	for t := range res.FailedChapters {
		titles = append(titles, t)
	}
	sort.Strings(titles)

	fmt.Println("\nIncomplete chapters:")
	for _, t := range titles {
		fmt.Printf("  %s: %d images failed\n", t, len(res.FailedChapters[t]))
	}
}

// barHooks draws one bar per chapter. Chapters run one at a time, so a
// single current bar is enough.
type barHooks struct {
	pm    *ui.ProgressManager
	stats *ui.Stats

	mu  sync.Mutex
	cur *ui.ProgressHandle
}

func newBarHooks(pm *ui.ProgressManager, stats *ui.Stats) *barHooks {
	return &barHooks{pm: pm, stats: stats}
}

func (b *barHooks) Hooks() app.Hooks {
	return app.Hooks{
		OnChapterStarted: func(ch chapters.Chapter, index, total int) {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.cur = b.pm.Register(fmt.Sprintf("[%d/%d] %s", index+1, total, ch.Title), b.stats)
		},
		OnProgress: func(fraction float64, status string) {
			b.mu.Lock()
			h := b.cur
			b.mu.Unlock()
			if h != nil {
				h.Report(fraction, status)
			}
		},
		OnChapterFinished: func(cr downloader.ChapterResult) {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.cur == nil {
				return
			}
			if cr.Complete() {
				b.cur.MarkDone()
			} else {
				b.cur.Abort()
			}
			b.cur = nil
		},
	}
}

func splitExt(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == '|' || r == ',' || r == ' '
	})

	out := []string{}
	for _, f := range fields {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			out = append(out, f)
		}
	}

	return out
}
