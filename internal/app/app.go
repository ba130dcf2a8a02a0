// Package app wires the engine together for the CLI and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brogergvhs/mangacache/internal/cache"
	"github.com/brogergvhs/mangacache/internal/config"
	"github.com/brogergvhs/mangacache/internal/downloader"
	"github.com/brogergvhs/mangacache/internal/history"
	"github.com/brogergvhs/mangacache/internal/netguard"
	"github.com/brogergvhs/mangacache/internal/providers"
	"github.com/brogergvhs/mangacache/internal/providers/generic"
	"github.com/brogergvhs/mangacache/internal/queue"
	"github.com/brogergvhs/mangacache/internal/ui"
	"github.com/brogergvhs/mangacache/internal/util"
)

const httpTimeout = 60 * time.Second

// A .part file untouched for this long outlived any request that could still
// be writing it, including one from another process on the same cache.
const partialMaxAge = 2 * httpTimeout

type App struct {
	Config  *config.Config
	Log     *ui.Logger
	Root    *cache.Root
	Monitor *netguard.Monitor
	Gate    *netguard.Gate
	Client  *http.Client
	Scraper providers.Scraper
	Queue   *queue.Store
	Scrapes *queue.ScrapeCache
	History *history.Ledger
	Stats   *ui.Stats

	Downloader   *downloader.ChapterDownloader
	Orchestrator *downloader.Orchestrator
}

type Option func(*options)

type options struct {
	scraper providers.Scraper
	monitor []netguard.Option
	agents  util.UserAgentFunc
}

// WithScraper replaces the generic HTML scraper.
func WithScraper(s providers.Scraper) Option { return func(o *options) { o.scraper = s } }

func WithMonitorOptions(opts ...netguard.Option) Option {
	return func(o *options) { o.monitor = append(o.monitor, opts...) }
}

func WithUserAgents(f util.UserAgentFunc) Option { return func(o *options) { o.agents = f } }

// ProxyURL turns a configured proxy address into a URL, defaulting to http.
func ProxyURL(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" || strings.Contains(addr, "://") {
		return addr
	}
	return "http://" + addr
}

func New(cfg *config.Config, log *ui.Logger, opts ...Option) (*App, error) {
	var o options
	for _, f := range opts {
		f(&o)
	}

	root, err := cache.NewRoot(cfg.CacheRoot, log)
	if err != nil {
		return nil, err
	}
	if err := root.Ensure(); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	if n := util.CleanupPartials(root.Dir(), partialMaxAge); n > 0 {
		log.Debugf("removed %d partial downloads", n)
	}

	proxyURL := ""
	if cfg.Proxy.Enabled {
		proxyURL = ProxyURL(cfg.Proxy.Address)
	}

	monitor := netguard.NewMonitor(netguard.Config{
		Enabled:              cfg.Proxy.Enabled,
		ProxyURL:             proxyURL,
		ExpectedIP:           cfg.Proxy.ExpectedIP,
		CheckURL:             cfg.Proxy.CheckURL,
		ConnectedInterval:    cfg.Proxy.ConnectedInterval,
		DisconnectedInterval: cfg.Proxy.DisconnectedInterval,
		FailureThreshold:     cfg.Proxy.FailureThreshold,
	}, log, o.monitor...)
	gate := netguard.NewGate(monitor)

	client, err := util.NewHTTPClient(util.HTTPClientOptions{
		Timeout:     httpTimeout,
		UserAgent:   cfg.UserAgent,
		Cookie:      cfg.Cookie,
		CookieFile:  cfg.CookieFile,
		ProxyURL:    proxyURL,
		Cloudflare:  cfg.CloudflareBypass,
		Wrap:        gate.Transport,
		DebugLogger: log,
	})
	if err != nil {
		return nil, err
	}

	scraper := o.scraper
	if scraper == nil {
		scraper = generic.NewScraper(client, log, cfg.AllowExt)
	}

	ledger, err := history.Open(root.HistoryDB())
	if err != nil {
		return nil, err
	}

	agents := o.agents
	if agents == nil {
		agents = util.UserAgents(cfg.UserAgent)
	}

	stats := &ui.Stats{}
	cd := downloader.NewChapterDownloader(client, scraper, log, stats, downloader.Options{
		Workers:      cfg.Workers,
		Jitter:       util.Range{Min: cfg.JitterMin, Max: cfg.JitterMax},
		Retries:      cfg.Retries,
		UserAgent:    agents,
		VerifyImages: true,
	})

	return &App{
		Config:       cfg,
		Log:          log,
		Root:         root,
		Monitor:      monitor,
		Gate:         gate,
		Client:       client,
		Scraper:      scraper,
		Queue:        queue.NewStore(root, log),
		Scrapes:      queue.NewScrapeCache(root, cfg.ScrapeCacheTTL, log),
		History:      ledger,
		Stats:        stats,
		Downloader:   cd,
		Orchestrator: downloader.NewOrchestrator(cd, log),
	}, nil
}

// Start begins proxy monitoring. Downloads stay blocked until the first
// verification succeeds when a proxy is configured.
func (a *App) Start(ctx context.Context) {
	a.Monitor.Start(ctx)
}

// WaitForNetwork blocks until the kill switch allows traffic or ctx ends.
func (a *App) WaitForNetwork(ctx context.Context) error {
	ch, unsubscribe := a.Monitor.Subscribe()
	defer unsubscribe()

	if a.Monitor.State().Allows() {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-ch:
			if !ok {
				return nil
			}
			if s.Allows() {
				return nil
			}
		}
	}
}

func (a *App) Close() error {
	a.Monitor.Stop()
	return a.History.Close()
}

// SeriesTitle picks the display title of an operation.
func (a *App) SeriesTitle(op *queue.Operation) string {
	if op.CustomTitle != "" {
		return op.CustomTitle
	}
	if m := a.Queue.LoadOperationMetadata(a.Root.SeriesDir(op.SeriesSlug)); m != nil && m.Title != "" {
		return m.Title
	}
	return cache.TitleFromSlug(op.SeriesSlug)
}

// DeleteCached removes cache paths and forgets the history of every series
// whose directory is gone afterwards. Paths inside a series that an
// operation is downloading are refused with downloader.ErrSeriesBusy.
func (a *App) DeleteCached(ctx context.Context, paths []string) (int64, error) {
	var (
		allowed []string
		errs    []error
	)
	for _, p := range paths {
		if slug, ok := a.seriesOf(p); ok && a.Orchestrator.SeriesBusy(a.Root.SeriesDir(slug)) {
			errs = append(errs, fmt.Errorf("%s: %w", p, downloader.ErrSeriesBusy))
			continue
		}
		allowed = append(allowed, p)
	}

	freed, err := a.Root.Delete(allowed)
	errs = append(errs, err)

	seen := map[string]bool{}
	for _, p := range allowed {
		slug, ok := a.seriesOf(p)
		if !ok || seen[slug] {
			continue
		}
		seen[slug] = true

		if _, serr := os.Stat(a.Root.SeriesDir(slug)); !os.IsNotExist(serr) {
			continue
		}
		if _, ferr := a.History.ForgetSeries(ctx, slug); ferr != nil {
			a.Log.Warnf("history cleanup for %s: %v", slug, ferr)
		}
	}
	return freed, errors.Join(errs...)
}

// seriesOf reports the slug of the series directory p lies in.
func (a *App) seriesOf(p string) (string, bool) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(a.Root.Dir(), abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	top := strings.Split(filepath.ToSlash(rel), "/")[0]
	return cache.ParseSeriesDir(top)
}
