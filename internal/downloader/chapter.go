package downloader

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brogergvhs/mangacache/internal/cache"
	"github.com/brogergvhs/mangacache/internal/netguard"
	"github.com/brogergvhs/mangacache/internal/providers"
	"github.com/brogergvhs/mangacache/internal/ui"
	"github.com/brogergvhs/mangacache/internal/util"

	_ "golang.org/x/image/webp"
)

// ProgressFunc receives the fraction of attempted images and a status line.
type ProgressFunc func(progress float64, status string)

type Options struct {
	Workers      int
	Jitter       util.Range
	Retries      int
	RetryBackoff time.Duration
	Timeout      time.Duration
	UserAgent    util.UserAgentFunc
	// VerifyImages decodes each image header before accepting the file.
	VerifyImages bool
}

func (o *Options) withDefaults() {
	if o.Workers < 1 {
		o.Workers = 4
	}
	if o.Retries < 1 {
		o.Retries = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.UserAgent == nil {
		o.UserAgent = util.UserAgents("")
	}
}

type ChapterDownloader struct {
	client  *http.Client
	scraper providers.Scraper
	log     *ui.Logger
	stats   *ui.Stats
	opts    Options
}

func NewChapterDownloader(c *http.Client, s providers.Scraper, log *ui.Logger, stats *ui.Stats, opts Options) *ChapterDownloader {
	opts.withDefaults()
	if stats == nil {
		stats = &ui.Stats{}
	}
	return &ChapterDownloader{client: c, scraper: s, log: log, stats: stats, opts: opts}
}

// UserAgent draws one user agent from the configured supplier.
func (d *ChapterDownloader) UserAgent() string {
	return d.opts.UserAgent()
}

type ChapterRequest struct {
	URL       string
	Title     string
	SeriesDir string
	SeriesURL string
	Workers   int
	Force     bool
	Progress  ProgressFunc
}

type ChapterResult struct {
	URL   string
	Title string
	// Dir is empty when the chapter produced nothing usable.
	Dir    string
	Failed []string
	// Skipped is set when an earlier run already completed the chapter.
	Skipped bool
	Pages   int
	// Err is set when the chapter was aborted: marker I/O, a failed image
	// list fetch or a kill-switch trip.
	Err error
}

func (r ChapterResult) Complete() bool {
	return r.Dir != "" && len(r.Failed) == 0 && r.Err == nil
}

// DownloadChapter fetches one chapter into its directory below SeriesDir.
// Image failures never abort sibling images; they are reported in Failed.
func (d *ChapterDownloader) DownloadChapter(ctx context.Context, req ChapterRequest) ChapterResult {
	res := ChapterResult{URL: req.URL, Title: req.Title}
	dir := filepath.Join(req.SeriesDir, cache.ChapterDirName(req.Title))
	report := req.Progress
	if report == nil {
		report = func(float64, string) {}
	}

	if !req.Force && cache.IsSatisfied(dir) {
		d.log.Debugf("%s already complete, skipping", req.Title)
		res.Dir, res.Skipped, res.Pages = dir, true, cache.CountImages(dir)
		report(1, fmt.Sprintf("Already downloaded: %s", req.Title))
		return res
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		res.Failed = []string{req.URL}
		res.Err = fmt.Errorf("%w: create %s: %v", cache.ErrMarker, dir, err)
		return res
	}
	if err := cache.WriteMarker(dir); err != nil {
		res.Failed = []string{req.URL}
		res.Err = err
		return res
	}

	images, err := d.scraper.FindImages(ctx, req.URL, d.opts.UserAgent(), req.SeriesURL)
	if err != nil {
		d.log.Errorf("image list for %s: %v", req.Title, err)
		res.Failed = []string{req.URL}
		res.Err = err
		return res
	}

	if len(images) == 0 {
		d.log.Warnf("%s has no images (possibly licensed or empty)", req.Title)
		if err := cache.RemoveMarker(dir); err != nil {
			d.log.Errorf("%v", err)
		}
		res.Dir = dir
		report(1, fmt.Sprintf("Downloading: %s (0/0)", req.Title))
		return res
	}

	failed, blocked := d.fetchAll(ctx, req, dir, images, report)

	res.Pages = cache.CountImages(dir)
	if res.Pages == 0 {
		res.Failed = images
		res.Err = blocked
		return res
	}

	res.Dir = dir
	res.Failed = failed
	res.Err = blocked

	if len(failed) == 0 {
		if err := cache.RemoveMarker(dir); err != nil {
			d.log.Errorf("%v", err)
		}
	}

	return res
}

// fetchAll downloads every image through the ticket pool. It returns failed
// URLs in page order and the first kill-switch error seen, if any.
func (d *ChapterDownloader) fetchAll(
	ctx context.Context,
	req ChapterRequest,
	dir string,
	images []string,
	report ProgressFunc,
) ([]string, error) {
	workers := req.Workers
	if workers < 1 {
		workers = d.opts.Workers
	}
	pool := newTicketPool(workers)

	var (
		mu        sync.Mutex
		failedIdx []int
		done      int
		blocked   error
	)
	total := len(images)

	finish := func(i int, err error) {
		mu.Lock()
		defer mu.Unlock()

		if err != nil {
			failedIdx = append(failedIdx, i)
			d.stats.FailedImages.Add(1)
			if blocked == nil && errors.Is(err, netguard.ErrBlocked) {
				blocked = err
			}
		}
		done++
		report(float64(done)/float64(total), fmt.Sprintf("Downloading: %s (%d/%d)", req.Title, done, total))
	}

	for i, u := range images {
		err := pool.Go(ctx, func() {
			err := d.fetchImage(ctx, dir, i, u, req.URL)
			if err != nil && !errors.Is(err, context.Canceled) {
				d.log.Debugf("page %d of %s: %v", i+1, req.Title, err)
			}
			finish(i, err)
		})
		if err != nil {
			// Cancelled while waiting for a ticket: the rest never ran.
			for j := i; j < total; j++ {
				finish(j, err)
			}
			break
		}
	}
	pool.Wait()

	sort.Ints(failedIdx)
	failed := make([]string, len(failedIdx))
	for k, i := range failedIdx {
		failed[k] = images[i]
	}

	return failed, blocked
}

func PageName(i int, imageURL string) string {
	ext := ""
	if u, err := url.Parse(imageURL); err == nil {
		ext = strings.ToLower(path.Ext(u.Path))
	}
	if ext == "" || !cache.IsImageFile("x"+ext) {
		ext = ".jpg"
	}
	return fmt.Sprintf("page_%03d%s", i+1, ext)
}

func (d *ChapterDownloader) fetchImage(ctx context.Context, dir string, i int, imageURL, referer string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := filepath.Join(dir, PageName(i, imageURL))
	if _, err := os.Stat(target); err == nil {
		d.stats.SkippedImages.Add(1)
		return nil
	}

	if err := util.Sleep(ctx, d.opts.Jitter.Pick()); err != nil {
		return err
	}

	var err error
	for attempt := 1; attempt <= d.opts.Retries; attempt++ {
		err = d.download(ctx, imageURL, target, referer)
		if err == nil {
			d.stats.TotalImages.Add(1)
			return nil
		}
		if errors.Is(err, netguard.ErrBlocked) || ctx.Err() != nil {
			return err
		}
		if attempt < d.opts.Retries {
			if serr := util.Sleep(ctx, time.Duration(attempt)*d.opts.RetryBackoff); serr != nil {
				return serr
			}
		}
	}
	return err
}

// download streams one image into a hidden temp file and renames it into
// place once it is complete, so a crash never leaves a truncated page.
func (d *ChapterDownloader) download(ctx context.Context, imageURL, target, referer string) error {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return err
	}

	req.Header.Set("User-Agent", d.opts.UserAgent())
	req.Header.Set("Referer", referer)
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return &util.StatusError{Status: resp.StatusCode}
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mt, _, _ := mime.ParseMediaType(ct)
		if !strings.HasPrefix(mt, "image/") && mt != "application/octet-stream" && mt != "binary/octet-stream" {
			return fmt.Errorf("unexpected MIME: %s", ct)
		}
	}

	tmp := filepath.Join(filepath.Dir(target), "."+filepath.Base(target)+".part")
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	_, err = copyWithProgress(f, resp.Body, func(n int64) { d.stats.TotalBytes.Add(n) })
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && d.opts.VerifyImages {
		err = verifyImage(tmp)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// verifyImage rejects files whose header does not decode. Formats without a
// registered decoder, such as AVIF, are accepted as-is.
func verifyImage(p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	if _, _, err := image.DecodeConfig(f); err != nil && !errors.Is(err, image.ErrFormat) {
		return fmt.Errorf("corrupt image: %w", err)
	}
	return nil
}
