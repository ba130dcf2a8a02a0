package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/brogergvhs/mangacache/internal/cache"
	"github.com/brogergvhs/mangacache/internal/chapters"
	"github.com/brogergvhs/mangacache/internal/netguard"
	"github.com/brogergvhs/mangacache/internal/ui"
	"github.com/brogergvhs/mangacache/internal/util"
)

// Job describes one download run. The engine only reads it.
type Job struct {
	SeriesURL string
	// Chapters maps chapter URL to title.
	Chapters map[string]string
	Workers  int
	Format   string
	Root     *cache.Root
	DryRun   bool
	Force    bool
	// ChapterDelay is slept between chapters, never after the last one.
	ChapterDelay util.Range

	OnProgress         ProgressFunc
	OnChapterStarted   func(ch chapters.Chapter, index, total int)
	OnChapterCompleted func(chapterURL string)
	OnChapterFinished  func(ChapterResult)
}

type Result struct {
	// SuccessfulFolders lists chapter directories in natural title order.
	SuccessfulFolders []string
	// FailedChapters maps a chapter title to the URLs that failed. Chapters
	// without failures never appear.
	FailedChapters map[string][]string
	Skipped        int
}

func (r *Result) recordFailure(title string, urls []string) {
	if len(urls) == 0 {
		return
	}
	if r.FailedChapters == nil {
		r.FailedChapters = map[string][]string{}
	}
	r.FailedChapters[title] = append(r.FailedChapters[title], urls...)
}

var ErrSeriesBusy = errors.New("series is being downloaded by another operation")

type Orchestrator struct {
	chapters *ChapterDownloader
	log      *ui.Logger
	leases   *leaseSet
}

func NewOrchestrator(cd *ChapterDownloader, log *ui.Logger) *Orchestrator {
	return &Orchestrator{chapters: cd, log: log, leases: processLeases}
}

// Run downloads the job's chapters one at a time in natural title order.
// On cancellation or a kill-switch trip it stops before the next chapter and
// returns what it has so far together with the reason.
func (o *Orchestrator) Run(ctx context.Context, job Job) (*Result, error) {
	res := &Result{}
	if job.Root == nil {
		return res, errors.New("job has no cache root")
	}

	list := chapters.UniqueDirs(chapters.FromMap(job.Chapters))
	seriesDir := job.Root.SeriesDirForURL(job.SeriesURL)

	if job.DryRun {
		o.log.Infof("Dry-run: %d chapters into %s", len(list), seriesDir)
		for i, ch := range list {
			o.log.Infof("%3d) %s\n    %s", i+1, ch.Title, ch.URL)
		}
		return res, nil
	}

	release, err := o.leases.acquire(ctx, seriesDir)
	if err != nil {
		return res, err
	}
	defer release()

	if err := os.MkdirAll(seriesDir, 0755); err != nil {
		return res, fmt.Errorf("create series dir: %w", err)
	}

	for i, ch := range list {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if i > 0 {
			if err := util.Sleep(ctx, job.ChapterDelay.Pick()); err != nil {
				return res, err
			}
		}

		if job.OnChapterStarted != nil {
			job.OnChapterStarted(ch, i, len(list))
		}

		cr := o.chapters.DownloadChapter(ctx, ChapterRequest{
			URL:       ch.URL,
			Title:     ch.Title,
			SeriesDir: seriesDir,
			SeriesURL: job.SeriesURL,
			Workers:   job.Workers,
			Force:     job.Force,
			Progress:  job.OnProgress,
		})

		if cr.Dir != "" {
			res.SuccessfulFolders = append(res.SuccessfulFolders, cr.Dir)
		}
		res.recordFailure(cr.Title, cr.Failed)
		if cr.Skipped {
			res.Skipped++
		}
		if cr.Dir != "" && len(cr.Failed) == 0 && job.OnChapterCompleted != nil {
			job.OnChapterCompleted(cr.URL)
		}
		if job.OnChapterFinished != nil {
			job.OnChapterFinished(cr)
		}

		if errors.Is(cr.Err, netguard.ErrBlocked) {
			o.log.Warnf("kill switch tripped during %s, pausing", cr.Title)
			return res, fmt.Errorf("%s: %w", cr.Title, cr.Err)
		}
	}

	return res, ctx.Err()
}

// leaseSet gives one operation at a time exclusive use of a series directory.
type leaseSet struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

var processLeases = &leaseSet{held: map[string]chan struct{}{}}

func (l *leaseSet) acquire(ctx context.Context, key string) (func(), error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()

			return func() {
				l.mu.Lock()
				delete(l.held, key)
				l.mu.Unlock()
				close(done)
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrSeriesBusy, ctx.Err())
		}
	}
}

// SeriesBusy reports whether an operation currently holds seriesDir.
func (o *Orchestrator) SeriesBusy(seriesDir string) bool {
	o.leases.mu.Lock()
	defer o.leases.mu.Unlock()
	_, busy := o.leases.held[seriesDir]
	return busy
}
