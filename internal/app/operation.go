package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/brogergvhs/mangacache/internal/cache"
	"github.com/brogergvhs/mangacache/internal/chapters"
	"github.com/brogergvhs/mangacache/internal/downloader"
	"github.com/brogergvhs/mangacache/internal/history"
	"github.com/brogergvhs/mangacache/internal/netguard"
	"github.com/brogergvhs/mangacache/internal/packaging"
	"github.com/brogergvhs/mangacache/internal/queue"
	"github.com/brogergvhs/mangacache/internal/util"
)

// Request is what a user asks for before chapters are resolved.
type Request struct {
	URL       string
	Title     string
	Selection chapters.Selection
	Workers   int
	Format    string
	DryRun    bool
	Force     bool
	// Refresh ignores the scrape cache.
	Refresh bool
	// SyncArchive drops chapters already stored in this CBZ.
	SyncArchive string
}

// Hooks surface engine progress to a front end. Every field is optional.
type Hooks struct {
	OnChapterStarted  func(ch chapters.Chapter, index, total int)
	OnProgress        downloader.ProgressFunc
	OnChapterFinished func(downloader.ChapterResult)
}

// ResolveChapters lists a series' chapters in natural order. A chapter URL
// resolves to just that chapter.
func (a *App) ResolveChapters(ctx context.Context, url string, refresh bool) ([]chapters.Chapter, error) {
	if chapters.IsChapterURL(url) {
		ch := chapters.Chapter{}
		ch.URL = url
		ch.Title = chapters.TitleFromURL(url)
		return []chapters.Chapter{ch}, nil
	}

	if refresh {
		if err := a.Scrapes.Invalidate(url); err != nil {
			a.Log.Warnf("scrape cache: %v", err)
		}
	} else if list, ok := a.Scrapes.Get(url); ok {
		a.Log.Debugf("using cached chapter list for %s (%d chapters)", url, len(list))
		out := chapters.Wrap(list)
		chapters.Sort(out)
		return chapters.UniqueDirs(out), nil
	}

	raw, err := a.Scraper.FindChapters(ctx, url, a.Downloader.UserAgent())
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no chapters found at %s", url)
	}
	if err := a.Scrapes.Put(url, raw); err != nil {
		a.Log.Warnf("scrape cache: %v", err)
	}

	out := chapters.Wrap(raw)
	chapters.Sort(out)
	return chapters.UniqueDirs(out), nil
}

// Plan resolves and filters chapters into a new operation. Nothing is
// persisted yet.
func (a *App) Plan(ctx context.Context, req Request) (*queue.Operation, error) {
	if req.URL == "" {
		return nil, errors.New("no URL given")
	}

	all, err := a.ResolveChapters(ctx, req.URL, req.Refresh)
	if err != nil {
		return nil, err
	}

	picked, err := req.Selection.Apply(all)
	if err != nil {
		return nil, err
	}

	if req.SyncArchive != "" {
		have, err := packaging.ArchiveChapters(req.SyncArchive)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", req.SyncArchive, err)
		}
		picked = slices.DeleteFunc(picked, func(ch chapters.Chapter) bool {
			return slices.Contains(have, ch.DirName()) || slices.Contains(have, ch.URLSlug())
		})
		a.Log.Infof("%d chapters are missing from %s", len(picked), req.SyncArchive)
	}

	if len(picked) == 0 {
		return nil, errors.New("nothing to download")
	}

	op := queue.NewOperation(req.URL, cache.SlugFromURL(req.URL), chapters.ToMap(picked))
	op.CustomTitle = req.Title
	op.Workers = req.Workers
	op.Format = req.Format
	op.DryRun = req.DryRun
	op.Force = req.Force
	return op, nil
}

// RunOperation downloads an operation and keeps its queue entry current. A
// fully successful operation is packaged and leaves the queue; anything
// else stays queued for the next start.
func (a *App) RunOperation(ctx context.Context, op *queue.Operation, hooks Hooks) (*downloader.Result, error) {
	persist := !op.DryRun

	if persist {
		op.Status, op.Error = queue.StatusRunning, ""
		if err := a.Queue.Upsert(op); err != nil {
			return nil, err
		}
		if err := a.Queue.SaveOperationMetadata(op); err != nil {
			a.Log.Warnf("metadata for %s: %v", op.SeriesSlug, err)
		}
	}

	todo := op.Remaining()
	if op.Force {
		todo = op.Chapters
	}

	job := downloader.Job{
		SeriesURL:        op.SeriesURL,
		Chapters:         todo,
		Workers:          op.Workers,
		Format:           op.Format,
		Root:             a.Root,
		DryRun:           op.DryRun,
		Force:            op.Force,
		ChapterDelay:     util.Range{Min: a.Config.ChapterDelayMin, Max: a.Config.ChapterDelayMax},
		OnProgress:       hooks.OnProgress,
		OnChapterStarted: hooks.OnChapterStarted,
		OnChapterCompleted: func(chapterURL string) {
			if err := a.Queue.MarkChapterCompleted(op.ID, chapterURL); err != nil {
				a.Log.Warnf("queue progress: %v", err)
			}
			if !slices.Contains(op.CompletedChapters, chapterURL) {
				op.CompletedChapters = append(op.CompletedChapters, chapterURL)
			}
		},
		OnChapterFinished: func(cr downloader.ChapterResult) {
			if cr.Complete() {
				a.record(ctx, op, cr)
			}
			if hooks.OnChapterFinished != nil {
				hooks.OnChapterFinished(cr)
			}
		},
	}

	res, err := a.Orchestrator.Run(ctx, job)
	if op.DryRun {
		return res, err
	}

	switch {
	case err != nil:
		op.Status = queue.StatusFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, netguard.ErrBlocked) || errors.Is(err, downloader.ErrSeriesBusy) {
			op.Status = queue.StatusPaused
		}
		op.Error = err.Error()
	case len(res.FailedChapters) > 0:
		op.Status = queue.StatusFailed
		op.Error = fmt.Sprintf("%d chapters incomplete", len(res.FailedChapters))
	default:
		op.Status = queue.StatusCompleted
		op.Error = ""
	}

	if op.Status != queue.StatusCompleted {
		if uerr := a.Queue.Upsert(op); uerr != nil {
			a.Log.Errorf("save queue: %v", uerr)
		}
		return res, err
	}

	if _, perr := a.Package(op); perr != nil {
		op.Status, op.Error = queue.StatusFailed, perr.Error()
		if uerr := a.Queue.Upsert(op); uerr != nil {
			a.Log.Errorf("save queue: %v", uerr)
		}
		return res, perr
	}

	if _, rerr := a.Queue.Remove(op.ID); rerr != nil {
		a.Log.Errorf("save queue: %v", rerr)
	}
	return res, nil
}

func (a *App) record(ctx context.Context, op *queue.Operation, cr downloader.ChapterResult) {
	err := a.History.Record(ctx, history.Entry{
		OperationID: op.ID,
		SeriesSlug:  op.SeriesSlug,
		ChapterURL:  cr.URL,
		Title:       cr.Title,
		Dir:         cr.Dir,
		Pages:       cr.Pages,
	})
	if err != nil {
		a.Log.Warnf("history: %v", err)
	}
}

// Package builds the archive of every satisfied chapter of op. It returns
// "" when the operation's format keeps plain folders.
func (a *App) Package(op *queue.Operation) (string, error) {
	p, err := packaging.For(op.Format)
	if err != nil || p == nil {
		return "", err
	}

	seriesDir := a.Root.SeriesDir(op.SeriesSlug)
	var folders []string
	for _, ch := range chapters.UniqueDirs(chapters.FromMap(op.Chapters)) {
		dir := a.Root.ChapterDir(seriesDir, ch.Title)
		if cache.IsSatisfied(dir) {
			folders = append(folders, dir)
		}
	}

	if err := os.MkdirAll(a.Config.Output, 0755); err != nil {
		return "", fmt.Errorf("cannot create output folder: %w", err)
	}

	title := a.SeriesTitle(op)
	out := packaging.OutputPath(a.Config.Output, chapters.FileSlug(title), p)
	if err := p.Package(title, folders, out); err != nil {
		if errors.Is(err, packaging.ErrNoPages) {
			a.Log.Warnf("no images for %s, skipping %s", title, p.Ext())
			return "", nil
		}
		return "", err
	}
	a.Log.Infof("wrote %s", out)
	return out, nil
}

// Recover resumes every queued operation that still has work, oldest first.
// It stops at the first cancellation or kill-switch trip.
func (a *App) Recover(ctx context.Context, hooks Hooks) (int, error) {
	pending := queue.Pending(a.Queue.LoadQueue())
	if len(pending) == 0 {
		return 0, nil
	}
	a.Log.Infof("resuming %d queued operations", len(pending))

	done := 0
	for _, op := range pending {
		if _, err := a.RunOperation(ctx, op, hooks); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, netguard.ErrBlocked) {
				return done, err
			}
			a.Log.Errorf("operation %s: %v", op.ID, err)
			continue
		}
		done++
	}
	return done, nil
}
