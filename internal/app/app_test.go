package app

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/brogergvhs/mangacache/internal/cache"
	"github.com/brogergvhs/mangacache/internal/chapters"
	"github.com/brogergvhs/mangacache/internal/config"
	"github.com/brogergvhs/mangacache/internal/downloader"
	"github.com/brogergvhs/mangacache/internal/netguard"
	"github.com/brogergvhs/mangacache/internal/packaging"
	"github.com/brogergvhs/mangacache/internal/providers"
	"github.com/brogergvhs/mangacache/internal/queue"
	"github.com/brogergvhs/mangacache/internal/ui"
	"github.com/brogergvhs/mangacache/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const series = "https://site.test/manga/demo/"

type pageServer struct {
	*httptest.Server
	mu   sync.Mutex
	fail map[string]bool
	hits int
}

func newPageServer(t *testing.T) *pageServer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	body := buf.Bytes()

	s := &pageServer{fail: map[string]bool{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits++
		fail := s.fail[r.URL.Path]
		s.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *pageServer) setFail(p string, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[p] = v
}

func (s *pageServer) hitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits
}

type stubScraper struct {
	mu        sync.Mutex
	chapters  []providers.Chapter
	images    map[string][]string
	listCalls int
	listErr   error
}

func (s *stubScraper) FindChapters(context.Context, string, string) ([]providers.Chapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.chapters, nil
}

func (s *stubScraper) FindImages(_ context.Context, u, _, _ string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.images[u], nil
}

func newStub(srv *pageServer) *stubScraper {
	st := &stubScraper{images: map[string][]string{}}
	for _, n := range []string{"1", "2"} {
		u := series + "chapter-" + n + "/"
		st.chapters = append(st.chapters, providers.Chapter{URL: u, Title: "Chapter " + n, Label: n})
		st.images[u] = []string{srv.URL + "/c" + n + "/a.png", srv.URL + "/c" + n + "/b.png"}
	}
	return st
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.CacheRoot = t.TempDir()
	cfg.Output = t.TempDir()
	cfg.JitterMin, cfg.JitterMax = 0, 0
	cfg.ChapterDelayMin, cfg.ChapterDelayMax = 0, 0
	cfg.Retries = 1
	cfg.Workers = 2
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, s providers.Scraper) *App {
	t.Helper()
	a, err := New(cfg, ui.NewLoggerTo(io.Discard, false), WithScraper(s), WithUserAgents(util.FixedUserAgents("test-agent")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestRunOperationPackagesAndClearsQueue(t *testing.T) {
	srv := newPageServer(t)
	cfg := testConfig(t)
	a := newTestApp(t, cfg, newStub(srv))
	ctx := context.Background()

	op, err := a.Plan(ctx, Request{URL: series, Format: "cbz"})
	require.NoError(t, err)
	assert.Len(t, op.Chapters, 2)
	assert.Equal(t, "demo", op.SeriesSlug)

	var finished int
	res, err := a.RunOperation(ctx, op, Hooks{OnChapterFinished: func(downloader.ChapterResult) { finished++ }})
	require.NoError(t, err)
	assert.Len(t, res.SuccessfulFolders, 2)
	assert.Equal(t, 2, finished)

	assert.FileExists(t, filepath.Join(cfg.Output, "demo.cbz"))
	assert.Empty(t, a.Queue.LoadQueue())

	m := a.Queue.LoadOperationMetadata(a.Root.SeriesDir("demo"))
	require.NotNil(t, m)
	assert.Equal(t, series, m.SourceURL)

	entries, err := a.History.List(ctx, "demo", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestFailedOperationIsRecovered(t *testing.T) {
	srv := newPageServer(t)
	srv.setFail("/c2/b.png", true)
	cfg := testConfig(t)
	a := newTestApp(t, cfg, newStub(srv))
	ctx := context.Background()

	op, err := a.Plan(ctx, Request{URL: series, Format: "none"})
	require.NoError(t, err)

	res, err := a.RunOperation(ctx, op, Hooks{})
	require.NoError(t, err)
	require.Len(t, res.FailedChapters, 1)

	queued := a.Queue.LoadQueue()
	require.Len(t, queued, 1)
	assert.Equal(t, queue.StatusFailed, queued[0].Status)
	assert.Equal(t, []string{series + "chapter-1/"}, queued[0].CompletedChapters)

	srv.setFail("/c2/b.png", false)
	before := srv.hitCount()

	n, err := a.Recover(ctx, Hooks{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, a.Queue.LoadQueue())
	assert.Equal(t, 1, srv.hitCount()-before, "only the missing page is fetched")
	assert.False(t, cache.HasMarker(filepath.Join(a.Root.SeriesDir("demo"), "Chapter 2")))
}

func TestKillSwitchPausesOperation(t *testing.T) {
	srv := newPageServer(t)
	cfg := testConfig(t)
	cfg.Proxy.Enabled = true
	cfg.Proxy.Address = "127.0.0.1:1"
	a := newTestApp(t, cfg, newStub(srv))
	ctx := context.Background()

	// Not started: the state is Unknown and the gate is closed.
	op, err := a.Plan(ctx, Request{URL: series})
	require.NoError(t, err)

	_, err = a.RunOperation(ctx, op, Hooks{})
	require.ErrorIs(t, err, netguard.ErrBlocked)
	assert.Zero(t, srv.hitCount())

	queued := a.Queue.LoadQueue()
	require.Len(t, queued, 1)
	assert.Equal(t, queue.StatusPaused, queued[0].Status)
	assert.Positive(t, a.Gate.Blocked())
}

func TestResolveChaptersUsesScrapeCache(t *testing.T) {
	srv := newPageServer(t)
	st := newStub(srv)
	a := newTestApp(t, testConfig(t), st)
	ctx := context.Background()

	list, err := a.ResolveChapters(ctx, series, false)
	require.NoError(t, err)
	require.Len(t, list, 2)

	_, err = a.ResolveChapters(ctx, series, false)
	require.NoError(t, err)
	assert.Equal(t, 1, st.listCalls)

	_, err = a.ResolveChapters(ctx, series, true)
	require.NoError(t, err)
	assert.Equal(t, 2, st.listCalls)

	single, err := a.ResolveChapters(ctx, series+"chapter-7/", false)
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, "Chapter 7", single[0].Title)
	assert.Equal(t, 2, st.listCalls)
}

func TestPlanSelectionAndSync(t *testing.T) {
	srv := newPageServer(t)
	a := newTestApp(t, testConfig(t), newStub(srv))
	ctx := context.Background()

	op, err := a.Plan(ctx, Request{URL: series, Selection: chapters.Selection{Range: "2-2"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{series + "chapter-2/": "Chapter 2"}, op.Chapters)

	dir := t.TempDir()
	c1 := filepath.Join(dir, "Chapter 1")
	require.NoError(t, os.MkdirAll(c1, 0755))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1, 1))))
	require.NoError(t, os.WriteFile(filepath.Join(c1, "page_001.png"), buf.Bytes(), 0644))
	archive := filepath.Join(dir, "old.cbz")
	require.NoError(t, packaging.CBZ{}.Package("Demo", []string{c1}, archive))

	op, err = a.Plan(ctx, Request{URL: series, SyncArchive: archive})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{series + "chapter-2/": "Chapter 2"}, op.Chapters)

	_, err = a.Plan(ctx, Request{URL: series, Selection: chapters.Selection{Exclude: []string{"chapter-1", "chapter-2"}}})
	assert.Error(t, err)
}

func TestDeleteCachedForgetsHistory(t *testing.T) {
	srv := newPageServer(t)
	a := newTestApp(t, testConfig(t), newStub(srv))
	ctx := context.Background()

	op, err := a.Plan(ctx, Request{URL: series, Format: "none"})
	require.NoError(t, err)
	_, err = a.RunOperation(ctx, op, Hooks{})
	require.NoError(t, err)

	freed, err := a.DeleteCached(ctx, []string{a.Root.SeriesDir("demo")})
	require.NoError(t, err)
	assert.Positive(t, freed)

	entries, err := a.History.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProxyURL(t *testing.T) {
	assert.Equal(t, "", ProxyURL(" "))
	assert.Equal(t, "http://10.0.0.1:8080", ProxyURL("10.0.0.1:8080"))
	assert.Equal(t, "socks5://127.0.0.1:1080", ProxyURL("socks5://127.0.0.1:1080"))
}

func TestRecoverPackagesFullyDownloadedOperation(t *testing.T) {
	srv := newPageServer(t)
	cfg := testConfig(t)
	out := cfg.Output
	notADir := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(notADir, nil, 0644))
	cfg.Output = notADir
	a := newTestApp(t, cfg, newStub(srv))
	ctx := context.Background()

	op, err := a.Plan(ctx, Request{URL: series, Format: "cbz"})
	require.NoError(t, err)
	_, err = a.RunOperation(ctx, op, Hooks{})
	require.Error(t, err, "packaging into a file path fails")

	queued := a.Queue.LoadQueue()
	require.Len(t, queued, 1)
	assert.Equal(t, queue.StatusFailed, queued[0].Status)
	assert.Empty(t, queued[0].Remaining())

	// A crash between the last chapter and packaging leaves it running.
	queued[0].Status = queue.StatusRunning
	require.NoError(t, a.Queue.Upsert(queued[0]))

	a.Config.Output = out
	before := srv.hitCount()

	n, err := a.Recover(ctx, Hooks{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, before, srv.hitCount(), "no page is fetched again")
	assert.FileExists(t, filepath.Join(out, "demo.cbz"))
	assert.Empty(t, a.Queue.LoadQueue())
}

func TestRefreshDropsCachedChapterList(t *testing.T) {
	srv := newPageServer(t)
	st := newStub(srv)
	a := newTestApp(t, testConfig(t), st)
	ctx := context.Background()

	_, err := a.ResolveChapters(ctx, series, false)
	require.NoError(t, err)

	st.listErr = errors.New("site down")
	_, err = a.ResolveChapters(ctx, series, true)
	require.Error(t, err)

	_, ok := a.Scrapes.Get(series)
	assert.False(t, ok, "a refreshed list is never served from the old cache")

	st.listErr = nil
	_, err = a.ResolveChapters(ctx, series, false)
	require.NoError(t, err)
	assert.Equal(t, 3, st.listCalls)
}

func TestDeleteCachedRefusesBusySeries(t *testing.T) {
	srv := newPageServer(t)
	a := newTestApp(t, testConfig(t), newStub(srv))
	ctx := context.Background()

	op, err := a.Plan(ctx, Request{URL: series, Format: "none"})
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	var once sync.Once
	go func() {
		_, err := a.RunOperation(ctx, op, Hooks{
			OnChapterStarted: func(chapters.Chapter, int, int) {
				once.Do(func() { close(started) })
				<-release
			},
		})
		done <- err
	}()
	<-started

	seriesDir := a.Root.SeriesDir("demo")
	freed, err := a.DeleteCached(ctx, []string{seriesDir})
	assert.ErrorIs(t, err, downloader.ErrSeriesBusy)
	assert.Zero(t, freed)
	assert.DirExists(t, seriesDir)

	close(release)
	require.NoError(t, <-done)

	_, err = a.DeleteCached(ctx, []string{seriesDir})
	require.NoError(t, err)
	assert.NoDirExists(t, seriesDir)
}
