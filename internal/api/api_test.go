package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brogergvhs/mangacache/internal/app"
	"github.com/brogergvhs/mangacache/internal/cache"
	"github.com/brogergvhs/mangacache/internal/chapters"
	"github.com/brogergvhs/mangacache/internal/config"
	"github.com/brogergvhs/mangacache/internal/downloader"
	"github.com/brogergvhs/mangacache/internal/history"
	"github.com/brogergvhs/mangacache/internal/providers"
	"github.com/brogergvhs/mangacache/internal/queue"
	"github.com/brogergvhs/mangacache/internal/ui"

	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noScraper struct{}

func (noScraper) FindChapters(context.Context, string, string) ([]providers.Chapter, error) {
	return nil, nil
}

func (noScraper) FindImages(context.Context, string, string, string) ([]string, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*echo.Echo, *app.App) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.CacheRoot = t.TempDir()
	cfg.Output = t.TempDir()

	a, err := app.New(cfg, ui.NewLoggerTo(io.Discard, false), app.WithScraper(noScraper{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	return NewServer(a), a
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func seedChapter(t *testing.T, a *app.App, slug, chapter string, pages int) string {
	t.Helper()
	dir := filepath.Join(a.Root.SeriesDir(slug), chapter)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for i := 1; i <= pages; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("%03d.png", i)), []byte("img"), 0o644))
	}
	return dir
}

func TestHealth(t *testing.T) {
	e, _ := newTestServer(t)

	rec := do(e, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "disabled", body["proxy"])
}

func TestListCache(t *testing.T) {
	e, a := newTestServer(t)
	seedChapter(t, a, "demo", "Chapter 1", 2)
	broken := seedChapter(t, a, "demo", "Chapter 2", 1)
	require.NoError(t, cache.WriteMarker(broken))

	rec := do(e, http.MethodGet, "/api/cache", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out []seriesView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "demo", out[0].Slug)
	assert.Len(t, out[0].Chapters, 2)
	assert.Equal(t, 1, out[0].Broken)
	assert.NotEmpty(t, out[0].SizeHuman)
}

func TestDeleteCache(t *testing.T) {
	e, a := newTestServer(t)
	dir := seedChapter(t, a, "demo", "Chapter 1", 2)

	rec := do(e, http.MethodDelete, "/api/cache", `{"paths":["`+filepath.ToSlash(dir)+`"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.EqualValues(t, 6, out["freed"])
	assert.NoDirExists(t, dir)
}

func TestDeleteCacheRejectsOutsideRoot(t *testing.T) {
	e, _ := newTestServer(t)
	outside := t.TempDir()

	rec := do(e, http.MethodDelete, "/api/cache", `{"paths":["`+filepath.ToSlash(outside)+`"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.DirExists(t, outside)
}

func TestDeleteCacheConflictWhileDownloading(t *testing.T) {
	e, a := newTestServer(t)
	dir := seedChapter(t, a, "demo", "Chapter 1", 2)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = a.Orchestrator.Run(context.Background(), downloader.Job{
			SeriesURL: "https://site.test/manga/demo/",
			Chapters:  map[string]string{"https://site.test/manga/demo/chapter-2/": "Chapter 2"},
			Root:      a.Root,
			OnChapterStarted: func(chapters.Chapter, int, int) {
				close(started)
				<-release
			},
		})
	}()
	<-started

	rec := do(e, http.MethodDelete, "/api/cache", `{"paths":["`+filepath.ToSlash(dir)+`"]}`)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.DirExists(t, dir)

	close(release)
	<-done
}

func TestDeleteCacheBadBody(t *testing.T) {
	e, _ := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodDelete, "/api/cache", "nope").Code)
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodDelete, "/api/cache", `{"paths":[]}`).Code)
}

func TestListQueue(t *testing.T) {
	e, a := newTestServer(t)

	rec := do(e, http.MethodGet, "/api/queue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	op := queue.NewOperation("https://site.test/manga/demo/", "demo", map[string]string{
		"https://site.test/manga/demo/chapter-1/": "Chapter 1",
	})
	require.NoError(t, a.Queue.Upsert(op))

	rec = do(e, http.MethodGet, "/api/queue", "")
	var ops []queue.Operation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ops))
	require.Len(t, ops, 1)
	assert.Equal(t, op.ID, ops[0].ID)
}

func TestProxyStatus(t *testing.T) {
	e, _ := newTestServer(t)

	rec := do(e, http.MethodGet, "/api/proxy", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, false, out["enabled"])
	assert.Equal(t, true, out["allows"])
	assert.EqualValues(t, 0, out["blocked"])
}

func TestHistory(t *testing.T) {
	e, a := newTestServer(t)
	ctx := context.Background()

	for _, n := range []string{"1", "2"} {
		require.NoError(t, a.History.Record(ctx, history.Entry{
			SeriesSlug: "demo",
			ChapterURL: "https://site.test/manga/demo/chapter-" + n + "/",
			Title:      "Chapter " + n,
			Pages:      3,
		}))
	}

	rec := do(e, http.MethodGet, "/api/history?series=demo&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out []history.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out, 1)

	rec = do(e, http.MethodGet, "/api/history?series=other", "")
	assert.JSONEq(t, "[]", rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/api/history?limit=x", "").Code)
}
