package downloader

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/brogergvhs/mangacache/internal/cache"
	"github.com/brogergvhs/mangacache/internal/providers"
	"github.com/brogergvhs/mangacache/internal/ui"
	"github.com/brogergvhs/mangacache/internal/util"

	"github.com/stretchr/testify/require"
)

func createTestPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 6))
	for x := 0; x < 4; x++ {
		for y := 0; y < 6; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 40), G: uint8(y * 40), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// imageServer serves a PNG for every path unless the path is listed in fail.
type imageServer struct {
	*httptest.Server
	body []byte

	mu   sync.Mutex
	hits map[string]int
	fail map[string]int
	uas  map[string]bool
	refs map[string]string
}

func newImageServer(t *testing.T) *imageServer {
	t.Helper()
	s := &imageServer{
		body: createTestPNG(t),
		hits: map[string]int{},
		fail: map[string]int{},
		uas:  map[string]bool{},
		refs: map[string]string{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.uas[r.Header.Get("User-Agent")] = true
		s.refs[r.URL.Path] = r.Header.Get("Referer")
		status := s.fail[r.URL.Path]
		s.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(s.body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *imageServer) failPath(p string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[p] = status
}

func (s *imageServer) totalHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.hits {
		n += h
	}
	return n
}

func (s *imageServer) hitsFor(p string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[p]
}

func (s *imageServer) pages(chapter string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s.URL + "/img/" + chapter + "/" + string(rune('a'+i)) + ".png"
	}
	return out
}

// fakeScraper answers FindImages from a fixed table.
type fakeScraper struct {
	mu         sync.Mutex
	images     map[string][]string
	errs       map[string]error
	calls      map[string]int
	onFindImgs func(chapterURL string)
}

func newFakeScraper() *fakeScraper {
	return &fakeScraper{images: map[string][]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeScraper) FindChapters(context.Context, string, string) ([]providers.Chapter, error) {
	return nil, nil
}

func (f *fakeScraper) FindImages(_ context.Context, chapterURL, _, _ string) ([]string, error) {
	if f.onFindImgs != nil {
		f.onFindImgs(chapterURL)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[chapterURL]++
	if err := f.errs[chapterURL]; err != nil {
		return nil, err
	}
	return f.images[chapterURL], nil
}

func (f *fakeScraper) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func testOptions() Options {
	return Options{
		Workers:      2,
		Retries:      1,
		RetryBackoff: 1,
		UserAgent:    util.FixedUserAgents("agent-1", "agent-2", "agent-3"),
		VerifyImages: true,
	}
}

func newTestDownloader(t *testing.T, client *http.Client, s providers.Scraper) *ChapterDownloader {
	t.Helper()
	return NewChapterDownloader(client, s, ui.NewLoggerTo(&strings.Builder{}, false), nil, testOptions())
}

func newTestRoot(t *testing.T) *cache.Root {
	t.Helper()
	r, err := cache.NewRoot(t.TempDir(), nil)
	require.NoError(t, err)
	return r
}
