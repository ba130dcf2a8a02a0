package generic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/brogergvhs/mangacache/internal/cache"
	"github.com/brogergvhs/mangacache/internal/netguard"
	"github.com/brogergvhs/mangacache/internal/providers"
	"github.com/brogergvhs/mangacache/internal/ui"
	"github.com/brogergvhs/mangacache/internal/util"

	"github.com/PuerkitoBio/goquery"
	"github.com/maruel/natural"
)

type Scraper struct {
	client  *http.Client
	log     *ui.Logger
	allowed *regexp.Regexp
	retries int
	backoff time.Duration
}

func NewScraper(c *http.Client, log *ui.Logger, allowExt []string) *Scraper {
	return &Scraper{
		client:  c,
		log:     log,
		allowed: buildExtRegex(normalizeExtList(allowExt)),
		retries: 3,
		backoff: 500 * time.Millisecond,
	}
}

var _ providers.Scraper = (*Scraper)(nil)

func (s *Scraper) fetch(ctx context.Context, method, target, ua, referer string, form url.Values) (*goquery.Document, string, error) {
	build := func() (*http.Request, error) {
		var body io.Reader
		if form != nil {
			body = strings.NewReader(form.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			return nil, err
		}
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.Header.Set("X-Requested-With", "XMLHttpRequest")
		}
		if ua != "" {
			req.Header.Set("User-Agent", ua)
		}
		if referer != "" {
			req.Header.Set("Referer", referer)
		}
		req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")
		return req, nil
	}

	resp, err := util.DoWithRetry(ctx, s.client, build, s.retries, s.backoff, isPermanent)
	if err != nil {
		return nil, "", &providers.NetworkError{URL: target, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, "", &providers.NetworkError{URL: target, Status: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &providers.NetworkError{URL: target, Err: err}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(raw)))
	if err != nil {
		return nil, "", fmt.Errorf("parse %s: %w", target, err)
	}

	return doc, string(raw), nil
}

func isPermanent(err error) bool {
	return errors.Is(err, netguard.ErrBlocked) || errors.Is(err, context.Canceled)
}

// FindChapters lists the chapters of a series page, oldest first.
func (s *Scraper) FindChapters(ctx context.Context, seriesURL, ua string) ([]providers.Chapter, error) {
	doc, _, err := s.fetch(ctx, http.MethodGet, seriesURL, ua, "", nil)
	if err != nil {
		return nil, err
	}

	out := madaraChapters(doc, seriesURL)

	if len(out) == 0 && doc.Find("#manga-chapters-holder").Length() > 0 {
		// Newer Madara themes load the list over AJAX.
		ajax := strings.TrimRight(seriesURL, "/") + "/ajax/chapters/"
		s.log.Debugf("chapter list is loaded dynamically, trying %s", ajax)

		if adoc, _, aerr := s.fetch(ctx, http.MethodPost, ajax, ua, seriesURL, url.Values{}); aerr == nil {
			out = madaraChapters(adoc, seriesURL)
		} else {
			s.log.Debugf("ajax chapter list failed: %v", aerr)
		}
	}

	if len(out) == 0 {
		out = heuristicChapters(doc, seriesURL)
		s.log.Debugf("no Madara chapter list, heuristics found %d chapters", len(out))
	}

	return out, nil
}

func madaraChapters(doc *goquery.Document, base string) []providers.Chapter {
	var out []providers.Chapter
	seen := map[string]bool{}

	doc.Find("li.wp-manga-chapter").Each(func(_ int, li *goquery.Selection) {
		a := li.Find("a[href]").First()
		href, ok := a.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}

		u := resolve(base, strings.TrimSpace(href))
		if seen[u] {
			return
		}
		seen[u] = true

		out = append(out, newChapter(u, cleanText(a.Text())))
	})

	// Madara lists newest first.
	slices.Reverse(out)
	return out
}

func heuristicChapters(doc *goquery.Document, base string) []providers.Chapter {
	var out []providers.Chapter
	seen := map[string]bool{}

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		text := cleanText(a.Text())

		if !looksLikeChapterLink(href, text) {
			return
		}
		if _, ok := parseLabel(href, text); !ok {
			return
		}

		u := resolve(base, href)
		if seen[u] {
			return
		}
		seen[u] = true

		out = append(out, newChapter(u, text))
	})

	slices.SortStableFunc(out, func(a, b providers.Chapter) int {
		switch {
		case natural.Less(a.Label, b.Label):
			return -1
		case natural.Less(b.Label, a.Label):
			return 1
		}
		return 0
	})

	return out
}

func newChapter(u, text string) providers.Chapter {
	label, _ := parseLabel(u, text)

	title := text
	if title == "" {
		if label != "" {
			title = "Chapter " + label
		} else {
			title = cache.TitleFromSlug(lastSegment(u))
		}
	}

	return providers.Chapter{URL: u, Title: title, Label: label}
}

// FindImages returns the page images of a chapter in reading order. A page
// without images yields an empty list, not an error.
func (s *Scraper) FindImages(ctx context.Context, chapterURL, ua, referer string) ([]string, error) {
	doc, body, err := s.fetch(ctx, http.MethodGet, chapterURL, ua, referer, nil)
	if err != nil {
		return nil, err
	}

	if imgs := madaraImages(doc, chapterURL); len(imgs) > 0 {
		return imgs, nil
	}

	col := newImageCollector(s.allowed, s.log)
	s.log.Debugf("IMG tags: +%d", col.scanIMGTags(doc, chapterURL))
	s.log.Debugf("PICTURE sources: +%d", col.scanPictureSources(doc, chapterURL))
	s.log.Debugf("CSS background: +%d", col.scanBackgroundImages(doc, chapterURL))
	s.log.Debugf("loose URLs: +%d", col.scanLooseURLs(body))

	return col.finalize(), nil
}

func madaraImages(doc *goquery.Document, chapterURL string) []string {
	var out []string
	doc.Find("img.wp-manga-chapter-img").Each(func(_ int, img *goquery.Selection) {
		for _, k := range []string{"data-src", "data-lazy-src", "src"} {
			if v, ok := img.Attr(k); ok && strings.TrimSpace(v) != "" {
				out = append(out, resolve(chapterURL, strings.TrimSpace(v)))
				return
			}
		}
	})
	return out
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func lastSegment(u string) string {
	p := u
	if pu, err := url.Parse(u); err == nil {
		p = pu.Path
	}
	p = strings.Trim(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

func resolve(base, raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u == nil {
		return raw
	}
	if u.IsAbs() {
		return u.String()
	}

	b, err := url.Parse(base)
	if err != nil || b == nil {
		return raw
	}
	return b.ResolveReference(u).String()
}
