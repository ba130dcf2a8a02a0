package generic

import (
	"net/url"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/brogergvhs/mangacache/internal/ui"

	"github.com/PuerkitoBio/goquery"
)

var (
	reSizeSuffix    = regexp.MustCompile(`[-_](\d{2,5})x(\d{2,5})`)
	reBackgroundURL = regexp.MustCompile(`url\((?:["']?)([^"')]+)(?:["']?)\)`)
	reLooseURLs     = regexp.MustCompile(`https?://[^\s"'<>]+`)

	nonPageHints = []string{"logo", "cover", "profile", "avatar", "banner", "icon"}
)

// candidate is one image URL seen on the page. index comes from a data-index
// attribute when the site provides one, order is discovery order.
type candidate struct {
	url   string
	index int
	order int
}

type imageCollector struct {
	allowed *regexp.Regexp
	log     *ui.Logger
	items   []candidate
	seen    map[string]bool
}

func newImageCollector(allowed *regexp.Regexp, log *ui.Logger) *imageCollector {
	return &imageCollector{
		allowed: allowed,
		log:     log,
		seen:    map[string]bool{},
	}
}

func (c *imageCollector) add(u string, idx int) bool {
	lu := strings.ToLower(u)
	if u == "" || strings.HasPrefix(lu, "data:") || strings.HasPrefix(lu, "javascript:") {
		return false
	}

	pathOnly := lu
	if pu, err := url.Parse(lu); err == nil {
		pathOnly = pu.Path
	}
	if !c.allowed.MatchString(pathOnly) {
		return false
	}

	for _, hint := range nonPageHints {
		if strings.Contains(lu, hint) {
			c.log.Debugf("skipping non-page image: %s", u)
			return false
		}
	}

	if c.seen[u] {
		return false
	}
	c.seen[u] = true
	c.items = append(c.items, candidate{url: u, index: idx, order: len(c.items)})
	return true
}

func (c *imageCollector) addSrcset(base, srcset string, idx int) int {
	n := 0
	for part := range strings.SplitSeq(srcset, ",") {
		fields := strings.Fields(part)
		if len(fields) > 0 && c.add(resolve(base, fields[0]), idx) {
			n++
		}
	}
	return n
}

func (c *imageCollector) scanIMGTags(doc *goquery.Document, chapterURL string) int {
	n := 0
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		idx := indexOf(img)
		if ss, ok := img.Attr("srcset"); ok {
			n += c.addSrcset(chapterURL, ss, idx)
		}
		for _, k := range []string{"data-src", "data-lazy-src", "data-original", "src"} {
			if v, ok := img.Attr(k); ok && strings.TrimSpace(v) != "" {
				if c.add(resolve(chapterURL, strings.TrimSpace(v)), idx) {
					n++
				}
			}
		}
	})
	return n
}

func (c *imageCollector) scanPictureSources(doc *goquery.Document, chapterURL string) int {
	n := 0
	doc.Find("source[srcset]").Each(func(_ int, src *goquery.Selection) {
		ss, _ := src.Attr("srcset")
		n += c.addSrcset(chapterURL, ss, indexOf(src))
	})
	return n
}

func (c *imageCollector) scanBackgroundImages(doc *goquery.Document, chapterURL string) int {
	n := 0
	doc.Find("[style]").Each(func(_ int, el *goquery.Selection) {
		style, _ := el.Attr("style")
		if !strings.Contains(strings.ToLower(style), "background-image") {
			return
		}
		idx := indexOf(el)
		for _, m := range reBackgroundURL.FindAllStringSubmatch(style, -1) {
			if c.add(resolve(chapterURL, strings.TrimSpace(m[1])), idx) {
				n++
			}
		}
	})
	return n
}

func (c *imageCollector) scanLooseURLs(body string) int {
	n := 0
	for _, u := range reLooseURLs.FindAllString(body, -1) {
		if c.add(u, -1) {
			n++
		}
	}
	return n
}

// finalize keeps one URL per page, preferring the unsized original over
// thumbnails like "-300x450", and orders pages by index then discovery.
func (c *imageCollector) finalize() []string {
	groups := map[string][]candidate{}
	var keys []string
	for _, it := range c.items {
		k := baseKey(it.url)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], it)
	}

	chosen := make([]candidate, 0, len(keys))
	for _, k := range keys {
		items := groups[k]
		best := pickBest(items)
		for _, it := range items {
			if it.index >= 0 && (best.index < 0 || it.index < best.index) {
				best.index = it.index
			}
			best.order = min(best.order, it.order)
		}
		chosen = append(chosen, best)
	}

	sort.SliceStable(chosen, func(i, j int) bool {
		a, b := chosen[i], chosen[j]
		if (a.index >= 0) != (b.index >= 0) {
			return a.index >= 0
		}
		if a.index >= 0 && a.index != b.index {
			return a.index < b.index
		}
		return a.order < b.order
	})

	out := make([]string, len(chosen))
	for i, it := range chosen {
		out[i] = it.url
	}
	return out
}

func pickBest(items []candidate) candidate {
	best, bestArea := items[0], -1
	for _, it := range items {
		if !reSizeSuffix.MatchString(it.url) {
			return it
		}
		if w, h := sizeOf(it.url); w*h > bestArea {
			best, bestArea = it, w*h
		}
	}
	return best
}

func baseKey(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Host + u.Path
	}
	ext := path.Ext(p)
	base := reSizeSuffix.ReplaceAllString(strings.TrimSuffix(p, ext), "")
	return strings.TrimRight(base, "-_") + ext
}

func sizeOf(u string) (int, int) {
	m := reSizeSuffix.FindAllStringSubmatch(u, -1)
	if len(m) == 0 {
		return 0, 0
	}
	last := m[len(m)-1]
	w, _ := strconv.Atoi(last[1])
	h, _ := strconv.Atoi(last[2])
	return w, h
}

func indexOf(sel *goquery.Selection) int {
	for _, s := range []*goquery.Selection{sel, sel.ParentsFiltered("[data-index]").First()} {
		if v, ok := s.Attr("data-index"); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n
			}
		}
	}
	return -1
}

func normalizeExtList(list []string) []string {
	var out []string
	for _, ext := range list {
		ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
		if ext != "" {
			out = append(out, regexp.QuoteMeta(ext))
		}
	}
	return out
}

func buildExtRegex(exts []string) *regexp.Regexp {
	if len(exts) == 0 {
		exts = []string{"jpg", "jpeg", "png", "webp", "gif", "avif"}
	}
	return regexp.MustCompile(`(?i)\.(` + strings.Join(exts, "|") + `)$`)
}
