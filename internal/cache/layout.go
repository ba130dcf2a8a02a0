// Package cache owns the on-disk layout of the download cache: series and
// chapter directories, the completion marker, per-series metadata and the
// root-level JSON documents. Nothing outside this package builds cache paths
// by hand.
package cache

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

const (
	SeriesPrefix    = "manga_"
	MetadataName    = "metadata.json"
	LegacyURLName   = "source_url.txt"
	QueueFileName   = "queue_cache.json"
	ScrapeCacheName = "scrape_cache.json"
	HistoryDBName   = "history.db"
)

var ErrOutsideRoot = errors.New("path is outside the cache root")

// Logger is the subset of ui.Logger the cache needs.
type Logger interface {
	Warnf(format string, args ...any)
}

type Root struct {
	dir string
	log Logger
}

// NewRoot resolves dir to an absolute path. The directory is not created.
func NewRoot(dir string, log Logger) (*Root, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("cache root cannot be empty")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cache root %q: %w", dir, err)
	}

	return &Root{dir: filepath.Clean(abs), log: log}, nil
}

func (r *Root) Dir() string { return r.dir }

func (r *Root) Ensure() error {
	return os.MkdirAll(r.dir, 0755)
}

func (r *Root) QueueFile() string       { return filepath.Join(r.dir, QueueFileName) }
func (r *Root) ScrapeCacheFile() string { return filepath.Join(r.dir, ScrapeCacheName) }
func (r *Root) HistoryDB() string       { return filepath.Join(r.dir, HistoryDBName) }

func (r *Root) SeriesDir(slug string) string {
	return filepath.Join(r.dir, SeriesPrefix+slug)
}

func (r *Root) SeriesDirForURL(seriesURL string) string {
	return r.SeriesDir(SlugFromURL(seriesURL))
}

func (r *Root) ChapterDir(seriesDir, title string) string {
	return filepath.Join(seriesDir, ChapterDirName(title))
}

// ParseSeriesDir reports the slug of a top-level series directory name.
func ParseSeriesDir(name string) (string, bool) {
	if !strings.HasPrefix(name, SeriesPrefix) {
		return "", false
	}
	slug := strings.TrimPrefix(name, SeriesPrefix)
	return slug, slug != ""
}

// Contains reports whether path lies strictly below the root.
func (r *Root) Contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(r.dir, abs)
	if err != nil || rel == "." {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != ".."
}

func (r *Root) warnf(format string, args ...any) {
	if r.log != nil {
		r.log.Warnf(format, args...)
	}
}

var (
	reSlugJunk   = regexp.MustCompile(`[^a-z0-9]+`)
	reIllegalFS  = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`)
	reMultiSpace = regexp.MustCompile(`\s+`)
)

// SlugFromURL derives the series slug from a series or chapter URL.
// "https://site/manga/solo-leveling/chapter-3/" yields "solo-leveling".
func SlugFromURL(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		p = u.Path
	}

	segs := strings.FieldsFunc(p, func(r rune) bool { return r == '/' })

	pick := ""
	for i, s := range segs {
		if strings.EqualFold(s, "manga") && i+1 < len(segs) {
			pick = segs[i+1]
			break
		}
	}
	if pick == "" {
		for i := len(segs) - 1; i >= 0; i-- {
			if !IsChapterSegment(segs[i]) {
				pick = segs[i]
				break
			}
		}
	}

	slug := strings.Trim(reSlugJunk.ReplaceAllString(strings.ToLower(pick), "-"), "-")
	if slug == "" {
		return "series"
	}
	return slug
}

func IsChapterSegment(seg string) bool {
	return strings.HasPrefix(strings.ToLower(seg), "chapter-")
}

// TitleFromSlug turns "solo-leveling_ragnarok" into "Solo Leveling Ragnarok".
func TitleFromSlug(slug string) string {
	words := strings.FieldsFunc(slug, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		rs := []rune(w)
		rs[0] = unicode.ToUpper(rs[0])
		words[i] = string(rs)
	}
	return strings.Join(words, " ")
}

// ChapterDirName keeps the chapter title readable while stripping characters
// no filesystem accepts.
func ChapterDirName(title string) string {
	s := reIllegalFS.ReplaceAllString(title, "_")
	s = reMultiSpace.ReplaceAllString(s, " ")
	s = strings.Trim(s, " .")
	if s == "" {
		return "untitled"
	}
	return s
}
