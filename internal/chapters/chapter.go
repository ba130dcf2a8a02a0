package chapters

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/brogergvhs/mangacache/internal/cache"
	"github.com/brogergvhs/mangacache/internal/providers"

	"github.com/maruel/natural"
)

type Chapter struct {
	providers.Chapter
}

func (c Chapter) DirName() string {
	return cache.ChapterDirName(c.Title)
}

// URLSlug is the last path segment of the chapter URL, used by --exclude.
func (c Chapter) URLSlug() string {
	return URLSlug(c.URL)
}

func URLSlug(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	p = strings.Trim(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	return p
}

// IsChapterURL reports whether u points at a single chapter rather than a
// series page.
func IsChapterURL(raw string) bool {
	segs := strings.Split(strings.Trim(raw, "/"), "/")
	for i := len(segs) - 1; i >= 0 && i >= len(segs)-2; i-- {
		if cache.IsChapterSegment(segs[i]) {
			return true
		}
	}
	return false
}

// TitleFromURL builds "Chapter 12" style titles from ".../chapter-12/".
func TitleFromURL(raw string) string {
	slug := URLSlug(raw)
	if slug == "" {
		return "Chapter"
	}
	return cache.TitleFromSlug(slug)
}

// Sort orders chapters by title with numeric awareness, so "Chapter 10"
// follows "Chapter 9". URL breaks ties.
func Sort(list []Chapter) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Title != list[j].Title {
			return natural.Less(list[i].Title, list[j].Title)
		}
		return list[i].URL < list[j].URL
	})
}

// FromMap converts a url->title request into a sorted slice.
func FromMap(m map[string]string) []Chapter {
	out := make([]Chapter, 0, len(m))
	for u, title := range m {
		if strings.TrimSpace(title) == "" {
			title = TitleFromURL(u)
		}
		out = append(out, Chapter{Chapter: providers.Chapter{URL: u, Title: title}})
	}
	Sort(out)
	return out
}

// UniqueDirs retitles chapters whose directory name is already taken by an
// earlier chapter in list, appending the URL slug. Sites repeat titles, and
// titles that differ only in characters a filesystem rejects clean to the
// same name. list is modified in place and returned.
func UniqueDirs(list []Chapter) []Chapter {
	taken := make(map[string]bool, len(list))
	key := func(title string) string {
		return strings.ToLower(cache.ChapterDirName(title))
	}

	for i := range list {
		if !taken[key(list[i].Title)] {
			taken[key(list[i].Title)] = true
			continue
		}

		base, slug := list[i].Title, list[i].URLSlug()
		if slug == "" {
			slug = "alt"
		}
		title := fmt.Sprintf("%s (%s)", base, slug)
		for n := 2; taken[key(title)]; n++ {
			title = fmt.Sprintf("%s (%s %d)", base, slug, n)
		}
		list[i].Title = title
		taken[key(title)] = true
	}
	return list
}

func ToMap(list []Chapter) map[string]string {
	m := make(map[string]string, len(list))
	for _, c := range list {
		m[c.URL] = c.Title
	}
	return m
}

func Wrap(raw []providers.Chapter) []Chapter {
	out := make([]Chapter, len(raw))
	for i, c := range raw {
		out[i] = Chapter{Chapter: c}
	}
	return out
}

var reUnderscore = regexp.MustCompile(`_+`)

// FileSlug is the lowercase, underscore-joined form used for archive names.
func FileSlug(s string) string {
	s = strings.ToLower(s)

	repl := strings.NewReplacer(
		"•", "_",
		"-", "_",
		"—", "_",
		"–", "_",
		"/", "_",
		"\\", "_",
		".", "_",
		" ", "_",
		"(", "",
		")", "",
	)
	s = repl.Replace(s)

	clean := make([]rune, 0, len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			clean = append(clean, r)
		}
	}

	return strings.Trim(reUnderscore.ReplaceAllString(string(clean), "_"), "_")
}
