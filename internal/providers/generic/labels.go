package generic

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	reChapterSlug  = regexp.MustCompile(`(?i)chapter[_\-]?0*([0-9]+)(?:[_\-.]([0-9]+))?`)
	reChapterText  = regexp.MustCompile(`(?i)(?:chapter|ch\.?)\s*0*([0-9]+)(?:[.\-]([0-9]+))?`)
	reVolChapter   = regexp.MustCompile(`(?i)vol[_\-]?(\d+)[/_\-]ch[_\-]?(\d+(?:\.\d+)?)`)
	reShortChapter = regexp.MustCompile(`(?i)(?:^|[/\-_])ch[_\-]?(\d+(?:\.\d+)?)`)
	reTitlePrefix  = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*[.\- ]`)
	reLikely       = regexp.MustCompile(`(?i)(?:^|[-_/])(?:ch|chapter)[-_]?\d+`)
)

// parseLabel extracts a chapter number such as "12" or "12.5" from a chapter
// link or its text.
func parseLabel(href, text string) (string, bool) {
	h := strings.ToLower(href)
	if strings.Contains(h, "/u/") {
		return "", false
	}

	if m := reChapterSlug.FindStringSubmatch(h); m != nil {
		return joinLabel(m[1], m[2]), true
	}
	if m := reVolChapter.FindStringSubmatch(h); m != nil {
		return m[2], true
	}
	if m := reShortChapter.FindStringSubmatch(h); m != nil {
		return m[1], true
	}
	if m := reChapterText.FindStringSubmatch(text); m != nil {
		return joinLabel(m[1], m[2]), true
	}
	if m := reTitlePrefix.FindStringSubmatch(text); m != nil {
		return m[1], true
	}

	return "", false
}

func joinLabel(main, sub string) string {
	n, _ := strconv.Atoi(main)
	if sub == "" {
		return strconv.Itoa(n)
	}
	return strconv.Itoa(n) + "." + sub
}

func looksLikeChapterLink(href, text string) bool {
	h := strings.ToLower(href)
	if reLikely.MatchString(h) || reVolChapter.MatchString(h) {
		return true
	}

	t := strings.ToLower(text)
	return strings.HasPrefix(t, "ch ") || strings.HasPrefix(t, "ch.") || strings.HasPrefix(t, "chapter ")
}
