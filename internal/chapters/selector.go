package chapters

import (
	"fmt"
	"strconv"
	"strings"
)

// Selection mirrors the download command's chapter flags. Indices are
// 1-based over the scraped, sorted chapter list.
type Selection struct {
	Chapter string
	Range   string
	List    string
	Exclude []string
}

func (s Selection) Apply(all []Chapter) ([]Chapter, error) {
	var out []Chapter

	switch {
	case s.Chapter != "":
		out = FilterByLabel(all, s.Chapter)
		if len(out) == 0 {
			idx, err := atoi(s.Chapter)
			if err != nil || idx <= 0 || idx > len(all) {
				return nil, fmt.Errorf("chapter %q not found", s.Chapter)
			}
			out = []Chapter{all[idx-1]}
		}
	case s.Range != "":
		out = FilterRange(all, s.Range)
		if out == nil {
			return nil, fmt.Errorf("invalid range %q for %d chapters", s.Range, len(all))
		}
	case s.List != "":
		out = FilterList(all, s.List)
	default:
		out = all
	}

	return Exclude(out, s.Exclude), nil
}

func FilterByLabel(all []Chapter, label string) []Chapter {
	var out []Chapter
	for _, ch := range all {
		if ch.Label != "" && ch.Label == label {
			out = append(out, ch)
		}
	}
	return out
}

func FilterRange(all []Chapter, rng string) []Chapter {
	parts := strings.Split(rng, "-")
	if len(parts) != 2 {
		return nil
	}
	start, err1 := atoi(parts[0])
	end, err2 := atoi(parts[1])
	if err1 != nil || err2 != nil {
		return nil
	}
	if start <= 0 || end <= 0 || start > end || end > len(all) {
		return nil
	}
	return all[start-1 : end]
}

func FilterList(all []Chapter, list string) []Chapter {
	out := []Chapter{}
	for n := range strings.SplitSeq(list, ",") {
		idx, err := atoi(n)
		if err != nil {
			continue
		}
		if idx > 0 && idx <= len(all) {
			out = append(out, all[idx-1])
		}
	}
	return out
}

// Exclude drops chapters whose URL slug is listed, e.g. "chapter-0".
func Exclude(all []Chapter, slugs []string) []Chapter {
	if len(slugs) == 0 {
		return all
	}

	skip := make(map[string]bool, len(slugs))
	for _, s := range slugs {
		skip[strings.Trim(strings.TrimSpace(s), "/")] = true
	}

	out := make([]Chapter, 0, len(all))
	for _, ch := range all {
		if !skip[ch.URLSlug()] {
			out = append(out, ch)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
