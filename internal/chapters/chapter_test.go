package chapters

import (
	"math/rand"
	"testing"

	"github.com/brogergvhs/mangacache/internal/providers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mk(url, title, label string) Chapter {
	return Chapter{Chapter: providers.Chapter{URL: url, Title: title, Label: label}}
}

func titles(list []Chapter) []string {
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.Title
	}
	return out
}

func TestSortIsNaturalAndPermutationIndependent(t *testing.T) {
	base := []Chapter{
		mk("u10", "Chapter 10", ""),
		mk("u2", "Chapter 2", ""),
		mk("u1", "Chapter 1", ""),
		mk("u2.5", "Chapter 2.5", ""),
		mk("u9", "Chapter 9", ""),
	}
	want := []string{"Chapter 1", "Chapter 2", "Chapter 2.5", "Chapter 9", "Chapter 10"}

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		list := append([]Chapter(nil), base...)
		r.Shuffle(len(list), func(a, b int) { list[a], list[b] = list[b], list[a] })
		Sort(list)
		assert.Equal(t, want, titles(list))
	}
}

func TestFromMap(t *testing.T) {
	got := FromMap(map[string]string{
		"https://x/manga/a/chapter-3/": "Chapter 3",
		"https://x/manga/a/chapter-1/": "",
		"https://x/manga/a/chapter-2/": "Chapter 2",
	})
	assert.Equal(t, []string{"Chapter 1", "Chapter 2", "Chapter 3"}, titles(got))
	assert.Len(t, ToMap(got), 3)
}

func TestURLHelpers(t *testing.T) {
	assert.Equal(t, "chapter-12", URLSlug("https://x/manga/a/chapter-12/"))
	assert.Equal(t, "Chapter 12", TitleFromURL("https://x/manga/a/chapter-12/"))
	assert.True(t, IsChapterURL("https://x/manga/a/chapter-12/"))
	assert.True(t, IsChapterURL("https://x/manga/a/chapter-12/p/"))
	assert.False(t, IsChapterURL("https://x/manga/a/"))
}

func TestFileSlug(t *testing.T) {
	assert.Equal(t, "solo_leveling_vol_1", FileSlug("Solo Leveling (Vol. 1)"))
	assert.Equal(t, "a_b", FileSlug("a — b"))
}

func TestSelection(t *testing.T) {
	all := []Chapter{
		mk("https://x/manga/a/chapter-1/", "Chapter 1", "1"),
		mk("https://x/manga/a/chapter-2/", "Chapter 2", "2"),
		mk("https://x/manga/a/chapter-2-5/", "Chapter 2.5", "2.5"),
		mk("https://x/manga/a/chapter-3/", "Chapter 3", "3"),
	}

	tests := []struct {
		name    string
		sel     Selection
		want    []string
		wantErr bool
	}{
		{"all", Selection{}, []string{"Chapter 1", "Chapter 2", "Chapter 2.5", "Chapter 3"}, false},
		{"label", Selection{Chapter: "2.5"}, []string{"Chapter 2.5"}, false},
		{"index", Selection{Chapter: "4"}, []string{"Chapter 3"}, false},
		{"missing", Selection{Chapter: "99"}, nil, true},
		{"range", Selection{Range: "2-3"}, []string{"Chapter 2", "Chapter 2.5"}, false},
		{"bad range", Selection{Range: "3-9"}, nil, true},
		{"list", Selection{List: "1, 4,x,12"}, []string{"Chapter 1", "Chapter 3"}, false},
		{"exclude", Selection{Exclude: []string{"chapter-2-5", "/chapter-1/"}}, []string{"Chapter 2", "Chapter 3"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.sel.Apply(all)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, titles(got))
		})
	}
}

func TestUniqueDirs(t *testing.T) {
	list := []Chapter{
		mk("https://s/m/x/chapter-10/", "Chapter 10: Part?", "10"),
		mk("https://s/m/x/chapter-10-5/", "Chapter 10: Part*", "10.5"),
		mk("https://s/m/x/extra/", "chapter 10: part/", ""),
		mk("https://s/m/x/chapter-11/", "Chapter 11", "11"),
		mk("https://s/m/x/chapter-11/", "Chapter 11", "11"),
	}

	got := UniqueDirs(list)
	assert.Equal(t, []string{
		"Chapter 10: Part?",
		"Chapter 10: Part* (chapter-10-5)",
		"chapter 10: part/ (extra)",
		"Chapter 11",
		"Chapter 11 (chapter-11)",
	}, titles(got))

	seen := map[string]bool{}
	for _, c := range got {
		assert.False(t, seen[c.DirName()], c.DirName())
		seen[c.DirName()] = true
	}

	// Already unique titles are left alone.
	assert.Equal(t, titles(got), titles(UniqueDirs(got)))
}

func TestUniqueDirsCounterWhenSlugRepeats(t *testing.T) {
	list := []Chapter{
		mk("https://s/a/chapter-1/", "One", "1"),
		mk("https://s/b/chapter-1/", "One", "1"),
		mk("https://s/c/chapter-1/", "One", "1"),
	}
	assert.Equal(t, []string{"One", "One (chapter-1)", "One (chapter-1 2)"}, titles(UniqueDirs(list)))
}
