package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoot(t *testing.T) *Root {
	t.Helper()
	r, err := NewRoot(t.TempDir(), nil)
	require.NoError(t, err)
	return r
}

func writeImages(t *testing.T, dir string, names ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("img-bytes"), 0644))
	}
}

func TestSlugFromURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://example.com/manga/solo-leveling/", "solo-leveling"},
		{"https://example.com/manga/solo-leveling/chapter-12/", "solo-leveling"},
		{"https://example.com/series/Tower_Of_God", "tower-of-god"},
		{"https://example.com/read/one-piece/chapter-1", "one-piece"},
		{"https://example.com/", "series"},
		{"not a url at all", "not-a-url-at-all"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SlugFromURL(tt.in))
		})
	}
}

func TestTitleFromSlug(t *testing.T) {
	assert.Equal(t, "Solo Leveling", TitleFromSlug("solo-leveling"))
	assert.Equal(t, "Tower Of God", TitleFromSlug("tower_of-god"))
	assert.Equal(t, "", TitleFromSlug(""))
}

func TestChapterDirName(t *testing.T) {
	assert.Equal(t, "Chapter 2.5", ChapterDirName("Chapter 2.5"))
	assert.Equal(t, "Chapter 3_ The End_", ChapterDirName("Chapter 3: The End?"))
	assert.Equal(t, "a_b", ChapterDirName("a/b"))
	assert.Equal(t, "untitled", ChapterDirName("  ..  "))
}

func TestRootPaths(t *testing.T) {
	r := newTestRoot(t)

	series := r.SeriesDirForURL("https://example.com/manga/berserk/")
	assert.Equal(t, filepath.Join(r.Dir(), "manga_berserk"), series)
	assert.Equal(t, filepath.Join(series, "Chapter 1"), r.ChapterDir(series, "Chapter 1"))

	slug, ok := ParseSeriesDir(filepath.Base(series))
	assert.True(t, ok)
	assert.Equal(t, "berserk", slug)

	_, ok = ParseSeriesDir("downloads")
	assert.False(t, ok)

	assert.True(t, r.Contains(series))
	assert.False(t, r.Contains(r.Dir()))
	assert.False(t, r.Contains(filepath.Dir(r.Dir())))
	assert.False(t, r.Contains(filepath.Join(r.Dir(), "..", "elsewhere")))
}

func TestMarkerProtocol(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Chapter 1")
	require.NoError(t, os.MkdirAll(dir, 0755))

	assert.False(t, HasMarker(dir))
	assert.False(t, IsSatisfied(dir), "empty directory is not satisfied")

	require.NoError(t, WriteMarker(dir))
	assert.True(t, HasMarker(dir))

	writeImages(t, dir, "page_001.jpg", "page_002.PNG", "notes.txt", ".page_003.jpg.part")
	assert.Equal(t, 2, CountImages(dir))
	assert.False(t, IsSatisfied(dir), "marker present means broken")

	require.NoError(t, RemoveMarker(dir))
	assert.True(t, IsSatisfied(dir))

	require.NoError(t, RemoveMarker(dir), "removing an absent marker is fine")
}

func TestWriteMarkerFailure(t *testing.T) {
	err := WriteMarker(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMarker)
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "doc.json")

	require.NoError(t, WriteFileAtomic(path, []byte(`{"a":1}`), 0644))
	require.NoError(t, WriteFileAtomic(path, []byte(`{"a":2}`), 0644))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(b))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestMetadataRoundTripAndCorruption(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadMetadata(dir)
	assert.Error(t, err)

	require.NoError(t, WriteMetadata(dir, &SeriesMetadata{Title: "Custom", SourceURL: "https://x/manga/a/", TotalChapters: 7}))
	m, err := ReadMetadata(dir)
	require.NoError(t, err)
	assert.Equal(t, "Custom", m.Title)
	assert.Equal(t, 7, m.TotalChapters)

	require.NoError(t, os.WriteFile(MetadataPath(dir), []byte("{not json"), 0644))
	_, err = ReadMetadata(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(MetadataPath(dir), []byte("   \n"), 0644))
	_, err = ReadMetadata(dir)
	assert.Error(t, err)
}

func TestScan(t *testing.T) {
	r := newTestRoot(t)

	a := r.SeriesDir("solo-leveling")
	writeImages(t, filepath.Join(a, "Chapter 10"), "page_001.jpg")
	writeImages(t, filepath.Join(a, "Chapter 2"), "page_001.jpg", "page_002.jpg")
	writeImages(t, filepath.Join(a, "Chapter 1"), "page_001.webp")
	require.NoError(t, WriteMarker(filepath.Join(a, "Chapter 2")))
	require.NoError(t, os.MkdirAll(filepath.Join(a, "scratch"), 0755))
	require.NoError(t, WriteMetadata(a, &SeriesMetadata{Title: "Solo Leveling (Custom)", SourceURL: "https://x/manga/solo-leveling/", TotalChapters: 12}))

	b := r.SeriesDir("another_series")
	writeImages(t, filepath.Join(b, "Chapter 1"), "page_001.png")
	require.NoError(t, os.WriteFile(filepath.Join(b, LegacyURLName), []byte("https://legacy/manga/another_series/\n"), 0644))

	c := r.SeriesDir("corrupt")
	writeImages(t, filepath.Join(c, "Ch 1"), "page_001.png")
	require.NoError(t, os.WriteFile(filepath.Join(c, MetadataName), []byte("{oops"), 0644))

	require.NoError(t, os.MkdirAll(filepath.Join(r.Dir(), "not-a-series"), 0755))

	series, err := r.Scan()
	require.NoError(t, err)
	require.Len(t, series, 3)

	assert.Equal(t, "Another Series", series[0].Title)
	assert.Equal(t, "https://legacy/manga/another_series/", series[0].SourceURL)

	assert.Equal(t, "Corrupt", series[1].Title)
	assert.Empty(t, series[1].SourceURL)

	sl := series[2]
	assert.Equal(t, "Solo Leveling (Custom)", sl.Title)
	assert.Equal(t, 12, sl.TotalChapters)
	require.Len(t, sl.Chapters, 3, "scratch directory without images is not a chapter")
	assert.Equal(t, "Chapter 1", sl.Chapters[0].Name)
	assert.Equal(t, "Chapter 2", sl.Chapters[1].Name)
	assert.Equal(t, "Chapter 10", sl.Chapters[2].Name)
	assert.True(t, sl.Chapters[1].Broken)
	assert.False(t, sl.Chapters[0].Broken)
	assert.Equal(t, 2, sl.Chapters[1].Pages)
	assert.Equal(t, int64(len("img-bytes")*2), sl.Chapters[1].Size)
	assert.Equal(t, 1, sl.BrokenCount())
}

func TestScanMissingRoot(t *testing.T) {
	r, err := NewRoot(filepath.Join(t.TempDir(), "nope"), nil)
	require.NoError(t, err)

	series, err := r.Scan()
	require.NoError(t, err)
	assert.Empty(t, series)
}

func TestDeleteCascades(t *testing.T) {
	r := newTestRoot(t)
	s := r.SeriesDir("berserk")
	ch1 := filepath.Join(s, "Chapter 1")
	ch2 := filepath.Join(s, "Chapter 2")
	writeImages(t, ch1, "page_001.jpg")
	writeImages(t, ch2, "page_001.jpg", "page_002.jpg")
	require.NoError(t, WriteMetadata(s, &SeriesMetadata{Title: "Berserk"}))

	freed, err := r.Delete([]string{ch1})
	require.NoError(t, err)
	assert.Equal(t, int64(len("img-bytes")), freed)
	assert.DirExists(t, s, "series keeps its remaining chapter")

	_, err = r.Delete([]string{ch2})
	require.NoError(t, err)
	assert.NoDirExists(t, s, "empty series directory is removed")
}

func TestDeleteKeepsParentWithUnrelatedSubdir(t *testing.T) {
	r := newTestRoot(t)
	s := r.SeriesDir("berserk")
	ch1 := filepath.Join(s, "Chapter 1")
	writeImages(t, ch1, "page_001.jpg")
	require.NoError(t, os.MkdirAll(filepath.Join(s, "extras"), 0755))

	_, err := r.Delete([]string{ch1})
	require.NoError(t, err)
	assert.DirExists(t, s)
}

func TestDeleteWholeSeriesAndRefusesOutside(t *testing.T) {
	r := newTestRoot(t)
	s := r.SeriesDir("berserk")
	writeImages(t, filepath.Join(s, "Chapter 1"), "page_001.jpg")

	outside := t.TempDir()

	freed, err := r.Delete([]string{s, outside})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutsideRoot)
	assert.Equal(t, int64(len("img-bytes")), freed)
	assert.NoDirExists(t, s)
	assert.DirExists(t, outside)
	assert.DirExists(t, r.Dir(), "the root itself is never cascaded away")
}
