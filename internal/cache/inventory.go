package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/maruel/natural"
)

type CachedChapter struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Pages  int    `json:"pages"`
	Broken bool   `json:"broken"`
}

type CachedSeries struct {
	Slug          string          `json:"slug"`
	Title         string          `json:"title"`
	Path          string          `json:"path"`
	SourceURL     string          `json:"source_url,omitempty"`
	TotalChapters int             `json:"total_chapters,omitempty"`
	Size          int64           `json:"size"`
	Chapters      []CachedChapter `json:"chapters"`
}

// BrokenCount is the number of chapters still carrying a marker.
func (s CachedSeries) BrokenCount() int {
	n := 0
	for _, c := range s.Chapters {
		if c.Broken {
			n++
		}
	}
	return n
}

// Scan builds a fresh view of every series under the root. A missing root is
// an empty cache, not an error.
func (r *Root) Scan() ([]CachedSeries, error) {
	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", r.dir, err)
	}

	var out []CachedSeries
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		slug, ok := ParseSeriesDir(e.Name())
		if !ok {
			continue
		}

		s, err := r.scanSeries(slug, filepath.Join(r.dir, e.Name()))
		if err != nil {
			r.warnf("skipping %s: %v", e.Name(), err)
			continue
		}
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return natural.Less(out[i].Title, out[j].Title)
	})

	return out, nil
}

func (r *Root) scanSeries(slug, dir string) (CachedSeries, error) {
	s := CachedSeries{
		Slug:  slug,
		Title: TitleFromSlug(slug),
		Path:  dir,
	}

	if m, err := ReadMetadata(dir); err == nil {
		if m.Title != "" {
			s.Title = m.Title
		}
		s.SourceURL = m.SourceURL
		s.TotalChapters = m.TotalChapters
	} else if !errors.Is(err, fs.ErrNotExist) {
		r.warnf("ignoring metadata in %s: %v", dir, err)
	}
	if s.SourceURL == "" {
		s.SourceURL = readLegacyURL(dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return s, err
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		chDir := filepath.Join(dir, e.Name())
		if CountImages(chDir) == 0 {
			continue
		}

		size, pages, err := DirSize(chDir)
		if err != nil {
			r.warnf("size of %s: %v", chDir, err)
		}

		s.Chapters = append(s.Chapters, CachedChapter{
			Name:   e.Name(),
			Path:   chDir,
			Size:   size,
			Pages:  pages,
			Broken: HasMarker(chDir),
		})
		s.Size += size
	}

	sort.SliceStable(s.Chapters, func(i, j int) bool {
		return natural.Less(s.Chapters[i].Name, s.Chapters[j].Name)
	})

	return s, nil
}

// Delete removes each path recursively and returns the bytes freed. Parents
// of deleted paths that no longer hold any subdirectory are removed too.
func (r *Root) Delete(paths []string) (int64, error) {
	var (
		freed   int64
		errs    []error
		parents []string
		seen    = map[string]bool{}
	)

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || !r.Contains(abs) {
			errs = append(errs, fmt.Errorf("%s: %w", p, ErrOutsideRoot))
			continue
		}

		size, _, err := DirSize(abs)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}

		if err := os.RemoveAll(abs); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", abs, err))
			continue
		}
		freed += size

		parent := filepath.Dir(abs)
		if parent != r.dir && !seen[parent] {
			seen[parent] = true
			parents = append(parents, parent)
		}
	}

	for _, parent := range parents {
		has, err := hasSubdir(parent)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if has {
			continue
		}

		size, _, _ := DirSize(parent)
		if err := os.RemoveAll(parent); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", parent, err))
			continue
		}
		freed += size
	}

	return freed, errors.Join(errs...)
}

func hasSubdir(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.IsDir() {
			return true, nil
		}
	}
	return false, nil
}
