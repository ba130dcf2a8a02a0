// Package packaging turns finished chapter folders into reader formats.
package packaging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/brogergvhs/mangacache/internal/cache"
)

// Packager writes one archive from chapter folders given in reading order.
type Packager interface {
	Package(title string, folders []string, out string) error
	Ext() string
}

var ErrNoPages = errors.New("no images to package")

// For resolves a format name. "none" and "" mean the chapters stay as
// folders and no packager is returned.
func For(format string) (Packager, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "none", "folder":
		return nil, nil
	case "cbz":
		return CBZ{}, nil
	case "epub":
		return EPUB{}, nil
	default:
		return nil, fmt.Errorf("unknown format %q (cbz, epub, none)", format)
	}
}

// OutputPath names the archive for a series title inside dir.
func OutputPath(dir, title string, p Packager) string {
	return filepath.Join(dir, cache.ChapterDirName(title)+p.Ext())
}

type chapterPages struct {
	name  string
	title string
	pages []string
}

// collect lists the images of every folder. Missing folders are skipped.
func collect(folders []string) ([]chapterPages, int, error) {
	var out []chapterPages
	total := 0

	for _, dir := range folders {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, 0, err
		}

		var pages []string
		for _, e := range entries {
			if e.Type().IsRegular() && cache.IsImageFile(e.Name()) {
				pages = append(pages, filepath.Join(dir, e.Name()))
			}
		}
		sort.Strings(pages)

		name := filepath.Base(dir)
		out = append(out, chapterPages{name: name, title: bookmarkTitle(name), pages: pages})
		total += len(pages)
	}

	if total == 0 {
		return nil, 0, ErrNoPages
	}
	return out, total, nil
}

// bookmarkTitle turns "chapter-12_extra" into "Chapter 12 Extra".
func bookmarkTitle(folder string) string {
	return cache.TitleFromSlug(strings.ReplaceAll(folder, " ", "-"))
}

// writeAtomic lets build write into a temp file next to out and renames it
// into place only when build succeeds.
func writeAtomic(out string, build func(f *os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(out), "."+filepath.Base(out)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()

	err = build(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, out); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
