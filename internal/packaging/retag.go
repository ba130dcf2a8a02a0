package packaging

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/brogergvhs/mangacache/internal/cache"
)

var (
	ErrHasComicInfo = errors.New("archive already has ComicInfo.xml")
	ErrNoChapters   = errors.New("could not infer chapters from file names")

	reFlatChapter = regexp.MustCompile(`(?i)(?:[cv]|ch|chapter)\s?(\d+)`)
)

func archiveImages(zr *zip.Reader) []string {
	var names []string
	for _, f := range zr.File {
		n := f.Name
		if strings.HasPrefix(n, "__MACOSX") || strings.HasSuffix(n, "/") || n == comicInfoName {
			continue
		}
		if cache.IsImageFile(path.Base(n)) {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// ArchiveChapters lists the chapter folder names stored in a CBZ.
func ArchiveChapters(cbzPath string) ([]string, error) {
	zr, err := zip.OpenReader(cbzPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = zr.Close()
	}()

	seen := map[string]bool{}
	var out []string
	for _, n := range archiveImages(&zr.Reader) {
		dir := path.Dir(n)
		if dir == "." || seen[dir] {
			continue
		}
		seen[dir] = true
		out = append(out, dir)
	}
	return out, nil
}

// groupChapters maps chapter folder to its images. Flat archives are grouped
// by a chapter number found in each file name.
func groupChapters(images []string) (map[string][]string, error) {
	groups := map[string][]string{}
	flat := true
	for _, n := range images {
		if path.Dir(n) != "." {
			flat = false
			break
		}
	}

	for _, n := range images {
		key := path.Dir(n)
		if flat {
			num := 0
			if m := reFlatChapter.FindStringSubmatch(path.Base(n)); m != nil {
				num, _ = strconv.Atoi(m[1])
			}
			key = fmt.Sprintf("Chapter %03d", num)
		}
		groups[key] = append(groups[key], n)
	}

	if flat && len(groups) == 1 {
		if _, ok := groups["Chapter 000"]; ok {
			return nil, ErrNoChapters
		}
	}
	return groups, nil
}

// RetagCBZ rewrites an existing CBZ with a fresh ComicInfo.xml, moving flat
// archives into per-chapter folders. Without force an archive that already
// has ComicInfo.xml is left alone. It returns the page and chapter counts.
func RetagCBZ(cbzPath, title string, force bool) (pages, chapters int, err error) {
	zr, err := zip.OpenReader(cbzPath)
	if err != nil {
		return 0, 0, fmt.Errorf("%s is not a readable zip: %w", filepath.Base(cbzPath), err)
	}
	defer func() {
		_ = zr.Close()
	}()

	if !force {
		for _, f := range zr.File {
			if f.Name == comicInfoName {
				return 0, 0, ErrHasComicInfo
			}
		}
	}

	images := archiveImages(&zr.Reader)
	if len(images) == 0 {
		return 0, 0, ErrNoPages
	}
	groups, err := groupChapters(images)
	if err != nil {
		return 0, 0, err
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var marks []bookmark
	for _, k := range keys {
		marks = append(marks, bookmark{page: pages, title: bookmarkTitle(k)})
		pages += len(groups[k])
	}

	if title == "" {
		title = cache.TitleFromSlug(strings.TrimSuffix(filepath.Base(cbzPath), filepath.Ext(cbzPath)))
	}
	info, err := ComicInfoXML(title, marks, pages)
	if err != nil {
		return 0, 0, err
	}

	files := map[string]*zip.File{}
	for _, f := range zr.File {
		files[f.Name] = f
	}

	err = writeAtomic(cbzPath, func(out *os.File) error {
		z := zip.NewWriter(out)
		if err := writeEntry(z, comicInfoName, info); err != nil {
			return err
		}
		for _, k := range keys {
			for _, n := range groups[k] {
				if err := copyEntry(z, files[n], k+"/"+path.Base(n)); err != nil {
					return err
				}
			}
		}
		return z.Close()
	})
	if err != nil {
		return 0, 0, err
	}
	return pages, len(keys), nil
}

func copyEntry(z *zip.Writer, f *zip.File, name string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() {
		_ = rc.Close()
	}()

	w, err := z.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: f.Modified})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, rc)
	return err
}
