package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// MarkerName is the sentinel kept in a chapter directory until every image of
// the latest attempt is on disk.
const MarkerName = ".incomplete"

var ErrMarker = errors.New("completion marker")

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".gif":  true,
	".avif": true,
	".bmp":  true,
}

func IsImageFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return imageExts[strings.ToLower(filepath.Ext(name))]
}

func WriteMarker(dir string) error {
	if err := os.WriteFile(filepath.Join(dir, MarkerName), nil, 0644); err != nil {
		return fmt.Errorf("%w: write in %s: %v", ErrMarker, dir, err)
	}
	return nil
}

func RemoveMarker(dir string) error {
	err := os.Remove(filepath.Join(dir, MarkerName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remove in %s: %v", ErrMarker, dir, err)
	}
	return nil
}

func HasMarker(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, MarkerName))
	return err == nil
}

// CountImages counts recognized image files directly inside dir.
func CountImages(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	n := 0
	for _, e := range entries {
		if e.Type().IsRegular() && IsImageFile(e.Name()) {
			n++
		}
	}
	return n
}

// IsSatisfied reports a chapter that a later run may skip entirely.
func IsSatisfied(dir string) bool {
	return !HasMarker(dir) && CountImages(dir) > 0
}
