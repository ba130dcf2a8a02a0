package packaging

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const comicInfoName = "ComicInfo.xml"

// CBZ stores each chapter as a folder inside the zip plus ComicInfo.xml.
type CBZ struct{}

func (CBZ) Ext() string { return ".cbz" }

func (CBZ) Package(title string, folders []string, out string) error {
	chs, total, err := collect(folders)
	if err != nil {
		return fmt.Errorf("cbz %s: %w", out, err)
	}

	info, err := ComicInfoXML(title, bookmarksFor(chs), total)
	if err != nil {
		return err
	}

	return writeAtomic(out, func(f *os.File) error {
		z := zip.NewWriter(f)
		if err := writeEntry(z, comicInfoName, info); err != nil {
			return err
		}
		for _, ch := range chs {
			for _, p := range ch.pages {
				if err := addFileToZip(z, p, ch.name+"/"+filepath.Base(p)); err != nil {
					return fmt.Errorf("cbz %s: %w", out, err)
				}
			}
		}
		return z.Close()
	})
}

func writeEntry(z *zip.Writer, name string, data []byte) error {
	w, err := z.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func addFileToZip(z *zip.Writer, file, name string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := z.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}
