package packaging

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-shiori/go-epub"
)

// EPUB writes one section per chapter with its pages as full-width images.
type EPUB struct{}

func (EPUB) Ext() string { return ".epub" }

func (EPUB) Package(title string, folders []string, out string) error {
	chs, _, err := collect(folders)
	if err != nil {
		return fmt.Errorf("epub %s: %w", out, err)
	}

	e, err := epub.NewEpub(title)
	if err != nil {
		return fmt.Errorf("failed to create EPub: %w", err)
	}
	e.SetAuthor("mangacache")
	e.SetLang("en")

	for ci, ch := range chs {
		if len(ch.pages) == 0 {
			continue
		}

		var body strings.Builder
		fmt.Fprintf(&body, "<h1>%s</h1>\n", html.EscapeString(ch.title))

		for pi, p := range ch.pages {
			name := fmt.Sprintf("c%04d_%s", ci+1, filepath.Base(p))
			internal, err := e.AddImage(p, name)
			if err != nil {
				return fmt.Errorf("failed to add image %s: %w", p, err)
			}
			fmt.Fprintf(&body, `<div class="page"><img src="%s" alt="Page %d" style="width:100%%;height:auto;"/></div>`+"\n", internal, pi+1)
		}

		if _, err := e.AddSection(body.String(), ch.title, "", ""); err != nil {
			return fmt.Errorf("failed to add section: %w", err)
		}
	}

	return writeAtomic(out, func(f *os.File) error {
		_, err := e.WriteTo(f)
		return err
	})
}
