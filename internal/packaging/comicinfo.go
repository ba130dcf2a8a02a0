package packaging

import (
	"encoding/xml"
)

type comicInfo struct {
	XMLName   xml.Name    `xml:"ComicInfo"`
	XSD       string      `xml:"xmlns:xsd,attr"`
	XSI       string      `xml:"xmlns:xsi,attr"`
	Series    string      `xml:"Series"`
	Title     string      `xml:"Title"`
	PageCount int         `xml:"PageCount"`
	Pages     []comicPage `xml:"Pages>Page"`
}

type comicPage struct {
	Image    int    `xml:"Image,attr"`
	Bookmark string `xml:"Bookmark,attr,omitempty"`
	Type     string `xml:"Type,attr,omitempty"`
}

type bookmark struct {
	page  int
	title string
}

// ComicInfoXML renders ComicInfo.xml with one Page entry per image. The
// first bookmark is the front cover, later ones are story starts.
func ComicInfoXML(title string, marks []bookmark, pageCount int) ([]byte, error) {
	byPage := make(map[int]string, len(marks))
	for _, b := range marks {
		byPage[b.page] = b.title
	}
	first := -1
	if len(marks) > 0 {
		first = marks[0].page
	}

	ci := comicInfo{
		XSD:       "http://www.w3.org/2001/XMLSchema",
		XSI:       "http://www.w3.org/2001/XMLSchema-instance",
		Series:    title,
		Title:     title,
		PageCount: pageCount,
		Pages:     make([]comicPage, pageCount),
	}
	for i := range ci.Pages {
		ci.Pages[i].Image = i
		if t, ok := byPage[i]; ok {
			ci.Pages[i].Bookmark = t
			ci.Pages[i].Type = "Story"
			if i == first {
				ci.Pages[i].Type = "FrontCover"
			}
		}
	}

	body, err := xml.MarshalIndent(ci, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), append(body, '\n')...), nil
}

func bookmarksFor(chs []chapterPages) []bookmark {
	var marks []bookmark
	idx := 0
	for _, ch := range chs {
		if len(ch.pages) == 0 {
			continue
		}
		marks = append(marks, bookmark{page: idx, title: ch.title})
		idx += len(ch.pages)
	}
	return marks
}
