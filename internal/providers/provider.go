package providers

import (
	"context"
	"errors"
	"fmt"
)

type Chapter struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Label string `json:"label,omitempty"`
}

// Scraper turns series and chapter pages into chapter and image lists. Page
// fetches that fail return an error matching ErrNetwork.
type Scraper interface {
	FindChapters(ctx context.Context, seriesURL, userAgent string) ([]Chapter, error)
	FindImages(ctx context.Context, chapterURL, userAgent, referer string) ([]string, error)
}

var ErrNetwork = errors.New("network error")

type NetworkError struct {
	URL    string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }
