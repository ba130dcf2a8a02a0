package ui

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

type Stats struct {
	TotalImages   atomic.Int64
	SkippedImages atomic.Int64
	FailedImages  atomic.Int64
	TotalBytes    atomic.Int64
	TotalChapters atomic.Int64
}

func (s *Stats) PrintSummary(w io.Writer, elapsed time.Duration) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Download Summary:")
	fmt.Fprintf(w, "Chapters: %d\n", s.TotalChapters.Load())
	fmt.Fprintf(w, "Images:   %d (skipped %d, failed %d)\n",
		s.TotalImages.Load(), s.SkippedImages.Load(), s.FailedImages.Load())
	fmt.Fprintf(w, "Data:     %s\n", humanize.Bytes(uint64(s.TotalBytes.Load())))
	fmt.Fprintf(w, "Time:     %s\n", elapsed.Round(time.Second))
}
