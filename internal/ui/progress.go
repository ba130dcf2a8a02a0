package ui

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

const barScale = 1000

type ProgressManager struct {
	p *mpb.Progress
}

func NewProgressManager() *ProgressManager {
	return newProgressManager(os.Stdout)
}

func newProgressManager(w io.Writer) *ProgressManager {
	p := mpb.New(
		mpb.WithWidth(52),
		mpb.WithOutput(w),
		mpb.WithRefreshRate(120*time.Millisecond),
	)
	return &ProgressManager{p: p}
}

func (pm *ProgressManager) Close() {
	pm.p.Wait()
}

// Register adds one bar per chapter. stats may be nil.
func (pm *ProgressManager) Register(prefix string, stats *Stats) *ProgressHandle {
	h := &ProgressHandle{
		prefix: prefix,
		stats:  stats,
		start:  time.Now(),
	}
	h.status.Store("")

	h.bar = pm.p.New(
		barScale,
		mpb.BarStyle().Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(prefix+"  "),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WCSyncWidth),
			decor.Any(func(_ decor.Statistics) string {
				return " | " + h.status.Load().(string)
			}),
			decor.Any(func(_ decor.Statistics) string {
				if h.stats == nil {
					return ""
				}
				return " | " + humanize.Bytes(uint64(h.stats.TotalBytes.Load()))
			}),
			decor.Any(func(_ decor.Statistics) string {
				if h.final.Load() {
					return fmt.Sprintf(" | %ds", h.elapsed.Load())
				}
				return fmt.Sprintf(" | %ds", int(time.Since(h.start).Seconds()))
			}),
		),
	)

	return h
}

type ProgressHandle struct {
	prefix string
	bar    *mpb.Bar
	stats  *Stats
	status atomic.Value

	start   time.Time
	elapsed atomic.Int64
	final   atomic.Bool
}

// Report matches the downloader progress callback signature.
func (h *ProgressHandle) Report(fraction float64, status string) {
	if h.final.Load() {
		return
	}

	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}

	h.status.Store(status)
	h.bar.SetCurrent(int64(fraction * barScale))
}

func (h *ProgressHandle) MarkDone() {
	if h.final.Swap(true) {
		return
	}

	h.elapsed.Store(int64(time.Since(h.start).Seconds()))
	h.bar.SetCurrent(barScale)
}

// Abort removes the bar, leaving its last line on screen.
func (h *ProgressHandle) Abort() {
	if h.final.Swap(true) {
		return
	}
	h.bar.Abort(false)
}
