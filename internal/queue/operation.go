// Package queue persists download operations so an interrupted run can be
// picked up again on the next start.
package queue

import (
	"slices"
	"time"

	"github.com/segmentio/ksuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Operation is one queued series download.
type Operation struct {
	ID          string `json:"id"`
	SeriesURL   string `json:"series_url"`
	SeriesSlug  string `json:"series_slug"`
	CustomTitle string `json:"custom_title,omitempty"`
	// Chapters maps chapter URL to title.
	Chapters          map[string]string `json:"chapters"`
	Workers           int               `json:"workers"`
	Format            string            `json:"format,omitempty"`
	DryRun            bool              `json:"dry_run,omitempty"`
	Force             bool              `json:"force,omitempty"`
	CompletedChapters []string          `json:"completed_chapters,omitempty"`
	Status            Status            `json:"status"`
	Error             string            `json:"error,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func NewOperation(seriesURL, slug string, chapters map[string]string) *Operation {
	now := time.Now().UTC()
	return &Operation{
		ID:         ksuid.New().String(),
		SeriesURL:  seriesURL,
		SeriesSlug: slug,
		Chapters:   chapters,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Remaining returns the chapters not yet recorded as completed.
func (o *Operation) Remaining() map[string]string {
	out := make(map[string]string, len(o.Chapters))
	for u, title := range o.Chapters {
		if !slices.Contains(o.CompletedChapters, u) {
			out[u] = title
		}
	}
	return out
}

func (o *Operation) touch() {
	o.UpdatedAt = time.Now().UTC()
}
