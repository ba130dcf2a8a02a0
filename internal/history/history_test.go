package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRecordAndList(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, l.Record(ctx, Entry{SeriesSlug: "demo", ChapterURL: "u1", Title: "Chapter 1", Dir: "/c/1", Pages: 5, CompletedAt: base}))
	require.NoError(t, l.Record(ctx, Entry{SeriesSlug: "demo", ChapterURL: "u2", Title: "Chapter 2", Dir: "/c/2", Pages: 7, CompletedAt: base.Add(time.Minute)}))
	require.NoError(t, l.Record(ctx, Entry{SeriesSlug: "other", ChapterURL: "u3", Title: "Chapter 1", Dir: "/o/1", CompletedAt: base.Add(2 * time.Minute)}))

	all, err := l.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "u3", all[0].ChapterURL)

	demo, err := l.List(ctx, "demo", 0)
	require.NoError(t, err)
	require.Len(t, demo, 2)
	assert.Equal(t, "Chapter 2", demo[0].Title)
	assert.Equal(t, 7, demo[0].Pages)

	one, err := l.List(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestRecordReplacesSameChapter(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, Entry{SeriesSlug: "demo", ChapterURL: "u1", Title: "Chapter 1", Dir: "/c/1", Pages: 3}))
	require.NoError(t, l.Record(ctx, Entry{SeriesSlug: "demo", ChapterURL: "u1", Title: "Chapter 1", Dir: "/c/1", Pages: 9}))

	all, err := l.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 9, all[0].Pages)

	ok, err := l.Has(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Has(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestForgetSeries(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, Entry{SeriesSlug: "demo", ChapterURL: "u1", Title: "1", Dir: "d"}))
	require.NoError(t, l.Record(ctx, Entry{SeriesSlug: "keep", ChapterURL: "u2", Title: "1", Dir: "d"}))

	n, err := l.ForgetSeries(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	all, err := l.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "keep", all[0].SeriesSlug)
}
