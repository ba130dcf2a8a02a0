package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/brogergvhs/mangacache/internal/app"
	"github.com/brogergvhs/mangacache/internal/cache"
	"github.com/brogergvhs/mangacache/internal/downloader"
	"github.com/brogergvhs/mangacache/internal/history"
	"github.com/brogergvhs/mangacache/internal/queue"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v5"
)

type handlers struct {
	app *app.App
}

func (h *handlers) health(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
		"proxy":  h.app.Monitor.State().String(),
	})
}

type seriesView struct {
	cache.CachedSeries
	SizeHuman string `json:"size_human"`
	Broken    int    `json:"broken_chapters"`
}

func (h *handlers) listCache(c *echo.Context) error {
	series, err := h.app.Root.Scan()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	out := make([]seriesView, 0, len(series))
	for _, s := range series {
		out = append(out, seriesView{
			CachedSeries: s,
			SizeHuman:    humanize.Bytes(uint64(s.Size)),
			Broken:       s.BrokenCount(),
		})
	}
	return c.JSON(http.StatusOK, out)
}

type deleteRequest struct {
	Paths []string `json:"paths"`
}

func (h *handlers) deleteCache(c *echo.Context) error {
	var req deleteRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "body must be {\"paths\": [...]}")
	}
	if len(req.Paths) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no paths given")
	}

	freed, err := h.app.DeleteCached(c.Request().Context(), req.Paths)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, cache.ErrOutsideRoot):
			status = http.StatusBadRequest
		case errors.Is(err, downloader.ErrSeriesBusy):
			status = http.StatusConflict
		}
		return c.JSON(status, map[string]any{
			"error": err.Error(),
			"freed": freed,
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"freed":       freed,
		"freed_human": humanize.Bytes(uint64(freed)),
	})
}

func (h *handlers) listQueue(c *echo.Context) error {
	ops := h.app.Queue.LoadQueue()
	if ops == nil {
		ops = []*queue.Operation{}
	}
	return c.JSON(http.StatusOK, ops)
}

func (h *handlers) proxy(c *echo.Context) error {
	state, ip, lastErr := h.app.Monitor.Snapshot()
	cfg := h.app.Monitor.Config()

	resp := map[string]any{
		"enabled": cfg.Enabled,
		"state":   state.String(),
		"allows":  state.Allows(),
		"exit_ip": ip,
		"blocked": h.app.Gate.Blocked(),
	}
	if lastErr != nil {
		resp["error"] = lastErr.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *handlers) history(c *echo.Context) error {
	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a number")
		}
		limit = n
	}

	entries, err := h.app.History.List(c.Request().Context(), c.QueryParam("series"), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return c.JSON(http.StatusOK, entries)
}
