// Package api serves a read-mostly JSON view of the cache, the queue and the
// kill switch.
package api

import (
	"github.com/brogergvhs/mangacache/internal/app"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
)

func NewServer(a *app.App) *echo.Echo {
	e := echo.New()
	RegisterRoutes(e, a)
	return e
}

func RegisterRoutes(e *echo.Echo, a *app.App) {
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			a.Log.Infof("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	h := &handlers{app: a}

	g := e.Group("/api")
	g.GET("/health", h.health)
	g.GET("/cache", h.listCache)
	g.DELETE("/cache", h.deleteCache)
	g.GET("/queue", h.listQueue)
	g.GET("/proxy", h.proxy)
	g.GET("/history", h.history)
}
