package main

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type statusBody struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// newDevServer builds a stand-in backend whose status endpoint turns healthy
// once delay has elapsed since start.
func newDevServer(statusPath string, delay time.Duration, now func() time.Time) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	started := now()
	e.GET(statusPath, func(c echo.Context) error {
		up := now().Sub(started)
		if up < delay {
			return c.JSON(http.StatusServiceUnavailable, statusBody{Status: "starting", Uptime: up.Round(time.Millisecond).String()})
		}
		return c.JSON(http.StatusOK, statusBody{Status: "ok", Uptime: up.Round(time.Millisecond).String()})
	})
	e.GET("/", func(c echo.Context) error {
		return c.HTML(http.StatusOK, "<!doctype html><title>Livuals</title><p>Livuals development backend</p>")
	})
	return e
}
