// Package admin serves the daemon's operational HTTP API: health, scheduler
// status, manual runs and prometheus metrics.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/araddon/dateparse"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"

	"github.com/jazware/engagement-report/pkg/schedule"
	"github.com/jazware/engagement-report/version"
)

var tracer = otel.Tracer("engagement-report-admin")

// Scheduler is the part of the scheduler the API drives.
type Scheduler interface {
	Status() schedule.Status
	RunNow(reportDate time.Time) error
}

type API struct {
	scheduler Scheduler
	loc       *time.Location
	now       func() time.Time
	echo      *echo.Echo
}

// New builds the router. Report dates given without a zone are read in loc.
func New(scheduler Scheduler, loc *time.Location, logger *slog.Logger) *API {
	if loc == nil {
		loc = time.UTC
	}
	api := &API{
		scheduler: scheduler,
		loc:       loc,
		now:       time.Now,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())

	e.Use(slogecho.NewWithFilters(
		logger,
		slogecho.IgnorePath("/metrics"),
		slogecho.IgnorePath("/healthz"),
	))

	e.Use(otelecho.Middleware(
		"engagement-report-admin",
		otelecho.WithSkipper(func(c echo.Context) bool {
			return c.Request().URL.Path == "/metrics"
		}),
	))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", api.Health)
	e.GET("/status", api.GetStatus)
	e.POST("/runs", api.TriggerRun)

	api.echo = e
	return api
}

func (api *API) Handler() http.Handler {
	return api.echo
}

// Start listens until Shutdown is called.
func (api *API) Start(addr string) error {
	if err := api.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin server error: %w", err)
	}
	return nil
}

func (api *API) Shutdown(ctx context.Context) error {
	return api.echo.Shutdown(ctx)
}

func (api *API) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.String(),
	})
}

func (api *API) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, api.scheduler.Status())
}

type RunResponse struct {
	ReportDate string `json:"report_date"`
	Status     string `json:"status"`
}

// TriggerRun starts a run in the background. Without a date it reports on yesterday.
func (api *API) TriggerRun(c echo.Context) error {
	_, span := tracer.Start(c.Request().Context(), "TriggerRun")
	defer span.End()

	reportDate := schedule.ReportDate(api.now(), api.loc)
	if date := c.QueryParam("date"); date != "" {
		parsed, err := dateparse.ParseIn(date, api.loc)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": fmt.Errorf("failed to parse date: %w", err).Error()})
		}
		reportDate = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
	}

	if !reportDate.Before(schedule.ReportDate(api.now(), api.loc).AddDate(0, 0, 1)) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "report date must be before today"})
	}

	if err := api.scheduler.RunNow(reportDate); err != nil {
		if errors.Is(err, schedule.ErrBusy) {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusAccepted, RunResponse{
		ReportDate: reportDate.Format(time.DateOnly),
		Status:     "started",
	})
}
