package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/araddon/dateparse"
	"github.com/urfave/cli/v2"

	"github.com/jazware/engagement-report/pkg/config"
	"github.com/jazware/engagement-report/pkg/eventlog"
	"github.com/jazware/engagement-report/pkg/metrics"
	"github.com/jazware/engagement-report/pkg/schedule"
	"github.com/jazware/engagement-report/pkg/store"
	"github.com/jazware/engagement-report/telemetry"
)

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "Build and deliver the report for one day",
	Flags: append(config.Flags(),
		&cli.StringFlag{
			Name:    "date",
			Usage:   "report date (defaults to yesterday in --timezone)",
			EnvVars: []string{"REPORT_DATE"},
		},
		&cli.BoolFlag{
			Name:    "dry-run",
			Usage:   "build the report without sending it; the text is printed to stdout",
			EnvVars: []string{"DRY_RUN"},
		},
		&cli.StringFlag{
			Name:  "output",
			Usage: "also write the rendered dashboard PNG to this path",
		},
		&cli.StringFlag{
			Name:  "events-file",
			Usage: "read events from a JSON lines file instead of ClickHouse",
		},
	),
	Action: runReport,
}

func runReport(cctx *cli.Context) error {
	ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromCLI(cctx)
	if err != nil {
		return err
	}

	logger, shutdownTracing, err := startTelemetry(cctx, cfg.Owner)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("failed to shut down tracing", "error", err)
		}
	}()

	reportDate := schedule.ReportDate(time.Now(), cfg.Schedule.Location)
	if d := cctx.String("date"); d != "" {
		parsed, err := dateparse.ParseIn(d, cfg.Schedule.Location)
		if err != nil {
			return fmt.Errorf("invalid --date %q: %w", d, err)
		}
		reportDate = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
	}

	var src metrics.Source
	if path := cctx.String("events-file"); path != "" {
		events, err := eventlog.ReadFile(path)
		if err != nil {
			return err
		}
		logger.Info("loaded event log", "path", path, "events", events.Len())
		src = events
	} else {
		st, err := store.New(ctx, cfg.ClickHouse)
		if err != nil {
			return err
		}
		defer st.Close()
		logger.Info("connected to clickhouse", "address", cfg.ClickHouse.Address, "database", cfg.ClickHouse.Database)
		src = st
	}

	p, err := newPipeline(cfg, src, logger)
	if err != nil {
		return err
	}

	rep, runErr := p.Run(ctx, reportDate, time.Now())

	pushErr := telemetry.PushMetrics(context.Background(), cctx, "engagement_report", map[string]string{
		"report_date": reportDate.Format(time.DateOnly),
	})
	if pushErr != nil {
		logger.Warn("failed to push metrics", "error", pushErr)
	}

	if runErr != nil {
		return runErr
	}

	if out := cctx.String("output"); out != "" {
		if err := os.WriteFile(out, rep.Image, 0o644); err != nil {
			return errors.Join(err, fmt.Errorf("failed to write dashboard to %s", out))
		}
		logger.Info("wrote dashboard", "path", out, "bytes", len(rep.Image))
	}
	if cfg.DryRun {
		fmt.Fprintln(cctx.App.Writer, rep.Text)
	}
	return nil
}
