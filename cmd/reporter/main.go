package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"

	"github.com/jazware/engagement-report/pkg/config"
	"github.com/jazware/engagement-report/pkg/metrics"
	"github.com/jazware/engagement-report/pkg/pipeline"
	"github.com/jazware/engagement-report/pkg/report"
	"github.com/jazware/engagement-report/pkg/telegram"
	"github.com/jazware/engagement-report/telemetry"
	"github.com/jazware/engagement-report/version"
)

func main() {
	app := cli.App{
		Name:    "reporter",
		Usage:   "Daily feed and messaging engagement report, delivered to Telegram",
		Version: version.String(),
	}
	app.Flags = []cli.Flag{
		telemetry.CLIFlagDebug,
		telemetry.CLIFlagLogFormat,
		telemetry.CLIFlagMetricsListenAddress,
		telemetry.CLIFlagPushgatewayURL,
		telemetry.CLIFlagServiceName,
		telemetry.CLIFlagTracingSampleRatio,
	}
	app.Commands = []*cli.Command{
		runCmd,
		scheduleCmd,
		generateCmd,
		migrateCmd,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		os.Exit(1)
	}
}

// startTelemetry sets up logging, the metrics server and tracing shared by every command.
func startTelemetry(cctx *cli.Context, owner string) (*slog.Logger, func(context.Context) error, error) {
	logger := telemetry.StartLogger(cctx)
	if owner != "" {
		logger = logger.With("owner", owner)
		slog.SetDefault(logger)
	}
	telemetry.StartMetrics(cctx)

	shutdown := func(context.Context) error { return nil }
	if telemetry.TracingEnabled() {
		var err error
		shutdown, err = telemetry.StartTracing(cctx, telemetry.WithOwner(owner))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start tracing: %w", err)
		}
	}
	return logger, shutdown, nil
}

// newPipeline wires the report pipeline for a metric source from the configuration.
func newPipeline(cfg *config.Config, src metrics.Source, logger *slog.Logger) (*pipeline.Pipeline, error) {
	locale, err := report.LookupLocale(cfg.Report.Locale)
	if err != nil {
		return nil, err
	}
	assembler := report.NewAssembler(
		report.WithLocale(locale),
		report.WithCities(cfg.Report.Cities),
		report.WithDPI(cfg.Report.DPI),
	)

	var sender pipeline.Sender
	if !cfg.DryRun {
		sender = telegram.NewClient(cfg.Telegram.Token, telegram.WithBaseURL(cfg.Telegram.BaseURL))
	}

	return pipeline.New(src, assembler, sender,
		pipeline.WithDryRun(cfg.DryRun),
		pipeline.WithChatID(cfg.Telegram.ChatID),
		pipeline.WithConcurrency(cfg.Report.QueryConcurrency),
		pipeline.WithRestriction(cfg.Report.Cities, cfg.Report.Country),
		pipeline.WithLogger(logger),
	), nil
}
