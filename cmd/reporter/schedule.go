package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/jazware/engagement-report/pkg/admin"
	"github.com/jazware/engagement-report/pkg/config"
	"github.com/jazware/engagement-report/pkg/runlock"
	"github.com/jazware/engagement-report/pkg/schedule"
	"github.com/jazware/engagement-report/pkg/store"
)

var scheduleCmd = &cli.Command{
	Name:   "schedule",
	Usage:  "Run the report daily on a cron schedule and serve the admin API",
	Flags:  append(config.Flags(), config.ScheduleFlags()...),
	Action: runSchedule,
}

func runSchedule(cctx *cli.Context) error {
	ctx, cancel := context.WithCancel(cctx.Context)
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	cfg, err := config.FromCLI(cctx)
	if err != nil {
		return err
	}
	if err := cfg.ValidateSchedule(); err != nil {
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

	st, err := store.New(ctx, cfg.ClickHouse)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info("connected to clickhouse", "address", cfg.ClickHouse.Address, "database", cfg.ClickHouse.Database)

	p, err := newPipeline(cfg, st, logger)
	if err != nil {
		return err
	}

	job := func(ctx context.Context, reportDate, executedAt time.Time) error {
		_, err := p.Run(ctx, reportDate, executedAt)
		return err
	}

	opts := []schedule.Option{
		schedule.WithLocation(cfg.Schedule.Location),
		schedule.WithRetry(cfg.Schedule.Retries, cfg.Schedule.RetryDelay),
		schedule.WithTimeout(cfg.Schedule.AttemptTimeout),
		schedule.WithLogger(logger),
	}
	if cfg.Schedule.RedisAddress != "" {
		logger.Info("connecting to redis", "address", cfg.Schedule.RedisAddress)
		locker, err := runlock.Connect(ctx, cfg.Schedule.RedisAddress, cfg.Schedule.RedisPrefix)
		if err != nil {
			return err
		}
		defer locker.Close()
		logger.Info("connected to redis")
		opts = append(opts, schedule.WithLocker(locker))
	}

	sched, err := schedule.New(cfg.Schedule.Cron, job, opts...)
	if err != nil {
		return err
	}
	sched.Start()

	api := admin.New(sched, cfg.Schedule.Location, logger)
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting admin server", "listen_address", cfg.Schedule.ListenAddress)
		if err := api.Start(cfg.Schedule.ListenAddress); err != nil {
			serverErr <- err
		}
	}()

	select {
	case <-signals:
		logger.Info("shutting down on signal")
	case <-ctx.Done():
		logger.Info("shutting down on context done")
	case err := <-serverErr:
		logger.Error("server error", "error", err)
		cancel()
		return errors.Join(err, sched.Stop(context.Background()))
	}

	logger.Info("beginning graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := api.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down admin server gracefully", "error", err)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}

	logger.Info("shut down successfully")
	return nil
}
