package main

import (
	"fmt"
	"os"
	"time"

	"github.com/araddon/dateparse"
	"github.com/urfave/cli/v2"

	"github.com/jazware/engagement-report/pkg/eventlog"
	"github.com/jazware/engagement-report/telemetry"
)

var generateCmd = &cli.Command{
	Name:  "generate",
	Usage: "Write a synthetic event log for local runs with run --events-file",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "output",
			Usage: "path of the JSON lines file",
			Value: "events.jsonl",
		},
		&cli.StringFlag{
			Name:  "end",
			Usage: "last day with events (defaults to yesterday)",
		},
		&cli.IntFlag{
			Name:  "days",
			Usage: "number of days of history",
			Value: 35,
		},
		&cli.IntFlag{
			Name:  "users",
			Usage: "size of the user base",
			Value: 500,
		},
		&cli.Uint64Flag{
			Name:  "seed",
			Usage: "random seed",
			Value: 1,
		},
	},
	Action: generateEvents,
}

func generateEvents(cctx *cli.Context) error {
	logger := telemetry.StartLogger(cctx)

	end := time.Now().UTC().AddDate(0, 0, -1)
	if v := cctx.String("end"); v != "" {
		parsed, err := dateparse.ParseIn(v, time.UTC)
		if err != nil {
			return fmt.Errorf("invalid --end %q: %w", v, err)
		}
		end = parsed
	}

	events := eventlog.Generate(eventlog.GenerateOptions{
		End:   end,
		Days:  cctx.Int("days"),
		Users: cctx.Int("users"),
		Seed:  cctx.Uint64("seed"),
	})

	path := cctx.String("output")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := events.Write(f); err != nil {
		return fmt.Errorf("failed to write events: %w", err)
	}

	logger.Info("wrote synthetic event log", "path", path, "events", events.Len(), "end", end.Format(time.DateOnly))
	return f.Close()
}
