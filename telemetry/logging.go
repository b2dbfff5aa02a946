package telemetry

import (
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
)

var CLIFlagDebug = &cli.BoolFlag{
	Name:    "debug",
	Usage:   "enable debug logging",
	Value:   false,
	EnvVars: []string{"DEBUG"},
}

var CLIFlagLogFormat = &cli.StringFlag{
	Name:    "log-format",
	Usage:   "log output format (json or text)",
	Value:   "json",
	EnvVars: []string{"LOG_FORMAT"},
}

// StartLogger builds the process logger from CLI flags and installs it as the slog default.
func StartLogger(cctx *cli.Context) *slog.Logger {
	level := slog.LevelInfo
	if cctx.Bool("debug") {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cctx.Bool("debug"),
	}

	var handler slog.Handler
	switch cctx.String("log-format") {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}
