// Package config holds the single configuration struct built once at process
// start from CLI flags and environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v2"

	"github.com/jazware/engagement-report/pkg/metrics"
)

type ClickHouse struct {
	Address     string `validate:"required,hostname_port"`
	Database    string `validate:"required"`
	Username    string
	Password    string
	DialTimeout time.Duration `validate:"gte=0"`
	ReadTimeout time.Duration `validate:"gte=0"`
}

type Telegram struct {
	Token   string `validate:"required"`
	ChatID  string `validate:"required"`
	BaseURL string `validate:"omitempty,url"`
}

type Report struct {
	Locale           string   `validate:"oneof=ru en"`
	Cities           []string `validate:"min=1,dive,required"`
	Country          string   `validate:"required"`
	DPI              int      `validate:"min=50,max=600"`
	QueryConcurrency int      `validate:"min=1,max=32"`
}

type Schedule struct {
	Cron           string `validate:"required"`
	Location       *time.Location
	Retries        int           `validate:"min=0,max=10"`
	RetryDelay     time.Duration `validate:"gte=0"`
	AttemptTimeout time.Duration `validate:"gt=0"`
	ListenAddress  string
	RedisAddress   string
	RedisPrefix    string
}

type Config struct {
	Owner  string
	DryRun bool

	ClickHouse ClickHouse
	Telegram   Telegram `validate:"-"`
	Report     Report
	Schedule   Schedule `validate:"-"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the whole configuration. Telegram credentials are only
// required when the report is actually delivered.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if !c.DryRun {
		if err := validate.Struct(c.Telegram); err != nil {
			return fmt.Errorf("invalid telegram configuration: %w", err)
		}
	}
	return nil
}

// ValidateSchedule checks the daemon-only settings.
func (c *Config) ValidateSchedule() error {
	if err := validate.Struct(c.Schedule); err != nil {
		return fmt.Errorf("invalid schedule configuration: %w", err)
	}
	return nil
}

// FromCLI reads every flag declared by Flags and validates the result.
func FromCLI(cctx *cli.Context) (*Config, error) {
	cfg := &Config{
		Owner:  cctx.String("owner"),
		DryRun: cctx.Bool("dry-run"),
		ClickHouse: ClickHouseFromCLI(cctx),
		Telegram: Telegram{
			Token:   cctx.String("telegram-token"),
			ChatID:  cctx.String("chat-id"),
			BaseURL: cctx.String("telegram-api-url"),
		},
		Report: Report{
			Locale:           cctx.String("locale"),
			Cities:           splitList(cctx.StringSlice("cities")),
			Country:          cctx.String("country"),
			DPI:              cctx.Int("dpi"),
			QueryConcurrency: cctx.Int("query-concurrency"),
		},
		Schedule: Schedule{
			Cron:           cctx.String("cron"),
			Retries:        cctx.Int("retries"),
			RetryDelay:     cctx.Duration("retry-delay"),
			AttemptTimeout: cctx.Duration("attempt-timeout"),
			ListenAddress:  cctx.String("listen-address"),
			RedisAddress:   cctx.String("redis-address"),
			RedisPrefix:    cctx.String("redis-prefix"),
		},
	}

	loc, err := time.LoadLocation(cctx.String("timezone"))
	if err != nil {
		return nil, errors.Join(err, fmt.Errorf("invalid timezone %q", cctx.String("timezone")))
	}
	cfg.Schedule.Location = loc

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ClickHouseFromCLI reads only the connection settings, for commands that never deliver a report.
func ClickHouseFromCLI(cctx *cli.Context) ClickHouse {
	return ClickHouse{
		Address:     cctx.String("clickhouse-address"),
		Database:    cctx.String("clickhouse-database"),
		Username:    cctx.String("clickhouse-username"),
		Password:    cctx.String("clickhouse-password"),
		DialTimeout: cctx.Duration("clickhouse-dial-timeout"),
		ReadTimeout: cctx.Duration("clickhouse-read-timeout"),
	}
}

// splitList accepts both repeated flags and a single comma separated env value.
func splitList(in []string) []string {
	var out []string
	for _, v := range in {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Flags declares the configuration surface shared by every command.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "owner",
			Usage:   "job owner label attached to logs and traces",
			EnvVars: []string{"OWNER"},
		},
		&cli.StringFlag{
			Name:    "clickhouse-address",
			Usage:   "clickhouse native protocol address (host:port)",
			Value:   "localhost:9000",
			EnvVars: []string{"CLICKHOUSE_ADDRESS"},
		},
		&cli.StringFlag{
			Name:    "clickhouse-database",
			Usage:   "clickhouse database holding feed_actions and message_actions",
			Value:   "simulator",
			EnvVars: []string{"CLICKHOUSE_DATABASE", "DATABASE"},
		},
		&cli.StringFlag{
			Name:    "clickhouse-username",
			Usage:   "clickhouse username",
			Value:   "default",
			EnvVars: []string{"CLICKHOUSE_USERNAME"},
		},
		&cli.StringFlag{
			Name:    "clickhouse-password",
			Usage:   "clickhouse password",
			Value:   "",
			EnvVars: []string{"CLICKHOUSE_PASSWORD", "PASSWORD"},
		},
		&cli.DurationFlag{
			Name:    "clickhouse-dial-timeout",
			Usage:   "clickhouse connection timeout",
			Value:   10 * time.Second,
			EnvVars: []string{"CLICKHOUSE_DIAL_TIMEOUT"},
		},
		&cli.DurationFlag{
			Name:    "clickhouse-read-timeout",
			Usage:   "clickhouse per-query read timeout",
			Value:   5 * time.Minute,
			EnvVars: []string{"CLICKHOUSE_READ_TIMEOUT"},
		},
		&cli.StringFlag{
			Name:    "telegram-token",
			Usage:   "telegram bot token",
			EnvVars: []string{"TELEGRAM_TOKEN", "TOKEN"},
		},
		&cli.StringFlag{
			Name:    "chat-id",
			Usage:   "telegram chat receiving the report",
			EnvVars: []string{"CHAT_ID"},
		},
		&cli.StringFlag{
			Name:    "telegram-api-url",
			Usage:   "telegram bot API base URL",
			Value:   "https://api.telegram.org",
			EnvVars: []string{"TELEGRAM_API_URL"},
		},
		&cli.StringFlag{
			Name:    "locale",
			Usage:   "report text locale (ru or en)",
			Value:   "ru",
			EnvVars: []string{"REPORT_LOCALE"},
		},
		&cli.StringSliceFlag{
			Name:    "cities",
			Usage:   "cities shown in the per-city DAU panels",
			Value:   cli.NewStringSlice(metrics.DefaultCities...),
			EnvVars: []string{"REPORT_CITIES"},
		},
		&cli.StringFlag{
			Name:    "country",
			Usage:   "country the per-city DAU panels are restricted to",
			Value:   metrics.DefaultCountry,
			EnvVars: []string{"REPORT_COUNTRY"},
		},
		&cli.IntFlag{
			Name:    "dpi",
			Usage:   "resolution of the rendered dashboard",
			Value:   150,
			EnvVars: []string{"REPORT_DPI"},
		},
		&cli.IntFlag{
			Name:    "query-concurrency",
			Usage:   "maximum number of metric queries in flight",
			Value:   4,
			EnvVars: []string{"QUERY_CONCURRENCY"},
		},
		&cli.StringFlag{
			Name:    "timezone",
			Usage:   "time zone used to pick the report date and evaluate the cron schedule",
			Value:   "UTC",
			EnvVars: []string{"REPORT_TIMEZONE"},
		},
	}
}

// ScheduleFlags declares the daemon-only configuration.
func ScheduleFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "cron",
			Usage:   "cron schedule of the daily report",
			Value:   "0 11 * * *",
			EnvVars: []string{"REPORT_CRON"},
		},
		&cli.IntFlag{
			Name:    "retries",
			Usage:   "additional attempts after a failed run",
			Value:   2,
			EnvVars: []string{"REPORT_RETRIES"},
		},
		&cli.DurationFlag{
			Name:    "retry-delay",
			Usage:   "fixed delay between attempts",
			Value:   5 * time.Minute,
			EnvVars: []string{"REPORT_RETRY_DELAY"},
		},
		&cli.StringFlag{
			Name:    "listen-address",
			Usage:   "listen address for the admin HTTP API",
			Value:   "0.0.0.0:8080",
			EnvVars: []string{"LISTEN_ADDRESS"},
		},
		&cli.StringFlag{
			Name:    "redis-address",
			Usage:   "redis address for the run lock (empty disables locking)",
			Value:   "",
			EnvVars: []string{"REDIS_ADDRESS"},
		},
		&cli.StringFlag{
			Name:    "redis-prefix",
			Usage:   "redis key prefix for the run lock",
			Value:   "engagement-report",
			EnvVars: []string{"REDIS_PREFIX"},
		},
		&cli.DurationFlag{
			Name:    "attempt-timeout",
			Usage:   "maximum duration of one report attempt",
			Value:   30 * time.Minute,
			EnvVars: []string{"REPORT_ATTEMPT_TIMEOUT"},
		},
	}
}
