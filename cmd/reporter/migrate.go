package main

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/jazware/engagement-report/pkg/config"
	"github.com/jazware/engagement-report/pkg/migrate"
	"github.com/jazware/engagement-report/telemetry"
)

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "Manage the ClickHouse event tables used in development",
	Flags: config.Flags(),
	Subcommands: []*cli.Command{
		{
			Name:  "up",
			Usage: "Run all pending migrations",
			Action: func(cctx *cli.Context) error {
				m := migrate.NewMigrator(config.ClickHouseFromCLI(cctx), telemetry.StartLogger(cctx))
				if err := m.Up(); err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				return nil
			},
		},
		{
			Name:      "down",
			Usage:     "Rollback migrations",
			ArgsUsage: "[steps]",
			Action: func(cctx *cli.Context) error {
				steps := 1
				if cctx.NArg() > 0 {
					var err error
					steps, err = strconv.Atoi(cctx.Args().First())
					if err != nil {
						return fmt.Errorf("invalid steps argument: %w", err)
					}
				}

				m := migrate.NewMigrator(config.ClickHouseFromCLI(cctx), telemetry.StartLogger(cctx))
				if err := m.Down(steps); err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				return nil
			},
		},
		{
			Name:  "version",
			Usage: "Show current migration version",
			Action: func(cctx *cli.Context) error {
				m := migrate.NewMigrator(config.ClickHouseFromCLI(cctx), telemetry.StartLogger(cctx))
				version, dirty, err := m.Version()
				if err != nil {
					return fmt.Errorf("failed to get version: %w", err)
				}
				fmt.Fprintf(cctx.App.Writer, "Version: %d\nDirty: %v\n", version, dirty)
				return nil
			},
		},
		{
			Name:      "force",
			Usage:     "Force set migration version (use to fix dirty state)",
			ArgsUsage: "<version>",
			Action: func(cctx *cli.Context) error {
				if cctx.NArg() < 1 {
					return fmt.Errorf("version argument required")
				}
				version, err := strconv.Atoi(cctx.Args().First())
				if err != nil {
					return fmt.Errorf("invalid version argument: %w", err)
				}

				m := migrate.NewMigrator(config.ClickHouseFromCLI(cctx), telemetry.StartLogger(cctx))
				if err := m.Force(version); err != nil {
					return fmt.Errorf("force failed: %w", err)
				}
				return nil
			},
		},
	},
}
