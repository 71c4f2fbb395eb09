// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

func outputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print output",
			Value: true,
		},
	}
}

// setupCommand handles setup operations for configuration and the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write config.toml from the bundled template",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupDatabase,
			},
		},
	}
}

// serveCommand starts the admin HTTP server.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the admin API (refused in production)",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "host",
				Usage: "Listen host (overrides server.host)",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Listen port (overrides server.port)",
			},
		},
		Action: r.Serve,
	}
}

// assetsCommand lists CMS media.
func assetsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "assets",
		Usage: "Inspect CMS media",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List media that still needs migrating",
				Flags: append([]cli.Flag{
					configFlag(),
					&cli.IntFlag{
						Name:  "min-size",
						Usage: "Skip assets smaller than this many bytes",
					},
				}, outputFlags()...),
				Action: r.AssetsList,
			},
			{
				Name:   "raw",
				Usage:  "List raw file assets in the CMS asset store",
				Flags:  append([]cli.Flag{configFlag()}, outputFlags()...),
				Action: r.AssetsRaw,
			},
		},
	}
}

// migrateCommand moves one asset through every step.
func migrateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Download, compress, upload and reconcile one asset",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name: "asset-id",
			},
		},
		Flags: append([]cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "keep-files",
				Usage: "Leave temp files in place",
			},
			&cli.BoolFlag{
				Name:  "delete-original",
				Usage: "Delete the original CMS file asset after a complete migration",
			},
			&cli.BoolFlag{
				Name:  "confirm-delete",
				Usage: "Confirm --delete-original",
			},
		}, outputFlags()...),
		Action: r.Migrate,
	}
}

// bulkCommand runs a worklist of pending assets.
func bulkCommand(r *Runner) *cli.Command {
	flags := func() []cli.Flag {
		return []cli.Flag{
			configFlag(),
			&cli.IntFlag{
				Name:  "min-size",
				Usage: "Skip assets smaller than this many bytes",
			},
			&cli.StringSliceFlag{
				Name:  "id",
				Usage: "Only migrate these asset ids (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "auto-cleanup",
				Usage: "Remove temp files after each item",
				Value: true,
			},
			&cli.BoolFlag{
				Name:  "delete-original",
				Usage: "Delete each original CMS file asset after a complete migration",
			},
			&cli.BoolFlag{
				Name:  "confirm-delete",
				Usage: "Confirm --delete-original",
			},
		}
	}

	return &cli.Command{
		Name:  "bulk",
		Usage: "Migrate every pending asset, one at a time",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the worklist with plain progress output",
				Flags:  append(flags(), &cli.BoolFlag{Name: "json", Usage: "Output the final snapshot as JSON"}),
				Action: r.BulkRun,
			},
			{
				Name:    "ui",
				Aliases: []string{"tui"},
				Usage:   "Run the worklist in the interactive monitor",
				Flags:   flags(),
				Action:  r.BulkUI,
			},
		},
	}
}

// patchCommand repoints documents that reference an old asset.
func patchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "patch",
		Usage: "Set a field on every document referencing an asset",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name: "asset-id",
			},
		},
		Flags: append([]cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "field",
				Usage: "Field to set (defaults to the reference's own field)",
			},
			&cli.StringFlag{
				Name:     "value",
				Usage:    "JSON value to set",
				Required: true,
			},
		}, outputFlags()...),
		Action: r.Patch,
	}
}

// historyCommand lists recorded transfer outcomes.
func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show recorded transfer outcomes",
		Flags: append([]cli.Flag{
			configFlag(),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of records",
				Value: 20,
			},
			&cli.StringFlag{
				Name:  "status",
				Usage: "Filter by status (complete, success-without-backend-update, error)",
			},
			&cli.StringFlag{
				Name:  "asset",
				Usage: "Filter by asset id",
			},
			&cli.StringFlag{
				Name:  "export",
				Usage: "Write the records to files instead (csv, md, txt)",
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "Export path: a base name for csv, a directory for md, a file for txt",
			},
		}, outputFlags()...),
		Action: r.History,
	}
}

// sweepCommand removes stale temp files once.
func sweepCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Remove temp files older than transfer.sweep_max_age_hours",
		Flags: []cli.Flag{
			configFlag(),
			&cli.DurationFlag{
				Name:  "max-age",
				Usage: "Override the configured maximum age",
			},
		},
		Action: r.Sweep,
	}
}
