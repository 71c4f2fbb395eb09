package main

import (
	"context"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/mvx/internal/formatter"
	"github.com/desertthunder/mvx/internal/repositories"
	"github.com/desertthunder/mvx/internal/shared"
	"github.com/desertthunder/mvx/internal/tasks"
	"github.com/desertthunder/mvx/internal/transfer"
)

// History prints recorded transfer outcomes, newest first.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	if err := r.loadConfig(cmd); err != nil {
		return err
	}

	db, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	records, err := repositories.NewTransferRepository(db).List(map[string]any{
		"limit":    int(cmd.Int("limit")),
		"status":   cmd.String("status"),
		"asset_id": cmd.String("asset"),
	})
	if err != nil {
		return err
	}

	if format := cmd.String("export"); format != "" {
		files, err := formatter.Write(records, formatter.Format(format), cmd.String("out"))
		if err != nil {
			return err
		}
		for _, f := range files {
			r.writePlain("✓ Wrote %s\n", f)
		}
		return nil
	}

	if cmd.Bool("json") {
		if records == nil {
			return r.writeJSON([]any{}, cmd.Bool("pretty"))
		}
		return r.writeJSON(records, cmd.Bool("pretty"))
	}

	r.writePlainHeader("Transfer history")
	if len(records) == 0 {
		return r.writePlain("No transfers recorded.\n")
	}
	for _, rec := range records {
		line := rec.Status
		if rec.CompressionRatio != "" {
			line += " (" + rec.CompressionRatio + ")"
		}
		r.writePlain("%s  %-5s  %-24s  %s\n", rec.EndedAt.Local().Format(time.DateTime), rec.Kind, rec.AssetID, line)
		if rec.DestinationURL != "" {
			r.writePlain("    → %s\n", rec.DestinationURL)
		}
		if rec.ErrorMessage != "" {
			r.writePlain("    ✗ %s\n", rec.ErrorMessage)
		}
	}
	return nil
}

// Sweep removes stale files from the transfer temp directory once.
func (r *Runner) Sweep(ctx context.Context, cmd *cli.Command) error {
	if err := r.loadConfig(cmd); err != nil {
		return err
	}

	maxAge := r.config.Transfer.SweepMaxAge()
	if d := cmd.Duration("max-age"); d > 0 {
		maxAge = d
	}
	dir := transfer.OptionsFromConfig(r.config).TempDir

	removed, err := tasks.NewSweeper(dir, maxAge, r.logger).Sweep()
	if err != nil {
		return err
	}
	return r.writePlain("Removed %d file(s) older than %s from %s\n", len(removed), maxAge, dir)
}
