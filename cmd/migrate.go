package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/mvx/internal/cms"
	"github.com/desertthunder/mvx/internal/events"
	"github.com/desertthunder/mvx/internal/models"
	"github.com/desertthunder/mvx/internal/reconcile"
	"github.com/desertthunder/mvx/internal/shared"
	"github.com/desertthunder/mvx/internal/tasks"
	"github.com/desertthunder/mvx/internal/transfer"
)

// gateway returns the injected CMS gateway or builds one from config. Listing and patching need nothing else.
func (r *Runner) gateway() (cms.Gateway, error) {
	if r.cms != nil {
		return r.cms, nil
	}
	if err := r.config.ValidateCMS(); err != nil {
		return nil, err
	}
	return cms.NewWithHTTPClient(r.config.CMS, r.httpClient, r.logger), nil
}

// AssetsList prints media documents that still need migrating.
func (r *Runner) AssetsList(ctx context.Context, cmd *cli.Command) error {
	if err := r.loadConfig(cmd); err != nil {
		return err
	}
	gateway, err := r.gateway()
	if err != nil {
		return err
	}

	assets, err := cms.ListMigratable(ctx, gateway)
	if err != nil {
		return fmt.Errorf("failed to list assets: %w", err)
	}
	if minSize := int64(cmd.Int("min-size")); minSize > 0 {
		filtered := assets[:0]
		for _, a := range assets {
			if a.Size >= minSize {
				filtered = append(filtered, a)
			}
		}
		assets = filtered
	}

	if cmd.Bool("json") {
		return r.writeJSON(assets, cmd.Bool("pretty"))
	}
	return r.printAssets("Pending assets", assets)
}

// AssetsRaw prints every file asset in the CMS asset store.
func (r *Runner) AssetsRaw(ctx context.Context, cmd *cli.Command) error {
	if err := r.loadConfig(cmd); err != nil {
		return err
	}
	gateway, err := r.gateway()
	if err != nil {
		return err
	}

	assets, err := cms.ListRawAssets(ctx, gateway)
	if err != nil {
		return fmt.Errorf("failed to list raw assets: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(assets, cmd.Bool("pretty"))
	}
	return r.printAssets("Raw assets", assets)
}

func (r *Runner) printAssets(title string, assets []models.Asset) error {
	r.writePlainHeader(fmt.Sprintf("%s (%d)", title, len(assets)))
	var total int64
	for _, a := range assets {
		total += a.Size
		name := a.Title
		if name == "" {
			name = a.Filename
		}
		r.writePlain("%-6s %10s  %s  %s\n", a.Kind, shared.FormatBytes(a.Size), a.ID, name)
	}
	if len(assets) == 0 {
		return r.writePlain("Nothing to migrate.\n")
	}
	return r.writePlain("\nTotal: %s\n", shared.FormatBytes(total))
}

// migrateOutput is the JSON shape of a single migration.
type migrateOutput struct {
	Result  transfer.Result      `json:"result"`
	Cleanup *tasks.CleanupReport `json:"cleanup,omitempty"`
}

// Migrate moves one asset through every step of a session.
//
// A failed step stops the sequence; temp files are still cleaned unless --keep-files is set. The
// original CMS asset is only deleted after a fully successful migration.
func (r *Runner) Migrate(ctx context.Context, cmd *cli.Command) error {
	if err := r.loadConfig(cmd); err != nil {
		return err
	}
	assetID := cmd.StringArg("asset-id")
	if assetID == "" {
		return fmt.Errorf("%w: asset-id", shared.ErrMissingArgument)
	}
	deleteOriginal := cmd.Bool("delete-original")
	if deleteOriginal && !cmd.Bool("confirm-delete") {
		return fmt.Errorf("%w: --delete-original needs --confirm-delete", shared.ErrConfirmRequired)
	}
	useJSON := cmd.Bool("json")

	s, err := r.build(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	session, err := s.orch.NewSession(ctx, assetID)
	if err != nil {
		return err
	}
	defer s.orch.Registry().Remove(session.ID())

	if !useJSON {
		asset := session.Operation().Asset
		r.writePlainHeader(fmt.Sprintf("Migrating %s (%s, %s)", asset.ID, asset.Kind, shared.FormatBytes(asset.Size)))
	}
	report := events.Discard
	if !useJSON {
		report = r.printEvent
	}

	var stepErr error
steps:
	for stepErr == nil {
		step := session.Eligible()
		switch step {
		case tasks.StepDownload:
			stepErr = session.Download(ctx, report)
		case tasks.StepCompress:
			stepErr = session.Compress(ctx)
		case tasks.StepUpload:
			stepErr = session.Upload(ctx, report)
		case tasks.StepReconcile:
			if _, err := session.Reconcile(ctx); err != nil {
				r.logger.Warn("backend update failed", "asset", assetID, "error", err)
			}
		default:
			break steps
		}
		if stepErr == nil && !useJSON {
			r.writePlain("✓ %s\n", step)
		}
	}

	result := session.Operation().Result()
	out := migrateOutput{Result: result}

	if !cmd.Bool("keep-files") {
		cleanup, err := session.Cleanup(ctx, tasks.CleanupOptions{
			DeleteOriginal: deleteOriginal && result.Status == models.StatusComplete,
			ConfirmDelete:  cmd.Bool("confirm-delete"),
		})
		if err != nil {
			r.logger.Warn("cleanup failed", "asset", assetID, "error", err)
		} else {
			out.Cleanup = &cleanup
		}
	}

	if useJSON {
		if err := r.writeJSON(out, cmd.Bool("pretty")); err != nil {
			return err
		}
	} else {
		r.printResult(out)
	}
	return stepErr
}

func (r *Runner) printEvent(e events.Event) {
	switch e.Type {
	case events.TypeStart:
		r.writePlain("→ %s %s\n", e.Phase, shared.FormatBytes(e.Total))
	case events.TypeProgress:
		r.writePlain("  %s %5.1f%% (%s)\n", e.Phase, e.Percent, shared.FormatBytes(e.Transferred))
	}
}

func (r *Runner) printResult(out migrateOutput) {
	res := out.Result
	r.writePlainln("Status: %s", res.Status)
	r.writePlain("Downloaded: %s\n", shared.FormatBytes(res.Downloaded))
	r.writePlain("Uploaded:   %s\n", shared.FormatBytes(res.Uploaded))
	if res.CompressionRatio != "" {
		r.writePlain("Ratio:      %s\n", res.CompressionRatio)
	}
	if res.DestinationURL != "" {
		r.writePlain("URL:        %s\n", res.DestinationURL)
	}
	if res.Warning != "" {
		r.writePlain("Warning:    %s\n", res.Warning)
	}
	if res.Error != "" {
		r.writePlain("Error:      %s\n", res.Error)
	}
	if out.Cleanup != nil {
		r.writePlain("Removed %d temp file(s)", len(out.Cleanup.Removed))
		if out.Cleanup.DeletedOriginal {
			r.writePlain(", deleted original asset")
		}
		r.writePlain("\n")
		for _, f := range out.Cleanup.Failures {
			r.writePlain("  ✗ %s\n", f)
		}
	}
}

// Patch repoints every document referencing an asset, setting field to a JSON value.
func (r *Runner) Patch(ctx context.Context, cmd *cli.Command) error {
	if err := r.loadConfig(cmd); err != nil {
		return err
	}
	assetID := cmd.StringArg("asset-id")
	if assetID == "" {
		return fmt.Errorf("%w: asset-id", shared.ErrMissingArgument)
	}

	var value any
	if err := json.Unmarshal([]byte(cmd.String("value")), &value); err != nil {
		return fmt.Errorf("%w: --value must be JSON: %w", shared.ErrInvalidInput, err)
	}

	gateway, err := r.gateway()
	if err != nil {
		return err
	}

	report := reconcile.New(gateway, r.logger).Repoint(ctx, assetID, cmd.String("field"), value)
	if cmd.Bool("json") {
		if err := r.writeJSON(report, cmd.Bool("pretty")); err != nil {
			return err
		}
		return report.Err()
	}

	r.writePlain("Matched %d, updated %d\n", len(report.Matched), len(report.Updated))
	for _, f := range report.Failures {
		r.writePlain("  ✗ %s: %s\n", f.ID, f.Error)
	}
	return report.Err()
}
