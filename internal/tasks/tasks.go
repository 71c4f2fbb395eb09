// package tasks implements the migration orchestrator.
//
// The core abstraction is [Orchestrator], which drives transfer operations one at a time, either stepwise
// through a [Session] or sequentially through a [Worklist]. Bulk runs emit progress updates via channels
// for non-blocking status reporting to CLI/UI layers.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/desertthunder/mvx/internal/cms"
	"github.com/desertthunder/mvx/internal/models"
	"github.com/desertthunder/mvx/internal/shared"
	"github.com/desertthunder/mvx/internal/transfer"
)

// Recorder persists terminal transfer outcomes.
//
// Records are an audit log only; they are never read back to decide what to migrate.
type Recorder interface {
	Record(record *models.TransferRecord) error
}

// RunRecorder persists worklist counter summaries.
type RunRecorder interface {
	Save(run *models.WorklistRun) error
}

// Orchestrator runs migrations through a transfer engine and a CMS gateway.
type Orchestrator struct {
	engine   *transfer.Engine
	cms      cms.Gateway
	recorder Recorder
	runs     RunRecorder
	limit    rate.Limit
	registry *Registry
	logger   *log.Logger
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithRecorder sets the audit log for terminal results.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithRunRecorder sets the store for worklist summaries.
func WithRunRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) { o.runs = r }
}

// WithRate paces bulk items to at most perSecond starts per second. Zero disables pacing.
func WithRate(perSecond float64) Option {
	return func(o *Orchestrator) {
		if perSecond > 0 {
			o.limit = rate.Limit(perSecond)
		}
	}
}

// New creates an Orchestrator.
func New(engine *transfer.Engine, gateway cms.Gateway, logger *log.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	o := &Orchestrator{
		engine:   engine,
		cms:      gateway,
		limit:    rate.Inf,
		registry: NewRegistry(),
		logger:   shared.WithLogger(logger, "component", "tasks"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Registry returns the sessions and worklists created by this orchestrator.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Engine returns the underlying transfer engine.
func (o *Orchestrator) Engine() *transfer.Engine {
	return o.engine
}

// ListPending returns migratable assets without a sidecar, at least minSize bytes when minSize > 0.
func (o *Orchestrator) ListPending(ctx context.Context, minSize int64) ([]models.Asset, error) {
	assets, err := cms.ListMigratable(ctx, o.cms)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	if minSize <= 0 {
		return assets, nil
	}
	filtered := make([]models.Asset, 0, len(assets))
	for _, a := range assets {
		if a.Size >= minSize {
			filtered = append(filtered, a)
		}
	}
	return filtered, nil
}

// NewSession loads assetID and registers a single-item session for it.
func (o *Orchestrator) NewSession(ctx context.Context, assetID string) (*Session, error) {
	if assetID == "" {
		return nil, fmt.Errorf("%w: asset id", shared.ErrMissingArgument)
	}
	asset, err := cms.FetchAsset(ctx, o.cms, assetID)
	if err != nil {
		return nil, err
	}
	if asset.Migrated() {
		return nil, fmt.Errorf("%w: %s", shared.ErrAlreadyMigrated, asset.ID)
	}

	s := &Session{orch: o, op: transfer.NewOperation(asset)}
	replaced, err := o.registry.claimSession(s)
	if err != nil {
		return nil, err
	}
	if replaced != "" {
		o.logger.Info("replaced idle session", "op", replaced, "asset", asset.ID)
	}
	o.logger.Info("session created", "op", s.op.ID, "asset", asset.ID, "kind", asset.Kind)
	return s, nil
}

// record writes result to the audit log. Failures are logged and otherwise ignored.
func (o *Orchestrator) record(kind models.Kind, result transfer.Result) {
	if o.recorder == nil || result.Status == "" {
		return
	}
	if err := o.recorder.Record(result.Record(kind)); err != nil {
		o.logger.Warn("failed to record transfer", "op", result.OperationID, "error", err)
	}
}

// CleanupRequest names what a cleanup removes.
type CleanupRequest struct {
	// AssetID is the media document whose operation produced the files.
	AssetID string
	// OriginalID is the CMS file asset holding the source binary.
	OriginalID string
	Paths      []string
	// DeleteOriginal removes OriginalID from the CMS. It is irreversible and requires ConfirmDelete.
	DeleteOriginal bool
	ConfirmDelete  bool
}

// CleanupReport lists what a cleanup did.
type CleanupReport struct {
	Removed         []string `json:"removed"`
	DeletedOriginal bool     `json:"deletedOriginal"`
	Failures        []string `json:"failures"`
}

// Cleanup removes temp files and, when confirmed, the original CMS asset.
//
// Each failure is recorded and the sequence continues. Deleting without confirmation is rejected before
// anything is removed.
func (o *Orchestrator) Cleanup(ctx context.Context, req CleanupRequest) (CleanupReport, error) {
	report := CleanupReport{Removed: []string{}, Failures: []string{}}

	if req.DeleteOriginal && !req.ConfirmDelete {
		return report, fmt.Errorf("%w: deleting the original asset needs confirm_delete", shared.ErrConfirmRequired)
	}

	for _, path := range req.Paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			report.Failures = append(report.Failures, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		report.Removed = append(report.Removed, path)
	}

	if req.DeleteOriginal {
		switch {
		case req.OriginalID == "":
			report.Failures = append(report.Failures, fmt.Sprintf("%s: no original asset reference", req.AssetID))
		default:
			if err := o.cms.DeleteDocument(ctx, req.OriginalID); err != nil {
				report.Failures = append(report.Failures, fmt.Sprintf("%s: %v", req.OriginalID, err))
			} else {
				report.DeletedOriginal = true
				o.logger.Warn("original asset deleted", "asset", req.AssetID, "original", req.OriginalID)
			}
		}
	}

	o.logger.Info("cleanup finished", "asset", req.AssetID, "removed", len(report.Removed), "failures", len(report.Failures))
	return report, nil
}
