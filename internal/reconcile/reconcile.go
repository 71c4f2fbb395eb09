// Package reconcile repoints CMS documents at migrated assets.
//
// Patches are applied one document at a time. A failed document is recorded in the [Report] and the loop
// moves on; nothing here fails the transfer that triggered it.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/mvx/internal/cms"
	"github.com/desertthunder/mvx/internal/models"
	"github.com/desertthunder/mvx/internal/shared"
)

// Failure is one document that could not be patched.
type Failure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Report summarizes a reconciliation pass.
type Report struct {
	Matched  []string  `json:"matched"`
	Updated  []string  `json:"updated"`
	Failures []Failure `json:"failures"`
}

// Err returns an [shared.ErrReferenceUpdate] describing the failures, or nil.
func (r Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	ids := make([]string, len(r.Failures))
	for i, f := range r.Failures {
		ids[i] = f.ID
	}
	return fmt.Errorf("%w: %d failed (%s)", shared.ErrReferenceUpdate, len(r.Failures), strings.Join(ids, ", "))
}

func (r *Report) fail(id string, err error) {
	r.Failures = append(r.Failures, Failure{ID: id, Error: fmt.Errorf("%w: %w", shared.ErrReferenceUpdate, err).Error()})
}

// SidecarPatch sets one field on one document. An empty Field is derived from Kind.
type SidecarPatch struct {
	DocumentID string      `json:"documentId"`
	Kind       models.Kind `json:"kind,omitempty"`
	Field      string      `json:"field,omitempty"`
	Value      any         `json:"value"`
}

func (p SidecarPatch) field() string {
	if p.Field != "" {
		return p.Field
	}
	if !p.Kind.Valid() {
		return ""
	}
	return p.Kind.SidecarField()
}

// Reconciler applies reference patches through a CMS gateway.
type Reconciler struct {
	cms    cms.Gateway
	logger *log.Logger
}

func New(gateway cms.Gateway, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Reconciler{cms: gateway, logger: shared.WithLogger(logger, "component", "reconcile")}
}

// Repoint sets field to value on every document that references oldAssetID.
func (r *Reconciler) Repoint(ctx context.Context, oldAssetID, field string, value any) Report {
	report := Report{Matched: []string{}, Updated: []string{}, Failures: []Failure{}}

	refs, err := r.cms.FindReferencingDocuments(ctx, oldAssetID)
	if err != nil {
		r.logger.Error("reference lookup failed", "asset", oldAssetID, "error", err)
		report.fail(oldAssetID, err)
		return report
	}

	for _, ref := range refs {
		report.Matched = append(report.Matched, ref.ID)
	}

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			report.fail(ref.ID, err)
			continue
		}
		patchField := field
		if ref.FieldRef != "" && patchField == "" {
			patchField = ref.FieldRef
		}
		if patchField == "" {
			report.fail(ref.ID, fmt.Errorf("%w: field for %s %s", shared.ErrMissingArgument, ref.Type, ref.ID))
			continue
		}
		if err := r.cms.PatchDocument(ctx, ref.ID, patchField, value); err != nil {
			r.logger.Warn("reference patch failed", "doc", ref.ID, "type", ref.Type, "error", err)
			report.fail(ref.ID, err)
			continue
		}
		report.Updated = append(report.Updated, ref.ID)
	}

	r.logger.Info("references repointed", "asset", oldAssetID, "matched", len(report.Matched), "updated", len(report.Updated))
	return report
}

// PatchSidecars applies each patch in order.
func (r *Reconciler) PatchSidecars(ctx context.Context, patches []SidecarPatch) Report {
	report := Report{Matched: []string{}, Updated: []string{}, Failures: []Failure{}}

	for _, p := range patches {
		report.Matched = append(report.Matched, p.DocumentID)

		field := p.field()
		switch {
		case p.DocumentID == "":
			report.fail(p.DocumentID, fmt.Errorf("%w: document id", shared.ErrMissingArgument))
			continue
		case field == "":
			report.fail(p.DocumentID, fmt.Errorf("%w: field or kind", shared.ErrMissingArgument))
			continue
		}
		if err := ctx.Err(); err != nil {
			report.fail(p.DocumentID, err)
			continue
		}

		if err := r.cms.PatchDocument(ctx, p.DocumentID, field, p.Value); err != nil {
			r.logger.Warn("sidecar patch failed", "doc", p.DocumentID, "field", field, "error", err)
			report.fail(p.DocumentID, err)
			continue
		}
		report.Updated = append(report.Updated, p.DocumentID)
	}
	return report
}
