package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/desertthunder/mvx/internal/events"
	"github.com/desertthunder/mvx/internal/shared"
	"github.com/desertthunder/mvx/internal/transfer"
)

// Step is one operator-invoked stage of a single-item migration.
type Step string

const (
	StepDownload  Step = "download"
	StepCompress  Step = "compress"
	StepUpload    Step = "upload"
	StepReconcile Step = "reconcile"
	StepCleanup   Step = "cleanup"
	StepNone      Step = ""
)

// Session walks one asset through the migration steps on operator request.
//
// Exactly one step is eligible at a time. After a failed step only cleanup remains.
type Session struct {
	mu       sync.Mutex
	orch     *Orchestrator
	op       *transfer.Operation
	running  bool
	cleaned  bool
	recorded bool
	retired  bool
}

// ID returns the operation id.
func (s *Session) ID() string {
	return s.op.ID
}

// Operation returns the underlying transfer operation.
func (s *Session) Operation() *transfer.Operation {
	return s.op
}

// Eligible returns the only step that may run next, or [StepNone] once cleaned up.
func (s *Session) Eligible() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eligible()
}

func (s *Session) eligible() Step {
	if s.cleaned {
		return StepNone
	}
	switch s.op.State() {
	case transfer.StatePending:
		return StepDownload
	case transfer.StateCompressing:
		return StepCompress
	case transfer.StateUploading:
		return StepUpload
	case transfer.StateUpdatingBackend:
		return StepReconcile
	default:
		return StepCleanup
	}
}

// begin claims the session for step, or returns [shared.ErrStepNotEligible].
func (s *Session) begin(step Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.retired {
		return fmt.Errorf("%w: operation %s was replaced", shared.ErrNotFound, s.op.ID)
	}
	if s.running {
		return fmt.Errorf("%w: %s while another step is running", shared.ErrStepNotEligible, step)
	}
	if eligible := s.eligible(); eligible != step {
		return fmt.Errorf("%w: %s (next is %q)", shared.ErrStepNotEligible, step, eligible)
	}
	s.running = true
	return nil
}

// end releases the session and records a terminal outcome once.
func (s *Session) end() {
	s.mu.Lock()
	s.running = false
	terminal := s.op.State().Terminal()
	record := terminal && !s.recorded
	if record {
		s.recorded = true
	}
	s.mu.Unlock()

	if record {
		s.orch.record(s.op.Asset.Kind, s.op.Result())
	}
}

// retire marks an idle session as replaced so no further step can start on it.
func (s *Session) retire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.retired = true
	return true
}

// Download runs the download step, reporting progress to report.
func (s *Session) Download(ctx context.Context, report events.Reporter) error {
	if err := s.begin(StepDownload); err != nil {
		return err
	}
	defer s.end()
	return s.orch.engine.Download(ctx, s.op, report)
}

// Compress runs the transcode step.
func (s *Session) Compress(ctx context.Context) error {
	if err := s.begin(StepCompress); err != nil {
		return err
	}
	defer s.end()
	return s.orch.engine.Compress(ctx, s.op)
}

// Upload runs the upload step, reporting progress to report.
func (s *Session) Upload(ctx context.Context, report events.Reporter) error {
	if err := s.begin(StepUpload); err != nil {
		return err
	}
	defer s.end()
	return s.orch.engine.Upload(ctx, s.op, report)
}

// Reconcile patches the CMS sidecar. The returned error is non-fatal; the result is terminal either way.
func (s *Session) Reconcile(ctx context.Context) (transfer.Result, error) {
	if err := s.begin(StepReconcile); err != nil {
		return transfer.Result{}, err
	}
	defer s.end()

	err := s.orch.engine.UpdateBackend(ctx, s.op)
	return s.op.Result(), err
}

// CleanupOptions controls what a session cleanup removes besides temp files.
type CleanupOptions struct {
	DeleteOriginal bool `json:"delete_original"`
	ConfirmDelete  bool `json:"confirm_delete"`
}

// Cleanup removes the session's temp files and ends it.
func (s *Session) Cleanup(ctx context.Context, opts CleanupOptions) (CleanupReport, error) {
	if opts.DeleteOriginal && !opts.ConfirmDelete {
		return CleanupReport{}, fmt.Errorf("%w: deleting the original asset needs confirm_delete", shared.ErrConfirmRequired)
	}
	if err := s.begin(StepCleanup); err != nil {
		return CleanupReport{}, err
	}
	defer s.end()

	asset := s.op.Asset
	report, err := s.orch.Cleanup(ctx, CleanupRequest{
		AssetID:        asset.ID,
		OriginalID:     asset.SourceID,
		Paths:          s.op.TempFiles(),
		DeleteOriginal: opts.DeleteOriginal,
		ConfirmDelete:  opts.ConfirmDelete,
	})
	if err != nil {
		return report, err
	}

	s.mu.Lock()
	s.cleaned = true
	s.mu.Unlock()
	s.orch.registry.release(asset.ID)
	return report, nil
}

// SessionSnapshot is the externally visible state of a session.
type SessionSnapshot struct {
	ID       string          `json:"id"`
	AssetID  string          `json:"assetId"`
	Kind     string          `json:"kind"`
	State    string          `json:"state"`
	Eligible Step            `json:"eligible"`
	Running  bool            `json:"running"`
	Result   transfer.Result `json:"result"`
}

// Snapshot captures the session's current state.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	eligible := s.eligible()
	running := s.running
	s.mu.Unlock()

	return SessionSnapshot{
		ID:       s.op.ID,
		AssetID:  s.op.Asset.ID,
		Kind:     string(s.op.Asset.Kind),
		State:    s.op.State().String(),
		Eligible: eligible,
		Running:  running,
		Result:   s.op.Result(),
	}
}

// Registry holds sessions and worklists by id and tracks which assets are in flight.
type Registry struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	worklists map[string]*Worklist
	active    map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:  map[string]*Session{},
		worklists: map[string]*Worklist{},
		active:    map[string]string{},
	}
}

// claim marks assetID as owned by owner, rejecting a second concurrent owner.
func (r *Registry) claim(assetID, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.claimLocked(assetID, owner)
}

// claimLocked hands assetID to owner. A session holding the asset with no step
// running is retired and dropped; a running session or a worklist keeps it.
func (r *Registry) claimLocked(assetID, owner string) error {
	current, ok := r.active[assetID]
	if ok && current != owner {
		stale, isSession := r.sessions[current]
		if !isSession || !stale.retire() {
			return fmt.Errorf("%w: %s (held by %s)", shared.ErrAssetBusy, assetID, current)
		}
		delete(r.sessions, current)
	}
	r.active[assetID] = owner
	return nil
}

// claimSession claims the session's asset and registers it in one step.
// It returns the id of the session it replaced, if any.
func (r *Registry) claimSession(s *Session) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	assetID := s.op.Asset.ID
	previous := r.active[assetID]
	if err := r.claimLocked(assetID, s.ID()); err != nil {
		return "", err
	}
	r.sessions[s.ID()] = s
	if _, kept := r.sessions[previous]; kept || previous == s.ID() {
		previous = ""
	}
	return previous, nil
}

func (r *Registry) release(assetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, assetID)
}

func (r *Registry) addWorklist(w *Worklist) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.worklists[w.ID()] = w
}

// Session returns the session with id or [shared.ErrNotFound].
func (r *Registry) Session(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: operation %s", shared.ErrNotFound, id)
	}
	return s, nil
}

// Worklist returns the worklist with id or [shared.ErrNotFound].
func (r *Registry) Worklist(id string) (*Worklist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.worklists[id]
	if !ok {
		return nil, fmt.Errorf("%w: worklist %s", shared.ErrNotFound, id)
	}
	return w, nil
}

// Remove forgets a session and releases its asset.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		if r.active[s.op.Asset.ID] == id {
			delete(r.active, s.op.Asset.ID)
		}
		delete(r.sessions, id)
	}
}

// Discard drops a session that has no step running and releases its asset.
// Temp files stay on disk for the sweeper.
func (r *Registry) Discard(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("%w: operation %s", shared.ErrNotFound, id)
	}
	if !s.retire() {
		return fmt.Errorf("%w: operation %s has a step running", shared.ErrStepNotEligible, id)
	}
	if r.active[s.op.Asset.ID] == id {
		delete(r.active, s.op.Asset.ID)
	}
	delete(r.sessions, id)
	return nil
}

// RemoveWorklist forgets a worklist that is not running. Its items release
// their assets as they finish, so no claims are held here.
func (r *Registry) RemoveWorklist(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.worklists[id]
	if !ok {
		return fmt.Errorf("%w: worklist %s", shared.ErrNotFound, id)
	}
	if w.Running() {
		return fmt.Errorf("%w: %s", shared.ErrWorklistBusy, id)
	}
	delete(r.worklists, id)
	return nil
}
