package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/mvx/internal/cms"
	"github.com/desertthunder/mvx/internal/events"
	"github.com/desertthunder/mvx/internal/models"
	"github.com/desertthunder/mvx/internal/reconcile"
	"github.com/desertthunder/mvx/internal/shared"
	"github.com/desertthunder/mvx/internal/storage"
	"github.com/desertthunder/mvx/internal/tasks"
)

// HistoryStore lists recorded terminal results. Supported criteria are "limit", "status" and "asset_id".
type HistoryStore interface {
	List(criteria map[string]any) ([]*models.TransferRecord, error)
}

// AdminHandler serves every /admin endpoint.
type AdminHandler struct {
	mux        *http.ServeMux
	orch       *tasks.Orchestrator
	cms        cms.Gateway
	store      storage.Gateway
	reconciler *reconcile.Reconciler
	history    HistoryStore
	logger     *log.Logger
}

// NewAdminHandler wires the admin routes. history may be nil, in which case /admin/history is empty.
func NewAdminHandler(
	orch *tasks.Orchestrator,
	gateway cms.Gateway,
	store storage.Gateway,
	reconciler *reconcile.Reconciler,
	history HistoryStore,
	logger *log.Logger,
) *AdminHandler {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	h := &AdminHandler{
		mux:        http.NewServeMux(),
		orch:       orch,
		cms:        gateway,
		store:      store,
		reconciler: reconciler,
		history:    history,
		logger:     shared.WithLogger(logger, "component", "admin"),
	}

	h.mux.HandleFunc("GET /admin/assets", h.listAssets)
	h.mux.HandleFunc("GET /admin/assets/raw", h.listRawAssets)

	h.mux.HandleFunc("POST /admin/operations", h.createOperation)
	h.mux.HandleFunc("GET /admin/operations/{id}", h.getOperation)
	h.mux.HandleFunc("DELETE /admin/operations/{id}", h.discardOperation)
	h.mux.HandleFunc("GET /admin/operations/{id}/download", h.download)
	h.mux.HandleFunc("POST /admin/operations/{id}/compress", h.compress)
	h.mux.HandleFunc("GET /admin/operations/{id}/upload", h.upload)
	h.mux.HandleFunc("POST /admin/operations/{id}/reconcile", h.reconcile)
	h.mux.HandleFunc("POST /admin/operations/{id}/cleanup", h.cleanup)

	h.mux.HandleFunc("POST /admin/patch", h.patch)
	h.mux.HandleFunc("POST /admin/patch/batch", h.patchBatch)

	h.mux.HandleFunc("POST /admin/presign", h.presign)
	h.mux.HandleFunc("POST /admin/multipart", h.initiateMultipart)
	h.mux.HandleFunc("POST /admin/multipart/part", h.presignPart)
	h.mux.HandleFunc("POST /admin/multipart/complete", h.completeMultipart)
	h.mux.HandleFunc("POST /admin/multipart/abort", h.abortMultipart)

	h.mux.HandleFunc("POST /admin/bulk", h.createWorklist)
	h.mux.HandleFunc("GET /admin/bulk/{id}", h.getWorklist)
	h.mux.HandleFunc("POST /admin/bulk/{id}/next", h.processNext)
	h.mux.HandleFunc("GET /admin/bulk/{id}/run", h.runWorklist)
	h.mux.HandleFunc("POST /admin/bulk/{id}/pause", h.pauseWorklist)
	h.mux.HandleFunc("DELETE /admin/bulk/{id}", h.removeWorklist)

	h.mux.HandleFunc("GET /admin/history", h.listHistory)
	return h
}

// Routes returns the route patterns handled by this handler.
func (h *AdminHandler) Routes() []string {
	return []string{"/admin/"}
}

// ServeHTTP implements [http.Handler].
func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *AdminHandler) listAssets(w http.ResponseWriter, r *http.Request) {
	minSize, err := queryInt(r, "min_size", 0)
	if err != nil {
		writeError(w, err)
		return
	}

	assets, err := h.orch.ListPending(r.Context(), int64(minSize))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": nonNil(assets), "count": len(assets)})
}

func (h *AdminHandler) listRawAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := cms.ListRawAssets(r.Context(), h.cms)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": nonNil(assets), "count": len(assets)})
}

type createOperationRequest struct {
	AssetID string `json:"asset_id"`
}

func (h *AdminHandler) createOperation(w http.ResponseWriter, r *http.Request) {
	var req createOperationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	s, err := h.orch.NewSession(r.Context(), req.AssetID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.Snapshot())
}

func (h *AdminHandler) session(w http.ResponseWriter, r *http.Request) (*tasks.Session, bool) {
	s, err := h.orch.Registry().Session(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return s, true
}

func (h *AdminHandler) getOperation(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.session(w, r); ok {
		writeJSON(w, http.StatusOK, s.Snapshot())
	}
}

// discardOperation drops an idle session so its asset can be claimed again.
func (h *AdminHandler) discardOperation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.orch.Registry().Discard(id); err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info("operation discarded", "op", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) download(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.streamStep(w, r, s, tasks.StepDownload, s.Download)
}

func (h *AdminHandler) upload(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.streamStep(w, r, s, tasks.StepUpload, s.Upload)
}

// streamStep runs a byte-moving step over SSE and ends the stream with the session snapshot.
//
// Eligibility is checked before the stream opens so a wrong step still gets a plain 409.
func (h *AdminHandler) streamStep(
	w http.ResponseWriter,
	r *http.Request,
	s *tasks.Session,
	step tasks.Step,
	run func(ctx context.Context, report events.Reporter) error,
) {
	if eligible := s.Eligible(); eligible != step {
		writeError(w, fmt.Errorf("%w: %s (next is %q)", shared.ErrStepNotEligible, step, eligible))
		return
	}

	stream := events.NewStream(w)
	defer stream.Close()

	if err := run(r.Context(), stream.Report); err != nil {
		h.logger.Warn("step failed", "op", s.ID(), "step", step, "error", err)
		_ = stream.Send(events.Event{Type: events.TypeError, Phase: string(step), Status: shared.ErrorKind(err), Error: err.Error()})
		return
	}

	payload, err := json.Marshal(s.Snapshot())
	if err != nil {
		_ = stream.Send(events.Event{Type: events.TypeError, Phase: string(step), Error: err.Error()})
		return
	}
	_ = stream.Send(events.Event{Type: events.TypeComplete, Phase: string(step), Status: string(s.Eligible()), Result: payload})
}

func (h *AdminHandler) compress(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Compress(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

type reconcileResponse struct {
	tasks.SessionSnapshot
	Warning string `json:"warning,omitempty"`
}

// reconcile answers 200 even when the CMS patch fails; the operation is still complete.
func (h *AdminHandler) reconcile(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	_, err := s.Reconcile(r.Context())
	if err != nil && !errors.Is(err, shared.ErrBackendReconcile) {
		writeError(w, err)
		return
	}

	resp := reconcileResponse{SessionSnapshot: s.Snapshot()}
	if err != nil {
		resp.Warning = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) cleanup(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var opts tasks.CleanupOptions
	if err := decodeJSON(r, &opts); err != nil {
		writeError(w, err)
		return
	}

	report, err := s.Cleanup(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	h.orch.Registry().Remove(s.ID())
	writeJSON(w, http.StatusOK, report)
}

type patchRequest struct {
	AssetID string `json:"asset_id"`
	Field   string `json:"field"`
	Value   any    `json:"value"`
}

func (h *AdminHandler) patch(w http.ResponseWriter, r *http.Request) {
	var req patchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.AssetID == "" {
		writeError(w, fmt.Errorf("%w: asset_id", shared.ErrMissingArgument))
		return
	}

	writeJSON(w, http.StatusOK, h.reconciler.Repoint(r.Context(), req.AssetID, req.Field, req.Value))
}

type patchBatchRequest struct {
	Patches []reconcile.SidecarPatch `json:"patches"`
}

func (h *AdminHandler) patchBatch(w http.ResponseWriter, r *http.Request) {
	var req patchBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Patches) == 0 {
		writeError(w, fmt.Errorf("%w: patches", shared.ErrMissingArgument))
		return
	}

	writeJSON(w, http.StatusOK, h.reconciler.PatchSidecars(r.Context(), req.Patches))
}

func (h *AdminHandler) listHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, err)
		return
	}

	records := []*models.TransferRecord{}
	if h.history != nil {
		found, err := h.history.List(map[string]any{
			"limit":    limit,
			"status":   r.URL.Query().Get("status"),
			"asset_id": r.URL.Query().Get("asset_id"),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		records = nonNil(found)
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s=%q", shared.ErrInvalidInput, key, raw)
	}
	return n, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
