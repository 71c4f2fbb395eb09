package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/desertthunder/mvx/internal/events"
	"github.com/desertthunder/mvx/internal/shared"
	"github.com/desertthunder/mvx/internal/tasks"
)

func (h *AdminHandler) worklist(w http.ResponseWriter, r *http.Request) (*tasks.Worklist, bool) {
	wl, err := h.orch.Registry().Worklist(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return wl, true
}

func (h *AdminHandler) createWorklist(w http.ResponseWriter, r *http.Request) {
	var opts tasks.WorklistOptions
	if err := decodeJSON(r, &opts); err != nil {
		writeError(w, err)
		return
	}

	wl, err := h.orch.NewWorklist(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wl.Snapshot())
}

func (h *AdminHandler) getWorklist(w http.ResponseWriter, r *http.Request) {
	if wl, ok := h.worklist(w, r); ok {
		writeJSON(w, http.StatusOK, wl.Snapshot())
	}
}

type nextResponse struct {
	Item     *tasks.Item            `json:"item,omitempty"`
	Done     bool                   `json:"done"`
	Worklist tasks.WorklistSnapshot `json:"worklist"`
}

func (h *AdminHandler) processNext(w http.ResponseWriter, r *http.Request) {
	wl, ok := h.worklist(w, r)
	if !ok {
		return
	}

	item, more, err := wl.ProcessNext(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	resp := nextResponse{Done: !more, Worklist: wl.Snapshot()}
	if more {
		resp.Item = &item
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) pauseWorklist(w http.ResponseWriter, r *http.Request) {
	wl, ok := h.worklist(w, r)
	if !ok {
		return
	}
	wl.Pause()
	writeJSON(w, http.StatusOK, wl.Snapshot())
}

func (h *AdminHandler) removeWorklist(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.Registry().RemoveWorklist(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// runWorklist runs the remaining items over SSE.
//
// Worklist progress updates become status and progress frames; the stream ends with a complete event
// carrying the worklist snapshot, whether the run finished or paused.
func (h *AdminHandler) runWorklist(w http.ResponseWriter, r *http.Request) {
	wl, ok := h.worklist(w, r)
	if !ok {
		return
	}
	if wl.Snapshot().Running {
		writeError(w, fmt.Errorf("%w: %s", shared.ErrWorklistBusy, wl.ID()))
		return
	}

	stream := events.NewStream(w)
	defer stream.Close()

	updates := make(chan tasks.ProgressUpdate, 64)
	done := make(chan struct{})
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for {
			select {
			case u := <-updates:
				stream.Report(eventFor(u))
			case <-done:
				for {
					select {
					case u := <-updates:
						stream.Report(eventFor(u))
					default:
						return
					}
				}
			}
		}
	}()

	wl.SetProgress(updates)
	snap, err := wl.RunAll(r.Context())
	wl.SetProgress(nil)
	close(done)
	<-forwarded

	if err != nil {
		h.logger.Warn("bulk run stopped", "id", wl.ID(), "error", err)
		_ = stream.Send(events.Event{Type: events.TypeError, Phase: "bulk", Status: shared.ErrorKind(err), Error: err.Error()})
		return
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		_ = stream.Send(events.Event{Type: events.TypeError, Phase: "bulk", Error: err.Error()})
		return
	}

	status := tasks.RunFinished.String()
	if snap.Paused {
		status = tasks.RunPaused.String()
	}
	_ = stream.Send(events.Event{
		Type:        events.TypeComplete,
		Phase:       "bulk",
		Status:      status,
		Transferred: snap.BytesTransferred,
		Message:     fmt.Sprintf("%d complete, %d errored, %d remaining", snap.Completed, snap.Errored, snap.Remaining()),
		Result:      payload,
	})
}

// eventFor converts a worklist update into an SSE frame.
//
// Item progress uses a phase per asset and stage so one item's counter never clamps the next.
func eventFor(u tasks.ProgressUpdate) events.Event {
	if data, ok := u.Data.(tasks.ItemProgressData); ok {
		return events.Event{
			Type:        events.TypeProgress,
			Phase:       data.AssetID + "/" + data.Stage,
			Transferred: data.Transferred,
			Total:       data.ItemTotal,
			Percent:     data.Percent,
			Message:     u.Message,
		}
	}
	return events.Event{
		Type:        events.TypeStatus,
		Phase:       "items",
		Status:      u.Phase.String(),
		Transferred: int64(u.Step),
		Total:       int64(u.Total),
		Message:     u.Message,
	}
}
