package tasks

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/time/rate"

	"github.com/desertthunder/mvx/internal/events"
	"github.com/desertthunder/mvx/internal/models"
	"github.com/desertthunder/mvx/internal/shared"
	"github.com/desertthunder/mvx/internal/transfer"
)

// ItemState is the progress of one worklist entry.
type ItemState string

const (
	ItemPending  ItemState = "pending"
	ItemRunning  ItemState = "running"
	ItemComplete ItemState = "complete"
	ItemError    ItemState = "error"
)

// Item is one asset in a worklist.
type Item struct {
	Asset  models.Asset     `json:"asset"`
	State  ItemState        `json:"state"`
	Error  string           `json:"error,omitempty"`
	Result *transfer.Result `json:"result,omitempty"`
}

// WorklistOptions selects assets and post-item behavior for a bulk run.
type WorklistOptions struct {
	// MinSize skips assets smaller than this many bytes.
	MinSize int64 `json:"min_size"`
	// IDs restricts the run to these asset ids, in listing order.
	IDs []string `json:"ids"`
	// AutoCleanup removes temp files after each item.
	AutoCleanup bool `json:"auto_cleanup"`
	// DeleteOriginal also deletes the original CMS asset after a fully successful item.
	DeleteOriginal bool `json:"delete_original"`
	ConfirmDelete  bool `json:"confirm_delete"`
}

// Worklist runs pending assets strictly one after another.
//
// Items are attempted at most once, in order. An error is recorded against its item and the run moves
// on; nothing is retried. Pause takes effect between items.
type Worklist struct {
	mu   sync.Mutex
	id   string
	orch *Orchestrator
	opts WorklistOptions

	items     []Item
	cursor    int
	paused    bool
	running   bool
	completed int
	errored   int
	bytes     int64

	limiter  *rate.Limiter
	progress chan<- ProgressUpdate
}

// NewWorklist lists pending assets and registers a worklist over them.
func (o *Orchestrator) NewWorklist(ctx context.Context, opts WorklistOptions) (*Worklist, error) {
	if opts.DeleteOriginal && !opts.ConfirmDelete {
		return nil, fmt.Errorf("%w: delete_original needs confirm_delete", shared.ErrConfirmRequired)
	}

	assets, err := o.ListPending(ctx, opts.MinSize)
	if err != nil {
		return nil, err
	}
	if len(opts.IDs) > 0 {
		assets = slices.DeleteFunc(assets, func(a models.Asset) bool {
			return !slices.Contains(opts.IDs, a.ID)
		})
	}

	w := newWorklist(o, assets, opts)
	o.registry.addWorklist(w)
	o.logger.Info("worklist created", "id", w.id, "items", len(assets), "min_size", opts.MinSize)
	return w, nil
}

func newWorklist(o *Orchestrator, assets []models.Asset, opts WorklistOptions) *Worklist {
	items := make([]Item, len(assets))
	for i, a := range assets {
		items[i] = Item{Asset: a, State: ItemPending}
	}
	return &Worklist{
		id:      shared.GenerateID(),
		orch:    o,
		opts:    opts,
		items:   items,
		limiter: rate.NewLimiter(o.limit, 1),
	}
}

func (w *Worklist) ID() string {
	return w.id
}

// SetProgress directs progress updates to ch. Sends never block.
func (w *Worklist) SetProgress(ch chan<- ProgressUpdate) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.progress = ch
}

// Pause stops a running RunAll after the current item.
func (w *Worklist) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paused = true
}

// ProcessNext runs the next unattempted item. It returns false when the list is exhausted.
func (w *Worklist) ProcessNext(ctx context.Context) (Item, bool, error) {
	if err := w.acquire(); err != nil {
		return Item{}, false, err
	}
	defer w.releaseRun()

	item, ok, err := w.next(ctx)
	w.save()
	return item, ok, err
}

// RunAll processes items until the list is exhausted, Pause is called, or ctx is done.
//
// Calling it again after a pause resumes from the first unattempted item.
func (w *Worklist) RunAll(ctx context.Context) (WorklistSnapshot, error) {
	if err := w.acquire(); err != nil {
		return w.Snapshot(), err
	}
	defer w.releaseRun()

	w.mu.Lock()
	w.paused = false
	fresh := w.cursor == 0
	total := len(w.items)
	w.mu.Unlock()

	if fresh {
		w.send(fetchAssetsUpdate(total))
	}

	var runErr error
	for {
		w.mu.Lock()
		paused := w.paused
		w.mu.Unlock()
		if paused {
			w.send(runPausedUpdate(w.Snapshot()))
			break
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		_, ok, err := w.next(ctx)
		if err != nil {
			runErr = err
			break
		}
		if !ok {
			w.send(runFinishedUpdate(w.Snapshot()))
			break
		}
	}

	w.save()
	return w.Snapshot(), runErr
}

func (w *Worklist) acquire() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("%w: %s", shared.ErrWorklistBusy, w.id)
	}
	w.running = true
	return nil
}

// Running reports whether a RunAll or ProcessNext is in progress.
func (w *Worklist) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worklist) releaseRun() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = false
}

// next runs the item at the cursor. Errors returned here stop the run; item failures do not.
func (w *Worklist) next(ctx context.Context) (Item, bool, error) {
	w.mu.Lock()
	if w.cursor >= len(w.items) {
		w.mu.Unlock()
		return Item{}, false, nil
	}
	idx := w.cursor
	total := len(w.items)
	w.mu.Unlock()

	if err := w.limiter.Wait(ctx); err != nil {
		return Item{}, true, err
	}

	w.mu.Lock()
	w.cursor++
	w.items[idx].State = ItemRunning
	item := w.items[idx]
	w.mu.Unlock()

	step := idx + 1
	w.send(itemStartedUpdate(step, total, item))

	result, op := w.run(ctx, step, total, item.Asset)

	w.mu.Lock()
	w.items[idx].Result = &result
	if result.Status == models.StatusError {
		w.items[idx].State = ItemError
		w.items[idx].Error = result.Error
		w.errored++
	} else {
		w.items[idx].State = ItemComplete
		w.completed++
		w.bytes += result.Uploaded
	}
	item = w.items[idx]
	w.mu.Unlock()

	if item.State == ItemError {
		w.send(itemFailedUpdate(step, total, result))
	} else {
		w.send(itemCompletedUpdate(step, total, result))
	}

	if w.opts.AutoCleanup || w.opts.DeleteOriginal {
		w.cleanup(ctx, step, total, item, op)
	}
	return item, true, nil
}

func (w *Worklist) run(ctx context.Context, step, total int, asset models.Asset) (transfer.Result, *transfer.Operation) {
	op := transfer.NewOperation(asset)
	if err := w.orch.registry.claim(asset.ID, w.id); err != nil {
		_ = op.Fail(err)
		return op.Result(), op
	}
	defer w.orch.registry.release(asset.ID)

	stage := string(transfer.StatePending)
	report := func(e events.Event) {
		switch e.Type {
		case events.TypeStatus:
			stage = e.Status
		case events.TypeProgress:
			w.send(itemProgressUpdate(step, total, ItemProgressData{
				AssetID:     asset.ID,
				Stage:       stage,
				Transferred: e.Transferred,
				ItemTotal:   e.Total,
				Percent:     e.Percent,
			}))
		}
	}

	result := w.orch.engine.Run(ctx, op, report)
	w.orch.record(asset.Kind, result)
	return result, op
}

func (w *Worklist) cleanup(ctx context.Context, step, total int, item Item, op *transfer.Operation) {
	req := CleanupRequest{
		AssetID:    item.Asset.ID,
		OriginalID: item.Asset.SourceID,
		Paths:      op.TempFiles(),
	}
	// Only a fully reconciled item may lose its original.
	if w.opts.DeleteOriginal && item.Result != nil && item.Result.Status == models.StatusComplete {
		req.DeleteOriginal = true
		req.ConfirmDelete = w.opts.ConfirmDelete
	}

	report, err := w.orch.Cleanup(context.WithoutCancel(ctx), req)
	if err != nil {
		w.orch.logger.Warn("cleanup rejected", "asset", item.Asset.ID, "error", err)
		return
	}
	w.send(cleanupUpdate(step, total, report))
}

func (w *Worklist) send(update ProgressUpdate) {
	w.mu.Lock()
	ch := w.progress
	w.mu.Unlock()
	sendProgress(ch, update)
}

func (w *Worklist) save() {
	if w.orch.runs == nil {
		return
	}
	snap := w.Snapshot()
	run := models.NewWorklistRun(w.id, len(snap.Items))
	run.Completed = snap.Completed
	run.Errored = snap.Errored
	run.BytesTransferred = snap.BytesTransferred
	run.Paused = snap.Paused
	if err := w.orch.runs.Save(run); err != nil {
		w.orch.logger.Warn("failed to save worklist summary", "id", w.id, "error", err)
	}
}

// WorklistSnapshot is a copy of a worklist's items and counters.
type WorklistSnapshot struct {
	ID               string `json:"id"`
	Items            []Item `json:"items"`
	Cursor           int    `json:"cursor"`
	Completed        int    `json:"completed"`
	Errored          int    `json:"errored"`
	BytesTransferred int64  `json:"bytesTransferred"`
	Paused           bool   `json:"paused"`
	Running          bool   `json:"running"`
}

// Remaining is the number of unattempted items.
func (s WorklistSnapshot) Remaining() int {
	return len(s.Items) - s.Cursor
}

// Snapshot copies the worklist state.
func (w *Worklist) Snapshot() WorklistSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	items := make([]Item, len(w.items))
	copy(items, w.items)
	return WorklistSnapshot{
		ID:               w.id,
		Items:            items,
		Cursor:           w.cursor,
		Completed:        w.completed,
		Errored:          w.errored,
		BytesTransferred: w.bytes,
		Paused:           w.paused,
		Running:          w.running,
	}
}
