package tasks

import (
	"fmt"

	"github.com/desertthunder/mvx/internal/shared"
	"github.com/desertthunder/mvx/internal/transfer"
)

// ProgressUpdate represents a progress event during a bulk run.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current item number within the worklist
	Total   int    // Total items in the worklist
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	FetchAssets Phase = iota
	ItemStarted
	ItemProgress
	ItemCompleted
	ItemFailed
	CleanupFiles
	RunPaused
	RunFinished
)

func (p Phase) String() string {
	switch p {
	case FetchAssets:
		return "fetch_assets"
	case ItemStarted:
		return "item_started"
	case ItemProgress:
		return "item_progress"
	case ItemCompleted:
		return "item_completed"
	case ItemFailed:
		return "item_failed"
	case CleanupFiles:
		return "cleanup_files"
	case RunPaused:
		return "run_paused"
	case RunFinished:
		return "run_finished"
	default:
		return ""
	}
}

// sendProgress sends a progress update through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func fetchAssetsUpdate(total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchAssets,
		Total:   total,
		Message: fmt.Sprintf("Found %d pending assets", total),
	}
}

func itemStartedUpdate(step, total int, item Item) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ItemStarted,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s (%s)", step, total, item.Asset.Title, shared.FormatBytes(item.Asset.Size)),
		Data:    item,
	}
}

// ItemProgressData is the Data payload of an [ItemProgress] update.
type ItemProgressData struct {
	AssetID     string
	Stage       string
	Transferred int64
	ItemTotal   int64
	Percent     float64
}

func itemProgressUpdate(step, total int, data ItemProgressData) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ItemProgress,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s %.1f%%", step, total, data.Stage, data.Percent),
		Data:    data,
	}
}

func itemCompletedUpdate(step, total int, result transfer.Result) ProgressUpdate {
	msg := fmt.Sprintf("[%d/%d] ✓ %s", step, total, result.AssetID)
	if result.CompressionRatio != "" {
		msg += " saved " + result.CompressionRatio
	}
	if !result.BackendUpdated {
		msg += " (backend not updated)"
	}
	return ProgressUpdate{
		Phase:   ItemCompleted,
		Step:    step,
		Total:   total,
		Message: msg,
		Data:    result,
	}
}

func itemFailedUpdate(step, total int, result transfer.Result) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ItemFailed,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %s", step, total, result.AssetID, result.Error),
		Data:    result,
	}
}

func cleanupUpdate(step, total int, report CleanupReport) ProgressUpdate {
	return ProgressUpdate{
		Phase:   CleanupFiles,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] removed %d files", step, total, len(report.Removed)),
		Data:    report,
	}
}

func runPausedUpdate(snap WorklistSnapshot) ProgressUpdate {
	return ProgressUpdate{
		Phase:   RunPaused,
		Step:    snap.Cursor,
		Total:   len(snap.Items),
		Message: fmt.Sprintf("Paused after %d of %d items", snap.Cursor, len(snap.Items)),
		Data:    snap,
	}
}

func runFinishedUpdate(snap WorklistSnapshot) ProgressUpdate {
	return ProgressUpdate{
		Phase: RunFinished,
		Step:  snap.Cursor,
		Total: len(snap.Items),
		Message: fmt.Sprintf("Finished: %d complete, %d errored, %s transferred",
			snap.Completed, snap.Errored, shared.FormatBytes(snap.BytesTransferred)),
		Data: snap,
	}
}
