package main

import (
	"context"
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/mvx/internal/shared"
	"github.com/desertthunder/mvx/internal/tasks"
	"github.com/desertthunder/mvx/internal/ui"
)

const tuiLogPath = "./tmp/mvx-tui.log"

func worklistOptions(cmd *cli.Command) tasks.WorklistOptions {
	return tasks.WorklistOptions{
		MinSize:        int64(cmd.Int("min-size")),
		IDs:            cmd.StringSlice("id"),
		AutoCleanup:    cmd.Bool("auto-cleanup"),
		DeleteOriginal: cmd.Bool("delete-original"),
		ConfirmDelete:  cmd.Bool("confirm-delete"),
	}
}

// BulkRun migrates every pending asset in order, printing progress as it goes.
func (r *Runner) BulkRun(ctx context.Context, cmd *cli.Command) error {
	if err := r.loadConfig(cmd); err != nil {
		return err
	}
	opts := worklistOptions(cmd)
	if opts.DeleteOriginal && !opts.ConfirmDelete {
		return fmt.Errorf("%w: --delete-original needs --confirm-delete", shared.ErrConfirmRequired)
	}
	useJSON := cmd.Bool("json")

	s, err := r.build(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	worklist, err := s.orch.NewWorklist(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = s.orch.Registry().RemoveWorklist(worklist.ID()) }()

	stop := func() {}
	if !useJSON {
		updates := make(chan tasks.ProgressUpdate, 32)
		worklist.SetProgress(updates)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for update := range updates {
				r.printUpdate(update)
			}
		}()
		stop = func() {
			worklist.SetProgress(nil)
			close(updates)
			wg.Wait()
		}
	}

	snap, runErr := worklist.RunAll(ctx)
	stop()

	if useJSON {
		if err := r.writeJSON(snap, true); err != nil {
			return err
		}
		return runErr
	}

	r.printSummary(snap)
	return runErr
}

func (r *Runner) printUpdate(update tasks.ProgressUpdate) {
	switch update.Phase {
	case tasks.ItemProgress:
		return
	case tasks.FetchAssets, tasks.RunPaused, tasks.RunFinished:
		r.writePlain("%s\n", update.Message)
	default:
		r.writePlain("[%d/%d] %s\n", update.Step, update.Total, update.Message)
	}
}

func (r *Runner) printSummary(snap tasks.WorklistSnapshot) {
	r.writePlainHeader("Bulk migration summary")
	r.writePlain("Completed:   %d\n", snap.Completed)
	r.writePlain("Errored:     %d\n", snap.Errored)
	r.writePlain("Remaining:   %d\n", snap.Remaining())
	r.writePlain("Transferred: %s\n", shared.FormatBytes(snap.BytesTransferred))

	for _, item := range snap.Items {
		if item.State == tasks.ItemError {
			r.writePlain("  ✗ %s: %s\n", item.Asset.ID, item.Error)
		}
	}
}

// BulkUI runs the worklist under the interactive terminal monitor.
//
// Logs go to a file while the monitor owns the terminal.
func (r *Runner) BulkUI(ctx context.Context, cmd *cli.Command) error {
	if err := r.loadConfig(cmd); err != nil {
		return err
	}
	opts := worklistOptions(cmd)
	if opts.DeleteOriginal && !opts.ConfirmDelete {
		return fmt.Errorf("%w: --delete-original needs --confirm-delete", shared.ErrConfirmRequired)
	}

	fileLogger, err := shared.NewFileLogger(tuiLogPath)
	if err != nil {
		return err
	}
	terminalLogger := r.logger
	r.SetLogger(fileLogger)
	defer r.SetLogger(terminalLogger)

	s, err := r.build(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	model := ui.NewModel(ctx, s.orch, opts)
	if _, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
		return fmt.Errorf("failed to run terminal monitor: %w", err)
	}

	if snap := model.Snapshot(); snap.ID != "" {
		r.printSummary(snap)
	}
	return model.Err()
}
