package ui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/mvx/internal/models"
	"github.com/desertthunder/mvx/internal/tasks"
	"github.com/desertthunder/mvx/internal/transfer"
)

func TestApply(t *testing.T) {
	m := NewModel(context.Background(), nil, tasks.WorklistOptions{})
	m.view = RunView

	m.apply(tasks.ProgressUpdate{Phase: tasks.ItemStarted, Step: 1, Total: 2, Message: "[1/2] lecture"})
	m.apply(tasks.ProgressUpdate{
		Phase: tasks.ItemProgress,
		Step:  1,
		Total: 2,
		Data:  tasks.ItemProgressData{AssetID: "v1", Stage: "uploading", Percent: 40},
	})

	if m.itemPercent != 0.4 || m.stage != "uploading" {
		t.Errorf("item = %.2f %q, want 0.40 uploading", m.itemPercent, m.stage)
	}
	if len(m.log) != 1 {
		t.Errorf("progress updates should not be logged, got %v", m.log)
	}

	for i := range logLines + 3 {
		m.apply(tasks.ProgressUpdate{Phase: tasks.CleanupFiles, Message: strings.Repeat("x", i+1)})
	}
	if len(m.log) != logLines {
		t.Errorf("log length = %d, want %d", len(m.log), logLines)
	}

	if !strings.Contains(m.View(), "Migrating Assets") {
		t.Error("run view should render its title")
	}
}

func TestRunComplete(t *testing.T) {
	result := transfer.Result{AssetID: "a2", Status: models.StatusWithoutBackendUpdate}
	snap := tasks.WorklistSnapshot{
		Items: []tasks.Item{
			{Asset: models.Asset{ID: "a1"}, State: tasks.ItemError, Error: "source fetch failed"},
			{Asset: models.Asset{ID: "a2"}, State: tasks.ItemComplete, Result: &result},
			{Asset: models.Asset{ID: "a3"}, State: tasks.ItemPending},
		},
		Cursor:    2,
		Completed: 1,
		Errored:   1,
		Paused:    true,
	}

	t.Run("Paused", func(t *testing.T) {
		m := NewModel(context.Background(), nil, tasks.WorklistOptions{})
		m.view = RunView
		m.pausing = true

		_, cmd := m.Update(runCompleteMsg(snap, nil))
		if cmd != nil {
			t.Error("expected no follow-up command")
		}
		if m.view != ResultView || m.pausing {
			t.Errorf("view = %d pausing = %t", m.view, m.pausing)
		}

		out := m.View()
		for _, want := range []string{"Paused with 1 remaining", "a1 - source fetch failed", "not patched", "resume"} {
			if !strings.Contains(out, want) {
				t.Errorf("result view missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("Stopped", func(t *testing.T) {
		m := NewModel(context.Background(), nil, tasks.WorklistOptions{})
		m.Update(runCompleteMsg(snap, errors.New("context canceled")))

		if m.Err() == nil {
			t.Fatal("expected error to be kept")
		}
		if strings.Contains(m.View(), "resume") {
			t.Error("a stopped run should not offer resume")
		}
	})
}

func TestWorklistReadyError(t *testing.T) {
	m := NewModel(context.Background(), nil, tasks.WorklistOptions{})

	_, cmd := m.Update(worklistReadyMsg(nil, errors.New("cms down")))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
	if !strings.Contains(m.View(), "cms down") {
		t.Errorf("view should show the error, got %q", m.View())
	}
}
