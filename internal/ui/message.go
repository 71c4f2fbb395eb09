package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/mvx/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgWorklistReady MsgKind = iota
	MsgProgressUpdate
	MsgRunComplete
)

// worklistReadyMsg is the constructor for [MsgWorklistReady]
func worklistReadyMsg(w *tasks.Worklist, err error) Msg {
	return Msg{
		kind: MsgWorklistReady,
		data: struct {
			worklist *tasks.Worklist
			err      error
		}{w, err},
	}
}

// progressUpdateMsg is the constructor for [MsgProgressUpdate]
func progressUpdateMsg(update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgressUpdate, data: update}
}

// runResult is what a finished (or paused) RunAll hands back to the model.
type runResult struct {
	snapshot tasks.WorklistSnapshot
	err      error
}

// runCompleteMsg is the constructor for [MsgRunComplete]
func runCompleteMsg(snap tasks.WorklistSnapshot, err error) Msg {
	return Msg{kind: MsgRunComplete, data: runResult{snap, err}}
}
