// Package ui implements an interactive bulk migration monitor using bubbletea's Elm architecture.
//
// The TUI walks one worklist through four views:
//  1. [AssetListView] : Browse the pending assets the worklist picked up
//  2. [ConfirmView] : Confirm the run (and any original deletion)
//  3. [RunView] : Monitor per-item and overall progress
//  4. [ResultView] : Display counters, failures, and resume if paused
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Progress updates flow through a channel from the [tasks.Worklist], providing non-blocking status reporting during runs.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, y/n, p, r, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
