package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/mvx/internal/models"
	"github.com/desertthunder/mvx/internal/shared"
	"github.com/desertthunder/mvx/internal/tasks"
	"github.com/desertthunder/mvx/internal/transfer"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	AssetListView ViewState = iota
	ConfirmView
	RunView
	ResultView
)

const logLines = 8

// Model represents the TUI application state.
type Model struct {
	ctx      context.Context
	view     ViewState
	orch     *tasks.Orchestrator
	opts     tasks.WorklistOptions
	width    int
	height   int
	list     list.Model
	worklist *tasks.Worklist

	progressChan chan tasks.ProgressUpdate
	done         chan runResult
	last         tasks.ProgressUpdate
	stage        string
	itemPercent  float64
	itemBar      progress.Model
	overallBar   progress.Model
	log          []string
	pausing      bool

	snapshot tasks.WorklistSnapshot
	err      error
	help     help.Model
	keys     keyMap
}

// NewModel creates a new TUI model that will build a worklist from opts.
func NewModel(ctx context.Context, orch *tasks.Orchestrator, opts tasks.WorklistOptions) *Model {
	return &Model{
		ctx:        ctx,
		view:       AssetListView,
		orch:       orch,
		opts:       opts,
		itemBar:    progress.New(progress.WithDefaultGradient()),
		overallBar: progress.New(progress.WithSolidFill("#04B575")),
		help:       help.New(),
		keys:       newKeyMap(),
	}
}

// Init initializes the TUI by listing pending assets into a new worklist.
func (m *Model) Init() tea.Cmd {
	return m.createWorklist()
}

// Snapshot returns the last known worklist state.
func (m *Model) Snapshot() tasks.WorklistSnapshot {
	return m.snapshot
}

// Err returns the error that ended the session, if any.
func (m *Model) Err() error {
	return m.err
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.worklist != nil {
			m.list.SetSize(msg.Width-4, msg.Height-8)
		}
		m.itemBar.Width = min(max(msg.Width-20, 20), 80)
		m.overallBar.Width = m.itemBar.Width
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case AssetListView:
			return m.handleAssetListKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case RunView:
			return m.handleRunKeys(msg)
		case ResultView:
			return m.handleResultKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateList(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgWorklistReady:
		data := msg.data.(struct {
			worklist *tasks.Worklist
			err      error
		})
		if data.err != nil {
			m.err = data.err
			return m, tea.Quit
		}
		m.worklist = data.worklist
		m.snapshot = data.worklist.Snapshot()

		items := make([]list.Item, len(m.snapshot.Items))
		for i, it := range m.snapshot.Items {
			items[i] = assetItem{asset: it.Asset}
		}
		m.list = list.New(items, list.NewDefaultDelegate(), 0, 0)
		m.list.Title = fmt.Sprintf("Pending Assets (%d)", len(items))
		m.list.SetSize(m.width-4, m.height-8)
		return m, nil

	case MsgProgressUpdate:
		m.apply(msg.data.(tasks.ProgressUpdate))
		return m, m.waitForProgress()

	case MsgRunComplete:
		result := msg.data.(runResult)
		m.snapshot = result.snapshot
		m.err = result.err
		m.pausing = false
		m.progressChan = nil
		m.done = nil
		m.view = ResultView
		return m, nil
	}
	return m, nil
}

// apply folds one progress update into the run view state.
func (m *Model) apply(update tasks.ProgressUpdate) {
	m.last = update

	switch update.Phase {
	case tasks.ItemStarted:
		m.itemPercent = 0
		m.stage = string(transfer.StatePending)
	case tasks.ItemProgress:
		if data, ok := update.Data.(tasks.ItemProgressData); ok {
			m.itemPercent = data.Percent / 100
			m.stage = data.Stage
		}
		return
	case tasks.ItemCompleted, tasks.ItemFailed:
		m.itemPercent = 1
	}

	m.log = append(m.log, update.Message)
	if len(m.log) > logLines {
		m.log = m.log[len(m.log)-logLines:]
	}
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.err != nil && m.view != ResultView {
		return styles.err.Render(fmt.Sprintf("Error: %v\n\nPress q to quit", m.err))
	}

	switch m.view {
	case AssetListView:
		return m.renderAssetList()
	case ConfirmView:
		return m.renderConfirm()
	case RunView:
		return m.renderRun()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) handleAssetListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.enter):
		if m.worklist != nil && len(m.snapshot.Items) > 0 {
			m.view = ConfirmView
		}
		return m, nil
	}
	if m.worklist == nil {
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit), key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.back):
		m.view = AssetListView
		return m, nil
	case key.Matches(msg, m.keys.yes):
		m.view = RunView
		return m, m.startRun()
	}
	return m, nil
}

func (m *Model) handleRunKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.pause):
		if m.worklist != nil {
			m.worklist.Pause()
			m.pausing = true
		}
	case msg.String() == "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.resume):
		if m.snapshot.Remaining() > 0 && m.err == nil {
			m.view = RunView
			return m, m.startRun()
		}
	}
	return m, nil
}

func (m *Model) updateList(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.view != AssetListView || m.worklist == nil {
		return m, nil
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *Model) createWorklist() tea.Cmd {
	return func() tea.Msg {
		w, err := m.orch.NewWorklist(m.ctx, m.opts)
		return worklistReadyMsg(w, err)
	}
}

// startRun runs the worklist in the background. The progress channel is never closed; the run's end
// arrives on done instead, since the worklist may still hold the channel when RunAll returns.
func (m *Model) startRun() tea.Cmd {
	m.progressChan = make(chan tasks.ProgressUpdate, 64)
	m.done = make(chan runResult, 1)
	w, progressChan, done := m.worklist, m.progressChan, m.done

	go func() {
		w.SetProgress(progressChan)
		snap, err := w.RunAll(m.ctx)
		w.SetProgress(nil)
		done <- runResult{snapshot: snap, err: err}
	}()

	return m.waitForProgress()
}

func (m *Model) waitForProgress() tea.Cmd {
	progressChan, done := m.progressChan, m.done
	return func() tea.Msg {
		if progressChan == nil {
			return runCompleteMsg(m.snapshot, m.err)
		}

		select {
		case update := <-progressChan:
			return progressUpdateMsg(update)
		case result := <-done:
			return runCompleteMsg(result.snapshot, result.err)
		}
	}
}

func (m *Model) renderAssetList() string {
	if m.worklist == nil {
		return styles.muted.Render("Listing pending assets...")
	}
	if len(m.snapshot.Items) == 0 {
		return fmt.Sprintf("%s\n\n%s", styles.ok.Render("✓ Nothing to migrate"), m.help.ShortHelpView([]key.Binding{m.keys.quit}))
	}
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.enter, m.keys.up, m.keys.down, m.keys.quit})
	return fmt.Sprintf("%s\n\n%s", m.list.View(), helpView)
}

func (m *Model) renderConfirm() string {
	var total int64
	for _, it := range m.snapshot.Items {
		total += it.Asset.Size
	}

	title := styles.title.Render(fmt.Sprintf("Migrate %d assets?", len(m.snapshot.Items)))
	info := fmt.Sprintf("\nSource bytes: %s\nAuto cleanup: %t\n", shared.FormatBytes(total), m.opts.AutoCleanup)
	if m.opts.DeleteOriginal {
		info += styles.warn.Render("Originals will be deleted from the CMS after each successful item.") + "\n"
	}

	helpView := m.help.ShortHelpView([]key.Binding{m.keys.yes, m.keys.no})
	return fmt.Sprintf("%s\n%s\n%s", title, info, helpView)
}

func (m *Model) renderRun() string {
	var b strings.Builder
	b.WriteString(styles.title.Render("Migrating Assets"))
	b.WriteString("\n\n")

	overall := 0.0
	if m.last.Total > 0 {
		done := m.last.Step - 1
		if m.last.Phase == tasks.ItemCompleted || m.last.Phase == tasks.ItemFailed || m.last.Phase == tasks.CleanupFiles {
			done = m.last.Step
		}
		overall = float64(max(done, 0)) / float64(m.last.Total)
	}
	fmt.Fprintf(&b, "Overall  %s  %d/%d\n", m.overallBar.ViewAs(overall), max(m.last.Step, 0), m.last.Total)
	fmt.Fprintf(&b, "Item     %s  %s\n\n", m.itemBar.ViewAs(m.itemPercent), m.stage)

	for _, line := range m.log {
		b.WriteString(styles.muted.Render(line))
		b.WriteString("\n")
	}

	if m.pausing {
		b.WriteString("\n")
		b.WriteString(styles.warn.Render("Pausing after the current item..."))
	}
	b.WriteString("\n")
	b.WriteString(m.help.ShortHelpView([]key.Binding{m.keys.pause}))
	return b.String()
}

func (m *Model) renderResult() string {
	snap := m.snapshot

	var title string
	switch {
	case m.err != nil:
		title = styles.err.Render(fmt.Sprintf("Run stopped: %v", m.err))
	case snap.Paused:
		title = styles.warn.Render(fmt.Sprintf("Paused with %d remaining", snap.Remaining()))
	default:
		title = styles.ok.Render("✓ Run Complete!")
	}

	info := fmt.Sprintf(
		"\nCompleted: %d\nErrored: %d\nTransferred: %s",
		snap.Completed,
		snap.Errored,
		shared.FormatBytes(snap.BytesTransferred),
	)

	var failed string
	if snap.Errored > 0 {
		failed = fmt.Sprintf("\n\n%s", styles.warn.Render(fmt.Sprintf("%d items failed:", snap.Errored)))
		for _, it := range snap.Items {
			if it.State == tasks.ItemError {
				failed += fmt.Sprintf("\n  %s %s - %s", styles.badge(it.State), it.Asset.ID, it.Error)
			}
		}
	}

	var unsynced string
	for _, it := range snap.Items {
		if it.Result != nil && it.Result.Status == models.StatusWithoutBackendUpdate {
			unsynced += fmt.Sprintf("\n  %s %s", styles.badge(it.State), it.Asset.ID)
		}
	}
	if unsynced != "" {
		unsynced = "\n\n" + styles.warn.Render("Uploaded but not patched in the CMS:") + unsynced
	}

	helpKeys := []key.Binding{m.keys.quit}
	if snap.Remaining() > 0 && m.err == nil {
		helpKeys = []key.Binding{m.keys.resume, m.keys.quit}
	}
	return fmt.Sprintf("%s\n%s%s%s\n\n%s", title, info, failed, unsynced, m.help.ShortHelpView(helpKeys))
}
