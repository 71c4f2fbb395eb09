package tasks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/mvx/internal/models"
	"github.com/desertthunder/mvx/internal/shared"
	tu "github.com/desertthunder/mvx/internal/testing"
	"github.com/desertthunder/mvx/internal/transfer"
)

type mockRecorder struct {
	mu       sync.Mutex
	records  []*models.TransferRecord
	onRecord func(*models.TransferRecord)
	err      error
}

func (m *mockRecorder) Record(record *models.TransferRecord) error {
	m.mu.Lock()
	m.records = append(m.records, record)
	hook := m.onRecord
	m.mu.Unlock()

	if hook != nil {
		hook(record)
	}
	return m.err
}

func (m *mockRecorder) assetIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(m.records))
	for i, r := range m.records {
		ids[i] = r.AssetID
	}
	return ids
}

type mockRunRecorder struct {
	mu   sync.Mutex
	runs []models.WorklistRun
}

func (m *mockRunRecorder) Save(run *models.WorklistRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *run)
	return nil
}

type fixture struct {
	orch     *Orchestrator
	cms      *tu.FakeCMS
	store    *tu.FakeStore
	source   *tu.SourceServer
	recorder *mockRecorder
	runs     *mockRunRecorder
	tempDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		cms:      tu.NewFakeCMS(),
		store:    tu.NewFakeStore(t),
		source:   tu.NewSourceServer(t),
		recorder: &mockRecorder{},
		runs:     &mockRunRecorder{},
		tempDir:  t.TempDir(),
	}
	engine := transfer.NewEngine(f.store, f.cms, &tu.FakeEncoder{}, transfer.Options{
		TempDir:   f.tempDir,
		KeyPrefix: "media",
	}, nil)
	f.orch = New(engine, f.cms, nil, WithRecorder(f.recorder), WithRunRecorder(f.runs))
	return f
}

// add registers a downloadable asset. A negative size registers no source body, so the download fails.
func (f *fixture) add(id string, kind models.Kind, size int64) models.Asset {
	url := f.source.URL + "/" + id
	if size >= 0 {
		url = f.source.Add(id, size)
	}
	ext := ".mp3"
	if kind == models.KindVideo {
		ext = ".mov"
	}
	a := models.Asset{
		ID:       id,
		Title:    "Title " + id,
		URL:      url,
		Size:     max(size, 0),
		Kind:     kind,
		Filename: id + ext,
		SourceID: "file-" + id,
	}
	f.cms.AddAsset(a)
	return a
}

func TestPhaseString(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{FetchAssets, "fetch_assets"},
		{ItemStarted, "item_started"},
		{ItemProgress, "item_progress"},
		{ItemCompleted, "item_completed"},
		{ItemFailed, "item_failed"},
		{CleanupFiles, "cleanup_files"},
		{RunPaused, "run_paused"},
		{RunFinished, "run_finished"},
		{Phase(99), ""},
	}
	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.want {
			t.Errorf("Phase(%d).String() = %q, want %q", tt.phase, got, tt.want)
		}
	}
}

func TestSession(t *testing.T) {
	ctx := context.Background()

	t.Run("Video Walks Every Step", func(t *testing.T) {
		f := newFixture(t)
		f.add("video-1", models.KindVideo, 4000)

		s, err := f.orch.NewSession(ctx, "video-1")
		if err != nil {
			t.Fatalf("NewSession failed: %v", err)
		}

		steps := []struct {
			want Step
			run  func() error
		}{
			{StepDownload, func() error { return s.Download(ctx, nil) }},
			{StepCompress, func() error { return s.Compress(ctx) }},
			{StepUpload, func() error { return s.Upload(ctx, nil) }},
			{StepReconcile, func() error { _, err := s.Reconcile(ctx); return err }},
		}
		for _, step := range steps {
			if got := s.Eligible(); got != step.want {
				t.Fatalf("expected %s to be eligible, got %s", step.want, got)
			}
			if err := step.run(); err != nil {
				t.Fatalf("%s failed: %v", step.want, err)
			}
		}

		snap := s.Snapshot()
		if snap.Eligible != StepCleanup {
			t.Errorf("expected cleanup to be eligible, got %s", snap.Eligible)
		}
		if snap.Result.Status != models.StatusComplete || snap.Result.CompressionRatio != "50.00%" {
			t.Errorf("unexpected result %+v", snap.Result)
		}

		temps := s.Operation().TempFiles()
		if len(temps) != 2 {
			t.Fatalf("expected source and compressed temp files, got %v", temps)
		}
		report, err := s.Cleanup(ctx, CleanupOptions{})
		if err != nil {
			t.Fatalf("Cleanup failed: %v", err)
		}
		if len(report.Removed) != 2 {
			t.Errorf("expected 2 removed files, got %v", report.Removed)
		}
		for _, p := range temps {
			tu.AssertFileNotExists(t, p)
		}
		if s.Eligible() != StepNone {
			t.Errorf("expected no eligible step after cleanup, got %s", s.Eligible())
		}

		if ids := f.recorder.assetIDs(); len(ids) != 1 || ids[0] != "video-1" {
			t.Errorf("expected one record for video-1, got %v", ids)
		}
	})

	t.Run("Out Of Order Step", func(t *testing.T) {
		f := newFixture(t)
		f.add("audio-1", models.KindAudio, 100)
		s, _ := f.orch.NewSession(ctx, "audio-1")

		if err := s.Upload(ctx, nil); !errors.Is(err, shared.ErrStepNotEligible) {
			t.Fatalf("expected ErrStepNotEligible, got %v", err)
		}
		if err := s.Download(ctx, nil); err != nil {
			t.Fatalf("Download failed: %v", err)
		}
		if err := s.Compress(ctx); !errors.Is(err, shared.ErrStepNotEligible) {
			t.Errorf("audio should skip compress, got %v", err)
		}
		if s.Eligible() != StepUpload {
			t.Errorf("expected upload, got %s", s.Eligible())
		}
	})

	t.Run("Failure Leaves Only Cleanup", func(t *testing.T) {
		f := newFixture(t)
		f.add("audio-2", models.KindAudio, -1)
		s, _ := f.orch.NewSession(ctx, "audio-2")

		if err := s.Download(ctx, nil); !errors.Is(err, shared.ErrSourceFetch) {
			t.Fatalf("expected ErrSourceFetch, got %v", err)
		}
		if s.Eligible() != StepCleanup {
			t.Errorf("expected cleanup, got %s", s.Eligible())
		}
		if err := s.Upload(ctx, nil); !errors.Is(err, shared.ErrStepNotEligible) {
			t.Errorf("expected ErrStepNotEligible, got %v", err)
		}
		if len(f.recorder.records) != 1 || f.recorder.records[0].Status != models.StatusError {
			t.Errorf("expected one error record, got %v", f.recorder.records)
		}
	})

	t.Run("Backend Failure Still Completes", func(t *testing.T) {
		f := newFixture(t)
		f.cms.PatchErr = errors.New("offline")
		f.add("audio-3", models.KindAudio, 100)
		s, _ := f.orch.NewSession(ctx, "audio-3")

		_ = s.Download(ctx, nil)
		_ = s.Upload(ctx, nil)
		result, err := s.Reconcile(ctx)
		if !errors.Is(err, shared.ErrBackendReconcile) {
			t.Fatalf("expected ErrBackendReconcile, got %v", err)
		}
		if result.Status != models.StatusWithoutBackendUpdate {
			t.Errorf("expected %s, got %s", models.StatusWithoutBackendUpdate, result.Status)
		}
		if s.Eligible() != StepCleanup {
			t.Errorf("expected cleanup, got %s", s.Eligible())
		}
	})

	t.Run("Idle Session Is Replaced", func(t *testing.T) {
		f := newFixture(t)
		f.add("audio-4", models.KindAudio, 100)

		first, err := f.orch.NewSession(ctx, "audio-4")
		if err != nil {
			t.Fatalf("NewSession failed: %v", err)
		}
		second, err := f.orch.NewSession(ctx, "audio-4")
		if err != nil {
			t.Fatalf("expected the idle session to be replaced, got %v", err)
		}
		if second.ID() == first.ID() {
			t.Fatal("expected a new operation id")
		}
		if _, err := f.orch.Registry().Session(first.ID()); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected replaced session to be gone, got %v", err)
		}
		if err := first.Download(ctx, nil); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected replaced session to refuse steps, got %v", err)
		}
		if err := second.Download(ctx, nil); err != nil {
			t.Errorf("Download on the new session failed: %v", err)
		}
	})

	t.Run("Running Session Keeps Asset", func(t *testing.T) {
		f := newFixture(t)
		f.add("audio-6", models.KindAudio, 100)

		first, err := f.orch.NewSession(ctx, "audio-6")
		if err != nil {
			t.Fatalf("NewSession failed: %v", err)
		}
		if err := first.begin(StepDownload); err != nil {
			t.Fatalf("begin failed: %v", err)
		}
		if _, err := f.orch.NewSession(ctx, "audio-6"); !errors.Is(err, shared.ErrAssetBusy) {
			t.Errorf("expected ErrAssetBusy, got %v", err)
		}
		if err := f.orch.Registry().Discard(first.ID()); !errors.Is(err, shared.ErrStepNotEligible) {
			t.Errorf("expected ErrStepNotEligible, got %v", err)
		}

		first.end()
		if err := f.orch.Registry().Discard(first.ID()); err != nil {
			t.Fatalf("Discard failed: %v", err)
		}
		if _, err := f.orch.NewSession(ctx, "audio-6"); err != nil {
			t.Errorf("expected a new session after discard, got %v", err)
		}
	})

	t.Run("Worklist Keeps Asset", func(t *testing.T) {
		f := newFixture(t)
		f.add("audio-7", models.KindAudio, 100)

		if err := f.orch.registry.claim("audio-7", "wl-1"); err != nil {
			t.Fatalf("claim failed: %v", err)
		}
		if _, err := f.orch.NewSession(ctx, "audio-7"); !errors.Is(err, shared.ErrAssetBusy) {
			t.Errorf("expected ErrAssetBusy, got %v", err)
		}
	})

	t.Run("Already Migrated", func(t *testing.T) {
		f := newFixture(t)
		f.cms.AddAsset(models.Asset{
			ID:       "audio-8",
			Kind:     models.KindAudio,
			URL:      f.source.URL + "/audio-8",
			Filename: "audio-8.mp3",
			Sidecar:  &models.Sidecar{URL: "https://media.example.com/media/audio/audio-8.mp3"},
		})

		if _, err := f.orch.NewSession(ctx, "audio-8"); !errors.Is(err, shared.ErrAlreadyMigrated) {
			t.Errorf("expected ErrAlreadyMigrated, got %v", err)
		}
	})

	t.Run("Unknown Asset", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.orch.NewSession(ctx, "missing"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := f.orch.NewSession(ctx, ""); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("Registry Lookup", func(t *testing.T) {
		f := newFixture(t)
		f.add("audio-5", models.KindAudio, 100)
		s, _ := f.orch.NewSession(ctx, "audio-5")

		got, err := f.orch.Registry().Session(s.ID())
		if err != nil || got != s {
			t.Errorf("expected registered session, got %v, %v", got, err)
		}
		if _, err := f.orch.Registry().Session("nope"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		req         CleanupRequest
		deleteErr   error
		wantErr     error
		wantRemoved int
		wantDeleted bool
		wantFailed  int
	}{
		{
			name:        "removes temp files",
			req:         CleanupRequest{AssetID: "a"},
			wantRemoved: 2,
		},
		{
			name:    "delete without confirm",
			req:     CleanupRequest{AssetID: "a", OriginalID: "file-a", DeleteOriginal: true},
			wantErr: shared.ErrConfirmRequired,
		},
		{
			name:        "delete with confirm",
			req:         CleanupRequest{AssetID: "a", OriginalID: "file-a", DeleteOriginal: true, ConfirmDelete: true},
			wantRemoved: 2,
			wantDeleted: true,
		},
		{
			name:        "delete failure is collected",
			req:         CleanupRequest{AssetID: "a", OriginalID: "file-a", DeleteOriginal: true, ConfirmDelete: true},
			deleteErr:   errors.New("permission denied"),
			wantRemoved: 2,
			wantFailed:  1,
		},
		{
			name:        "missing original reference",
			req:         CleanupRequest{AssetID: "a", DeleteOriginal: true, ConfirmDelete: true},
			wantRemoved: 2,
			wantFailed:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.cms.DeleteErr = tt.deleteErr

			dir := t.TempDir()
			paths := []string{filepath.Join(dir, "a.mov"), filepath.Join(dir, "a.compressed.mp4"), filepath.Join(dir, "gone.mp4")}
			tu.MustWriteFile(t, paths[0], 10)
			tu.MustWriteFile(t, paths[1], 5)
			tt.req.Paths = paths

			report, err := f.orch.Cleanup(ctx, tt.req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				tu.AssertFileExists(t, paths[0])
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(report.Removed) != tt.wantRemoved {
				t.Errorf("expected %d removed, got %v", tt.wantRemoved, report.Removed)
			}
			if report.DeletedOriginal != tt.wantDeleted {
				t.Errorf("expected deleted=%v, got %v", tt.wantDeleted, report.DeletedOriginal)
			}
			if len(report.Failures) != tt.wantFailed {
				t.Errorf("expected %d failures, got %v", tt.wantFailed, report.Failures)
			}
			if tt.wantDeleted && (len(f.cms.Deleted) != 1 || f.cms.Deleted[0] != "file-a") {
				t.Errorf("expected file-a deleted, got %v", f.cms.Deleted)
			}
		})
	}
}

func TestWorklist(t *testing.T) {
	ctx := context.Background()

	t.Run("Runs All In Order And Records Errors", func(t *testing.T) {
		f := newFixture(t)
		f.add("a1", models.KindAudio, 300)
		f.add("a2", models.KindAudio, -1)
		f.add("a3", models.KindAudio, 500)

		w, err := f.orch.NewWorklist(ctx, WorklistOptions{})
		if err != nil {
			t.Fatalf("NewWorklist failed: %v", err)
		}

		snap, err := w.RunAll(ctx)
		if err != nil {
			t.Fatalf("RunAll failed: %v", err)
		}

		if snap.Completed != 2 || snap.Errored != 1 {
			t.Errorf("expected 2 completed and 1 errored, got %d and %d", snap.Completed, snap.Errored)
		}
		if snap.BytesTransferred != 800 {
			t.Errorf("expected 800 bytes, got %d", snap.BytesTransferred)
		}

		wantStates := []ItemState{ItemComplete, ItemError, ItemComplete}
		for i, item := range snap.Items {
			if item.State != wantStates[i] {
				t.Errorf("item %d: expected %s, got %s", i, wantStates[i], item.State)
			}
		}
		if snap.Items[1].Error == "" {
			t.Error("expected error text on failed item")
		}

		ids := f.recorder.assetIDs()
		if len(ids) != 3 || ids[0] != "a1" || ids[1] != "a2" || ids[2] != "a3" {
			t.Errorf("expected each item recorded once in order, got %v", ids)
		}

		if _, ok, err := w.ProcessNext(ctx); ok || err != nil {
			t.Errorf("expected exhausted worklist, got ok=%v err=%v", ok, err)
		}
		if len(f.runs.runs) == 0 || f.runs.runs[len(f.runs.runs)-1].Completed != 2 {
			t.Errorf("expected saved run summary, got %+v", f.runs.runs)
		}
	})

	t.Run("Process Next Runs One Item", func(t *testing.T) {
		f := newFixture(t)
		f.add("a1", models.KindAudio, 100)
		f.add("a2", models.KindAudio, 100)
		w, _ := f.orch.NewWorklist(ctx, WorklistOptions{})

		item, ok, err := w.ProcessNext(ctx)
		if err != nil || !ok {
			t.Fatalf("ProcessNext failed: ok=%v err=%v", ok, err)
		}
		if item.Asset.ID != "a1" || item.State != ItemComplete {
			t.Errorf("unexpected item %+v", item)
		}

		snap := w.Snapshot()
		if snap.Cursor != 1 || snap.Remaining() != 1 || snap.Items[1].State != ItemPending {
			t.Errorf("expected one attempted item, got %+v", snap)
		}
	})

	t.Run("Pause And Resume", func(t *testing.T) {
		f := newFixture(t)
		f.add("a1", models.KindAudio, 100)
		f.add("a2", models.KindAudio, 100)
		f.add("a3", models.KindAudio, 100)
		w, _ := f.orch.NewWorklist(ctx, WorklistOptions{})

		f.recorder.onRecord = func(*models.TransferRecord) { w.Pause() }

		snap, err := w.RunAll(ctx)
		if err != nil {
			t.Fatalf("RunAll failed: %v", err)
		}
		if !snap.Paused || snap.Cursor != 1 || snap.Completed != 1 {
			t.Fatalf("expected pause after the first item, got %+v", snap)
		}

		f.recorder.onRecord = nil
		snap, err = w.RunAll(ctx)
		if err != nil {
			t.Fatalf("RunAll failed: %v", err)
		}
		if snap.Paused || snap.Remaining() != 0 || snap.Completed != 3 {
			t.Errorf("expected resumed run to finish, got %+v", snap)
		}
		if ids := f.recorder.assetIDs(); len(ids) != 3 {
			t.Errorf("expected no item attempted twice, got %v", ids)
		}
	})

	t.Run("Concurrent Run Is Rejected", func(t *testing.T) {
		f := newFixture(t)
		f.add("a1", models.KindAudio, 100)
		w, _ := f.orch.NewWorklist(ctx, WorklistOptions{})

		w.running = true
		if _, err := w.RunAll(ctx); !errors.Is(err, shared.ErrWorklistBusy) {
			t.Errorf("expected ErrWorklistBusy, got %v", err)
		}
		if _, _, err := w.ProcessNext(ctx); !errors.Is(err, shared.ErrWorklistBusy) {
			t.Errorf("expected ErrWorklistBusy, got %v", err)
		}
	})

	t.Run("Remove", func(t *testing.T) {
		f := newFixture(t)
		f.add("a1", models.KindAudio, 100)
		w, _ := f.orch.NewWorklist(ctx, WorklistOptions{})

		w.running = true
		if err := f.orch.Registry().RemoveWorklist(w.ID()); !errors.Is(err, shared.ErrWorklistBusy) {
			t.Errorf("expected ErrWorklistBusy, got %v", err)
		}

		w.running = false
		if err := f.orch.Registry().RemoveWorklist(w.ID()); err != nil {
			t.Fatalf("RemoveWorklist failed: %v", err)
		}
		if _, err := f.orch.Registry().Worklist(w.ID()); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := f.orch.Registry().RemoveWorklist(w.ID()); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound on second remove, got %v", err)
		}
	})

	t.Run("Cancelled Context Stops Between Items", func(t *testing.T) {
		f := newFixture(t)
		f.add("a1", models.KindAudio, 100)
		w, _ := f.orch.NewWorklist(ctx, WorklistOptions{})

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		snap, err := w.RunAll(cctx)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if snap.Cursor != 0 || snap.Items[0].State != ItemPending {
			t.Errorf("no item should be attempted, got %+v", snap)
		}
	})

	t.Run("Filters", func(t *testing.T) {
		f := newFixture(t)
		f.add("small", models.KindAudio, 10)
		f.add("big", models.KindVideo, 5000)
		f.add("bigger", models.KindVideo, 9000)
		f.cms.AddAsset(models.Asset{
			ID: "done", Kind: models.KindVideo, URL: "https://cdn.example.com/done.mov", Size: 9999,
			Sidecar: &models.Sidecar{URL: "https://media.example.com/media/video/done.mp4"},
		})

		tests := []struct {
			name string
			opts WorklistOptions
			want []string
		}{
			{name: "all pending", opts: WorklistOptions{}, want: []string{"small", "big", "bigger"}},
			{name: "min size", opts: WorklistOptions{MinSize: 1000}, want: []string{"big", "bigger"}},
			{name: "ids", opts: WorklistOptions{IDs: []string{"bigger", "small"}}, want: []string{"small", "bigger"}},
			{name: "ids and min size", opts: WorklistOptions{IDs: []string{"small", "bigger"}, MinSize: 1000}, want: []string{"bigger"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				w, err := f.orch.NewWorklist(ctx, tt.opts)
				if err != nil {
					t.Fatalf("NewWorklist failed: %v", err)
				}
				snap := w.Snapshot()
				if len(snap.Items) != len(tt.want) {
					t.Fatalf("expected %v, got %d items", tt.want, len(snap.Items))
				}
				for i, id := range tt.want {
					if snap.Items[i].Asset.ID != id {
						t.Errorf("item %d: expected %s, got %s", i, id, snap.Items[i].Asset.ID)
					}
				}
			})
		}
	})

	t.Run("Delete Original Needs Confirm", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.orch.NewWorklist(ctx, WorklistOptions{DeleteOriginal: true}); !errors.Is(err, shared.ErrConfirmRequired) {
			t.Errorf("expected ErrConfirmRequired, got %v", err)
		}
	})

	t.Run("Auto Cleanup And Delete Original", func(t *testing.T) {
		f := newFixture(t)
		f.add("v1", models.KindVideo, 400)
		f.add("v2", models.KindVideo, -1)
		w, _ := f.orch.NewWorklist(ctx, WorklistOptions{AutoCleanup: true, DeleteOriginal: true, ConfirmDelete: true})

		if _, err := w.RunAll(ctx); err != nil {
			t.Fatalf("RunAll failed: %v", err)
		}

		entries, err := os.ReadDir(f.tempDir)
		if err != nil {
			t.Fatalf("ReadDir failed: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("expected empty temp dir, got %d entries", len(entries))
		}
		if len(f.cms.Deleted) != 1 || f.cms.Deleted[0] != "file-v1" {
			t.Errorf("expected only the successful item's original deleted, got %v", f.cms.Deleted)
		}
	})

	t.Run("Progress Never Blocks", func(t *testing.T) {
		f := newFixture(t)
		f.add("a1", models.KindAudio, 100)
		f.add("a2", models.KindAudio, 100)
		w, _ := f.orch.NewWorklist(ctx, WorklistOptions{})

		blocked := make(chan ProgressUpdate)
		w.SetProgress(blocked)

		done := make(chan struct{})
		go func() {
			_, _ = w.RunAll(ctx)
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Fatal("RunAll blocked on an unread progress channel")
		}
	})

	t.Run("Progress Updates", func(t *testing.T) {
		f := newFixture(t)
		f.add("a1", models.KindAudio, 100)
		f.add("a2", models.KindAudio, -1)
		w, _ := f.orch.NewWorklist(ctx, WorklistOptions{})

		updates := make(chan ProgressUpdate, 256)
		w.SetProgress(updates)
		if _, err := w.RunAll(ctx); err != nil {
			t.Fatalf("RunAll failed: %v", err)
		}
		close(updates)

		counts := map[Phase]int{}
		for u := range updates {
			counts[u.Phase]++
		}
		if counts[ItemStarted] != 2 || counts[ItemCompleted] != 1 || counts[ItemFailed] != 1 || counts[RunFinished] != 1 || counts[FetchAssets] != 1 {
			t.Errorf("unexpected update counts %v", counts)
		}
	})
}

func TestSweeper(t *testing.T) {
	t.Run("Removes Only Old Files", func(t *testing.T) {
		dir := t.TempDir()
		oldPath := filepath.Join(dir, "old.mov")
		newPath := filepath.Join(dir, "new.mov")
		tu.MustWriteFile(t, oldPath, 10)
		tu.MustWriteFile(t, newPath, 10)
		if err := os.Mkdir(filepath.Join(dir, "nested"), 0755); err != nil {
			t.Fatal(err)
		}

		past := time.Now().Add(-48 * time.Hour)
		if err := os.Chtimes(oldPath, past, past); err != nil {
			t.Fatal(err)
		}

		s := NewSweeper(dir, 24*time.Hour, nil)
		removed, err := s.Sweep()
		if err != nil {
			t.Fatalf("Sweep failed: %v", err)
		}
		if len(removed) != 1 || removed[0] != oldPath {
			t.Errorf("expected only old file removed, got %v", removed)
		}
		tu.AssertFileNotExists(t, oldPath)
		tu.AssertFileExists(t, newPath)
		tu.AssertDirExists(t, filepath.Join(dir, "nested"))
	})

	t.Run("Missing Directory", func(t *testing.T) {
		s := NewSweeper(filepath.Join(t.TempDir(), "absent"), time.Hour, nil)
		if removed, err := s.Sweep(); err != nil || len(removed) != 0 {
			t.Errorf("expected no-op, got %v, %v", removed, err)
		}
	})

	t.Run("Schedule", func(t *testing.T) {
		s := NewSweeper(t.TempDir(), time.Hour, nil)
		if err := s.Start("not a schedule"); !errors.Is(err, shared.ErrConfiguration) {
			t.Errorf("expected ErrConfiguration, got %v", err)
		}
		if err := s.Start("0 */5 * * * *"); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		s.Stop()
	})
}
