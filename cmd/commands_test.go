package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/mvx/internal/models"
	"github.com/desertthunder/mvx/internal/reconcile"
	"github.com/desertthunder/mvx/internal/shared"
	"github.com/desertthunder/mvx/internal/tasks"
	tu "github.com/desertthunder/mvx/internal/testing"
)

func TestCommands(t *testing.T) {
	t.Run("setup config", func(t *testing.T) {
		h := newHarness(t)
		path := filepath.Join(t.TempDir(), "mvx.toml")

		if err := h.run("setup", "config", "--config", path); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		tu.AssertFileExists(t, path)

		if err := h.run("setup", "config", "--config", path); err == nil {
			t.Error("expected an error when the file already exists")
		}
	})

	t.Run("assets list", func(t *testing.T) {
		h := newHarness(t)
		h.add("small", models.KindAudio, 100)
		h.add("large", models.KindVideo, 5000)

		if err := h.run("assets", "list", "--min-size", "1000"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		out := h.output.String()
		if !strings.Contains(out, "large") || strings.Contains(out, "small") {
			t.Errorf("expected only the large asset, got %q", out)
		}

		if err := h.run("assets", "list", "--json"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		var assets []models.Asset
		if err := json.Unmarshal(h.output.Bytes(), &assets); err != nil {
			t.Fatalf("failed to decode output: %v", err)
		}
		if len(assets) != 2 {
			t.Errorf("expected 2 assets, got %d", len(assets))
		}
	})

	t.Run("migrate", func(t *testing.T) {
		t.Run("runs every step and records the result", func(t *testing.T) {
			h := newHarness(t)
			h.add("clip", models.KindVideo, 4096)

			if err := h.run("migrate", "--json", "clip"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			var out migrateOutput
			if err := json.Unmarshal(h.output.Bytes(), &out); err != nil {
				t.Fatalf("failed to decode output: %v", err)
			}
			if out.Result.Status != models.StatusComplete {
				t.Errorf("expected status %q, got %q (%s)", models.StatusComplete, out.Result.Status, out.Result.Error)
			}
			if _, ok := h.store.Object(out.Result.Key); !ok {
				t.Errorf("expected object %q in the store", out.Result.Key)
			}
			if out.Cleanup == nil || len(out.Cleanup.Removed) == 0 {
				t.Errorf("expected temp files to be removed, got %+v", out.Cleanup)
			}
			if len(h.cms.Deleted) != 0 {
				t.Errorf("expected the original to be kept, deleted %v", h.cms.Deleted)
			}

			if err := h.run("history", "--json"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			var records []map[string]any
			if err := json.Unmarshal(h.output.Bytes(), &records); err != nil {
				t.Fatalf("failed to decode history: %v", err)
			}
			if len(records) != 1 || records[0]["assetId"] != "clip" {
				t.Errorf("expected one record for clip, got %v", records)
			}

			base := filepath.Join(t.TempDir(), "run")
			if err := h.run("history", "--export", "csv", "--out", base); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if !strings.Contains(tu.MustReadFile(t, base+"_transfers.csv"), "clip,video,complete") {
				t.Error("expected the record in the CSV export")
			}
		})

		t.Run("deletes the original when confirmed", func(t *testing.T) {
			h := newHarness(t)
			h.add("song", models.KindAudio, 2048)

			if err := h.run("migrate", "--delete-original", "--confirm-delete", "song"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if len(h.cms.Deleted) != 1 || h.cms.Deleted[0] != "file-song" {
				t.Errorf("expected file-song to be deleted, got %v", h.cms.Deleted)
			}
			if !strings.Contains(h.output.String(), "deleted original asset") {
				t.Errorf("expected deletion in summary, got %q", h.output.String())
			}
		})

		t.Run("keep-files leaves temp files", func(t *testing.T) {
			h := newHarness(t)
			h.add("clip", models.KindVideo, 1024)

			if err := h.run("migrate", "--keep-files", "clip"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			entries, err := os.ReadDir(h.config.Transfer.TempDir)
			if err != nil {
				t.Fatalf("failed to read temp dir: %v", err)
			}
			if len(entries) == 0 {
				t.Error("expected temp files to remain")
			}
		})

		t.Run("fails when the source is unreachable", func(t *testing.T) {
			h := newHarness(t)
			h.cms.AddAsset(models.Asset{ID: "gone", Kind: models.KindAudio, Size: 10, Filename: "gone.mp3", URL: h.source.URL + "/missing"})

			err := h.run("migrate", "gone")
			if !errors.Is(err, shared.ErrSourceFetch) {
				t.Errorf("expected ErrSourceFetch, got %v", err)
			}
			if !strings.Contains(h.output.String(), "Status: error") {
				t.Errorf("expected an error summary, got %q", h.output.String())
			}
		})

		for _, tc := range []struct {
			name string
			args []string
			want error
		}{
			{"missing asset id", []string{"migrate"}, shared.ErrMissingArgument},
			{"delete without confirmation", []string{"migrate", "--delete-original", "clip"}, shared.ErrConfirmRequired},
			{"unknown asset", []string{"migrate", "nope"}, shared.ErrNotFound},
		} {
			t.Run(tc.name, func(t *testing.T) {
				h := newHarness(t)
				h.add("clip", models.KindVideo, 1024)

				if err := h.run(tc.args...); !errors.Is(err, tc.want) {
					t.Errorf("expected %v, got %v", tc.want, err)
				}
			})
		}
	})

	t.Run("patch", func(t *testing.T) {
		h := newHarness(t)
		h.cms.References["old"] = []models.Reference{
			{ID: "page-1", Type: "page", FieldRef: "hero"},
			{ID: "page-2", Type: "page"},
		}

		err := h.run("patch", "--field", "media", "--value", `{"_ref":"new"}`, "--json", "old")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		var report reconcile.Report
		if err := json.Unmarshal(h.output.Bytes(), &report); err != nil {
			t.Fatalf("failed to decode report: %v", err)
		}
		if len(report.Matched) != 2 || len(report.Updated) != 2 {
			t.Errorf("expected 2 matched and updated, got %+v", report)
		}
		if h.cms.PatchCount() != 2 {
			t.Errorf("expected 2 patches, got %d", h.cms.PatchCount())
		}

		err = h.run("patch", "--value", "{not json", "old")
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("bulk run", func(t *testing.T) {
		h := newHarness(t)
		h.add("a", models.KindAudio, 1024)
		h.add("b", models.KindVideo, 2048)
		h.cms.AddAsset(models.Asset{ID: "c", Kind: models.KindAudio, Size: 10, Filename: "c.mp3", URL: h.source.URL + "/missing"})

		if err := h.run("bulk", "run"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		out := h.output.String()
		for _, want := range []string{"Completed:   2", "Errored:     1", "✗ c:"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in output, got %q", want, out)
			}
		}

		if err := h.run("bulk", "run", "--json"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		var snap tasks.WorklistSnapshot
		if err := json.Unmarshal(h.output.Bytes(), &snap); err != nil {
			t.Fatalf("failed to decode snapshot: %v", err)
		}
		if len(snap.Items) != 1 || snap.Items[0].Asset.ID != "c" {
			t.Errorf("expected only the failed asset to remain pending, got %+v", snap.Items)
		}
	})

	t.Run("sweep", func(t *testing.T) {
		h := newHarness(t)
		dir := h.config.Transfer.TempDir
		stale := filepath.Join(dir, "stale.mov")
		fresh := filepath.Join(dir, "fresh.mov")
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		tu.MustWriteFile(t, stale, 10)
		tu.MustWriteFile(t, fresh, 10)

		old := time.Now().Add(-3 * time.Hour)
		if err := os.Chtimes(stale, old, old); err != nil {
			t.Fatal(err)
		}

		if err := h.run("sweep", "--max-age", "1h"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		tu.AssertFileNotExists(t, stale)
		tu.AssertFileExists(t, fresh)
		if !strings.Contains(h.output.String(), "Removed 1 file(s)") {
			t.Errorf("unexpected output %q", h.output.String())
		}
	})
}
