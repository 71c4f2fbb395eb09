package formatter

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/mvx/internal/models"
	"github.com/desertthunder/mvx/internal/shared"
	th "github.com/desertthunder/mvx/internal/testing"
)

func testRecords() []*models.TransferRecord {
	done := models.NewTransferRecord("op-1", "clip", models.KindVideo, models.StatusComplete)
	done.OriginalSize = 50 << 20
	done.CompressedSize = 25 << 20
	done.BytesUploaded = 25 << 20
	done.CompressionRatio = "50.00%"
	done.DestinationURL = "https://cdn.example.com/media/video/clip.mp4"
	done.EndedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	partial := models.NewTransferRecord("op-2", "song", models.KindAudio, models.StatusWithoutBackendUpdate)
	partial.OriginalSize = 1 << 20
	partial.BytesUploaded = 1 << 20
	partial.DestinationURL = "https://cdn.example.com/media/audio/song.mp3"

	failed := models.NewTransferRecord("op-3", "gone", models.KindAudio, models.StatusError)
	failed.ErrorMessage = "source fetch failed: status 404"

	return []*models.TransferRecord{done, partial, failed}
}

func TestExporters(t *testing.T) {
	records := testRecords()

	t.Run("Summarize", func(t *testing.T) {
		s := Summarize(records)
		if s.Total != 3 || s.Complete != 1 || s.WithoutBackendUpdate != 1 || s.Errored != 1 {
			t.Errorf("unexpected counts %+v", s)
		}
		if s.UploadedBytes != 26<<20 {
			t.Errorf("expected 26 MiB uploaded, got %d", s.UploadedBytes)
		}
	})

	t.Run("ExportToCSV", func(t *testing.T) {
		data, err := ExportToCSV(records)
		if err != nil {
			t.Fatalf("ExportToCSV failed: %v", err)
		}

		output := string(data)
		if !strings.HasPrefix(output, "Operation,Asset,Kind,Status,Original Size,Compressed Size,Uploaded,Ratio,Destination,Error,Ended\n") {
			t.Errorf("CSV missing headers, got: %s", output)
		}
		if !strings.Contains(output, "op-1,clip,video,complete,52428800,26214400,26214400,50.00%,https://cdn.example.com/media/video/clip.mp4,,2026-03-01T12:00:00Z") {
			t.Errorf("CSV missing complete row, got: %s", output)
		}
		if !strings.Contains(output, "source fetch failed: status 404") {
			t.Errorf("CSV missing error message")
		}
		if lines := strings.Count(output, "\n"); lines != 4 {
			t.Errorf("expected 4 lines, got %d", lines)
		}
	})

	t.Run("ExportToMarkdown", func(t *testing.T) {
		data, err := ExportToMarkdown(records, "March run")
		if err != nil {
			t.Fatalf("ExportToMarkdown failed: %v", err)
		}

		output := string(data)
		for _, want := range []string{
			"# March run",
			"**Transfers**: 3",
			"**Uploaded, CMS not updated**: 1",
			"| clip | video | complete | 50.0 MiB | 50.00% | https://cdn.example.com/media/video/clip.mp4 |",
			"| gone | audio | error |",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("Markdown missing %q, got:\n%s", want, output)
			}
		}

		t.Run("default title", func(t *testing.T) {
			data, _ := ExportToMarkdown(nil, "")
			if !strings.HasPrefix(string(data), "# Transfer history") {
				t.Errorf("expected default title, got %q", data)
			}
		})
	})

	t.Run("ExportToText", func(t *testing.T) {
		data, err := ExportToText(records)
		if err != nil {
			t.Fatalf("ExportToText failed: %v", err)
		}

		output := string(data)
		if !strings.Contains(output, "Transfers: 3") {
			t.Errorf("Text missing count")
		}
		if !strings.Contains(output, "1. clip [video] complete → https://cdn.example.com/media/video/clip.mp4") {
			t.Errorf("Text missing first line, got:\n%s", output)
		}
		if !strings.Contains(output, "3. gone [audio] error: source fetch failed") {
			t.Errorf("Text missing error line, got:\n%s", output)
		}
	})

	t.Run("ToSummaryJSON", func(t *testing.T) {
		data, err := ToSummaryJSON(records)
		if err != nil {
			t.Fatalf("ToSummaryJSON failed: %v", err)
		}

		var s Summary
		if err := json.Unmarshal(data, &s); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if s.Total != 3 {
			t.Errorf("expected total 3, got %d", s.Total)
		}
	})
}

func TestWriters(t *testing.T) {
	records := testRecords()

	t.Run("WriteCSVExport", func(t *testing.T) {
		t.Run("WithDefaultPath", func(t *testing.T) {
			tempDir := t.TempDir()
			originalDir := th.MustGetwd(t)
			th.MustChdir(t, tempDir)
			defer th.MustChdir(t, originalDir)

			result, err := WriteCSVExport(records, "")
			if err != nil {
				t.Fatalf("WriteCSVExport failed: %v", err)
			}

			if result.TransfersFile != "history_transfers.csv" {
				t.Errorf("Expected transfers file 'history_transfers.csv', got '%s'", result.TransfersFile)
			}
			if result.SummaryFile != "history_summary.json" {
				t.Errorf("Expected summary file 'history_summary.json', got '%s'", result.SummaryFile)
			}

			th.AssertFileExists(t, result.TransfersFile)
			th.AssertFileExists(t, result.SummaryFile)
		})

		t.Run("WithCustomPath", func(t *testing.T) {
			base := filepath.Join(t.TempDir(), "march")

			result, err := WriteCSVExport(records, base)
			if err != nil {
				t.Fatalf("WriteCSVExport failed: %v", err)
			}

			content := th.MustReadFile(t, result.TransfersFile)
			if !strings.Contains(content, "op-2,song") {
				t.Errorf("CSV missing record data")
			}
			summary := th.MustReadFile(t, base+"_summary.json")
			if !strings.Contains(summary, `"errored": 1`) {
				t.Errorf("summary missing counts, got %s", summary)
			}
		})
	})

	t.Run("WriteMarkdownExport", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "report")

		file, err := WriteMarkdownExport(records, dir)
		if err != nil {
			t.Fatalf("WriteMarkdownExport failed: %v", err)
		}

		th.AssertDirExists(t, dir)
		if file != filepath.Join(dir, "README.md") {
			t.Errorf("unexpected file %q", file)
		}
		if !strings.Contains(th.MustReadFile(t, file), "## Transfers") {
			t.Errorf("Markdown missing table")
		}
	})

	t.Run("WriteTextExport", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "history.txt")

		file, err := WriteTextExport(records, path)
		if err != nil {
			t.Fatalf("WriteTextExport failed: %v", err)
		}
		if file != path {
			t.Errorf("expected %q, got %q", path, file)
		}
		th.AssertFileExists(t, path)
	})

	t.Run("Write", func(t *testing.T) {
		dir := t.TempDir()

		files, err := Write(records, FormatCSV, filepath.Join(dir, "run"))
		if err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if len(files) != 2 {
			t.Errorf("expected 2 files, got %v", files)
		}

		if _, err := Write(records, Format("xml"), dir); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}
