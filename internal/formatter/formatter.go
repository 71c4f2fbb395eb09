// package formatter exports transfer history to CSV, Markdown and plain text
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/desertthunder/mvx/internal/models"
	"github.com/desertthunder/mvx/internal/shared"
)

// Format names an export format.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "md"
	FormatText     Format = "txt"
)

// Summary counts transfer outcomes by status.
type Summary struct {
	Total                int   `json:"total"`
	Complete             int   `json:"complete"`
	WithoutBackendUpdate int   `json:"withoutBackendUpdate"`
	Errored              int   `json:"errored"`
	OriginalBytes        int64 `json:"originalBytes"`
	UploadedBytes        int64 `json:"uploadedBytes"`
}

// Summarize tallies records.
func Summarize(records []*models.TransferRecord) Summary {
	s := Summary{Total: len(records)}
	for _, r := range records {
		switch r.Status {
		case models.StatusComplete:
			s.Complete++
		case models.StatusWithoutBackendUpdate:
			s.WithoutBackendUpdate++
		case models.StatusError:
			s.Errored++
		}
		s.OriginalBytes += r.OriginalSize
		s.UploadedBytes += r.BytesUploaded
	}
	return s
}

func endedAt(r *models.TransferRecord) string {
	if r.EndedAt.IsZero() {
		return ""
	}
	return r.EndedAt.UTC().Format(time.RFC3339)
}

// ExportToCSV converts records to CSV with columns: Operation, Asset, Kind, Status, Original Size,
// Compressed Size, Uploaded, Ratio, Destination, Error, Ended
func ExportToCSV(records []*models.TransferRecord) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Operation", "Asset", "Kind", "Status", "Original Size", "Compressed Size", "Uploaded", "Ratio", "Destination", "Error", "Ended"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, r := range records {
		record := []string{
			r.OperationID,
			r.AssetID,
			string(r.Kind),
			r.Status,
			strconv.FormatInt(r.OriginalSize, 10),
			strconv.FormatInt(r.CompressedSize, 10),
			strconv.FormatInt(r.BytesUploaded, 10),
			r.CompressionRatio,
			r.DestinationURL,
			r.ErrorMessage,
			endedAt(r),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown renders records as a summary followed by a table
func ExportToMarkdown(records []*models.TransferRecord, title string) ([]byte, error) {
	var buf bytes.Buffer
	summary := Summarize(records)

	if title == "" {
		title = "Transfer history"
	}
	buf.WriteString(fmt.Sprintf("# %s\n\n", title))
	buf.WriteString(fmt.Sprintf("**Transfers**: %d\n", summary.Total))
	buf.WriteString(fmt.Sprintf("**Complete**: %d\n", summary.Complete))
	if summary.WithoutBackendUpdate > 0 {
		buf.WriteString(fmt.Sprintf("**Uploaded, CMS not updated**: %d\n", summary.WithoutBackendUpdate))
	}
	buf.WriteString(fmt.Sprintf("**Errored**: %d\n", summary.Errored))
	buf.WriteString(fmt.Sprintf("**Uploaded**: %s of %s\n\n", shared.FormatBytes(summary.UploadedBytes), shared.FormatBytes(summary.OriginalBytes)))

	buf.WriteString("## Transfers\n\n")
	buf.WriteString("| Asset | Kind | Status | Size | Ratio | Destination |\n")
	buf.WriteString("|---|---|---|---|---|---|\n")
	for _, r := range records {
		dest := r.DestinationURL
		if r.ErrorMessage != "" {
			dest = r.ErrorMessage
		}
		buf.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s |\n",
			r.AssetID, r.Kind, r.Status, shared.FormatBytes(r.OriginalSize), r.CompressionRatio, dest))
	}

	return buf.Bytes(), nil
}

// ExportToText converts records to one line each
func ExportToText(records []*models.TransferRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Transfers: %d\n\n", len(records)))
	for i, r := range records {
		buf.WriteString(fmt.Sprintf("%d. %s [%s] %s", i+1, r.AssetID, r.Kind, r.Status))
		if r.DestinationURL != "" {
			buf.WriteString(" → " + r.DestinationURL)
		}
		if r.ErrorMessage != "" {
			buf.WriteString(": " + r.ErrorMessage)
		}
		buf.WriteString("\n")
	}

	return buf.Bytes(), nil
}

// ToSummaryJSON generates an indented JSON [Summary] of records
func ToSummaryJSON(records []*models.TransferRecord) ([]byte, error) {
	return json.MarshalIndent(Summarize(records), "", "  ")
}

// CSVExportResult contains the paths of files created by WriteCSVExport
type CSVExportResult struct {
	TransfersFile string
	SummaryFile   string
}

// WriteCSVExport writes {base}_transfers.csv and {base}_summary.json.
//
// The base defaults to "history".
func WriteCSVExport(records []*models.TransferRecord, baseFilepath string) (*CSVExportResult, error) {
	if baseFilepath == "" {
		baseFilepath = "history"
	}

	csvData, err := ExportToCSV(records)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CSV: %w", err)
	}

	transfersFile := baseFilepath + "_transfers.csv"
	if err := os.WriteFile(transfersFile, csvData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write CSV file: %w", err)
	}

	summaryJSON, err := ToSummaryJSON(records)
	if err != nil {
		return nil, fmt.Errorf("failed to generate summary JSON: %w", err)
	}

	summaryFile := baseFilepath + "_summary.json"
	if err := os.WriteFile(summaryFile, summaryJSON, 0644); err != nil {
		return nil, fmt.Errorf("failed to write summary file: %w", err)
	}

	return &CSVExportResult{
		TransfersFile: transfersFile,
		SummaryFile:   summaryFile,
	}, nil
}

// WriteMarkdownExport writes {dir}/README.md. The directory defaults to "history" and is created if missing.
func WriteMarkdownExport(records []*models.TransferRecord, outputDir string) (string, error) {
	if outputDir == "" {
		outputDir = "history"
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	mdData, err := ExportToMarkdown(records, "")
	if err != nil {
		return "", fmt.Errorf("failed to generate Markdown: %w", err)
	}

	mdFile := filepath.Join(outputDir, "README.md")
	if err := os.WriteFile(mdFile, mdData, 0644); err != nil {
		return "", fmt.Errorf("failed to write Markdown file: %w", err)
	}

	return mdFile, nil
}

// WriteTextExport writes records as plain text. Defaults to history.txt.
func WriteTextExport(records []*models.TransferRecord, path string) (string, error) {
	if path == "" {
		path = "history.txt"
	}

	textData, err := ExportToText(records)
	if err != nil {
		return "", fmt.Errorf("failed to generate text: %w", err)
	}

	if err := os.WriteFile(path, textData, 0644); err != nil {
		return "", fmt.Errorf("failed to write text file: %w", err)
	}

	return path, nil
}

// Write exports records in format to path and returns the files written.
func Write(records []*models.TransferRecord, format Format, path string) ([]string, error) {
	switch format {
	case FormatCSV:
		result, err := WriteCSVExport(records, path)
		if err != nil {
			return nil, err
		}
		return []string{result.TransfersFile, result.SummaryFile}, nil
	case FormatMarkdown:
		file, err := WriteMarkdownExport(records, path)
		if err != nil {
			return nil, err
		}
		return []string{file}, nil
	case FormatText:
		file, err := WriteTextExport(records, path)
		if err != nil {
			return nil, err
		}
		return []string{file}, nil
	default:
		return nil, fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidInput, format)
	}
}
