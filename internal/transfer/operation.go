package transfer

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/mvx/internal/models"
	"github.com/desertthunder/mvx/internal/shared"
)

// Operation is the in-memory state of one asset transfer. Nothing about it is persisted while it runs.
//
// Byte counters never decrease.
type Operation struct {
	mu sync.Mutex

	ID    string
	Asset models.Asset

	state      State
	downloaded int64
	uploaded   int64
	total      int64

	sourcePath       string
	compressedPath   string
	originalSize     int64
	compressedSize   int64
	compressionRatio string
	key              string
	destinationURL   string
	backendUpdated   bool
	warning          string
	err              error

	startedAt time.Time
	endedAt   time.Time
}

// NewOperation creates a pending operation for asset with a fresh id.
func NewOperation(asset models.Asset) *Operation {
	return &Operation{
		ID:    shared.GenerateID(),
		Asset: asset,
		state: StatePending,
	}
}

// State returns the current state.
func (o *Operation) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Transition moves the operation to next or returns [shared.ErrInvalidTransition].
func (o *Operation) Transition(next State) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transition(next)
}

func (o *Operation) transition(next State) error {
	if !o.state.CanTransition(next) {
		return invalidTransition(o.state, next)
	}
	if o.state == StatePending {
		o.startedAt = time.Now()
	}
	o.state = next
	if next.Terminal() {
		o.endedAt = time.Now()
	}
	return nil
}

// Fail moves the operation to error and records err. It returns err for convenience.
func (o *Operation) Fail(err error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Terminal() {
		return err
	}
	o.err = err
	_ = o.transition(StateError)
	return err
}

// expect returns [shared.ErrInvalidTransition] unless the operation is in state want.
func (o *Operation) expect(want State) error {
	if got := o.State(); got != want {
		return invalidTransition(got, want)
	}
	return nil
}

func (o *Operation) setDownloaded(n int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n > o.downloaded {
		o.downloaded = n
	}
}

func (o *Operation) setUploaded(n int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n > o.uploaded {
		o.uploaded = n
	}
}

func (o *Operation) update(fn func(o *Operation)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(o)
}

// PayloadPath returns the file that will be uploaded: the transcoded output if there is one.
func (o *Operation) PayloadPath() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.compressedPath != "" {
		return o.compressedPath
	}
	return o.sourcePath
}

// TempFiles lists local files owned by the operation that still exist.
func (o *Operation) TempFiles() []string {
	o.mu.Lock()
	paths := []string{o.sourcePath, o.compressedPath}
	o.mu.Unlock()

	var existing []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	return existing
}

// Err returns the error that ended the operation, if any.
func (o *Operation) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// uploadName is the object filename: the source name, or its stem with .mp4 after a transcode.
func (o *Operation) uploadName() string {
	o.mu.Lock()
	defer o.mu.Unlock()

	name := o.Asset.Filename
	if name == "" {
		name = o.Asset.ID
	}
	if o.compressedPath != "" {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".mp4"
	}
	return shared.SanitizeFilename(name)
}

// Result is the terminal outcome of an operation.
type Result struct {
	OperationID      string    `json:"operationId"`
	AssetID          string    `json:"assetId"`
	Status           string    `json:"status"`
	Downloaded       int64     `json:"downloaded"`
	Uploaded         int64     `json:"uploaded"`
	OriginalSize     int64     `json:"originalSize"`
	CompressedSize   int64     `json:"compressedSize,omitempty"`
	CompressionRatio string    `json:"compressionRatio,omitempty"`
	DestinationURL   string    `json:"destinationUrl,omitempty"`
	Key              string    `json:"key,omitempty"`
	BackendUpdated   bool      `json:"backendUpdated"`
	Error            string    `json:"error,omitempty"`
	Warning          string    `json:"warning,omitempty"`
	StartedAt        time.Time `json:"startedAt"`
	EndedAt          time.Time `json:"endedAt,omitzero"`
}

// Result snapshots the operation. Status is empty until the operation is terminal.
func (o *Operation) Result() Result {
	o.mu.Lock()
	defer o.mu.Unlock()

	r := Result{
		OperationID:      o.ID,
		AssetID:          o.Asset.ID,
		Downloaded:       o.downloaded,
		Uploaded:         o.uploaded,
		OriginalSize:     o.originalSize,
		CompressedSize:   o.compressedSize,
		CompressionRatio: o.compressionRatio,
		DestinationURL:   o.destinationURL,
		Key:              o.key,
		BackendUpdated:   o.backendUpdated,
		Warning:          o.warning,
		StartedAt:        o.startedAt,
		EndedAt:          o.endedAt,
	}

	switch {
	case o.state == StateError:
		r.Status = models.StatusError
	case o.state == StateComplete && o.backendUpdated:
		r.Status = models.StatusComplete
	case o.state == StateComplete:
		r.Status = models.StatusWithoutBackendUpdate
	}
	if o.err != nil {
		r.Error = o.err.Error()
	}
	return r
}

// Record converts a terminal result into an audit log row.
func (r Result) Record(kind models.Kind) *models.TransferRecord {
	record := models.NewTransferRecord(r.OperationID, r.AssetID, kind, r.Status)
	record.DestinationURL = r.DestinationURL
	record.ObjectKey = r.Key
	record.CompressionRatio = r.CompressionRatio
	record.OriginalSize = r.OriginalSize
	record.CompressedSize = r.CompressedSize
	record.BytesUploaded = r.Uploaded
	record.BackendUpdated = r.BackendUpdated
	record.StartedAt = r.StartedAt
	record.EndedAt = r.EndedAt
	record.ErrorMessage = r.Error
	if record.ErrorMessage == "" {
		record.ErrorMessage = r.Warning
	}
	return record
}

// Percent returns x as a percentage of total rounded to one decimal and capped at 100. A non-positive total yields 0.
func Percent(x, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Min(100, math.Round(float64(x)/float64(total)*1000)/10)
}

// CompressionRatio formats the space saved by transcoding, e.g. "50.00%".
func CompressionRatio(original, compressed int64) string {
	if original <= 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%.2f%%", float64(original-compressed)/float64(original)*100)
}
