// package models defines the data model for the asset migration pipeline
package models

import (
	"encoding/json"
	"errors"
	"time"
)

// Model defines the base interface for all persistent models in the migration pipeline.
// Implementations include TransferRecord and WorklistRun.
type Model interface {
	ID() string           // ID returns the unique identifier for this model
	CreatedAt() time.Time // CreatedAt returns when this model was created
	UpdatedAt() time.Time // UpdatedAt returns when this model was last updated
	Validate() error      // Validate checks if the model's data is valid and returns an error if not
}

// Repository defines the interface for data access operations.
// Implementations handle database interactions for specific model types.
type Repository[T Model] interface {
	Create(model T) error                      // Create inserts a new model into the database
	Get(id string) (T, error)                  // Get retrieves a model by its ID
	Update(model T) error                      // Update modifies an existing model in the database
	Delete(id string) error                    // Delete removes a model from the database by its ID
	List(criteria map[string]any) ([]T, error) // List retrieves all models matching the given criteria
}

// Kind distinguishes video from audio media.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// Valid reports whether k is a known media kind.
func (k Kind) Valid() bool {
	return k == KindVideo || k == KindAudio
}

// SidecarField returns the CMS document field holding the migration sidecar for this kind.
func (k Kind) SidecarField() string {
	if k == KindAudio {
		return "migratedAudio"
	}
	return "migratedVideo"
}

// Sidecar is the migration metadata patched onto a CMS document once its binary lives in the object store.
type Sidecar struct {
	URL      string  `json:"url"`
	Filename string  `json:"filename"`
	Size     int64   `json:"size"`
	MimeType string  `json:"mimeType"`
	Duration float64 `json:"duration,omitempty"` // seconds, audio only
}

// Asset is a CMS media document eligible for migration.
type Asset struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	URL      string   `json:"url"`
	Size     int64    `json:"size"`
	MimeType string   `json:"mimeType"`
	Kind     Kind     `json:"kind"`
	DocType  string   `json:"docType"`
	Filename string   `json:"filename"`
	Duration float64  `json:"duration,omitempty"`
	Sidecar  *Sidecar `json:"sidecar,omitempty"`
	// SourceID is the CMS file asset holding the original binary, if the document references one.
	SourceID string `json:"sourceId,omitempty"`
}

// Migrated reports whether the asset already carries a sidecar with a destination URL.
func (a Asset) Migrated() bool {
	return a.Sidecar != nil && a.Sidecar.URL != ""
}

// Reference identifies a document that references an asset.
type Reference struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	FieldRef string `json:"fieldRef,omitempty"`
}

// Part is one completed part of a multipart upload.
type Part struct {
	PartNumber int32  `json:"partNumber"`
	ETag       string `json:"etag"`
}

// Document is a raw CMS document.
type Document = map[string]any

// UploadedAsset is the identity returned by the CMS asset store after a binary upload.
type UploadedAsset struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Transfer outcome statuses.
const (
	StatusComplete             = "complete"
	StatusWithoutBackendUpdate = "success-without-backend-update"
	StatusError                = "error"
)

// TransferRecord is the persisted terminal outcome of one transfer operation.
//
// Records are written once and never read back to resume work.
type TransferRecord struct {
	id        string
	sequence  int
	createdAt time.Time
	updatedAt time.Time
	deletedAt *time.Time

	OperationID      string    `json:"operationId"`
	AssetID          string    `json:"assetId"`
	Kind             Kind      `json:"kind"`
	Status           string    `json:"status"`
	DestinationURL   string    `json:"destinationUrl,omitempty"`
	ObjectKey        string    `json:"key,omitempty"`
	CompressionRatio string    `json:"compressionRatio,omitempty"`
	ErrorMessage     string    `json:"error,omitempty"`
	OriginalSize     int64     `json:"originalSize"`
	CompressedSize   int64     `json:"compressedSize,omitempty"`
	BytesUploaded    int64     `json:"bytesUploaded"`
	BackendUpdated   bool      `json:"backendUpdated"`
	StartedAt        time.Time `json:"startedAt"`
	EndedAt          time.Time `json:"endedAt"`
}

// NewTransferRecord creates a record for the given operation and asset.
func NewTransferRecord(operationID, assetID string, kind Kind, status string) *TransferRecord {
	now := time.Now()
	return &TransferRecord{
		createdAt:   now,
		updatedAt:   now,
		OperationID: operationID,
		AssetID:     assetID,
		Kind:        kind,
		Status:      status,
	}
}

func (r *TransferRecord) ID() string                { return r.id }
func (r *TransferRecord) Sequence() int             { return r.sequence }
func (r *TransferRecord) CreatedAt() time.Time      { return r.createdAt }
func (r *TransferRecord) UpdatedAt() time.Time      { return r.updatedAt }
func (r *TransferRecord) DeletedAt() *time.Time     { return r.deletedAt }
func (r *TransferRecord) SetID(id string)           { r.id = id }
func (r *TransferRecord) SetSequence(seq int)       { r.sequence = seq }
func (r *TransferRecord) SetCreatedAt(t time.Time)  { r.createdAt = t }
func (r *TransferRecord) SetUpdatedAt(t time.Time)  { r.updatedAt = t }
func (r *TransferRecord) SetDeletedAt(t *time.Time) { r.deletedAt = t }

// Validate checks the record has an operation, an asset, and a terminal status.
func (r *TransferRecord) Validate() error {
	if r.OperationID == "" {
		return errors.New("operation id is required")
	}
	if r.AssetID == "" {
		return errors.New("asset id is required")
	}
	switch r.Status {
	case StatusComplete, StatusWithoutBackendUpdate, StatusError:
	default:
		return errors.New("status must be terminal")
	}
	return nil
}

// MarshalJSON renders the record with its identity fields for history listings.
func (r *TransferRecord) MarshalJSON() ([]byte, error) {
	type fields TransferRecord
	return json.Marshal(struct {
		ID       string    `json:"id"`
		Sequence int       `json:"sequence"`
		Created  time.Time `json:"createdAt"`
		*fields
	}{r.id, r.sequence, r.createdAt, (*fields)(r)})
}

// WorklistRun is the persisted counter summary of a bulk worklist.
type WorklistRun struct {
	id        string
	createdAt time.Time
	updatedAt time.Time

	TotalItems       int
	Completed        int
	Errored          int
	BytesTransferred int64
	Paused           bool
}

// NewWorklistRun creates a run summary keyed by the worklist id.
func NewWorklistRun(id string, total int) *WorklistRun {
	now := time.Now()
	return &WorklistRun{id: id, createdAt: now, updatedAt: now, TotalItems: total}
}

func (w *WorklistRun) ID() string               { return w.id }
func (w *WorklistRun) CreatedAt() time.Time     { return w.createdAt }
func (w *WorklistRun) UpdatedAt() time.Time     { return w.updatedAt }
func (w *WorklistRun) SetCreatedAt(t time.Time) { w.createdAt = t }
func (w *WorklistRun) SetUpdatedAt(t time.Time) { w.updatedAt = t }

// Validate checks that counters are consistent.
func (w *WorklistRun) Validate() error {
	if w.id == "" {
		return errors.New("worklist id is required")
	}
	if w.Completed+w.Errored > w.TotalItems {
		return errors.New("attempted items exceed total")
	}
	return nil
}
