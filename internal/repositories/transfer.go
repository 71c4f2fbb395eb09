package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/mvx/internal/models"
	"github.com/desertthunder/mvx/internal/shared"
)

const transferColumns = `
	id, sequence, operation_id, asset_id, kind, status, destination_url,
	object_key, original_size, compressed_size, bytes_uploaded,
	compression_ratio, backend_updated, error_message, started_at,
	ended_at, created_at, updated_at, deleted_at
`

// TransferRepository implements models.Repository[*models.TransferRecord] for the transfer audit log.
type TransferRepository struct {
	db *sql.DB
}

// NewTransferRepository creates a new TransferRepository with the given database connection
func NewTransferRepository(db *sql.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

// Create inserts a record with a generated ID and sequence
func (r *TransferRepository) Create(record *models.TransferRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrInvalidInput, err)
	}

	sequence, err := NextSequence(r.db, "transfers")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	record.SetID(shared.GenerateID())
	record.SetSequence(sequence)

	query := `INSERT INTO transfers (` + transferColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`

	_, err = r.db.Exec(query,
		record.ID(),
		sequence,
		record.OperationID,
		record.AssetID,
		string(record.Kind),
		record.Status,
		nullable(record.DestinationURL),
		nullable(record.ObjectKey),
		record.OriginalSize,
		record.CompressedSize,
		record.BytesUploaded,
		nullable(record.CompressionRatio),
		record.BackendUpdated,
		nullable(record.ErrorMessage),
		nullableTime(record.StartedAt),
		nullableTime(record.EndedAt),
		record.CreatedAt(),
		record.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transfer: %w", err)
	}

	return nil
}

// Get retrieves a record by ID, excluding soft-deleted records
func (r *TransferRepository) Get(id string) (*models.TransferRecord, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE id = ? AND deleted_at IS NULL`

	record, err := scanTransfer(r.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transfer %s", shared.ErrNotFound, id)
	}
	return record, err
}

// Update rewrites the outcome columns of a record, e.g. after a deferred backend reconcile.
func (r *TransferRepository) Update(record *models.TransferRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrInvalidInput, err)
	}

	now := time.Now()
	record.SetUpdatedAt(now)

	query := `
		UPDATE transfers
		SET status = ?, destination_url = ?, backend_updated = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query,
		record.Status,
		nullable(record.DestinationURL),
		record.BackendUpdated,
		nullable(record.ErrorMessage),
		now,
		record.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update transfer: %w", err)
	}

	return affected(result, fmt.Errorf("%w: transfer %s", shared.ErrNotFound, record.ID()))
}

// Delete soft-deletes a record by ID
func (r *TransferRepository) Delete(id string) error {
	result, err := r.db.Exec(`UPDATE transfers SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to delete transfer: %w", err)
	}

	return affected(result, fmt.Errorf("%w: transfer %s", shared.ErrNotFound, id))
}

// List retrieves records matching the given criteria, newest first.
//
// Supported criteria: "asset_id" and "status" (string), "limit" (int).
func (r *TransferRepository) List(criteria map[string]any) ([]*models.TransferRecord, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE deleted_at IS NULL`
	args := []any{}

	if assetID, ok := criteria["asset_id"].(string); ok && assetID != "" {
		query += " AND asset_id = ?"
		args = append(args, assetID)
	}

	if status, ok := criteria["status"].(string); ok && status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}

	query += " ORDER BY sequence DESC"

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var records []*models.TransferRecord
	for rows.Next() {
		record, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return records, nil
}

// Record persists the terminal outcome of an operation.
func (r *TransferRepository) Record(record *models.TransferRecord) error {
	return r.Create(record)
}

type scanner interface {
	Scan(dest ...any) error
}

// scanTransfer scans a single row from [sql.Row] or [sql.Rows] into a [models.TransferRecord]
func scanTransfer(row scanner) (*models.TransferRecord, error) {
	var (
		id               string
		sequence         int
		operationID      string
		assetID          string
		kind             string
		status           string
		destinationURL   sql.NullString
		objectKey        sql.NullString
		originalSize     int64
		compressedSize   int64
		bytesUploaded    int64
		compressionRatio sql.NullString
		backendUpdated   bool
		errorMessage     sql.NullString
		startedAt        sql.NullTime
		endedAt          sql.NullTime
		createdAt        time.Time
		updatedAt        time.Time
		deletedAt        sql.NullTime
	)

	err := row.Scan(
		&id, &sequence, &operationID, &assetID, &kind, &status, &destinationURL,
		&objectKey, &originalSize, &compressedSize, &bytesUploaded,
		&compressionRatio, &backendUpdated, &errorMessage, &startedAt,
		&endedAt, &createdAt, &updatedAt, &deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transfer: %w", err)
	}

	record := models.NewTransferRecord(operationID, assetID, models.Kind(kind), status)
	record.SetID(id)
	record.SetSequence(sequence)
	record.SetCreatedAt(createdAt)
	record.SetUpdatedAt(updatedAt)

	record.DestinationURL = destinationURL.String
	record.ObjectKey = objectKey.String
	record.OriginalSize = originalSize
	record.CompressedSize = compressedSize
	record.BytesUploaded = bytesUploaded
	record.CompressionRatio = compressionRatio.String
	record.BackendUpdated = backendUpdated
	record.ErrorMessage = errorMessage.String
	if startedAt.Valid {
		record.StartedAt = startedAt.Time
	}
	if endedAt.Valid {
		record.EndedAt = endedAt.Time
	}
	if deletedAt.Valid {
		record.SetDeletedAt(&deletedAt.Time)
	}

	return record, nil
}
