package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/mvx/internal/models"
	"github.com/desertthunder/mvx/internal/shared"
)

// WorklistRepository stores bulk run summaries keyed by worklist id.
type WorklistRepository struct {
	db *sql.DB
}

// NewWorklistRepository creates a new WorklistRepository with the given database connection
func NewWorklistRepository(db *sql.DB) *WorklistRepository {
	return &WorklistRepository{db: db}
}

// Save inserts the run or overwrites its counters if it already exists.
func (r *WorklistRepository) Save(run *models.WorklistRun) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrInvalidInput, err)
	}

	now := time.Now()
	run.SetUpdatedAt(now)

	query := `
		INSERT INTO worklist_runs (id, total_items, completed, errored, bytes_transferred, paused, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_items = excluded.total_items,
			completed = excluded.completed,
			errored = excluded.errored,
			bytes_transferred = excluded.bytes_transferred,
			paused = excluded.paused,
			updated_at = excluded.updated_at
	`

	if _, err := r.db.Exec(query,
		run.ID(), run.TotalItems, run.Completed, run.Errored, run.BytesTransferred, run.Paused, run.CreatedAt(), now,
	); err != nil {
		return fmt.Errorf("failed to save worklist run: %w", err)
	}
	return nil
}

// Get retrieves a run summary by worklist id.
func (r *WorklistRepository) Get(id string) (*models.WorklistRun, error) {
	row := r.db.QueryRow(`
		SELECT id, total_items, completed, errored, bytes_transferred, paused, created_at, updated_at
		FROM worklist_runs WHERE id = ?
	`, id)

	run, err := scanWorklistRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: worklist %s", shared.ErrNotFound, id)
	}
	return run, err
}

// List returns the most recently updated runs first.
func (r *WorklistRepository) List(limit int) ([]*models.WorklistRun, error) {
	query := `
		SELECT id, total_items, completed, errored, bytes_transferred, paused, created_at, updated_at
		FROM worklist_runs ORDER BY updated_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query worklist runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.WorklistRun
	for rows.Next() {
		run, err := scanWorklistRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return runs, nil
}

func scanWorklistRun(row scanner) (*models.WorklistRun, error) {
	var (
		id                     string
		total, completed, errd int
		bytesTransferred       int64
		paused                 bool
		createdAt, updatedAt   time.Time
	)

	err := row.Scan(&id, &total, &completed, &errd, &bytesTransferred, &paused, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan worklist run: %w", err)
	}

	run := models.NewWorklistRun(id, total)
	run.Completed = completed
	run.Errored = errd
	run.BytesTransferred = bytesTransferred
	run.Paused = paused
	run.SetCreatedAt(createdAt)
	run.SetUpdatedAt(updatedAt)
	return run, nil
}
