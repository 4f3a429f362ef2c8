package metadatastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/local/docengine/internal/errs"
	"github.com/local/docengine/internal/model"
)

// Store is the sqlx-backed MetadataStore implementation.
type Store struct {
	db *sqlx.DB
}

// New opens (creating if absent) the sqlite database at path and runs
// migrations to the latest version.
func New(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("metadatastore: create dir: %w", err)
		}
	}
	sqlDB, err := sql.Open("sqlite3_safe", path)
	if err != nil {
		return nil, fmt.Errorf("metadatastore: open: %w", err)
	}
	db := sqlx.NewDb(sqlDB, "sqlite3")
	db.SetMaxOpenConns(1) // single-writer sqlite; avoids SQLITE_BUSY under WAL
	db.SetConnMaxLifetime(0)

	if err := runMigrations(db.DB); err != nil {
		return nil, fmt.Errorf("metadatastore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// documentRow is the sqlx scan target; nullable columns use sql.Null* so a
// fresh row with no processing history round-trips cleanly.
type documentRow struct {
	ID               int64          `db:"id"`
	ContentHash      string         `db:"content_hash"`
	OriginalFilename string         `db:"original_filename"`
	StoredFilename   string         `db:"stored_filename"`
	ByteLength       int64          `db:"byte_length"`
	PageCount        int            `db:"page_count"`
	Status           string         `db:"status"`
	Progress         float64        `db:"progress"`
	AttemptNumber    int64          `db:"attempt_number"`
	CurrentWorker    sql.NullString `db:"current_worker"`
	HeartbeatAt      sql.NullTime   `db:"heartbeat_at"`
	ExtractedFields  sql.NullString `db:"extracted_fields"`
	ConfidenceScores sql.NullString `db:"confidence_scores"`
	ProcessingMeta   sql.NullString `db:"processing_meta"`
	BlobRef          sql.NullString `db:"blob_ref"`
	SchemaName       sql.NullString `db:"schema_name"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func (r *documentRow) toModel() (*model.Document, error) {
	d := &model.Document{
		ID:               r.ID,
		ContentHash:      r.ContentHash,
		OriginalFilename: r.OriginalFilename,
		StoredFilename:   r.StoredFilename,
		ByteLength:       r.ByteLength,
		PageCount:        r.PageCount,
		Status:           model.Status(r.Status),
		Progress:         r.Progress,
		AttemptNumber:    r.AttemptNumber,
		BlobRef:          r.BlobRef.String,
		SchemaName:       r.SchemaName.String,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.CurrentWorker.Valid {
		d.CurrentWorker = r.CurrentWorker.String
	}
	if r.HeartbeatAt.Valid {
		t := r.HeartbeatAt.Time
		d.HeartbeatAt = &t
	}
	if r.ExtractedFields.Valid && r.ExtractedFields.String != "" {
		var fm model.FieldMap
		if err := json.Unmarshal([]byte(r.ExtractedFields.String), &fm); err != nil {
			return nil, fmt.Errorf("metadatastore: decode extracted_fields: %w", err)
		}
		d.ExtractedFields = fm
	}
	if r.ConfidenceScores.Valid && r.ConfidenceScores.String != "" {
		var cs map[string]float64
		if err := json.Unmarshal([]byte(r.ConfidenceScores.String), &cs); err != nil {
			return nil, fmt.Errorf("metadatastore: decode confidence_scores: %w", err)
		}
		d.ConfidenceScores = cs
	}
	if r.ProcessingMeta.Valid && r.ProcessingMeta.String != "" {
		var pm model.ProcessingMetadata
		if err := json.Unmarshal([]byte(r.ProcessingMeta.String), &pm); err != nil {
			return nil, fmt.Errorf("metadatastore: decode processing_meta: %w", err)
		}
		d.ProcessingMeta = pm
	}
	return d, nil
}

// CreateOrGetByHash implements Upload's dedup rule: if a Document with this
// content_hash already exists it is returned unchanged (isNew=false);
// otherwise a new Pending Document is inserted.
func (s *Store) CreateOrGetByHash(ctx context.Context, contentHash, originalName, storedName string, byteLen int64, blobRef string) (*model.Document, bool, error) {
	if existing, err := s.GetByContentHash(ctx, contentHash); err == nil {
		return existing, false, nil
	} else if !errs.Is(err, errs.NotFoundKind) {
		return nil, false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (content_hash, original_filename, stored_filename, byte_length, blob_ref, status)
		VALUES (?, ?, ?, ?, ?, 'pending')
		ON CONFLICT(content_hash) DO NOTHING`,
		contentHash, originalName, storedName, byteLen, blobRef)
	if err != nil {
		return nil, false, fmt.Errorf("metadatastore: insert document: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Lost a race with a concurrent identical upload.
		existing, err := s.GetByContentHash(ctx, contentHash)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, err
	}
	doc, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (*model.Document, error) {
	var row documentRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM documents WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFoundKind, fmt.Sprintf("document %d not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("metadatastore: get by id: %w", err)
	}
	return row.toModel()
}

func (s *Store) GetByContentHash(ctx context.Context, hash string) (*model.Document, error) {
	var row documentRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM documents WHERE content_hash = ?`, hash)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFoundKind, "no document with that content hash")
	}
	if err != nil {
		return nil, fmt.Errorf("metadatastore: get by hash: %w", err)
	}
	return row.toModel()
}

type ListFilter struct {
	Skip   int
	Limit  int
	Status *model.Status
}

// List returns a page of Documents ordered by created_at desc, id desc
// (stable tiebreaker), per spec.md §4.1.
func (s *Store) List(ctx context.Context, f ListFilter) ([]*model.Document, error) {
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var rows []documentRow
	var err error
	if f.Status != nil {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT * FROM documents WHERE status = ?
			ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, string(*f.Status), limit, f.Skip)
	} else {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT * FROM documents
			ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, f.Skip)
	}
	if err != nil {
		return nil, fmt.Errorf("metadatastore: list: %w", err)
	}
	out := make([]*model.Document, 0, len(rows))
	for i := range rows {
		d, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// StartProcessing implements the Controller's StartProcessing state
// transition: verifies the Document is Pending, Failed, or Completed (not
// already Processing), bumps attempt_number, resets progress and error
// fields, and returns the new attempt number for the caller to enqueue a
// Job keyed on it.
func (s *Store) StartProcessing(ctx context.Context, id int64) (int64, error) {
	doc, err := s.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if doc.Status == model.StatusProcessing {
		return 0, errs.New(errs.ConflictKind, "document already processing")
	}
	newAttempt := doc.AttemptNumber + 1
	_, err = s.db.ExecContext(ctx, `
		UPDATE documents SET status = 'pending', progress = 0, attempt_number = ?,
			current_worker = NULL, heartbeat_at = NULL, processing_meta = NULL,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, newAttempt, id)
	if err != nil {
		return 0, fmt.Errorf("metadatastore: start processing: %w", err)
	}
	return newAttempt, nil
}

// ClaimProcessing performs the conditional Pending→Processing update guarded
// on (id, attempt_number, current_worker IS NULL). Returns false if another
// worker already won the race (a spurious delivery the caller must release).
func (s *Store) ClaimProcessing(ctx context.Context, id, attemptNumber int64, workerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = 'processing', current_worker = ?, heartbeat_at = CURRENT_TIMESTAMP,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND attempt_number = ? AND status = 'pending' AND current_worker IS NULL`,
		workerID, id, attemptNumber)
	if err != nil {
		return false, fmt.Errorf("metadatastore: claim: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Heartbeat refreshes heartbeat_at for a still-active attempt.
func (s *Store) Heartbeat(ctx context.Context, id, attemptNumber int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET heartbeat_at = CURRENT_TIMESTAMP
		WHERE id = ? AND attempt_number = ? AND status = 'processing'`, id, attemptNumber)
	return err
}

// UpdateProgress writes the monotonic progress value and, when known, the
// page count discovered by Rasterize. Conditional on attempt_number so a
// stale worker from a superseded attempt cannot clobber a newer one.
func (s *Store) UpdateProgress(ctx context.Context, id, attemptNumber int64, progress float64, pageCount *int) error {
	if pageCount != nil {
		_, err := s.db.ExecContext(ctx, `
			UPDATE documents SET progress = ?, page_count = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND attempt_number = ? AND status = 'processing'`,
			progress, *pageCount, id, attemptNumber)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET progress = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND attempt_number = ? AND status = 'processing'`,
		progress, id, attemptNumber)
	return err
}

// SetSchemaName records the schema resolved in stage 4.
func (s *Store) SetSchemaName(ctx context.Context, id, attemptNumber int64, schemaName string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET schema_name = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND attempt_number = ?`, schemaName, id, attemptNumber)
	return err
}

// Complete transitions Processing→Completed and persists the merged result.
func (s *Store) Complete(ctx context.Context, id, attemptNumber int64, fields model.FieldMap, confidence map[string]float64, meta model.ProcessingMetadata) error {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	confJSON, err := json.Marshal(confidence)
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = 'completed', progress = 1.0,
			extracted_fields = ?, confidence_scores = ?, processing_meta = ?,
			current_worker = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND attempt_number = ? AND status = 'processing'`,
		string(fieldsJSON), string(confJSON), string(metaJSON), id, attemptNumber)
	if err != nil {
		return fmt.Errorf("metadatastore: complete: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.New(errs.ConflictKind, "document attempt superseded before completion")
	}
	return nil
}

// Fail transitions Processing→Failed with a terminal error message.
func (s *Store) Fail(ctx context.Context, id, attemptNumber int64, meta model.ProcessingMetadata) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE documents SET status = 'failed', processing_meta = ?,
			current_worker = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND attempt_number = ?`, string(metaJSON), id, attemptNumber)
	if err != nil {
		return fmt.Errorf("metadatastore: fail: %w", err)
	}
	return nil
}

// ResetStaleProcessing is the janitor task's query (§4.2 Resumption): any
// Document in Processing whose heartbeat is older than timeout is reset to
// Pending so its job becomes visible again.
func (s *Store) ResetStaleProcessing(ctx context.Context, timeout time.Duration) ([]int64, error) {
	cutoff := time.Now().Add(-timeout)
	var ids []int64
	err := s.db.SelectContext(ctx, &ids, `
		UPDATE documents SET status = 'pending', current_worker = NULL
		WHERE status = 'processing' AND (heartbeat_at IS NULL OR heartbeat_at < ?)
		RETURNING id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("metadatastore: reset stale: %w", err)
	}
	return ids, nil
}

// Tombstone marks a Document deleted; the row itself is removed by Delete,
// but the tombstone row survives so the engine's in-flight stage-boundary
// check can still observe the cancellation.
func (s *Store) Tombstone(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO tombstones (document_id) VALUES (?)`, id)
	return err
}

func (s *Store) IsTombstoned(ctx context.Context, id int64) (bool, error) {
	var exists int
	err := s.db.GetContext(ctx, &exists, `SELECT 1 FROM tombstones WHERE document_id = ?`, id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the Document row; the tombstone row is left in place.
// Called by Controller.Delete after setting the tombstone and removing the blob.
func (s *Store) Delete(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}
