package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const mediaColumns = `id, owner_id, media_type, storage_path, content_type, status, provider, model,
	analysis_json, error, error_detail, created_at, updated_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMedia(row rowScanner) (Media, error) {
	var m Media
	var payload sql.NullString
	var createdAt, updatedAt string
	var startedAt, completedAt sql.NullString
	if err := row.Scan(&m.ID, &m.OwnerID, &m.Type, &m.StoragePath, &m.ContentType, &m.Status,
		&m.Provider, &m.Model, &payload, &m.Error, &m.ErrorDetail,
		&createdAt, &updatedAt, &startedAt, &completedAt); err != nil {
		return Media{}, err
	}
	if payload.Valid && payload.String != "" {
		m.Payload = []byte(payload.String)
	}
	var err error
	if m.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Media{}, err
	}
	if m.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Media{}, err
	}
	if m.StartedAt, err = parseNullTime("started_at", startedAt); err != nil {
		return Media{}, err
	}
	if m.CompletedAt, err = parseNullTime("completed_at", completedAt); err != nil {
		return Media{}, err
	}
	return m, nil
}

// CreateMedia inserts a new media record. Records always start pending.
func (s *Store) CreateMedia(m Media) error {
	if !m.Type.Valid() {
		return fmt.Errorf("invalid media type %q", m.Type)
	}
	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO media (id, owner_id, media_type, storage_path, content_type, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?, ?)`,
		m.ID, m.OwnerID, string(m.Type), m.StoragePath, m.ContentType, formatTime(created), formatTime(created),
	)
	return err
}

func (s *Store) GetMedia(id string) (Media, error) {
	m, err := scanMedia(s.db.QueryRow(`SELECT `+mediaColumns+` FROM media WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Media{}, ErrNotFound
	}
	return m, err
}

// ListMediaByOwner returns the owner's media, newest first. An empty status
// returns every record.
func (s *Store) ListMediaByOwner(ownerID string, status MediaStatus) ([]Media, error) {
	query := `SELECT ` + mediaColumns + ` FROM media WHERE owner_id = ?`
	args := []any{ownerID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id ASC`
	return s.queryMedia(query, args...)
}

// ListRecentlyAnalysed returns terminal records ordered by completion time.
func (s *Store) ListRecentlyAnalysed(limit int) ([]Media, error) {
	return s.queryMedia(`SELECT `+mediaColumns+` FROM media
		WHERE status IN ('succeeded', 'failed')
		ORDER BY completed_at DESC, id ASC LIMIT ?`, limit)
}

func (s *Store) queryMedia(query string, args ...any) ([]Media, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// BeginAnalysis atomically moves a pending record to processing, stamps the
// provider and model that will run, and enqueues job in the same
// transaction. Exactly one concurrent caller can win for a given record; the
// others get a *StatusMismatchError carrying the status they lost to.
func (s *Store) BeginAnalysis(id, provider, model string, job Job) (Media, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Media{}, fmt.Errorf("beginning analysis transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	res, err := tx.Exec(`
		UPDATE media SET status = 'processing', provider = ?, model = ?, error = '', error_detail = '',
			analysis_json = NULL, started_at = ?, completed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		provider, model, now, now, id,
	)
	if err != nil {
		return Media{}, fmt.Errorf("updating media status: %w", err)
	}
	if err := expectOne(tx, res, id, StatusPending); err != nil {
		return Media{}, err
	}

	if err := insertJob(tx, job); err != nil {
		return Media{}, fmt.Errorf("enqueueing analysis job: %w", err)
	}

	m, err := scanMedia(tx.QueryRow(`SELECT `+mediaColumns+` FROM media WHERE id = ?`, id))
	if err != nil {
		return Media{}, fmt.Errorf("reloading media: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Media{}, fmt.Errorf("committing analysis start: %w", err)
	}
	return m, nil
}

// CompleteAnalysis records a successful outcome on a processing record.
func (s *Store) CompleteAnalysis(id string, payload []byte) error {
	now := formatTime(time.Now())
	return s.finish(id, `
		UPDATE media SET status = 'succeeded', analysis_json = ?, error = '', error_detail = '',
			completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'`,
		string(payload), now, now, id,
	)
}

// FailAnalysis records a failed outcome on a processing record. Any payload
// is cleared so a record never carries both a result and an error.
func (s *Store) FailAnalysis(id, message, detail string) error {
	now := formatTime(time.Now())
	return s.finish(id, `
		UPDATE media SET status = 'failed', analysis_json = NULL, error = ?, error_detail = ?,
			completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'`,
		message, detail, now, now, id,
	)
}

func (s *Store) finish(id, query string, args ...any) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("updating media outcome: %w", err)
	}
	if err := expectOne(tx, res, id, StatusProcessing); err != nil {
		return err
	}
	return tx.Commit()
}

// ResetForRetry moves a failed record back to pending and clears everything
// the failed attempt wrote, so it can be triggered again.
func (s *Store) ResetForRetry(id string) (Media, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Media{}, fmt.Errorf("beginning reset transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE media SET status = 'pending', provider = '', model = '', analysis_json = NULL,
			error = '', error_detail = '', started_at = NULL, completed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'failed'`,
		formatTime(time.Now()), id,
	)
	if err != nil {
		return Media{}, fmt.Errorf("resetting media: %w", err)
	}
	if err := expectOne(tx, res, id, StatusFailed); err != nil {
		return Media{}, err
	}

	m, err := scanMedia(tx.QueryRow(`SELECT `+mediaColumns+` FROM media WHERE id = ?`, id))
	if err != nil {
		return Media{}, fmt.Errorf("reloading media: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Media{}, fmt.Errorf("committing reset: %w", err)
	}
	return m, nil
}

// expectOne turns a conditional update that matched no rows into either
// ErrNotFound or a *StatusMismatchError describing the current status.
func expectOne(tx *sql.Tx, res sql.Result, id string, expected MediaStatus) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking updated media rows: %w", err)
	}
	if n == 1 {
		return nil
	}

	var current MediaStatus
	err = tx.QueryRow(`SELECT status FROM media WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading media status: %w", err)
	}
	return &StatusMismatchError{MediaID: id, Current: current, Expected: expected}
}
