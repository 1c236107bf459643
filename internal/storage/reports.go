package storage

import (
	"database/sql"
	"time"
)

const reportColumns = `id, report_type, primary_subject_id, secondary_subject_id, template_type,
	template_revision_id, template_revision_label, provider_name, model_name, content, created_at`

func scanReport(row rowScanner) (Report, error) {
	var r Report
	var secondary sql.NullString
	var createdAt string
	if err := row.Scan(&r.ID, &r.ReportType, &r.PrimarySubjectID, &secondary, &r.TemplateType,
		&r.TemplateRevisionID, &r.TemplateRevisionLabel, &r.ProviderName, &r.ModelName, &r.Content, &createdAt); err != nil {
		return Report{}, err
	}
	r.SecondarySubjectID = secondary.String
	var err error
	if r.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Report{}, err
	}
	return r, nil
}

// SaveReport persists a generated report. Reports are never updated.
func (s *Store) SaveReport(r Report) error {
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	var secondary sql.NullString
	if r.SecondarySubjectID != "" {
		secondary = sql.NullString{String: r.SecondarySubjectID, Valid: true}
	}
	_, err := s.db.Exec(`INSERT INTO reports (`+reportColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ReportType, r.PrimarySubjectID, secondary, r.TemplateType,
		r.TemplateRevisionID, r.TemplateRevisionLabel, r.ProviderName, r.ModelName, r.Content, formatTime(created),
	)
	return err
}

func (s *Store) GetReport(id string) (Report, error) {
	r, err := scanReport(s.db.QueryRow(`SELECT `+reportColumns+` FROM reports WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Report{}, ErrNotFound
	}
	return r, err
}

// ListReports returns reports newest first, optionally narrowed to one
// primary subject.
func (s *Store) ListReports(primarySubjectID string, limit int) ([]Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports`
	var args []any
	if primarySubjectID != "" {
		query += ` WHERE primary_subject_id = ?`
		args = append(args, primarySubjectID)
	}
	query += ` ORDER BY created_at DESC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
