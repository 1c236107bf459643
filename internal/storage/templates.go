package storage

import (
	"database/sql"
	"time"
)

// PutTemplateRevision stores (or replaces) the text of one template revision.
func (s *Store) PutTemplateRevision(rev TemplateRevision) error {
	created := rev.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO template_revisions (template_type, revision_id, label, content, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(template_type, revision_id) DO UPDATE SET label = excluded.label, content = excluded.content`,
		rev.TemplateType, rev.RevisionID, rev.Label, rev.Content, formatTime(created),
	)
	return err
}

func (s *Store) GetTemplateRevision(templateType, revisionID string) (TemplateRevision, error) {
	var rev TemplateRevision
	var createdAt string
	err := s.db.QueryRow(`
		SELECT template_type, revision_id, label, content, created_at
		FROM template_revisions WHERE template_type = ? AND revision_id = ?`, templateType, revisionID,
	).Scan(&rev.TemplateType, &rev.RevisionID, &rev.Label, &rev.Content, &createdAt)
	if err == sql.ErrNoRows {
		return TemplateRevision{}, ErrNotFound
	}
	if err != nil {
		return TemplateRevision{}, err
	}
	if rev.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return TemplateRevision{}, err
	}
	return rev, nil
}
