package storage

import (
	"database/sql"
	"time"
)

func (s *Store) CreateSubject(sub Subject) error {
	created := sub.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO subjects (id, name, consent, created_by, created_at) VALUES (?, ?, ?, ?, ?)`,
		sub.ID, sub.Name, sub.Consent, sub.CreatedBy, formatTime(created),
	)
	return err
}

func (s *Store) GetSubject(id string) (Subject, error) {
	var sub Subject
	var createdAt string
	err := s.db.QueryRow(`SELECT id, name, consent, created_by, created_at FROM subjects WHERE id = ?`, id).
		Scan(&sub.ID, &sub.Name, &sub.Consent, &sub.CreatedBy, &createdAt)
	if err == sql.ErrNoRows {
		return Subject{}, ErrNotFound
	}
	if err != nil {
		return Subject{}, err
	}
	if sub.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Subject{}, err
	}
	return sub, nil
}
