package storage

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

type MediaType string

const (
	MediaImage MediaType = "image"
	MediaAudio MediaType = "audio"
)

// Valid reports whether t is a known media type.
func (t MediaType) Valid() bool {
	return t == MediaImage || t == MediaAudio
}

type MediaStatus string

const (
	StatusPending    MediaStatus = "pending"
	StatusProcessing MediaStatus = "processing"
	StatusSucceeded  MediaStatus = "succeeded"
	StatusFailed     MediaStatus = "failed"
)

// Terminal reports whether no further automatic transition leaves s.
func (s MediaStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// StatusMismatchError is returned by conditional media transitions when the
// record exists but is not in the status the transition requires.
type StatusMismatchError struct {
	MediaID  string
	Current  MediaStatus
	Expected MediaStatus
}

func (e *StatusMismatchError) Error() string {
	return fmt.Sprintf("media %s is %s, expected %s", e.MediaID, e.Current, e.Expected)
}

type Subject struct {
	ID        string
	Name      string
	Consent   bool
	CreatedBy string
	CreatedAt time.Time
}

type Media struct {
	ID          string
	OwnerID     string
	Type        MediaType
	StoragePath string
	ContentType string
	Status      MediaStatus
	Provider    string
	Model       string
	Payload     []byte // analysis payload JSON, only set when succeeded
	Error       string
	ErrorDetail string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

type TemplateRevision struct {
	TemplateType string
	RevisionID   string
	Label        string
	Content      string
	CreatedAt    time.Time
}

type Report struct {
	ID                    string
	ReportType            string
	PrimarySubjectID      string
	SecondarySubjectID    string
	TemplateType          string
	TemplateRevisionID    string
	TemplateRevisionLabel string
	ProviderName          string
	ModelName             string
	Content               string
	CreatedAt             time.Time
}
