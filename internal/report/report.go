package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/persona/internal/metrics"
	"github.com/kalambet/persona/internal/storage"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

var (
	ErrInvalidRequest  = errors.New("invalid report request")
	ErrSubjectNotFound = errors.New("subject not found")
	ErrTemplateMissing = errors.New("template revision not found")
	ErrNotConfigured   = errors.New("report provider not configured")
	ErrEmptyCompletion = errors.New("report provider returned an empty completion")
	ErrGeneration      = errors.New("report generation failed")
)

var reportTypes = map[string]bool{
	"first_impression":            true,
	"first_impression_divergence": true,
	"my_type":                     true,
	"my_type_divergence":          true,
	"romance_compatibility":       true,
	"friendship_compatibility":    true,
}

// ValidType reports whether t names a known report type.
func ValidType(t string) bool { return reportTypes[t] }

// Store is the slice of storage report generation reads and writes.
type Store interface {
	GetSubject(id string) (storage.Subject, error)
	ListMediaByOwner(ownerID string, status storage.MediaStatus) ([]storage.Media, error)
	GetTemplateRevision(templateType, revisionID string) (storage.TemplateRevision, error)
	SaveReport(r storage.Report) error
	GetReport(id string) (storage.Report, error)
	ListReports(primarySubjectID string, limit int) ([]storage.Report, error)
}

type Request struct {
	ReportType              string
	PrimaryUserID           string
	SecondaryUserID         string
	TemplateType            string
	TemplateRevisionID      string
	SelfObservedDifferences string
}

func (r Request) validate() error {
	if !ValidType(r.ReportType) {
		return fmt.Errorf("%w: unknown report type %q", ErrInvalidRequest, r.ReportType)
	}
	if r.PrimaryUserID == "" {
		return fmt.Errorf("%w: primaryUserId is required", ErrInvalidRequest)
	}
	if r.TemplateType == "" || r.TemplateRevisionID == "" {
		return fmt.Errorf("%w: templateType and templateRevisionId are required", ErrInvalidRequest)
	}
	return nil
}

// Service composes analysis results into narrative reports.
type Service struct {
	store  Store
	gen    Generator
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, gen Generator) *Service {
	return &Service{
		store:  store,
		gen:    gen,
		logger: slog.Default().With("component", "report"),
		now:    time.Now,
	}
}

// Create generates and persists one report. Only succeeded media of each
// subject feeds the prompt.
func (s *Service) Create(ctx context.Context, req Request) (storage.Report, error) {
	if err := req.validate(); err != nil {
		return storage.Report{}, err
	}

	primary, err := s.subject(req.PrimaryUserID)
	if err != nil {
		return storage.Report{}, err
	}
	var secondary *Subject
	if req.SecondaryUserID != "" {
		sec, err := s.subject(req.SecondaryUserID)
		if err != nil {
			return storage.Report{}, err
		}
		secondary = &sec
	}

	rev, err := s.store.GetTemplateRevision(req.TemplateType, req.TemplateRevisionID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Report{}, fmt.Errorf("%w: %s/%s", ErrTemplateMissing, req.TemplateType, req.TemplateRevisionID)
	}
	if err != nil {
		return storage.Report{}, fmt.Errorf("loading template revision: %w", err)
	}

	prompt := ComposePrompt(rev.Content, primary, secondary, req.SelfObservedDifferences)
	start := time.Now()
	content, err := s.gen.Generate(ctx, systemPrompt, prompt)
	if err == nil && strings.TrimSpace(content) == "" {
		err = ErrEmptyCompletion
	}
	if err != nil {
		metrics.ReportsTotal.WithLabelValues(req.ReportType, "failed").Inc()
		s.logger.Warn("report generation failed", "report_type", req.ReportType, "primary_user_id", req.PrimaryUserID, "error", err)
		return storage.Report{}, err
	}

	r := storage.Report{
		ID:                    uuid.New().String(),
		ReportType:            req.ReportType,
		PrimarySubjectID:      req.PrimaryUserID,
		SecondarySubjectID:    req.SecondaryUserID,
		TemplateType:          rev.TemplateType,
		TemplateRevisionID:    rev.RevisionID,
		TemplateRevisionLabel: rev.Label,
		ProviderName:          s.gen.Name(),
		ModelName:             s.gen.Model(),
		Content:               content,
		CreatedAt:             s.now(),
	}
	if err := s.store.SaveReport(r); err != nil {
		return storage.Report{}, fmt.Errorf("saving report: %w", err)
	}

	metrics.ReportsTotal.WithLabelValues(req.ReportType, "succeeded").Inc()
	s.logger.Info("report generated",
		"report_id", r.ID, "report_type", r.ReportType, "primary_user_id", r.PrimarySubjectID,
		"model", r.ModelName, "duration", time.Since(start))
	return r, nil
}

func (s *Service) subject(id string) (Subject, error) {
	sub, err := s.store.GetSubject(id)
	if errors.Is(err, storage.ErrNotFound) {
		return Subject{}, fmt.Errorf("%w: %s", ErrSubjectNotFound, id)
	}
	if err != nil {
		return Subject{}, fmt.Errorf("loading subject %s: %w", id, err)
	}
	media, err := s.store.ListMediaByOwner(id, storage.StatusSucceeded)
	if err != nil {
		return Subject{}, fmt.Errorf("listing media for %s: %w", id, err)
	}
	return Subject{Name: sub.Name, Media: media}, nil
}

func (s *Service) Get(id string) (storage.Report, error) {
	return s.store.GetReport(id)
}

// List returns reports newest first. limit is clamped to [1, MaxListLimit]
// with zero meaning DefaultListLimit.
func (s *Service) List(primaryUserID string, limit int) ([]storage.Report, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	return s.store.ListReports(primaryUserID, limit)
}
